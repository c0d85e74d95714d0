package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	EngineBin     string `json:"engine_bin" yaml:"engine_bin" toml:"engine_bin"`
	DataDir       string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	MaxConcurrent int    `json:"max_concurrent" yaml:"max_concurrent" toml:"max_concurrent"`
	// Per-stage timeout in seconds; dense reconstruction has its own.
	StageTimeoutSec int `json:"stage_timeout_sec" yaml:"stage_timeout_sec" toml:"stage_timeout_sec"`
	DenseTimeoutSec int `json:"dense_timeout_sec" yaml:"dense_timeout_sec" toml:"dense_timeout_sec"`
	MaxImageSize    int `json:"max_image_size" yaml:"max_image_size" toml:"max_image_size"`
	MatcherType     string `json:"matcher_type" yaml:"matcher_type" toml:"matcher_type"`
	LogLevel        string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil { return cfg, err }
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil { return cfg, err }
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
