package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"reconstructd/internal/config"
	"reconstructd/internal/engine"
	"reconstructd/internal/httpapi"
	"reconstructd/internal/pipeline"
	"reconstructd/internal/registry"
	"reconstructd/internal/supervisor"
	"reconstructd/internal/workspace"
)

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func main() {
	// Flags with environment variable defaults
	addr := flag.String("addr", envOr("RECONSTRUCTD_ADDR", ":8080"), "HTTP listen address, e.g. :8080")
	engineBin := flag.String("engine-bin", envOr("RECONSTRUCTD_ENGINE_BIN", "colmap"), "Path to the reconstruction engine binary")
	dataDir := flag.String("data-dir", envOr("RECONSTRUCTD_DATA_DIR", "~/reconstructd/sessions"), "Root directory for session workspaces")
	maxConcurrent := flag.Int("max-concurrent", envOrInt("RECONSTRUCTD_MAX_CONCURRENT", supervisor.DefaultMaxConcurrent), "Maximum simultaneously running pipelines")
	stageTimeoutSec := flag.Int("stage-timeout-sec", 0, "Per-stage timeout in seconds (0=default)")
	denseTimeoutSec := flag.Int("dense-timeout-sec", 0, "Dense stage timeout in seconds (0=default)")
	maxImageSize := flag.Int("max-image-size", 0, "Default maximum image dimension for feature extraction (0=engine default)")
	matcherType := flag.String("matcher-type", "", "Default feature matcher: exhaustive or sequential")
	logLevel := flag.String("log-level", envOr("RECONSTRUCTD_LOG_LEVEL", "info"), "Log level: debug, info, warn, error")
	configPath := flag.String("config", os.Getenv("RECONSTRUCTD_CONFIG"), "Optional config file (yaml, json or toml); flags override it")
	corsEnabled := flag.Bool("cors-enabled", false, "Enable CORS middleware")
	corsOrigins := flag.String("cors-origins", "*", "Comma-separated allowed CORS origins")
	maxBodyBytes := flag.Int64("max-body-bytes", 0, "Maximum JSON request body size in bytes (0=default 1MiB)")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Str("service", "reconstructd").Logger()

	// Config file fills in anything the flags left at defaults.
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
		}
		set := map[string]bool{}
		flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
		if !set["addr"] && cfg.Addr != "" {
			*addr = cfg.Addr
		}
		if !set["engine-bin"] && cfg.EngineBin != "" {
			*engineBin = cfg.EngineBin
		}
		if !set["data-dir"] && cfg.DataDir != "" {
			*dataDir = cfg.DataDir
		}
		if !set["max-concurrent"] && cfg.MaxConcurrent > 0 {
			*maxConcurrent = cfg.MaxConcurrent
		}
		if !set["stage-timeout-sec"] && cfg.StageTimeoutSec > 0 {
			*stageTimeoutSec = cfg.StageTimeoutSec
		}
		if !set["dense-timeout-sec"] && cfg.DenseTimeoutSec > 0 {
			*denseTimeoutSec = cfg.DenseTimeoutSec
		}
		if !set["max-image-size"] && cfg.MaxImageSize > 0 {
			*maxImageSize = cfg.MaxImageSize
		}
		if !set["matcher-type"] && cfg.MatcherType != "" {
			*matcherType = cfg.MatcherType
		}
		if !set["log-level"] && cfg.LogLevel != "" {
			if lv, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
				log = log.Level(lv)
			}
		}
	}

	httpapi.SetLogger(log)
	httpapi.SetMaxBodyBytes(*maxBodyBytes)
	if *corsEnabled {
		httpapi.SetCORSOptions(true, strings.Split(*corsOrigins, ","),
			[]string{"GET", "POST", "DELETE", "OPTIONS"}, []string{"Content-Type"})
	}

	ws, err := workspace.NewManager(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Str("data_dir", *dataDir).Msg("failed to initialize workspace root")
	}
	reg := registry.New()
	exec := pipeline.NewExecutor(pipeline.ExecutorConfig{
		Registry:   reg,
		Workspaces: ws,
		Logger:     log,
	})
	sup := supervisor.New(supervisor.Config{
		Registry:            reg,
		Workspaces:          ws,
		Executor:            exec,
		EngineBin:           *engineBin,
		MaxConcurrent:       *maxConcurrent,
		DefaultMaxImageSize: *maxImageSize,
		DefaultMatcherType:  *matcherType,
		StageTimeout:        time.Duration(*stageTimeoutSec) * time.Second,
		DenseTimeout:        time.Duration(*denseTimeoutSec) * time.Second,
		Logger:              log,
	})

	// Fail fast if the engine binary cannot even print its help output.
	preflightCtx, cancelPreflight := context.WithTimeout(context.Background(), 15*time.Second)
	if err := engine.Preflight(preflightCtx, *engineBin); err != nil {
		cancelPreflight()
		log.Fatal().Err(err).Str("engine_bin", *engineBin).Msg("engine preflight failed")
	}
	cancelPreflight()
	sup.MarkReady()

	mux := httpapi.NewMux(sup)
	srv := &http.Server{Addr: *addr, Handler: mux}

	go func() {
		log.Info().Str("addr", *addr).Str("engine_bin", *engineBin).
			Str("data_dir", ws.Root()).Int("max_concurrent", *maxConcurrent).
			Msg("reconstructd listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM): stop accepting requests, then
	// cancel in-flight pipelines and wait for them to settle.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("graceful http shutdown error")
	}
	if err := sup.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("pipeline shutdown error")
	}
}
