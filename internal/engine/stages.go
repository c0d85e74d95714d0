// Package engine describes the external reconstruction engine (COLMAP): which
// stages exist, the subcommand each stage runs, the artifacts it must
// produce, and how much of the total work it represents.
package engine

import (
	"fmt"
	"strconv"
	"time"

	"reconstructd/internal/workspace"
)

// Stage identifies one discrete step of the reconstruction pipeline.
type Stage string

const (
	StageFeatureExtraction Stage = "feature-extraction"
	StageFeatureMatching   Stage = "feature-matching"
	StageSparse            Stage = "sparse-reconstruction"
	StageDense             Stage = "dense-reconstruction"
	StageMeshing           Stage = "meshing"
)

// Artifact kinds exposed in the output manifest.
const (
	KindSparsePointcloud = "sparse-pointcloud"
	KindDensePointcloud  = "dense-pointcloud"
	KindMesh             = "mesh"
)

// Matcher types accepted by Options.MatcherType.
const (
	MatcherExhaustive = "exhaustive"
	MatcherSequential = "sequential"
)

// Base weights over the full five-stage pipeline. When optional stages are
// disabled their weight is redistributed proportionally so the enabled
// weights always sum to 1.0 and progress reaches 100% on any configuration.
var baseWeights = map[Stage]float64{
	StageFeatureExtraction: 0.20,
	StageFeatureMatching:   0.20,
	StageSparse:            0.30,
	StageDense:             0.20,
	StageMeshing:           0.10,
}

// Command is a single engine invocation. Paths in the argv are relative to
// the workspace root; the runner sets the subprocess working directory.
type Command []string

// ArtifactSpec binds a manifest artifact kind to its workspace-relative path.
type ArtifactSpec struct {
	Kind string
	Rel  string
}

// Descriptor is the static configuration of one pipeline stage.
type Descriptor struct {
	Stage   Stage
	Weight  float64
	Timeout time.Duration
	// Workspace-relative directories created lazily before the stage runs.
	Dirs []string
	// Engine invocations, run in order under the single stage timeout.
	Commands []Command
	// Files that must exist and be non-empty after the stage, regardless of
	// exit codes. Guards against degenerate output behind a zero exit.
	Expected []string
	// Manifest entries collected after the whole pipeline completes.
	Outputs []ArtifactSpec
	// Human-readable activity shown to pollers while the stage runs.
	Message string
}

// Options selects and parameterizes the stages of one run.
type Options struct {
	// Path to the engine binary.
	Bin           string
	EnableDense   bool
	EnableMeshing bool
	// Maximum image dimension for feature extraction; 0 means default.
	MaxImageSize int
	// MatcherExhaustive or MatcherSequential; empty means exhaustive.
	MatcherType string
	// Per-stage timeouts; zero values mean defaults. Dense reconstruction
	// gets its own, longer budget.
	StageTimeout time.Duration
	DenseTimeout time.Duration
}

// Defaults applied when the corresponding Options fields are unset.
const (
	DefaultMaxImageSize = 1920
	DefaultStageTimeout = 15 * time.Minute
	DefaultDenseTimeout = 30 * time.Minute
)

type invalidOptionsError struct{ msg string }

func (e invalidOptionsError) Error() string { return "invalid options: " + e.msg }

// IsInvalidOptions reports whether err indicates a rejected run configuration.
func IsInvalidOptions(err error) bool {
	_, ok := err.(invalidOptionsError)
	return ok
}

func (o Options) withDefaults() Options {
	if o.MaxImageSize <= 0 {
		o.MaxImageSize = DefaultMaxImageSize
	}
	if o.MatcherType == "" {
		o.MatcherType = MatcherExhaustive
	}
	if o.StageTimeout <= 0 {
		o.StageTimeout = DefaultStageTimeout
	}
	if o.DenseTimeout <= 0 {
		o.DenseTimeout = DefaultDenseTimeout
	}
	return o
}

// Validate rejects configurations the engine cannot run.
func Validate(o Options) error {
	if o.Bin == "" {
		return invalidOptionsError{msg: "engine binary path is empty"}
	}
	if o.EnableMeshing && !o.EnableDense {
		return invalidOptionsError{msg: "meshing requires dense reconstruction"}
	}
	switch o.MatcherType {
	case "", MatcherExhaustive, MatcherSequential:
	default:
		return invalidOptionsError{msg: fmt.Sprintf("unknown matcher type %q", o.MatcherType)}
	}
	return nil
}

// Plan builds the ordered stage descriptors for the given options, with
// weights redistributed so they sum to 1.0 across enabled stages.
func Plan(o Options) ([]Descriptor, error) {
	if err := Validate(o); err != nil {
		return nil, err
	}
	o = o.withDefaults()

	descs := []Descriptor{
		{
			Stage:   StageFeatureExtraction,
			Timeout: o.StageTimeout,
			Dirs:    []string{workspace.RelDatabaseDir},
			Commands: []Command{{
				o.Bin, "feature_extractor",
				"--database_path", workspace.RelDatabase,
				"--image_path", workspace.RelImagesDir,
				"--ImageReader.single_camera", "1",
				"--SiftExtraction.max_image_size", strconv.Itoa(o.MaxImageSize),
			}},
			Expected: []string{workspace.RelDatabase},
			Message:  "Extracting features from images",
		},
		{
			Stage:   StageFeatureMatching,
			Timeout: o.StageTimeout,
			Commands: []Command{{
				o.Bin, o.MatcherType + "_matcher",
				"--database_path", workspace.RelDatabase,
			}},
			Expected: []string{workspace.RelDatabase},
			Message:  "Matching features between images",
		},
		{
			Stage:   StageSparse,
			Timeout: o.StageTimeout,
			Dirs:    []string{workspace.RelSparseDir},
			Commands: []Command{
				{
					o.Bin, "mapper",
					"--database_path", workspace.RelDatabase,
					"--image_path", workspace.RelImagesDir,
					"--output_path", workspace.RelSparseDir,
				},
				{
					o.Bin, "model_converter",
					"--input_path", workspace.RelSparseModel,
					"--output_path", workspace.RelSparsePLY,
					"--output_type", "PLY",
				},
			},
			Expected: []string{
				workspace.RelSparseModel + "/cameras.bin",
				workspace.RelSparseModel + "/images.bin",
				workspace.RelSparseModel + "/points3D.bin",
				workspace.RelSparsePLY,
			},
			Outputs: []ArtifactSpec{{Kind: KindSparsePointcloud, Rel: workspace.RelSparsePLY}},
			Message: "Performing sparse 3D reconstruction",
		},
	}

	if o.EnableDense {
		descs = append(descs, Descriptor{
			Stage:   StageDense,
			Timeout: o.DenseTimeout,
			Dirs:    []string{workspace.RelDenseDir},
			Commands: []Command{
				{
					o.Bin, "image_undistorter",
					"--image_path", workspace.RelImagesDir,
					"--input_path", workspace.RelSparseModel,
					"--output_path", workspace.RelDenseDir,
					"--output_type", "COLMAP",
				},
				{
					o.Bin, "patch_match_stereo",
					"--workspace_path", workspace.RelDenseDir,
				},
				{
					o.Bin, "stereo_fusion",
					"--workspace_path", workspace.RelDenseDir,
					"--output_path", workspace.RelFusedPLY,
				},
			},
			Expected: []string{workspace.RelFusedPLY},
			Outputs:  []ArtifactSpec{{Kind: KindDensePointcloud, Rel: workspace.RelFusedPLY}},
			Message:  "Performing dense reconstruction",
		})
	}
	if o.EnableMeshing {
		descs = append(descs, Descriptor{
			Stage:   StageMeshing,
			Timeout: o.StageTimeout,
			Dirs:    []string{workspace.RelMeshDir},
			Commands: []Command{{
				o.Bin, "poisson_mesher",
				"--input_path", workspace.RelFusedPLY,
				"--output_path", workspace.RelMeshPLY,
			}},
			Expected: []string{workspace.RelMeshPLY},
			Outputs:  []ArtifactSpec{{Kind: KindMesh, Rel: workspace.RelMeshPLY}},
			Message:  "Generating mesh from dense point cloud",
		})
	}

	var sum float64
	for i := range descs {
		descs[i].Weight = baseWeights[descs[i].Stage]
		sum += descs[i].Weight
	}
	for i := range descs {
		descs[i].Weight /= sum
	}
	return descs, nil
}
