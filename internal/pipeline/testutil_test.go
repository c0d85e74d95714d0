package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"reconstructd/internal/registry"
	"reconstructd/internal/workspace"
	"reconstructd/pkg/types"
)

// fakeEngineScript mimics the reconstruction engine: it logs each invocation
// into invocations.log (relative to the working directory, i.e. the session
// workspace) and produces the artifacts each stage is expected to leave
// behind. Behavior knobs via env:
//
//	FAKE_ENGINE_FAIL_AT=<subcommand>  exit 3 at that subcommand
//	FAKE_ENGINE_SLEEP_AT=<subcommand> sleep 30s at that subcommand
//	FAKE_ENGINE_SKIP_POINTS=1         mapper omits points3D.bin
const fakeEngineScript = `#!/bin/sh
sub="$1"
echo "$sub" >> invocations.log
if [ "$FAKE_ENGINE_FAIL_AT" = "$sub" ]; then
  echo "fatal: synthetic failure in $sub" >&2
  exit 3
fi
if [ "$FAKE_ENGINE_SLEEP_AT" = "$sub" ]; then
  sleep 30
fi
case "$sub" in
  feature_extractor)
    echo sift > database/database.db
    ;;
  exhaustive_matcher|sequential_matcher)
    ;;
  mapper)
    mkdir -p sparse/0
    echo cameras > sparse/0/cameras.bin
    echo images > sparse/0/images.bin
    if [ "$FAKE_ENGINE_SKIP_POINTS" != "1" ]; then
      echo points > sparse/0/points3D.bin
    fi
    ;;
  model_converter)
    printf 'ply\nformat ascii 1.0\nelement vertex 2\nproperty float x\nproperty float y\nproperty float z\nend_header\n0 0 0\n1 2 3\n' > sparse_model.ply
    ;;
  image_undistorter|patch_match_stereo)
    ;;
  stereo_fusion)
    cp sparse_model.ply dense/fused.ply
    ;;
  poisson_mesher)
    cp dense/fused.ply mesh/mesh.ply
    ;;
esac
exit 0
`

func fakeEngine(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "colmap")
	if err := os.WriteFile(p, []byte(fakeEngineScript), 0o755); err != nil {
		t.Fatalf("write fake engine: %v", err)
	}
	return p
}

func writeImage(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

type fixture struct {
	reg  *registry.Registry
	ws   *workspace.Manager
	exec *Executor
	bin  string
}

// newFixture builds an executor over real collaborators with a registered
// session in the running state, mirroring what the supervisor sets up.
func newFixture(t *testing.T, sessionID string, imageCount int) *fixture {
	t.Helper()
	reg := registry.New()
	ws, err := workspace.NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("workspace manager: %v", err)
	}
	in := t.TempDir()
	var inputs []string
	for i := 0; i < imageCount; i++ {
		inputs = append(inputs, writeImage(t, in, filepath.Base(in)+string(rune('a'+i))+".jpg"))
	}
	if _, err := reg.Register(types.SessionSnapshot{
		SessionID: sessionID,
		Status:    types.StatusRunning,
		StartedAt: time.Now(),
	}, inputs); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &fixture{
		reg: reg,
		ws:  ws,
		exec: NewExecutor(ExecutorConfig{
			Registry:   reg,
			Workspaces: ws,
			Logger:     zerolog.Nop(),
		}),
		bin: fakeEngine(t),
	}
}

func (f *fixture) snapshot(t *testing.T, id string) types.SessionSnapshot {
	t.Helper()
	snap, err := f.reg.Get(id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	return snap
}

func (f *fixture) invocations(t *testing.T, id string) string {
	t.Helper()
	b, err := os.ReadFile(f.ws.Open(id).Path("invocations.log"))
	if err != nil {
		return ""
	}
	return string(b)
}
