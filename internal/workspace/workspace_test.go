package workspace

import (
	"os"
	"path/filepath"
	"testing"
)

func writeInput(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("jpegdata"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestCreateStagesInputsSequentially(t *testing.T) {
	in := t.TempDir()
	srcs := []string{
		writeInput(t, in, "IMG_7.JPG"),
		writeInput(t, in, "photo.png"),
		writeInput(t, in, "noext"),
	}
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	var staged []int
	h, err := m.Create("s1", srcs, func(done, total int) {
		if total != 3 {
			t.Fatalf("total=%d", total)
		}
		staged = append(staged, done)
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, name := range []string{"image_0001.jpg", "image_0002.png", "image_0003.jpg"} {
		if _, err := os.Stat(h.Path(filepath.Join(RelImagesDir, name))); err != nil {
			t.Fatalf("missing staged file %s: %v", name, err)
		}
	}
	if len(staged) != 3 || staged[2] != 3 {
		t.Fatalf("staging callbacks: %v", staged)
	}
	if h.ImageCount() != 3 {
		t.Fatalf("image count: %d", h.ImageCount())
	}
}

func TestCreateRejectsNonEmptyDir(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "s1"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "s1", "leftover"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, err = m.Create("s1", nil, nil)
	if err == nil || !IsWorkspaceError(err) {
		t.Fatalf("expected workspace error, got %v", err)
	}
}

func TestCreateMissingInput(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	_, err = m.Create("s1", []string{"/does/not/exist.jpg"}, nil)
	if err == nil || !IsWorkspaceError(err) {
		t.Fatalf("expected workspace error, got %v", err)
	}
}

func TestEnsureDirLazy(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h, err := m.Create("s1", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// Stage dirs do not exist until requested.
	if _, err := os.Stat(h.Path(RelSparseDir)); !os.IsNotExist(err) {
		t.Fatalf("sparse dir should not exist yet")
	}
	if err := h.EnsureDir(RelSparseDir); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := os.Stat(h.Path(RelSparseDir)); err != nil {
		t.Fatalf("sparse dir: %v", err)
	}
}

func TestDestroyIdempotent(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	h, err := m.Create("s1", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := m.Destroy(h); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := os.Stat(h.Dir()); !os.IsNotExist(err) {
		t.Fatalf("workspace still present")
	}
	// Second destroy is a no-op.
	if err := m.Destroy(h); err != nil {
		t.Fatalf("destroy again: %v", err)
	}
}

func TestDestroyRefusesOutsideRoot(t *testing.T) {
	m, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	outside := t.TempDir()
	if err := m.Destroy(&Handle{sessionID: "x", dir: outside}); err == nil {
		t.Fatalf("expected refusal for path outside root")
	}
	if _, err := os.Stat(outside); err != nil {
		t.Fatalf("outside dir was removed: %v", err)
	}
}
