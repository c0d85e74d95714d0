// Package workspace allocates and owns per-session filesystem workspaces:
// staged input copies, stage working directories, and the final output
// directory. One workspace is exclusively owned by one session's pipeline for
// its lifetime.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"reconstructd/internal/common/fsutil"
)

// Relative layout inside one session workspace. This is the on-disk contract
// shared with the engine command templates and the result collector.
const (
	RelImagesDir   = "images"
	RelDatabaseDir = "database"
	RelDatabase    = "database/database.db"
	RelSparseDir   = "sparse"
	RelSparseModel = "sparse/0"
	RelSparsePLY   = "sparse_model.ply"
	RelDenseDir    = "dense"
	RelFusedPLY    = "dense/fused.ply"
	RelMeshDir     = "mesh"
	RelMeshPLY     = "mesh/mesh.ply"
	RelOutputDir   = "output"
)

// Disk-space precondition applied before staging inputs. Intermediates
// (database, undistorted images, depth maps) routinely exceed the input size,
// so require a multiple of it plus a fixed floor.
const (
	diskSpareFactor = 2
	minFreeBytes    = 64 << 20
)

type workspaceError struct{ msg string }

func (e workspaceError) Error() string { return "workspace: " + e.msg }

// IsWorkspaceError reports whether err is a filesystem setup failure from
// this package.
func IsWorkspaceError(err error) bool {
	_, ok := err.(workspaceError)
	return ok
}

// Manager owns the root directory under which all session workspaces live.
type Manager struct {
	root string
}

// NewManager resolves root (expanding a leading '~') and creates it if absent.
func NewManager(root string) (*Manager, error) {
	base, err := fsutil.ExpandHome(root)
	if err != nil {
		return nil, workspaceError{msg: err.Error()}
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, workspaceError{msg: fmt.Sprintf("abs path: %v", err)}
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, workspaceError{msg: fmt.Sprintf("create root: %v", err)}
	}
	return &Manager{root: abs}, nil
}

func (m *Manager) Root() string { return m.root }

// Handle is a stable view of one session's workspace directory.
type Handle struct {
	sessionID string
	dir       string
}

func (h *Handle) SessionID() string { return h.sessionID }
func (h *Handle) Dir() string       { return h.dir }

// Path resolves a workspace-relative path to an absolute one.
func (h *Handle) Path(rel string) string { return filepath.Join(h.dir, rel) }

// EnsureDir creates a workspace-relative directory if needed. Stage
// directories are created lazily right before their stage runs so that
// stages never reached leave no empty directories behind.
func (h *Handle) EnsureDir(rel string) error {
	if err := os.MkdirAll(h.Path(rel), 0o755); err != nil {
		return workspaceError{msg: fmt.Sprintf("ensure %s: %v", rel, err)}
	}
	return nil
}

// ImageCount counts staged input images.
func (h *Handle) ImageCount() int {
	entries, err := os.ReadDir(h.Path(RelImagesDir))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			n++
		}
	}
	return n
}

// Open returns a handle for an existing (or soon to exist) session workspace
// without creating anything.
func (m *Manager) Open(sessionID string) *Handle {
	return &Handle{sessionID: sessionID, dir: filepath.Join(m.root, sessionID)}
}

// Create allocates the workspace for sessionID and stages the input files
// into images/ with sequential names (image_0001.jpg, ...). onStaged, when
// non-nil, is invoked after each copied file. Fails if the target directory
// already exists and is non-empty, or if free disk space is insufficient.
func (m *Manager) Create(sessionID string, inputs []string, onStaged func(done, total int)) (*Handle, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, workspaceError{msg: "empty session id"}
	}
	h := m.Open(sessionID)
	if fsutil.DirNonEmpty(h.dir) {
		return nil, workspaceError{msg: fmt.Sprintf("directory already in use: %s", h.dir)}
	}
	if err := m.checkDiskSpace(inputs); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(h.Path(RelImagesDir), 0o755); err != nil {
		return nil, workspaceError{msg: fmt.Sprintf("create images dir: %v", err)}
	}
	for i, src := range inputs {
		ext := strings.ToLower(filepath.Ext(src))
		if ext == "" {
			ext = ".jpg"
		}
		dst := h.Path(filepath.Join(RelImagesDir, fmt.Sprintf("image_%04d%s", i+1, ext)))
		if err := fsutil.CopyFile(src, dst); err != nil {
			return nil, workspaceError{msg: fmt.Sprintf("stage input %d: %v", i+1, err)}
		}
		if onStaged != nil {
			onStaged(i+1, len(inputs))
		}
	}
	return h, nil
}

func (m *Manager) checkDiskSpace(inputs []string) error {
	var total int64
	for _, p := range inputs {
		fi, err := os.Stat(p)
		if err != nil {
			return workspaceError{msg: fmt.Sprintf("input %s: %v", p, err)}
		}
		total += fi.Size()
	}
	avail, err := fsutil.AvailableBytes(m.root)
	if err != nil || avail == 0 {
		// Unknown free space is not a setup failure.
		return nil
	}
	need := uint64(total)*diskSpareFactor + minFreeBytes
	if avail < need {
		return workspaceError{msg: fmt.Sprintf("insufficient disk space: need %d bytes, have %d", need, avail)}
	}
	return nil
}

// Destroy recursively removes the session's workspace. Idempotent: a missing
// directory is not an error.
func (m *Manager) Destroy(h *Handle) error {
	if h == nil {
		return nil
	}
	// Never remove anything outside the managed root.
	rel, err := filepath.Rel(m.root, h.dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return workspaceError{msg: fmt.Sprintf("refusing to remove %s: outside root", h.dir)}
	}
	if err := os.RemoveAll(h.dir); err != nil {
		return workspaceError{msg: fmt.Sprintf("remove %s: %v", h.dir, err)}
	}
	return nil
}
