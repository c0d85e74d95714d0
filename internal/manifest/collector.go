// Package manifest assembles the structured output manifest after a pipeline
// completes: it verifies the declared artifacts, derives geometry metadata,
// copies everything into the session's output directory, and bundles a
// downloadable archive.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reconstructd/internal/common/fsutil"
	"reconstructd/internal/engine"
	"reconstructd/internal/workspace"
	"reconstructd/pkg/types"
)

// resultAssemblyError is a post-success failure: the pipeline reported
// success but the manifest could not be built. Distinct from a stage failure
// so the session can be downgraded with a specific reason.
type resultAssemblyError struct{ msg string }

func (e resultAssemblyError) Error() string { return "result assembly failed: " + e.msg }

// IsResultAssembly reports whether err is a manifest-building failure.
func IsResultAssembly(err error) bool {
	_, ok := err.(resultAssemblyError)
	return ok
}

// Collector builds output manifests. Invoked only after the last enabled
// stage succeeded.
type Collector struct{}

func NewCollector() *Collector { return &Collector{} }

// Collect verifies and gathers the declared outputs of the enabled stages
// into the workspace's output directory and returns the manifest. The output
// directory contents are exactly the manifest files plus the archive; this is
// the on-disk contract download handlers rely on.
func (c *Collector) Collect(h *workspace.Handle, descs []engine.Descriptor, opts engine.Options) (*types.OutputManifest, error) {
	if err := h.EnsureDir(workspace.RelOutputDir); err != nil {
		return nil, resultAssemblyError{msg: err.Error()}
	}
	man := &types.OutputManifest{
		SessionID: h.SessionID(),
		CreatedAt: time.Now().UTC(),
	}
	for _, d := range descs {
		for _, spec := range d.Outputs {
			art, err := c.collectArtifact(h, spec)
			if err != nil {
				return nil, err
			}
			man.Artifacts = append(man.Artifacts, art)
		}
	}
	archive, err := writeArchive(h, man, opts)
	if err != nil {
		return nil, resultAssemblyError{msg: err.Error()}
	}
	man.ArchivePath = archive
	return man, nil
}

func (c *Collector) collectArtifact(h *workspace.Handle, spec engine.ArtifactSpec) (types.Artifact, error) {
	src := h.Path(spec.Rel)
	fi, err := os.Stat(src)
	if err != nil {
		return types.Artifact{}, resultAssemblyError{msg: fmt.Sprintf("expected artifact %s missing: %v", spec.Rel, err)}
	}
	if fi.Size() == 0 {
		return types.Artifact{}, resultAssemblyError{msg: fmt.Sprintf("expected artifact %s is empty", spec.Rel)}
	}
	dst := h.Path(filepath.Join(workspace.RelOutputDir, filepath.Base(src)))
	if err := fsutil.CopyFile(src, dst); err != nil {
		return types.Artifact{}, resultAssemblyError{msg: err.Error()}
	}
	art := types.Artifact{
		Kind:      spec.Kind,
		Path:      dst,
		SizeBytes: fi.Size(),
		Format:    strings.TrimPrefix(strings.ToLower(filepath.Ext(src)), "."),
	}
	if art.Format == "ply" {
		info, err := readPLYHeader(dst)
		if err != nil {
			return types.Artifact{}, resultAssemblyError{msg: err.Error()}
		}
		art.VertexCount = info.VertexCount
		art.FaceCount = info.FaceCount
		art.HasColors = info.HasColors
		art.HasNormals = info.HasNormals
		bb, err := scanBoundingBox(dst, info)
		if err != nil {
			return types.Artifact{}, resultAssemblyError{msg: err.Error()}
		}
		art.BoundingBox = bb
	}
	return art, nil
}
