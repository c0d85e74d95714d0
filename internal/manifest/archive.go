package manifest

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"reconstructd/internal/engine"
	"reconstructd/internal/workspace"
	"reconstructd/pkg/types"
)

// archiveMetadata is the metadata.json embedded in the result archive.
type archiveMetadata struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Artifacts []struct {
		Kind string `json:"kind"`
		Name string `json:"name"`
		Size int64  `json:"size_bytes"`
	} `json:"artifacts"`
	ProcessingParameters struct {
		EnableDense   bool   `json:"enable_dense"`
		EnableMeshing bool   `json:"enable_meshing"`
		MaxImageSize  int    `json:"max_image_size"`
		MatcherType   string `json:"matcher_type"`
	} `json:"processing_parameters"`
}

// writeArchive bundles the manifest files under <kind>/<name> plus a
// metadata.json into model_<session>.zip inside the output directory.
func writeArchive(h *workspace.Handle, man *types.OutputManifest, opts engine.Options) (string, error) {
	path := h.Path(filepath.Join(workspace.RelOutputDir, fmt.Sprintf("model_%s.zip", h.SessionID())))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	zw := zip.NewWriter(f)

	meta := archiveMetadata{SessionID: man.SessionID, CreatedAt: man.CreatedAt}
	meta.ProcessingParameters.EnableDense = opts.EnableDense
	meta.ProcessingParameters.EnableMeshing = opts.EnableMeshing
	meta.ProcessingParameters.MaxImageSize = opts.MaxImageSize
	meta.ProcessingParameters.MatcherType = opts.MatcherType

	for _, art := range man.Artifacts {
		name := filepath.Base(art.Path)
		meta.Artifacts = append(meta.Artifacts, struct {
			Kind string `json:"kind"`
			Name string `json:"name"`
			Size int64  `json:"size_bytes"`
		}{Kind: art.Kind, Name: name, Size: art.SizeBytes})

		w, err := zw.Create(art.Kind + "/" + name)
		if err != nil {
			return "", closeAll(zw, f, err)
		}
		src, err := os.Open(art.Path)
		if err != nil {
			return "", closeAll(zw, f, err)
		}
		_, err = io.Copy(w, src)
		_ = src.Close()
		if err != nil {
			return "", closeAll(zw, f, err)
		}
	}

	mw, err := zw.Create("metadata.json")
	if err != nil {
		return "", closeAll(zw, f, err)
	}
	enc := json.NewEncoder(mw)
	enc.SetIndent("", "  ")
	if err := enc.Encode(meta); err != nil {
		return "", closeAll(zw, f, err)
	}
	if err := zw.Close(); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return path, nil
}

func closeAll(zw *zip.Writer, f *os.File, err error) error {
	_ = zw.Close()
	_ = f.Close()
	return err
}
