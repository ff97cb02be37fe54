// Package registry discovers GGUF model artifacts on disk and names them the
// way a local model server does: publisher/repo/file.gguf relative to the
// models directory.
package registry

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"complete/internal/common/fsutil"
)

// Artifact is one model file.
type Artifact struct {
	// ID is the slash-separated path relative to the models directory.
	ID string
	// Path is the absolute file path.
	Path string
	Size int64
}

// LoadDir walks dir recursively for *.gguf files. Hidden directories are
// skipped. Results are sorted by ID.
func LoadDir(dir string) ([]Artifact, error) {
	root, err := fsutil.ResolveDir(dir)
	if err != nil {
		return nil, fmt.Errorf("models dir: %w", err)
	}
	var out []Artifact
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if p != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if !strings.EqualFold(filepath.Ext(d.Name()), ".gguf") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		var size int64
		if fi, err := d.Info(); err == nil {
			size = fi.Size()
		}
		out = append(out, Artifact{ID: filepath.ToSlash(rel), Path: p, Size: size})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Find returns the first artifact whose ID starts with prefix.
func Find(arts []Artifact, prefix string) (Artifact, bool) {
	if prefix == "" {
		return Artifact{}, false
	}
	for _, a := range arts {
		if strings.HasPrefix(a.ID, prefix) {
			return a, true
		}
	}
	return Artifact{}, false
}

// IDs returns the artifact IDs in order.
func IDs(arts []Artifact) []string {
	ids := make([]string, len(arts))
	for i, a := range arts {
		ids[i] = a.ID
	}
	return ids
}
