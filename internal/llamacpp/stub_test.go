//go:build !llama

package llamacpp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"complete/internal/inference"
)

func TestLoadWithoutNativeRuntime(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "m.gguf"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	c := New(Options{ModelsDir: dir, Logger: zerolog.Nop()})
	_, err := c.Load(context.Background(), "m", inference.LoadOptions{}, nil)
	if !inference.IsLoad(err) || !errors.Is(err, ErrNotBuilt) {
		t.Fatalf("want ErrNotBuilt load error, got %v", err)
	}
	if Built {
		t.Fatalf("Built should be false without the llama tag")
	}
}
