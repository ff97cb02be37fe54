package e2e

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"complete/internal/app"
	"complete/internal/config"
	"complete/internal/httpapi"
	"complete/internal/registry"
	"complete/internal/stub"
)

// createTempModelsDir creates a models directory populated with empty .gguf
// files at the given publisher/repo/file paths.
func createTempModelsDir(t *testing.T, paths ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, p := range paths {
		full := filepath.Join(dir, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", full, err)
		}
		if err := os.WriteFile(full, []byte(""), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", full, err)
		}
	}
	return dir
}

// newServerForDir serves a stub engine whose catalog is scanned from modelsDir.
func newServerForDir(t *testing.T, modelsDir string, cfg stub.Config) (*httptest.Server, *stub.Engine) {
	t.Helper()
	arts, err := registry.LoadDir(modelsDir)
	if err != nil {
		t.Fatalf("scan models: %v", err)
	}
	cfg.Catalog = registry.IDs(arts)
	eng := stub.New(cfg)
	srv := httptest.NewServer(httpapi.NewMux(eng, httpapi.Options{Logger: zerolog.Nop(), LogLevel: zerolog.Disabled}))
	t.Cleanup(srv.Close)
	return srv, eng
}

// runClient runs one client session against baseURL and returns stdout.
func runClient(t *testing.T, baseURL, model, input string) (string, error) {
	t.Helper()
	cfg := config.Default()
	cfg.BaseURL = baseURL
	cfg.Model = model
	cfg.Color = "never"
	cfg.LogLevel = "off"
	var out, errOut bytes.Buffer
	a, err := app.New(cfg, app.Streams{In: strings.NewReader(input), Out: &out, Err: &errOut})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	err = a.Run(context.Background())
	return out.String(), err
}
