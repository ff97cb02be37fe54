package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"complete/internal/app"
	"complete/internal/config"
	"complete/internal/httpapi"
	"complete/internal/stub"
)

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

// parse runs the root command with args and returns the resolved config
// without starting a session.
func parse(t *testing.T, args []string, lookup func(string) (string, bool)) config.Config {
	t.Helper()
	c := newCommand(app.Streams{In: strings.NewReader(""), Out: &bytes.Buffer{}, Err: &bytes.Buffer{}})
	var got config.Config
	c.root.RunE = func(cmd *cobra.Command, _ []string) error {
		var err error
		got, err = resolveConfig(cmd, c.flags, lookup)
		return err
	}
	c.root.SetArgs(append([]string{"--env-file", ""}, args...))
	if err := c.root.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	return got
}

func TestDefaultsWithoutFlags(t *testing.T) {
	got := parse(t, nil, noEnv)
	want := config.Default()
	if got.Model != want.Model || got.BaseURL != want.BaseURL || got.Preset != want.Preset || !got.KeepAliveAfterExit() {
		t.Fatalf("got %+v", got)
	}
}

func TestPrecedenceFlagsOverEnvOverFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "complete.yaml")
	if err := os.WriteFile(file, []byte("model: file/model\nbase_url: http://file:1\npreset: FilePreset\ncolor: never\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	env := envMap(map[string]string{
		"COMPLETE_BASE_URL": "http://env:2",
		"COMPLETE_PRESET":   "EnvPreset",
	})
	got := parse(t, []string{"--config", file, "--preset", "FlagPreset", "--keep-alive=false"}, env)
	if got.Model != "file/model" {
		t.Fatalf("model=%q", got.Model)
	}
	if got.BaseURL != "http://env:2" {
		t.Fatalf("base url=%q", got.BaseURL)
	}
	if got.Preset != "FlagPreset" {
		t.Fatalf("preset=%q", got.Preset)
	}
	if got.Color != "never" {
		t.Fatalf("color=%q", got.Color)
	}
	if got.KeepAliveAfterExit() {
		t.Fatalf("keep-alive flag ignored")
	}
}

func TestUnsetFlagsDoNotOverrideEnv(t *testing.T) {
	got := parse(t, []string{"-v"}, envMap(map[string]string{"COMPLETE_MODEL": "env/model"}))
	if got.Model != "env/model" || !got.VerboseEnabled() {
		t.Fatalf("got %+v", got)
	}
}

func TestVerboseFlagOverridesEnv(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "complete.yaml")
	if err := os.WriteFile(file, []byte("verbose: true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := parse(t, []string{"--config", file}, envMap(map[string]string{"COMPLETE_VERBOSE": "false"})); got.VerboseEnabled() {
		t.Fatalf("env false must override file true")
	}
	if got := parse(t, []string{"--config", file, "--verbose=false"}, noEnv); got.VerboseEnabled() {
		t.Fatalf("flag false must override file true")
	}
}

func TestDotEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("COMPLETE_MODEL=dotenv/model\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("COMPLETE_MODEL", "")
	os.Unsetenv("COMPLETE_MODEL")
	got := parse(t, []string{"--env-file", envFile}, os.LookupEnv)
	if got.Model != "dotenv/model" {
		t.Fatalf("model=%q", got.Model)
	}
}

func TestExecuteReportsErrorAndExitCode(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), []string{"--env-file", "", "--backend", "ollama", "--color", "never"}, app.Streams{In: strings.NewReader(""), Out: &out, Err: &errOut})
	if code != 1 {
		t.Fatalf("code=%d", code)
	}
	if got := errOut.String(); !strings.HasPrefix(got, "Error: ") || strings.Count(got, "\n") != 1 {
		t.Fatalf("stderr=%q", got)
	}
}

func TestExecuteRunsSession(t *testing.T) {
	eng := stub.New(stub.Config{
		Catalog:   []string{config.DefaultModel + "/Meta-Llama-3-8B.Q4_K_M.gguf"},
		Preloaded: []string{config.DefaultModel},
		Responses: map[string]string{"Hi": " there"},
	})
	srv := httptest.NewServer(httpapi.NewMux(eng, httpapi.Options{Logger: zerolog.Nop(), LogLevel: zerolog.Disabled}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := Execute(context.Background(),
		[]string{"--env-file", "", "--base-url", srv.URL, "--color", "never", "--log-level", "off"},
		app.Streams{In: strings.NewReader("Hi\n"), Out: &out, Err: &errOut})
	if code != 0 {
		t.Fatalf("code=%d stderr=%s", code, errOut.String())
	}
	if !strings.HasSuffix(out.String(), " there") {
		t.Fatalf("stdout=%q", out.String())
	}
}

func TestFailedLoadEndsProgressLineBeforeError(t *testing.T) {
	eng := stub.New(stub.Config{
		Catalog:   []string{config.DefaultModel + "/Meta-Llama-3-8B.Q4_K_M.gguf"},
		LoadSteps: 4,
		FailLoads: map[string]string{config.DefaultModel: "insufficient memory"},
	})
	srv := httptest.NewServer(httpapi.NewMux(eng, httpapi.Options{Logger: zerolog.Nop(), LogLevel: zerolog.Disabled}))
	defer srv.Close()

	var out, errOut bytes.Buffer
	code := Execute(context.Background(),
		[]string{"--env-file", "", "--base-url", srv.URL, "--color", "never", "--log-level", "off"},
		app.Streams{In: strings.NewReader("Hi\n"), Out: &out, Err: &errOut})
	if code != 1 {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(out.String(), "Model loading:") || !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("stdout=%q", out.String())
	}
	if !strings.HasPrefix(errOut.String(), "Error: ") {
		t.Fatalf("stderr=%q", errOut.String())
	}
}

func TestFailureWithoutOutputAddsNoBlankLine(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()
	var out bytes.Buffer
	code := Execute(context.Background(),
		[]string{"--env-file", "", "--base-url", url, "--color", "never", "--log-level", "off"},
		app.Streams{In: strings.NewReader(""), Out: &out, Err: &bytes.Buffer{}})
	if code != 1 || out.Len() != 0 {
		t.Fatalf("code=%d stdout=%q", code, out.String())
	}
}

func TestConfigSubcommand(t *testing.T) {
	var out bytes.Buffer
	code := Execute(context.Background(), []string{"config", "--env-file", "", "--model", "pub/repo"},
		app.Streams{In: strings.NewReader(""), Out: &out, Err: &bytes.Buffer{}})
	if code != 0 {
		t.Fatalf("code=%d", code)
	}
	if !strings.Contains(out.String(), "model: pub/repo") {
		t.Fatalf("config output=%q", out.String())
	}
}
