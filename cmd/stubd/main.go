// Command stubd serves the LM Studio style API from an in-memory engine so
// the complete client can run without a real inference server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"complete/internal/config"
	"complete/internal/httpapi"
	"complete/internal/logging"
	"complete/internal/registry"
	"complete/internal/stub"
)

const defaultArtifact = config.DefaultModel + "/Meta-Llama-3-8B.Q4_K_M.gguf"

type options struct {
	addr          string
	modelsDir     string
	models        []string
	preload       []string
	loadSteps     int
	loadStepDelay time.Duration
	fragmentDelay time.Duration
	response      string
	corsOrigins   string
	logLevel      string
	maxBodyBytes  int64
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "stubd:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	o := &options{}
	defaultAddr := ":1234"
	if v := os.Getenv("STUBD_ADDR"); v != "" {
		defaultAddr = v
	}
	cmd := &cobra.Command{
		Use:           "stubd",
		Short:         "Fake LM Studio server for offline development",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.addr, "addr", defaultAddr, "HTTP listen address (defaults STUBD_ADDR or :1234)")
	f.StringVar(&o.modelsDir, "models-dir", "", "Directory to scan for *.gguf artifacts to add to the catalog")
	f.StringArrayVar(&o.models, "model", nil, "Catalog artifact path publisher/repo/file.gguf (repeatable)")
	f.StringArrayVar(&o.preload, "preload", nil, "Path prefix loaded at start (repeatable)")
	f.IntVar(&o.loadSteps, "load-steps", 4, "Progress intervals reported per load")
	f.DurationVar(&o.loadStepDelay, "load-step-delay", 250*time.Millisecond, "Delay between load progress events")
	f.DurationVar(&o.fragmentDelay, "fragment-delay", 50*time.Millisecond, "Delay between completion fragments")
	f.StringVar(&o.response, "response", "", "Completion text returned for every prompt")
	f.StringVar(&o.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins; empty disables CORS")
	f.StringVar(&o.logLevel, "log-level", "info", "Log level: debug|info|warn|error|off")
	f.Int64Var(&o.maxBodyBytes, "max-body-bytes", 1<<20, "Maximum JSON request body size")
	return cmd
}

// catalog merges explicit artifacts with those found under modelsDir,
// falling back to the default model when both are empty.
func catalog(o *options) ([]string, error) {
	out := append([]string(nil), o.models...)
	if o.modelsDir != "" {
		arts, err := registry.LoadDir(o.modelsDir)
		if err != nil {
			return nil, err
		}
		out = append(out, registry.IDs(arts)...)
	}
	if len(out) == 0 {
		out = []string{defaultArtifact}
	}
	return out, nil
}

func serve(ctx context.Context, o *options) error {
	level := logging.ParseLevel(o.logLevel)
	log := logging.New(os.Stderr, level, false)

	cat, err := catalog(o)
	if err != nil {
		return err
	}
	eng := stub.New(stub.Config{
		Catalog:         cat,
		Preloaded:       o.preload,
		LoadSteps:       o.loadSteps,
		LoadStepDelay:   o.loadStepDelay,
		DefaultResponse: o.response,
		FragmentDelay:   o.fragmentDelay,
	})

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	origins := splitCSV(o.corsOrigins)
	mux := httpapi.NewMux(eng, httpapi.Options{
		Logger:       log,
		LogLevel:     level,
		MaxBodyBytes: o.maxBodyBytes,
		BaseContext:  baseCtx,
		CORS:         httpapi.CORSOptions{Enabled: len(origins) > 0, AllowedOrigins: origins},
	})
	srv := &http.Server{Addr: o.addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", o.addr).Int("models", len(cat)).Msg("stubd listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Graceful shutdown (Ctrl+C / SIGTERM)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)
	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-stop:
	case <-ctx.Done():
	}
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	loads, unloads := eng.Counters()
	log.Info().Uint64("loads", loads).Uint64("unloads", unloads).Msg("stubd stopped")
	return nil
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

