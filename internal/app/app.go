// Package app wires configuration, a backend, the resolver and the
// interactive session into one run of the client.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"complete/internal/config"
	"complete/internal/inference"
	"complete/internal/llamacpp"
	"complete/internal/lmstudio"
	"complete/internal/logging"
	"complete/internal/metrics"
	"complete/internal/progress"
	"complete/internal/resolver"
	"complete/internal/session"
	"complete/internal/term"
)

// ConnectTimeout bounds dialing the inference server. Loads and completions
// themselves are not bounded.
const ConnectTimeout = 5 * time.Second

// PushJob is the Pushgateway job name for client metrics.
const PushJob = "complete"

// Streams are the process's standard streams.
type Streams struct {
	In  io.Reader
	Out io.Writer
	Err io.Writer
}

// App is one configured client run.
type App struct {
	cfg     config.Config
	streams Streams
	client  inference.Client
	palette *term.Palette
	log     zerolog.Logger
	metrics *metrics.Client
	closer  func() error
}

// New validates cfg and builds the backend it names.
func New(cfg config.Config, streams Streams) (*App, error) {
	a, err := newApp(cfg, streams)
	if err != nil {
		return nil, err
	}
	switch cfg.Backend {
	case "llama":
		c := llamacpp.New(llamacpp.Options{
			ModelsDir:   cfg.ModelsDir,
			ContextSize: cfg.LlamaCtx,
			Threads:     cfg.LlamaThreads,
			Logger:      a.log.With().Str("backend", "llama").Logger(),
		})
		a.client, a.closer = c, c.Close
	default:
		a.client = lmstudio.New(cfg.BaseURL, ConnectTimeout, a.log.With().Str("backend", "lmstudio").Logger())
	}
	return a, nil
}

// NewWithClient is New with a caller supplied backend.
func NewWithClient(cfg config.Config, streams Streams, client inference.Client) (*App, error) {
	a, err := newApp(cfg, streams)
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

func newApp(cfg config.Config, streams Streams) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	palette := term.NewPalette(term.ParseColorMode(cfg.Color))
	level := logging.ParseLevel(cfg.LogLevel)
	if cfg.VerboseEnabled() {
		level = zerolog.DebugLevel
	}
	return &App{
		cfg:     cfg,
		streams: streams,
		palette: palette,
		log:     logging.New(streams.Err, level, !palette.Enabled()),
		metrics: metrics.New(),
	}, nil
}

// Palette returns the palette used for terminal output, so callers can
// report a fatal error in the same colors.
func (a *App) Palette() *term.Palette { return a.palette }

// Run resolves the configured model and runs one completion exchange.
// Input closing before any text counts as success.
func (a *App) Run(ctx context.Context) (err error) {
	defer a.finish(ctx)

	a.log.Debug().Str("model", a.cfg.Model).Str("backend", a.cfg.Backend).Str("base_url", a.cfg.BaseURL).Msg("starting")
	res := resolver.New(resolver.Config{
		Client: a.client,
		LoadOptions: inference.LoadOptions{
			GPUOffload:         a.cfg.GPUOffload,
			Preset:             a.cfg.Preset,
			Verbose:            a.cfg.VerboseEnabled(),
			KeepAliveAfterExit: a.cfg.KeepAliveAfterExit(),
		},
		Out:      a.streams.Out,
		Palette:  a.palette,
		Progress: progress.NewRenderer(a.streams.Out),
		Logger:   a.log,
		Metrics:  a.metrics,
	})
	model, err := res.Resolve(ctx, a.cfg.Model)
	if err != nil {
		return err
	}

	sess := session.New(session.Config{
		In:      a.streams.In,
		Out:     a.streams.Out,
		Palette: a.palette,
		Logger:  a.log,
		Metrics: a.metrics,
	})
	if err := sess.Run(ctx, model); err != nil {
		if errors.Is(err, session.ErrNoInput) {
			a.log.Debug().Msg("input closed before any text")
			return nil
		}
		return err
	}
	return nil
}

// finish pushes metrics and releases the backend. Failures here are logged
// and never change the run's result.
func (a *App) finish(ctx context.Context) {
	if a.cfg.PushgatewayURL != "" {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ConnectTimeout)
		defer cancel()
		if err := a.metrics.Push(pctx, a.cfg.PushgatewayURL, PushJob); err != nil {
			a.log.Warn().Err(err).Str("url", a.cfg.PushgatewayURL).Msg("push metrics")
		}
	}
	if a.closer != nil {
		if err := a.closer(); err != nil {
			a.log.Warn().Err(err).Msg("close backend")
		}
	}
}
