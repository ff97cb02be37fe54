// Package resolver turns a model identifier into a ready model handle,
// reusing an already loaded instance when the backend has one.
package resolver

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"complete/internal/inference"
	"complete/internal/metrics"
	"complete/internal/progress"
	"complete/internal/term"
)

// Status lines written to the terminal.
const (
	MsgLoading       = "Model not loaded. Loading model..."
	MsgAlreadyLoaded = "[Model already loaded. You're good to go]"
)

// Config wires a Resolver. Client and Out are required.
type Config struct {
	Client      inference.Client
	LoadOptions inference.LoadOptions
	Out         io.Writer
	Palette     *term.Palette
	Progress    *progress.Renderer
	Logger      zerolog.Logger
	Metrics     *metrics.Client
}

// Resolver implements the check-before-load policy.
type Resolver struct {
	client   inference.Client
	opts     inference.LoadOptions
	out      io.Writer
	palette  *term.Palette
	progress *progress.Renderer
	log      zerolog.Logger
	metrics  *metrics.Client
}

// New constructs a Resolver, filling in a plain palette and a wall-clock
// renderer on Out when they are not supplied.
func New(cfg Config) *Resolver {
	r := &Resolver{
		client:   cfg.Client,
		opts:     cfg.LoadOptions,
		out:      cfg.Out,
		palette:  cfg.Palette,
		progress: cfg.Progress,
		log:      cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if r.palette == nil {
		r.palette = term.NewPalette(term.ColorNever)
	}
	if r.progress == nil {
		r.progress = progress.NewRenderer(cfg.Out)
	}
	return r
}

// Resolve returns a model handle for target. If a loaded model's path starts
// with target it is attached with Get; otherwise target is loaded exactly once.
func (r *Resolver) Resolve(ctx context.Context, target string) (inference.Model, error) {
	loaded, err := r.client.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("list loaded models: %w", err)
	}
	r.log.Debug().Str("model", target).Int("loaded", len(loaded)).Msg("listed loaded models")

	if match, ok := inference.FindLoaded(loaded, target); ok {
		r.palette.Status(r.out, MsgAlreadyLoaded)
		r.log.Debug().Str("model", target).Str("identifier", match.Identifier).Msg("reusing loaded model")
		m, err := r.client.Get(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("attach %s: %w", target, err)
		}
		r.metrics.ObserveResolution(metrics.PathReused)
		return m, nil
	}

	fmt.Fprintln(r.out, MsgLoading)
	r.log.Debug().Str("model", target).Str("preset", r.opts.Preset).Str("gpu_offload", r.opts.GPUOffload).Msg("loading model")
	m, err := r.load(ctx, target)
	if err != nil {
		return nil, err
	}
	r.metrics.ObserveResolution(metrics.PathLoaded)
	return m, nil
}

// load runs one Load call while a renderer goroutine drains progress events.
// The channel is unbuffered so each event is drawn before the backend continues.
func (r *Resolver) load(ctx context.Context, target string) (inference.Model, error) {
	events := make(chan float64)
	drawn := make(chan struct{})
	go func() {
		defer close(drawn)
		r.progress.Consume(events)
	}()

	start := time.Now()
	m, err := r.client.Load(ctx, target, r.opts, events)
	close(events)
	<-drawn
	r.metrics.ObserveLoad(start, err)
	if err != nil {
		return nil, err
	}
	r.log.Debug().Str("model", target).Str("identifier", m.Info().Identifier).Dur("dur", time.Since(start)).Msg("model loaded")
	return m, nil
}
