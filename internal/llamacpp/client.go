// Package llamacpp implements inference.Client in process with llama.cpp.
// Models are discovered under a models directory with the same
// publisher/repo/file.gguf naming an LM Studio server uses. Without the
// "llama" build tag every load fails with a clear error.
package llamacpp

import (
	"context"
	"fmt"
	"iter"
	"path"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"complete/internal/inference"
	"complete/internal/registry"
)

// maxGPULayers stands in for "offload everything"; llama.cpp clamps it to
// the model's layer count.
const maxGPULayers = 9999

// Options configures the backend.
type Options struct {
	ModelsDir string
	// ContextSize is the llama.cpp context length in tokens.
	ContextSize int
	Threads     int
	// MaxTokens bounds one completion.
	MaxTokens int
	Logger    zerolog.Logger
}

// runtimeOptions are passed to the native layer when a model is opened.
type runtimeOptions struct {
	contextSize int
	gpuLayers   int
	threads     int
	maxTokens   int
}

// runtime is one opened model.
type runtime interface {
	// predict blocks until generation ends; onToken returning false stops it.
	predict(prompt string, temperature float32, onToken func(string) bool) error
	free()
}

// Client keeps the models it loaded for the life of the process.
type Client struct {
	opts Options
	log  zerolog.Logger
	open func(path string, o runtimeOptions) (runtime, error)

	mu     sync.Mutex
	loaded map[string]*Model // by artifact ID
}

// New constructs a Client.
func New(opts Options) *Client {
	if opts.ContextSize <= 0 {
		opts.ContextSize = 2048
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 512
	}
	return &Client{opts: opts, log: opts.Logger, open: openRuntime, loaded: make(map[string]*Model)}
}

// ListLoaded implements inference.Client.
func (c *Client) ListLoaded(ctx context.Context) ([]inference.ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]inference.ModelInfo, 0, len(c.loaded))
	for _, m := range c.loaded {
		out = append(out, m.info)
	}
	return out, nil
}

// Get implements inference.Client.
func (c *Client) Get(ctx context.Context, target string) (inference.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range c.loaded {
		if inference.Matches(m.info, target) {
			return m, nil
		}
	}
	return nil, inference.ErrNotFound(target)
}

// Load implements inference.Client. Progress is reported as 0 before the
// weights are read and 1 once the model is ready; llama.cpp offers no finer
// granularity through this binding.
func (c *Client) Load(ctx context.Context, target string, opts inference.LoadOptions, progress chan<- float64) (inference.Model, error) {
	arts, err := registry.LoadDir(c.opts.ModelsDir)
	if err != nil {
		return nil, inference.ErrLoad(target, "scan models", err)
	}
	art, ok := registry.Find(arts, target)
	if !ok {
		return nil, inference.ErrLoad(target, "no model artifact matches", nil)
	}
	layers, err := gpuLayers(opts.GPUOffload)
	if err != nil {
		return nil, inference.ErrLoad(target, "gpu offload", err)
	}
	if err := send(ctx, progress, 0); err != nil {
		return nil, err
	}
	c.log.Debug().Str("artifact", art.ID).Str("file", art.Path).Int("gpu_layers", layers).Str("preset", opts.Preset).Msg("opening model")
	rt, err := c.open(art.Path, runtimeOptions{
		contextSize: c.opts.ContextSize,
		gpuLayers:   layers,
		threads:     c.opts.Threads,
		maxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return nil, inference.ErrLoad(target, "open "+art.ID, err)
	}
	if err := send(ctx, progress, 1); err != nil {
		rt.free()
		return nil, err
	}

	m := &Model{rt: rt, info: inference.ModelInfo{Identifier: identifierFor(art.ID), Path: art.ID}, log: c.log}
	c.mu.Lock()
	if prev, ok := c.loaded[art.ID]; ok {
		prev.close()
	}
	c.loaded[art.ID] = m
	c.mu.Unlock()
	return m, nil
}

// Close frees every loaded model.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, m := range c.loaded {
		m.close()
		delete(c.loaded, id)
	}
	return nil
}

// Model is a model opened in this process.
type Model struct {
	mu   sync.Mutex
	rt   runtime
	info inference.ModelInfo
	log  zerolog.Logger
}

// Info implements inference.Model.
func (m *Model) Info() inference.ModelInfo { return m.info }

type token struct {
	text string
	err  error
}

// Complete implements inference.Model. Generation runs on its own goroutine
// and hands tokens over an unbuffered channel, so it advances only as fast
// as the consumer reads.
func (m *Model) Complete(ctx context.Context, prompt string, opts inference.CompletionOptions) iter.Seq2[inference.Fragment, error] {
	return inference.Once(func(yield func(inference.Fragment, error) bool) {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.rt == nil {
			yield(inference.Fragment{}, inference.ErrCompletion("model closed", inference.ErrNotFound(m.info.Path)))
			return
		}

		tokens := make(chan token)
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer close(tokens)
			err := m.rt.predict(prompt, float32(opts.Temperature), func(s string) bool {
				select {
				case tokens <- token{text: s}:
					return true
				case <-stop:
					return false
				case <-ctx.Done():
					return false
				}
			})
			if err != nil {
				select {
				case tokens <- token{err: err}:
				case <-stop:
				}
			}
		}()
		defer func() {
			close(stop)
			<-done
		}()

		for {
			select {
			case t, ok := <-tokens:
				if !ok {
					if err := ctx.Err(); err != nil {
						yield(inference.Fragment{}, err)
					}
					return
				}
				if t.err != nil {
					yield(inference.Fragment{}, inference.ErrCompletion("predict", t.err))
					return
				}
				if t.text == "" {
					continue
				}
				if !yield(inference.Fragment{Text: t.text}, nil) {
					return
				}
			case <-ctx.Done():
				yield(inference.Fragment{}, ctx.Err())
				return
			}
		}
	})
}

func (m *Model) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rt != nil {
		m.rt.free()
		m.rt = nil
	}
}

func send(ctx context.Context, ch chan<- float64, p float64) error {
	if ch == nil {
		return nil
	}
	select {
	case ch <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// gpuLayers maps a GPU offload policy to a layer count: "max" offloads all,
// "off" or "" none, and a number is taken literally.
func gpuLayers(policy string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", "off":
		return 0, nil
	case inference.GPUOffloadMax:
		return maxGPULayers, nil
	}
	n, err := strconv.Atoi(policy)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid policy %q", policy)
	}
	return n, nil
}

// identifierFor mirrors how servers name instances: lowercased file name
// without extension.
func identifierFor(id string) string {
	base := path.Base(id)
	return strings.ToLower(strings.TrimSuffix(base, path.Ext(base)))
}
