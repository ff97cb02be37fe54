// Package inferencetest provides an in-memory inference.Client for tests.
package inferencetest

import (
	"context"
	"iter"
	"sync"

	"complete/internal/inference"
)

// CompleteCall records one Complete invocation.
type CompleteCall struct {
	Prompt string
	Opts   inference.CompletionOptions
}

// Client is a scripted backend. Zero value behaves as an empty server whose
// loads succeed instantly.
type Client struct {
	mu sync.Mutex

	Loaded    []inference.ModelInfo
	ListErr   error
	LoadErr   error
	GetErr    error
	Progress  []float64
	Fragments []string
	StreamErr error

	ListCalls     int
	LoadCalls     []string
	LoadOpts      []inference.LoadOptions
	GetCalls      []string
	CompleteCalls []CompleteCall
}

// ListLoaded implements inference.Client.
func (c *Client) ListLoaded(ctx context.Context) ([]inference.ModelInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ListCalls++
	if c.ListErr != nil {
		return nil, c.ListErr
	}
	out := make([]inference.ModelInfo, len(c.Loaded))
	copy(out, c.Loaded)
	return out, nil
}

// Load implements inference.Client. Scripted progress values are sent before
// LoadErr is consulted, so a failing load can still report progress.
func (c *Client) Load(ctx context.Context, path string, opts inference.LoadOptions, progress chan<- float64) (inference.Model, error) {
	c.mu.Lock()
	c.LoadCalls = append(c.LoadCalls, path)
	c.LoadOpts = append(c.LoadOpts, opts)
	steps := append([]float64(nil), c.Progress...)
	loadErr := c.LoadErr
	c.mu.Unlock()

	for _, p := range steps {
		if progress == nil {
			break
		}
		select {
		case progress <- p:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if loadErr != nil {
		return nil, loadErr
	}
	info := inference.ModelInfo{Identifier: path, Path: path}
	c.mu.Lock()
	c.Loaded = append(c.Loaded, info)
	c.mu.Unlock()
	return &Model{client: c, info: info}, nil
}

// Get implements inference.Client.
func (c *Client) Get(ctx context.Context, path string) (inference.Model, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.GetCalls = append(c.GetCalls, path)
	if c.GetErr != nil {
		return nil, c.GetErr
	}
	info, ok := inference.FindLoaded(c.Loaded, path)
	if !ok {
		return nil, inference.ErrNotFound(path)
	}
	return &Model{client: c, info: info}, nil
}

// Model is the handle returned by Client.
type Model struct {
	client *Client
	info   inference.ModelInfo
}

// Info implements inference.Model.
func (m *Model) Info() inference.ModelInfo { return m.info }

// Complete implements inference.Model. It yields Client.Fragments and then
// Client.StreamErr if set.
func (m *Model) Complete(ctx context.Context, prompt string, opts inference.CompletionOptions) iter.Seq2[inference.Fragment, error] {
	c := m.client
	c.mu.Lock()
	c.CompleteCalls = append(c.CompleteCalls, CompleteCall{Prompt: prompt, Opts: opts})
	texts := append([]string(nil), c.Fragments...)
	streamErr := c.StreamErr
	c.mu.Unlock()
	if streamErr != nil {
		return inference.Failed(streamErr, texts...)
	}
	return inference.Fragments(texts...)
}
