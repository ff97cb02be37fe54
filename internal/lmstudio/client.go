// Package lmstudio implements inference.Client against an LM Studio style
// HTTP API. Loads and completions are streamed as Server-Sent Events.
//
// Listing and attaching use only GET /api/v0/models, which LM Studio
// serves as-is. Load progress over SSE from POST /api/v1/models/load is
// served by cmd/stubd; a stock LM Studio server loads models through its
// own SDK channel, so runs that need a load must point at a server
// speaking this protocol.
package lmstudio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"complete/internal/inference"
	"complete/pkg/types"
)

// API paths.
const (
	pathModels      = "/api/v0/models"
	pathLoad        = "/api/v1/models/load"
	pathCompletions = "/api/v0/completions"
)

// Client talks to one inference server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// New constructs a Client. Only dialing is bounded by connectTimeout; loads
// and completions may run as long as the server needs.
func New(baseURL string, connectTimeout time.Duration, log zerolog.Logger) *Client {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return NewWithHTTPClient(baseURL, &http.Client{Transport: tr, Timeout: 0}, log)
}

// NewWithHTTPClient constructs a Client around an existing http.Client.
func NewWithHTTPClient(baseURL string, hc *http.Client, log zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: hc,
		log:        log,
	}
}

// ListLoaded implements inference.Client.
func (c *Client) ListLoaded(ctx context.Context) ([]inference.ModelInfo, error) {
	resp, err := c.do(ctx, http.MethodGet, pathModels, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("list models: %s", statusMessage(resp))
	}
	var out types.ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("list models: decode: %w", err)
	}
	var loaded []inference.ModelInfo
	for _, m := range out.Data {
		if m.State == types.StateLoaded {
			loaded = append(loaded, toInfo(m))
		}
	}
	return loaded, nil
}

// Get implements inference.Client. The loaded listing is filtered on the
// client, so the first resident model whose path starts with path is used.
func (c *Client) Get(ctx context.Context, path string) (inference.Model, error) {
	loaded, err := c.ListLoaded(ctx)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	info, ok := inference.FindLoaded(loaded, path)
	if !ok {
		return nil, inference.ErrNotFound(path)
	}
	return &Model{client: c, info: info}, nil
}

// Load implements inference.Client.
func (c *Client) Load(ctx context.Context, path string, opts inference.LoadOptions, progress chan<- float64) (inference.Model, error) {
	body := types.LoadRequest{
		Model:      path,
		GPUOffload: opts.GPUOffload,
		Preset:     opts.Preset,
		Verbose:    opts.Verbose,
		KeepAlive:  opts.KeepAliveAfterExit,
		Stream:     true,
	}
	resp, err := c.do(ctx, http.MethodPost, pathLoad, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, inference.ErrLoad(path, "no model artifact matches", nil)
	}
	if resp.StatusCode/100 != 2 {
		return nil, inference.ErrLoad(path, statusMessage(resp), nil)
	}

	lvl := zerolog.DebugLevel
	if opts.Verbose {
		lvl = zerolog.InfoLevel
	}
	var loaded *types.Model
	err = readEvents(resp.Body, func(data string) error {
		var ev types.LoadEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			c.log.Warn().Str("line", data).Msg("unknown load stream line")
			return nil
		}
		switch ev.Type {
		case types.LoadEventProgress:
			c.log.WithLevel(lvl).Str("model", path).Float64("progress", ev.Progress).Msg("load progress")
			if progress == nil {
				return nil
			}
			select {
			case progress <- ev.Progress:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		case types.LoadEventLoaded:
			loaded = ev.Model
			return errStopStream
		case types.LoadEventError:
			return inference.ErrLoad(path, ev.Error, nil)
		default:
			c.log.Warn().Str("type", ev.Type).Msg("unknown load event")
			return nil
		}
	})
	if err != nil {
		if inference.IsLoad(err) || ctx.Err() != nil {
			return nil, err
		}
		return nil, inference.ErrLoad(path, "read load stream", err)
	}
	if loaded == nil {
		return nil, inference.ErrLoad(path, "load stream ended before the model was ready", nil)
	}
	c.log.WithLevel(lvl).Str("model", path).Str("identifier", loaded.ID).Msg("model loaded")
	return &Model{client: c, info: toInfo(*loaded)}, nil
}

// Model is a handle to a model loaded on the server.
type Model struct {
	client *Client
	info   inference.ModelInfo
}

// Info implements inference.Model.
func (m *Model) Info() inference.ModelInfo { return m.info }

// Complete implements inference.Model. The request is sent when iteration
// starts; each SSE chunk with text yields one fragment.
func (m *Model) Complete(ctx context.Context, prompt string, opts inference.CompletionOptions) iter.Seq2[inference.Fragment, error] {
	return inference.Once(func(yield func(inference.Fragment, error) bool) {
		if err := m.complete(ctx, prompt, opts, yield); err != nil {
			yield(inference.Fragment{}, err)
		}
	})
}

// errYieldStopped marks that the consumer stopped iterating early.
var errYieldStopped = errors.New("consumer stopped")

func (m *Model) complete(ctx context.Context, prompt string, opts inference.CompletionOptions, yield func(inference.Fragment, error) bool) error {
	c := m.client
	body := types.CompletionRequest{
		Model:       m.info.Identifier,
		Prompt:      prompt,
		Temperature: opts.Temperature,
		Stream:      true,
	}
	resp, err := c.do(ctx, http.MethodPost, pathCompletions, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return inference.ErrCompletion("model not loaded", inference.ErrNotFound(m.info.Identifier))
	}
	if resp.StatusCode/100 != 2 {
		return inference.ErrCompletion(statusMessage(resp), nil)
	}

	err = readEvents(resp.Body, func(data string) error {
		if data == types.StreamDone {
			return errStopStream
		}
		var chunk types.CompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.log.Warn().Str("line", data).Msg("unknown completion stream line")
			return nil
		}
		if chunk.Error != nil {
			return inference.ErrCompletion(chunk.Error.Error, nil)
		}
		if len(chunk.Choices) == 0 || chunk.Choices[0].Text == "" {
			return nil
		}
		if !yield(inference.Fragment{Text: chunk.Choices[0].Text}, nil) {
			return errYieldStopped
		}
		return nil
	})
	switch {
	case err == nil, err == errYieldStopped:
		return nil
	case inference.IsCompletion(err):
		return err
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return inference.ErrCompletion("read stream", err)
	}
}

// do sends a JSON request. Transport failures become connection errors.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json, text/event-stream")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, inference.ErrConnection("cannot reach inference server at "+c.baseURL, err)
	}
	return resp, nil
}

// statusMessage summarizes a non-2xx response, preferring the server's error text.
func statusMessage(resp *http.Response) string {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e types.ErrorResponse
	if json.Unmarshal(b, &e) == nil && e.Error != "" {
		return resp.Status + ": " + e.Error
	}
	if s := strings.TrimSpace(string(b)); s != "" {
		return resp.Status + ": " + s
	}
	return resp.Status
}

func toInfo(m types.Model) inference.ModelInfo {
	path := m.Path
	if path == "" {
		path = m.ID
	}
	return inference.ModelInfo{Identifier: m.ID, Path: path}
}
