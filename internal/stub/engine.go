// Package stub is an in-memory inference engine that behaves like a local
// LM Studio server: it keeps a catalog of artifacts, loads them with
// simulated progress, and streams canned completions.
package stub

import (
	"context"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"complete/pkg/types"
)

// Defaults applied when corresponding Config fields are unset.
const (
	defaultLoadSteps = 4
	defaultResponse  = " and that is where the story begins."
)

// Config encapsulates all tunables for Engine construction.
type Config struct {
	// Catalog lists artifact paths (publisher/repo/file.gguf).
	Catalog []string
	// Preloaded lists path prefixes loaded at start.
	Preloaded []string
	// LoadSteps is the number of progress intervals reported per load.
	LoadSteps     int
	LoadStepDelay time.Duration
	// FailLoads maps a path prefix to a reason; matching loads fail after
	// reporting the first progress event.
	FailLoads map[string]string
	// Responses maps a prompt to its completion; other prompts get DefaultResponse.
	Responses       map[string]string
	DefaultResponse string
	FragmentDelay   time.Duration
}

type instance struct {
	id        string
	path      string
	keepAlive bool
	loadedAt  time.Time
}

// Engine is safe for concurrent use.
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	catalog []string
	loaded  map[string]*instance // by artifact path
	loads   uint64
	unloads uint64
}

// New constructs an Engine, loading Config.Preloaded without progress.
func New(cfg Config) *Engine {
	if cfg.LoadSteps <= 0 {
		cfg.LoadSteps = defaultLoadSteps
	}
	if cfg.DefaultResponse == "" {
		cfg.DefaultResponse = defaultResponse
	}
	catalog := append([]string(nil), cfg.Catalog...)
	sort.Strings(catalog)
	e := &Engine{cfg: cfg, catalog: catalog, loaded: make(map[string]*instance)}
	for _, p := range cfg.Preloaded {
		if art, ok := e.findArtifact(p); ok {
			e.loaded[art] = &instance{id: identifierFor(art), path: art, keepAlive: true, loadedAt: time.Now()}
		}
	}
	return e
}

// Ready reports whether the engine can serve requests.
func (e *Engine) Ready() bool { return true }

// ListModels returns every catalog artifact with its load state.
func (e *Engine) ListModels() []types.Model {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Model, 0, len(e.catalog))
	for _, art := range e.catalog {
		m := types.Model{ID: identifierFor(art), Path: art, Type: "llm", State: types.StateNotLoaded}
		if inst, ok := e.loaded[art]; ok {
			m.ID = inst.id
			m.State = types.StateLoaded
		}
		out = append(out, m)
	}
	return out
}

// Resolve returns the first loaded model whose path starts with prefix.
func (e *Engine) Resolve(prefix string) (types.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, art := range e.catalog {
		inst, ok := e.loaded[art]
		if ok && prefix != "" && strings.HasPrefix(art, prefix) {
			return inst.model(), nil
		}
	}
	return types.Model{}, ErrNotLoaded(prefix)
}

// Load loads the first artifact matching req.Model, reporting progress
// fractions 0..1 through onProgress. Loading an already resident artifact
// still reports progress and returns the existing instance.
func (e *Engine) Load(ctx context.Context, req types.LoadRequest, onProgress func(float64) error) (types.Model, error) {
	e.mu.Lock()
	art, ok := e.findArtifact(req.Model)
	steps, delay := e.cfg.LoadSteps, e.cfg.LoadStepDelay
	failReason, fail := e.failReason(art)
	e.mu.Unlock()
	if !ok {
		return types.Model{}, ErrModelNotFound(req.Model)
	}

	for i := 0; i <= steps; i++ {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return types.Model{}, ctx.Err()
			}
		}
		if err := onProgress(float64(i) / float64(steps)); err != nil {
			return types.Model{}, err
		}
		if fail {
			return types.Model{}, loadFailedError{path: art, reason: failReason}
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.loads++
	inst, ok := e.loaded[art]
	if !ok {
		inst = &instance{id: identifierFor(art), path: art, keepAlive: req.KeepAlive, loadedAt: time.Now()}
		e.loaded[art] = inst
	}
	return inst.model(), nil
}

// Unload removes the instance with the given identifier or path prefix.
func (e *Engine) Unload(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for art, inst := range e.loaded {
		if inst.id == id || (id != "" && strings.HasPrefix(art, id)) {
			delete(e.loaded, art)
			e.unloads++
			return nil
		}
	}
	return ErrNotLoaded(id)
}

// Complete streams the canned continuation of req.Prompt one word at a time.
func (e *Engine) Complete(ctx context.Context, req types.CompletionRequest, onText func(string) error) error {
	e.mu.Lock()
	found := false
	for _, inst := range e.loaded {
		if inst.id == req.Model {
			found = true
			break
		}
	}
	text, ok := e.cfg.Responses[req.Prompt]
	if !ok {
		text = e.cfg.DefaultResponse
	}
	delay := e.cfg.FragmentDelay
	e.mu.Unlock()
	if !found {
		return ErrNotLoaded(req.Model)
	}

	for i, frag := range SplitFragments(text) {
		if i > 0 && delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := onText(frag); err != nil {
			return err
		}
	}
	return nil
}

// Counters returns how many loads and unloads completed.
func (e *Engine) Counters() (loads, unloads uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loads, e.unloads
}

// SplitFragments cuts text into word fragments, each carrying the whitespace
// that precedes it, so that joining them restores text exactly.
func SplitFragments(text string) []string {
	var out []string
	start := 0
	prevSpace := true
	for i, r := range text {
		space := unicode.IsSpace(r)
		if space && !prevSpace && i > start {
			out = append(out, text[start:i])
			start = i
		}
		prevSpace = space
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// findArtifact must be called with e.mu held.
func (e *Engine) findArtifact(prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}
	for _, art := range e.catalog {
		if strings.HasPrefix(art, prefix) {
			return art, true
		}
	}
	return "", false
}

// failReason must be called with e.mu held.
func (e *Engine) failReason(art string) (string, bool) {
	for prefix, reason := range e.cfg.FailLoads {
		if art != "" && strings.HasPrefix(art, prefix) {
			return reason, true
		}
	}
	return "", false
}

func (inst *instance) model() types.Model {
	return types.Model{ID: inst.id, Path: inst.path, Type: "llm", State: types.StateLoaded}
}

// identifierFor derives an instance identifier from an artifact path,
// e.g. pub/repo/Model.Q4_K_M.gguf -> model.q4_k_m.
func identifierFor(art string) string {
	base := path.Base(art)
	base = strings.TrimSuffix(base, path.Ext(base))
	return strings.ToLower(base)
}
