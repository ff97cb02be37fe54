package inference

import (
	"context"
	"iter"
)

// GPUOffloadMax requests that the backend place as many layers on the GPU as it can.
const GPUOffloadMax = "max"

// ModelInfo is a minimal view of a loaded model as reported by the backend.
type ModelInfo struct {
	// Identifier is the backend's handle for the instance (may carry a suffix).
	Identifier string
	// Path is the artifact path, usually publisher/repo[/file].
	Path string
}

// LoadOptions controls how a model is loaded.
type LoadOptions struct {
	GPUOffload string
	Preset     string
	Verbose    bool
	// KeepAliveAfterExit asks the backend to keep the model resident after
	// this process exits.
	KeepAliveAfterExit bool
}

// CompletionOptions carries sampling parameters for one completion.
type CompletionOptions struct {
	Temperature float64
}

// Fragment is an incremental chunk of generated text.
type Fragment struct {
	Text string
}

// Client is the capability surface a backend must provide.
type Client interface {
	// ListLoaded returns all models currently resident on the backend.
	ListLoaded(ctx context.Context) ([]ModelInfo, error)
	// Load loads the model identified by path. Progress fractions in [0,1] are
	// sent on progress (which may be nil); the caller owns and closes it.
	Load(ctx context.Context, path string, opts LoadOptions, progress chan<- float64) (Model, error)
	// Get attaches to an already loaded model. It fails with a NotFoundError
	// when no loaded model matches.
	Get(ctx context.Context, path string) (Model, error)
}

// Model is a borrowed handle to a loaded model instance.
type Model interface {
	Info() ModelInfo
	// Complete returns a lazy, finite, non-restartable fragment sequence.
	// Work starts on first iteration. A second iteration yields an error.
	Complete(ctx context.Context, prompt string, opts CompletionOptions) iter.Seq2[Fragment, error]
}
