// Package types holds the wire payloads of the LM Studio style HTTP API
// spoken by the lmstudio client and served by the stub server.
package types

// Model states reported by GET /api/v0/models.
const (
	StateLoaded    = "loaded"
	StateNotLoaded = "not-loaded"
)

// Load event types streamed by POST /api/v1/models/load.
const (
	LoadEventProgress = "progress"
	LoadEventLoaded   = "loaded"
	LoadEventError    = "error"
)

// StreamDone terminates a completion event stream.
const StreamDone = "[DONE]"

// Model describes one model known to the server.
type Model struct {
	// Instance identifier; for loaded models it may carry a variant suffix.
	// example: meta-llama-3-8b
	ID string `json:"id" example:"meta-llama-3-8b"`
	// Artifact path in publisher/repo/file form.
	// example: QuantFactory/Meta-Llama-3-8B-GGUF/Meta-Llama-3-8B.Q4_K_M.gguf
	Path string `json:"path" example:"QuantFactory/Meta-Llama-3-8B-GGUF/Meta-Llama-3-8B.Q4_K_M.gguf"`
	// Model kind (llm, embeddings).
	// example: llm
	Type string `json:"type,omitempty" example:"llm"`
	// Either loaded or not-loaded.
	// example: loaded
	State string `json:"state" example:"loaded"`
}

// ModelsResponse wraps the list returned by GET /api/v0/models.
type ModelsResponse struct {
	Data []Model `json:"data"`
}

// LoadRequest is the body of POST /api/v1/models/load.
type LoadRequest struct {
	// Nominal artifact path; the first artifact with this prefix is loaded.
	// example: QuantFactory/Meta-Llama-3-8B-GGUF
	Model string `json:"model" example:"QuantFactory/Meta-Llama-3-8B-GGUF"`
	// GPU offload policy; "max" offloads as many layers as fit.
	// example: max
	GPUOffload string `json:"gpu_offload,omitempty" example:"max"`
	// Name of the parameter preset applied at load time.
	// example: LM Studio Blank Preset
	Preset string `json:"preset,omitempty" example:"LM Studio Blank Preset"`
	// Ask the server to log load details.
	Verbose bool `json:"verbose,omitempty"`
	// Keep the model resident after the requesting client disconnects.
	// example: true
	KeepAlive bool `json:"keep_alive" example:"true"`
	// Stream progress events as Server-Sent Events.
	// example: true
	Stream bool `json:"stream" example:"true"`
}

// LoadEvent is one Server-Sent Event of a streaming load.
type LoadEvent struct {
	// progress, loaded, or error.
	// example: progress
	Type string `json:"type" example:"progress"`
	// Fraction in [0,1]; set on progress events.
	// example: 0.42
	Progress float64 `json:"progress,omitempty" example:"0.42"`
	// The loaded instance; set on loaded events.
	Model *Model `json:"model,omitempty"`
	// Failure reason; set on error events.
	Error string `json:"error,omitempty"`
}

// CompletionRequest is the body of POST /api/v0/completions.
type CompletionRequest struct {
	// Loaded instance identifier.
	// example: meta-llama-3-8b
	Model string `json:"model" example:"meta-llama-3-8b"`
	// Text to continue.
	// example: Once upon a time
	Prompt string `json:"prompt" example:"Once upon a time"`
	// Sampling temperature; 0 selects greedy decoding and is always sent.
	// example: 0
	Temperature float64 `json:"temperature" example:"0"`
	// Stream the completion as Server-Sent Events.
	// example: true
	Stream bool `json:"stream" example:"true"`
}

// CompletionChoice is one choice of a streamed completion chunk.
type CompletionChoice struct {
	Index        int     `json:"index"`
	Text         string  `json:"text"`
	FinishReason *string `json:"finish_reason"`
}

// CompletionChunk is one Server-Sent Event of a streaming completion.
type CompletionChunk struct {
	Object  string             `json:"object,omitempty"`
	Choices []CompletionChoice `json:"choices"`
	Error   *ErrorResponse     `json:"error,omitempty"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: model not loaded
	Error string `json:"error" example:"model not loaded"`
	// HTTP status code.
	// example: 404
	Code int `json:"code" example:"404"`
}
