package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"complete/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	ListModels() []types.Model
	Resolve(prefix string) (types.Model, error)
	Load(ctx context.Context, req types.LoadRequest, onProgress func(float64) error) (types.Model, error)
	Unload(id string) error
	Complete(ctx context.Context, req types.CompletionRequest, onText func(string) error) error
	Ready() bool
}

// UnloadRequest is the body of POST /api/v1/models/unload.
type UnloadRequest struct {
	// Instance identifier or artifact path prefix.
	// example: meta-llama-3-8b
	Model string `json:"model" example:"meta-llama-3-8b"`
}

// CompletionResponse is returned by non-streaming completions.
type CompletionResponse struct {
	Model string `json:"model" example:"meta-llama-3-8b"`
	Text  string `json:"text" example:" and that is where the story begins."`
}

// NewMux builds the router serving the LM Studio style API over svc.
func NewMux(svc Service, opts Options) http.Handler {
	h := &handlers{svc: svc, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	// text/event-stream is not in the default compressible set, so streams stay unbuffered.
	r.Use(middleware.Compress(5))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if opts.CORS.Enabled {
		r.Use(cors.Handler(corsOptions(opts.CORS)))
	}
	r.Use(instrument(opts))

	r.Route("/api/v0", func(r chi.Router) {
		r.Get("/models", h.listModels)
		r.Get("/models/resolve", h.resolve)
		r.Post("/completions", h.complete)
	})
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/models/load", h.load)
		r.Post("/models/unload", h.unload)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("loading"))
	})
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

func corsOptions(c CORSOptions) cors.Options {
	o := cors.Options{
		AllowedOrigins: c.AllowedOrigins,
		AllowedMethods: c.AllowedMethods,
		AllowedHeaders: c.AllowedHeaders,
		MaxAge:         300,
	}
	if len(o.AllowedOrigins) == 0 {
		o.AllowedOrigins = []string{"*"}
	}
	if len(o.AllowedMethods) == 0 {
		o.AllowedMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	}
	if len(o.AllowedHeaders) == 0 {
		o.AllowedHeaders = []string{"Content-Type", "X-Log-Level"}
	}
	return o
}

type handlers struct {
	svc  Service
	opts Options
}

// listModels godoc
// @Summary      List models
// @Description  Every known artifact with its load state.
// @Tags         models
// @Produce      json
// @Success      200 {object} types.ModelsResponse
// @Router       /api/v0/models [get]
func (h *handlers) listModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, types.ModelsResponse{Data: h.svc.ListModels()})
}

// resolve godoc
// @Summary      Resolve a loaded model
// @Description  Returns the first loaded model whose path starts with the given prefix.
// @Tags         models
// @Produce      json
// @Param        model query string true "Path prefix"
// @Success      200 {object} types.Model
// @Failure      404 {object} types.ErrorResponse
// @Router       /api/v0/models/resolve [get]
func (h *handlers) resolve(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("model")
	if strings.TrimSpace(prefix) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	m, err := h.svc.Resolve(prefix)
	if err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, m)
}

// load godoc
// @Summary      Load a model
// @Description  Loads the first artifact matching the path prefix. With stream=true,
// @Description  progress, loaded and error events are sent as Server-Sent Events.
// @Tags         models
// @Accept       json
// @Produce      json,text/event-stream
// @Param        request body types.LoadRequest true "Load request"
// @Success      200 {object} types.LoadEvent
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Failure      500 {object} types.ErrorResponse
// @Router       /api/v1/models/load [post]
func (h *handlers) load(w http.ResponseWriter, r *http.Request) {
	var req types.LoadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	log := h.logger(r)
	ctx, cancel := joinContexts(h.opts.baseContext(), r.Context())
	defer cancel()

	if !req.Stream {
		m, err := h.svc.Load(ctx, req, func(float64) error { return nil })
		if err != nil {
			modelLoadsTotal.WithLabelValues("error").Inc()
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		modelLoadsTotal.WithLabelValues("ok").Inc()
		writeJSON(w, types.LoadEvent{Type: types.LoadEventLoaded, Model: &m})
		return
	}

	es := newEventStream(w)
	m, err := h.svc.Load(ctx, req, func(p float64) error {
		log.Debug().Str("model", req.Model).Float64("progress", p).Msg("load progress")
		return es.send(types.LoadEvent{Type: types.LoadEventProgress, Progress: p})
	})
	if err != nil {
		modelLoadsTotal.WithLabelValues("error").Inc()
		if ctx.Err() != nil {
			return
		}
		if !es.started {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		log.Info().Err(err).Str("model", req.Model).Msg("load failed")
		_ = es.send(types.LoadEvent{Type: types.LoadEventError, Error: err.Error()})
		return
	}
	modelLoadsTotal.WithLabelValues("ok").Inc()
	log.Info().Str("model", req.Model).Str("identifier", m.ID).Msg("model loaded")
	_ = es.send(types.LoadEvent{Type: types.LoadEventLoaded, Model: &m})
}

// unload godoc
// @Summary      Unload a model
// @Tags         models
// @Accept       json
// @Param        request body UnloadRequest true "Unload request"
// @Success      204
// @Failure      404 {object} types.ErrorResponse
// @Router       /api/v1/models/unload [post]
func (h *handlers) unload(w http.ResponseWriter, r *http.Request) {
	var req UnloadRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.svc.Unload(req.Model); err != nil {
		writeJSONError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// complete godoc
// @Summary      Text completion
// @Description  Continues the prompt. With stream=true each fragment is one
// @Description  Server-Sent Event and the stream ends with [DONE].
// @Tags         completions
// @Accept       json
// @Produce      json,text/event-stream
// @Param        request body types.CompletionRequest true "Completion request"
// @Success      200 {object} CompletionResponse
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Router       /api/v0/completions [post]
func (h *handlers) complete(w http.ResponseWriter, r *http.Request) {
	var req types.CompletionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	log := h.logger(r)
	log.Debug().Str("model", req.Model).Str("prompt", req.Prompt).Float64("temperature", req.Temperature).Msg("completion start")
	ctx, cancel := joinContexts(h.opts.baseContext(), r.Context())
	defer cancel()

	if !req.Stream {
		var sb strings.Builder
		err := h.svc.Complete(ctx, req, func(s string) error {
			fragmentsTotal.Inc()
			sb.WriteString(s)
			return nil
		})
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, CompletionResponse{Model: req.Model, Text: sb.String()})
		return
	}

	es := newEventStream(w)
	err := h.svc.Complete(ctx, req, func(s string) error {
		fragmentsTotal.Inc()
		log.Debug().Str("text", s).Msg("fragment")
		return es.send(types.CompletionChunk{
			Object:  "text_completion",
			Choices: []types.CompletionChoice{{Text: s}},
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if !es.started {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		_ = es.send(types.CompletionChunk{Error: &types.ErrorResponse{Error: err.Error(), Code: statusFor(err)}})
		return
	}
	stop := "stop"
	_ = es.send(types.CompletionChunk{
		Object:  "text_completion",
		Choices: []types.CompletionChoice{{Text: "", FinishReason: &stop}},
	})
	_ = es.done()
}

// decode enforces a JSON content type and a bounded body.
func (h *handlers) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.maxBody())
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// logger returns the request-scoped logger at the request's level.
func (h *handlers) logger(r *http.Request) zerolog.Logger {
	l := h.opts.Logger.Level(requestLogLevel(r, h.opts.LogLevel))
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		l = l.With().Str("request_id", rid).Logger()
	}
	return l
}
