package httpapi

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"complete/internal/stub"
	"complete/pkg/types"
)

const testArtifact = "QuantFactory/Meta-Llama-3-8B-GGUF/Meta-Llama-3-8B.Q4_K_M.gguf"

func newTestMux(cfg stub.Config) (http.Handler, *stub.Engine) {
	if cfg.Catalog == nil {
		cfg.Catalog = []string{testArtifact, "lmstudio-community/gemma-2-2b-it-GGUF/gemma-2-2b-it-Q4_K_M.gguf"}
	}
	eng := stub.New(cfg)
	return NewMux(eng, Options{Logger: zerolog.Nop(), LogLevel: zerolog.Disabled}), eng
}

func postJSON(t *testing.T, h http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// sseData returns the payload of every data: line in body.
func sseData(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	sc := bufio.NewScanner(strings.NewReader(body))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "data: ") {
			out = append(out, strings.TrimPrefix(line, "data: "))
		}
	}
	return out
}

func TestListModels(t *testing.T) {
	h, _ := newTestMux(stub.Config{Preloaded: []string{"QuantFactory/"}})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/models", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content-type=%s", ct)
	}
	var body types.ModelsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(body.Data) != 2 {
		t.Fatalf("models len=%d", len(body.Data))
	}
	loaded := 0
	for _, m := range body.Data {
		if m.State == types.StateLoaded {
			loaded++
			if m.Path != testArtifact {
				t.Fatalf("unexpected loaded model %+v", m)
			}
		}
	}
	if loaded != 1 {
		t.Fatalf("loaded=%d", loaded)
	}
}

func TestResolve(t *testing.T) {
	h, _ := newTestMux(stub.Config{Preloaded: []string{"QuantFactory/"}})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/models/resolve?model=QuantFactory/Meta-Llama-3-8B-GGUF", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	var m types.Model
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("json: %v", err)
	}
	if m.ID != "meta-llama-3-8b.q4_k_m" || m.State != types.StateLoaded {
		t.Fatalf("unexpected model %+v", m)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/models/resolve?model=lmstudio-community/", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("want 404 for resident miss, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v0/models/resolve", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 without model, got %d", w.Code)
	}
}

func TestLoadStreamsProgressThenLoaded(t *testing.T) {
	h, _ := newTestMux(stub.Config{LoadSteps: 4})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: "QuantFactory/Meta-Llama-3-8B-GGUF", Stream: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type=%s", ct)
	}
	events := sseData(t, w.Body.String())
	if len(events) != 6 {
		t.Fatalf("want 5 progress + 1 loaded, got %d: %v", len(events), events)
	}
	var last types.LoadEvent
	for i, d := range events {
		var ev types.LoadEvent
		if err := json.Unmarshal([]byte(d), &ev); err != nil {
			t.Fatalf("event %d: %v", i, err)
		}
		if i < 5 && ev.Type != types.LoadEventProgress {
			t.Fatalf("event %d type=%s", i, ev.Type)
		}
		last = ev
	}
	if last.Type != types.LoadEventLoaded || last.Model == nil || last.Model.Path != testArtifact {
		t.Fatalf("unexpected final event %+v", last)
	}
}

func TestLoadUnknownModelIsJSON404(t *testing.T) {
	h, _ := newTestMux(stub.Config{})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: "nobody/nothing", Stream: true})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
	var e types.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("json: %v", err)
	}
	if e.Code != http.StatusNotFound || !strings.Contains(e.Error, "nobody/nothing") {
		t.Fatalf("unexpected error body %+v", e)
	}
}

func TestLoadFailureAfterProgressIsErrorEvent(t *testing.T) {
	h, _ := newTestMux(stub.Config{FailLoads: map[string]string{"QuantFactory/": "insufficient memory"}})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: "QuantFactory/", Stream: true})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	events := sseData(t, w.Body.String())
	if len(events) != 2 {
		t.Fatalf("want progress + error, got %v", events)
	}
	var ev types.LoadEvent
	if err := json.Unmarshal([]byte(events[1]), &ev); err != nil {
		t.Fatalf("json: %v", err)
	}
	if ev.Type != types.LoadEventError || !strings.Contains(ev.Error, "insufficient memory") {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLoadNonStreaming(t *testing.T) {
	h, _ := newTestMux(stub.Config{})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: "lmstudio-community/"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var ev types.LoadEvent
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("json: %v", err)
	}
	if ev.Type != types.LoadEventLoaded || ev.Model == nil || ev.Model.ID != "gemma-2-2b-it-q4_k_m" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestLoadValidation(t *testing.T) {
	h, _ := newTestMux(stub.Config{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/models/load", strings.NewReader(`{"model":"x"}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("want 415 without content type, got %d", w.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/models/load", strings.NewReader(`{`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for bad json, got %d", w.Code)
	}

	w = postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: "  "})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for empty model, got %d", w.Code)
	}
}

func TestBodyLimit(t *testing.T) {
	eng := stub.New(stub.Config{Catalog: []string{testArtifact}})
	h := NewMux(eng, Options{Logger: zerolog.Nop(), LogLevel: zerolog.Disabled, MaxBodyBytes: 16})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: testArtifact})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("want 400 for oversized body, got %d", w.Code)
	}
}

func TestCompletionStream(t *testing.T) {
	h, _ := newTestMux(stub.Config{
		Preloaded: []string{"QuantFactory/"},
		Responses: map[string]string{"Once upon a time": " there was a fox"},
	})
	w := postJSON(t, h, "/api/v0/completions", types.CompletionRequest{
		Model: "meta-llama-3-8b.q4_k_m", Prompt: "Once upon a time", Stream: true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	events := sseData(t, w.Body.String())
	if len(events) == 0 || events[len(events)-1] != types.StreamDone {
		t.Fatalf("stream must end with [DONE]: %v", events)
	}
	var text []string
	finished := false
	for _, d := range events[:len(events)-1] {
		var c types.CompletionChunk
		if err := json.Unmarshal([]byte(d), &c); err != nil {
			t.Fatalf("json: %v", err)
		}
		if c.Choices[0].FinishReason != nil {
			finished = true
			continue
		}
		text = append(text, c.Choices[0].Text)
	}
	if strings.Join(text, "|") != " there| was| a| fox" {
		t.Fatalf("fragments=%q", text)
	}
	if !finished {
		t.Fatalf("missing finish chunk")
	}
}

func TestCompletionNonStreaming(t *testing.T) {
	h, _ := newTestMux(stub.Config{Preloaded: []string{"QuantFactory/"}, DefaultResponse: " the end"})
	w := postJSON(t, h, "/api/v0/completions", types.CompletionRequest{Model: "meta-llama-3-8b.q4_k_m", Prompt: "x"})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d", w.Code)
	}
	var resp CompletionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.Text != " the end" {
		t.Fatalf("text=%q", resp.Text)
	}
}

func TestCompletionUnknownModel(t *testing.T) {
	h, _ := newTestMux(stub.Config{})
	w := postJSON(t, h, "/api/v0/completions", types.CompletionRequest{Model: "ghost", Prompt: "x", Stream: true})
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}
}

func TestUnload(t *testing.T) {
	h, eng := newTestMux(stub.Config{Preloaded: []string{"QuantFactory/"}})
	w := postJSON(t, h, "/api/v1/models/unload", UnloadRequest{Model: "meta-llama-3-8b.q4_k_m"})
	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d", w.Code)
	}
	if _, unloads := eng.Counters(); unloads != 1 {
		t.Fatalf("unloads=%d", unloads)
	}
	w = postJSON(t, h, "/api/v1/models/unload", UnloadRequest{Model: "meta-llama-3-8b.q4_k_m"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("second unload status=%d", w.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	h, _ := newTestMux(stub.Config{})
	for path, want := range map[string]string{"/healthz": "ok", "/readyz": "ready"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("%s: status=%d body=%q", path, w.Code, w.Body.String())
		}
	}
}

type notReady struct{ *stub.Engine }

func (notReady) Ready() bool { return false }

func TestReadyzNotReady(t *testing.T) {
	h := NewMux(notReady{stub.New(stub.Config{})}, Options{Logger: zerolog.Nop()})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable || !strings.Contains(w.Body.String(), "loading") {
		t.Fatalf("status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestSecurityAndCORSHeaders(t *testing.T) {
	eng := stub.New(stub.Config{})
	h := NewMux(eng, Options{Logger: zerolog.Nop(), CORS: CORSOptions{Enabled: true}})
	req := httptest.NewRequest(http.MethodGet, "/api/v0/models", nil)
	req.Header.Set("Origin", "http://example.test")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatalf("missing nosniff")
	}
	if w.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS header")
	}
}

type httpErr struct{}

func (httpErr) Error() string   { return "teapot" }
func (httpErr) StatusCode() int { return http.StatusTeapot }

func TestStatusFor(t *testing.T) {
	if got := statusFor(httpErr{}); got != http.StatusTeapot {
		t.Fatalf("got %d", got)
	}
	if got := statusFor(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("got %d", got)
	}
	if got := statusFor(stub.ErrNotLoaded("x")); got != http.StatusNotFound {
		t.Fatalf("got %d", got)
	}
}

func TestBaseContextCancelStopsLoad(t *testing.T) {
	base, cancel := context.WithCancel(context.Background())
	cancel()
	eng := stub.New(stub.Config{Catalog: []string{testArtifact}, LoadStepDelay: time.Second})
	h := NewMux(eng, Options{Logger: zerolog.Nop(), BaseContext: base})
	w := postJSON(t, h, "/api/v1/models/load", types.LoadRequest{Model: testArtifact, Stream: true})
	if loads, _ := eng.Counters(); loads != 0 {
		t.Fatalf("load completed despite canceled base context")
	}
	if strings.Contains(w.Body.String(), `"type":"loaded"`) {
		t.Fatalf("unexpected loaded event: %s", w.Body.String())
	}
}
