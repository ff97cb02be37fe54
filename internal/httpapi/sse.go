package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"complete/pkg/types"
)

// eventStream writes Server-Sent Events. Headers are sent lazily on the first
// event so that errors detected before any output can still be plain JSON.
type eventStream struct {
	w       http.ResponseWriter
	flush   func()
	started bool
}

func newEventStream(w http.ResponseWriter) *eventStream {
	s := &eventStream{w: w, flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *eventStream) start() {
	if s.started {
		return
	}
	s.started = true
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	s.w.WriteHeader(http.StatusOK)
}

// send writes v as one data event and flushes it.
func (s *eventStream) send(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.sendRaw(string(b))
}

func (s *eventStream) sendRaw(data string) error {
	s.start()
	if _, err := io.WriteString(s.w, "data: "+data+"\n\n"); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *eventStream) done() error { return s.sendRaw(types.StreamDone) }
