package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/bookwise/bookwise/internal/store"
)

// sseWriter streams data-only server-sent events. Headers go out lazily on
// the first frame, so a handler can still fall back to a plain JSON error as
// long as nothing has been streamed.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	started bool
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// Started reports whether any frame has been sent.
func (s *sseWriter) Started() bool {
	return s.started
}

func (s *sseWriter) start() {
	if s.started {
		return
	}
	h := s.w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no") // disable nginx buffering
	s.w.WriteHeader(http.StatusOK)
	s.started = true
}

// writeFrame marshals payload and sends it as one data frame.
func (s *sseWriter) writeFrame(payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling event payload: %w", err)
	}
	s.start()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	s.flusher.Flush()
	return nil
}

// Chunk sends one increment of answer text.
func (s *sseWriter) Chunk(text string) error {
	return s.writeFrame(map[string]string{"chunk": text})
}

// doneFrame is the terminal event of a successful answer stream.
type doneFrame struct {
	Done          bool             `json:"done"`
	MessageID     string           `json:"message_id"`
	Citations     []store.Citation `json:"citations"`
	SessionToken  string           `json:"session_token,omitempty"`
	Fallback      bool             `json:"fallback,omitempty"`
	QuestionsLeft *int             `json:"questions_remaining,omitempty"`
}

// Done terminates the stream.
func (s *sseWriter) Done(frame doneFrame) error {
	if frame.Citations == nil {
		frame.Citations = []store.Citation{}
	}
	frame.Done = true
	return s.writeFrame(frame)
}

// Error sends an in-stream error frame. Only valid once streaming started;
// before that the handler sends a plain JSON error instead.
func (s *sseWriter) Error(code, message string) error {
	return s.writeFrame(map[string]any{
		"error":   code,
		"message": message,
	})
}
