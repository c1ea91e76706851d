package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// SSEWriter writes Server-Sent Events frames. Creation commits the response
// headers and the 200 status; every data frame is flushed immediately so
// clients see chunks as they are produced.
type SSEWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

// NewSSEWriter prepares w for an SSE response. It fails when the underlying
// writer cannot flush, in which case nothing has been committed and the
// caller can still send a regular JSON error.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rc := http.NewResponseController(w)
	if err := rc.Flush(); err != nil {
		return nil, fmt.Errorf("response writer does not support streaming: %w", err)
	}

	return &SSEWriter{w: w, rc: rc}, nil
}

// WriteEvent writes an event name line. The next WriteData completes the
// frame.
func (s *SSEWriter) WriteEvent(name string) error {
	if _, err := fmt.Fprintf(s.w, "event: %s\n", name); err != nil {
		return fmt.Errorf("writing event field: %w", err)
	}
	return nil
}

// WriteData marshals v and writes it as a data frame.
func (s *SSEWriter) WriteData(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding event data: %w", err)
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("writing data field: %w", err)
	}
	return s.rc.Flush()
}

// WriteRaw writes s verbatim as a data frame, for protocol markers that are
// not JSON.
func (s *SSEWriter) WriteRaw(raw string) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", raw); err != nil {
		return fmt.Errorf("writing data field: %w", err)
	}
	return s.rc.Flush()
}

// WriteComment writes an SSE comment frame, used as a heartbeat to keep
// idle connections from being reaped by intermediaries.
func (s *SSEWriter) WriteComment(comment string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", comment); err != nil {
		return fmt.Errorf("writing comment: %w", err)
	}
	return s.rc.Flush()
}
