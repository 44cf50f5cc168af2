package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Muvon/octomind-sub000/internal/event"
)

// StreamEvent is the payload of every SSE message.
type StreamEvent struct {
	Type       event.EventType `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

const (
	// SSEHeartbeatInterval is the interval for SSE heartbeats.
	SSEHeartbeatInterval = 30 * time.Second
)

// sseWriter wraps http.ResponseWriter for SSE.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
}

// newSSEWriter creates a new SSE writer.
func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	rc := http.NewResponseController(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}
	return &sseWriter{w: w, flusher: flusher, rc: rc}, nil
}

// writeEvent writes one SSE message and flushes it.
func (s *sseWriter) writeEvent(eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", eventType, jsonData); err != nil {
		return err
	}
	// ResponseController sees through middleware wrappers.
	if flushErr := s.rc.Flush(); flushErr != nil {
		s.flusher.Flush()
	}
	return nil
}

// writeHeartbeat writes an SSE heartbeat comment.
func (s *sseWriter) writeHeartbeat() {
	fmt.Fprintf(s.w, ": heartbeat\n\n")
	s.flusher.Flush()
}

// allEvents handles GET /event. With ?session=<name> only events of that
// session and global events are sent.
func (srv *Server) allEvents(w http.ResponseWriter, r *http.Request) {
	if srv.opts.Bus == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "event stream not available")
		return
	}
	filter := r.URL.Query().Get("session")

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	events, err := srv.opts.Bus.Stream(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	sse.flusher.Flush()

	if err := sse.writeEvent("message", StreamEvent{Type: "server.connected", Properties: json.RawMessage("{}")}); err != nil {
		return
	}

	ticker := time.NewTicker(SSEHeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if filter != "" && !belongsTo(env, filter) {
				continue
			}
			if err := sse.writeEvent("message", StreamEvent{Type: env.Type, Properties: env.Data}); err != nil {
				return
			}
		case <-ticker.C:
			sse.writeHeartbeat()
		}
	}
}

// belongsTo reports whether env concerns the named session. Events that
// name no session, such as server health, belong to every session.
func belongsTo(env event.Envelope, name string) bool {
	var ref struct {
		Session string `json:"session"`
		Name    string `json:"name"`
	}
	if err := json.Unmarshal(env.Data, &ref); err != nil {
		return false
	}
	switch {
	case ref.Session != "":
		return ref.Session == name
	case ref.Name != "":
		return ref.Name == name
	}
	return true
}
