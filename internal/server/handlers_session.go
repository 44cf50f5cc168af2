package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Muvon/octomind-sub000/internal/session"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// SessionSummary is a session without its history.
type SessionSummary struct {
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Model       string      `json:"model"`
	Messages    int         `json:"messages"`
	Tokens      int         `json:"tokens"`
	Checkpoints []int       `json:"checkpoints,omitempty"`
	Usage       types.Usage `json:"usage"`
	Busy        bool        `json:"busy"`
	Created     int64       `json:"created"`
	Updated     int64       `json:"updated"`
}

// UpdateSessionRequest switches the model or role of a session.
type UpdateSessionRequest struct {
	Model string `json:"model,omitempty"`
	Role  string `json:"role,omitempty"`
}

// ContextResponse describes what the next request will carry.
type ContextResponse struct {
	Name          string `json:"name"`
	Model         string `json:"model"`
	Tokens        int    `json:"tokens"`
	MessageTokens []int  `json:"message_tokens"`
	Checkpoints   []int  `json:"checkpoints"`
}

func (s *Server) summarize(v *session.View) SessionSummary {
	return SessionSummary{
		Name:        v.Name,
		Role:        v.Role,
		Model:       v.Model,
		Messages:    len(v.Messages),
		Tokens:      v.Tokens,
		Checkpoints: v.Checkpoints,
		Usage:       v.Usage,
		Busy:        s.opts.Manager.Busy(v.Name),
		Created:     v.Created,
		Updated:     v.Updated,
	}
}

// health handles GET /health
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// listSessions handles GET /session
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	names, err := s.opts.Manager.List(r.Context())
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}

	// Ensure we return an empty array [] instead of null
	out := make([]SessionSummary, 0, len(names))
	for _, name := range names {
		v, err := s.opts.Manager.Snapshot(r.Context(), name)
		if err != nil {
			s.log.Warn().Err(err).Str("session", name).Msg("Skipping unreadable session")
			continue
		}
		out = append(out, s.summarize(v))
	}
	writeJSON(w, http.StatusOK, out)
}

// getSession handles GET /session/{name}
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.opts.Manager.Snapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, s.summarize(v))
}

// getMessages handles GET /session/{name}/message
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	v, err := s.opts.Manager.Snapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	msgs := v.Messages
	if msgs == nil {
		msgs = []*types.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// getContext handles GET /session/{name}/context
func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	v, err := s.opts.Manager.Snapshot(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err, nil)
		return
	}
	resp := ContextResponse{
		Name:          v.Name,
		Model:         v.Model,
		Tokens:        v.Tokens,
		MessageTokens: make([]int, len(v.Messages)),
		Checkpoints:   v.Checkpoints,
	}
	if resp.Checkpoints == nil {
		resp.Checkpoints = []int{}
	}
	for i, m := range v.Messages {
		resp.MessageTokens[i] = session.EstimateTokens(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// updateSession handles PATCH /session/{name}
func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req UpdateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if req.Model == "" && req.Role == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "model or role is required")
		return
	}

	if req.Role != "" {
		if _, ok := s.opts.Manager.Config().Roles[req.Role]; !ok {
			writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, fmt.Sprintf("unknown role %q", req.Role))
			return
		}
		if err := s.opts.Manager.SetRole(r.Context(), name, req.Role); err != nil {
			writeEngineError(w, err, nil)
			return
		}
	}
	if req.Model != "" {
		if err := s.opts.Manager.SetModel(r.Context(), name, req.Model); err != nil {
			writeEngineError(w, err, nil)
			return
		}
	}
	s.getSession(w, r)
}

// deleteSession handles DELETE /session/{name}
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.opts.Manager.Delete(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	writeSuccess(w)
}

// abortSession handles POST /session/{name}/abort
func (s *Server) abortSession(w http.ResponseWriter, r *http.Request) {
	aborted := s.opts.Manager.Abort(chi.URLParam(r, "name"))
	writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
}
