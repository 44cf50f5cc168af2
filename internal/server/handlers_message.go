package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Muvon/octomind-sub000/internal/memory"
	"github.com/Muvon/octomind-sub000/internal/session"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// SendMessageRequest represents the request to run a turn.
type SendMessageRequest struct {
	Content string `json:"content"`
	// Async runs the turn in the background; progress is visible on /event.
	Async bool `json:"async,omitempty"`
}

// LayerSummary describes one executed layer.
type LayerSummary struct {
	Name   string      `json:"name"`
	Model  string      `json:"model"`
	Rounds int         `json:"rounds"`
	Usage  types.Usage `json:"usage"`
}

// TurnResponse is the outcome of a turn, reduce or finalize.
type TurnResponse struct {
	Output     string         `json:"output"`
	Usage      types.Usage    `json:"usage"`
	Pairs      int            `json:"pairs"`
	Dropped    int            `json:"dropped,omitempty"`
	RolledBack bool           `json:"rolled_back,omitempty"`
	Archive    string         `json:"archive,omitempty"`
	Layers     []LayerSummary `json:"layers"`
	Session    SessionSummary `json:"session"`
}

// FinalizeResponse is the outcome of POST /session/{name}/done.
type FinalizeResponse struct {
	TurnResponse
	Summary string        `json:"summary"`
	Facts   []memory.Fact `json:"facts"`
}

func (s *Server) turnResponse(res *session.TurnResult) TurnResponse {
	out := TurnResponse{
		Output:     res.Output,
		Usage:      res.Usage,
		Pairs:      res.Pairs,
		Dropped:    res.Dropped,
		RolledBack: res.RolledBack,
		Archive:    res.Archive,
		Layers:     make([]LayerSummary, 0, len(res.Layers)),
	}
	for _, l := range res.Layers {
		out.Layers = append(out.Layers, LayerSummary{Name: l.Name, Model: l.Model, Rounds: l.Rounds, Usage: l.Usage})
	}
	if res.View != nil {
		out.Session = s.summarize(res.View)
	}
	return out
}

// failureDetails carries what a failed turn left behind.
func failureDetails(res *session.TurnResult) map[string]any {
	if res == nil {
		return nil
	}
	return map[string]any{
		"rolled_back": res.RolledBack,
		"pairs":       res.Pairs,
		"usage":       res.Usage,
	}
}

// sendMessage handles POST /session/{name}/message
func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "content is required")
		return
	}

	if req.Async {
		if err := session.ValidateName(name); err != nil {
			writeEngineError(w, err, nil)
			return
		}
		s.wg.Add(1)
		err := s.opts.Manager.Start(s.ctx, name, req.Content, func(_ *session.TurnResult, err error) {
			defer s.wg.Done()
			if err != nil {
				s.log.Warn().Err(err).Str("session", name).Msg("Background turn failed")
			}
		})
		if err != nil {
			s.wg.Done()
			writeEngineError(w, err, nil)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"session": name, "accepted": true})
		return
	}

	res, err := s.opts.Manager.Turn(r.Context(), name, req.Content)
	if err != nil {
		writeEngineError(w, err, failureDetails(res))
		return
	}
	writeJSON(w, http.StatusOK, s.turnResponse(res))
}

// reduceSession handles POST /session/{name}/reduce
func (s *Server) reduceSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Manager.Reduce(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeEngineError(w, err, failureDetails(res))
		return
	}
	writeJSON(w, http.StatusOK, s.turnResponse(res))
}

// finalizeSession handles POST /session/{name}/done
func (s *Server) finalizeSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.opts.Manager.Finalize(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		var details map[string]any
		if res != nil {
			details = failureDetails(res.TurnResult)
		}
		writeEngineError(w, err, details)
		return
	}
	facts := res.Facts
	if facts == nil {
		facts = []memory.Fact{}
	}
	writeJSON(w, http.StatusOK, FinalizeResponse{
		TurnResponse: s.turnResponse(res.TurnResult),
		Summary:      res.Summary,
		Facts:        facts,
	})
}
