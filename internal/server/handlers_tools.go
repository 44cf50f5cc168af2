package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Muvon/octomind-sub000/internal/provider"
	"github.com/Muvon/octomind-sub000/internal/toolserver"
)

// listServers handles GET /server
func (s *Server) listServers(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "no tool servers configured")
		return
	}
	health := s.opts.Tools.Health()
	if health == nil {
		health = []toolserver.Health{}
	}
	writeJSON(w, http.StatusOK, health)
}

// restartServer handles POST /server/{name}/restart
func (s *Server) restartServer(w http.ResponseWriter, r *http.Request) {
	if s.opts.Tools == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "no tool servers configured")
		return
	}
	name := chi.URLParam(r, "name")
	if err := s.opts.Tools.Restart(r.Context(), name); err != nil {
		writeEngineError(w, err, nil)
		return
	}
	h, _ := s.opts.Tools.Get(name)
	writeJSON(w, http.StatusOK, h.Health())
}

// listModels handles GET /model
func (s *Server) listModels(w http.ResponseWriter, r *http.Request) {
	if s.opts.Models == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeInternalError, "no model table configured")
		return
	}
	models := s.opts.Models.List()
	if models == nil {
		models = []provider.ModelInfo{}
	}
	writeJSON(w, http.StatusOK, models)
}
