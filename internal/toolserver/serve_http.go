package toolserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Muvon/octomind-sub000/internal/tool"
	"github.com/Muvon/octomind-sub000/pkg/types"
)

// NewHTTPHandler serves srv over the envelope protocol: POST a call
// envelope, receive a result envelope.
func NewHTTPHandler(srv *tool.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/", func(w http.ResponseWriter, req *http.Request) {
		var env types.CallEnvelope
		if err := json.NewDecoder(req.Body).Decode(&env); err != nil {
			http.Error(w, "invalid call envelope: "+err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(answer(req.Context(), srv, env))
	})
	return r
}
