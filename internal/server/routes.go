package server

import (
	"github.com/go-chi/chi/v5"
)

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	r := s.router

	r.Get("/health", s.health)

	r.Route("/session", func(r chi.Router) {
		r.Get("/", s.listSessions)

		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.getSession)
			r.Patch("/", s.updateSession)
			r.Delete("/", s.deleteSession)

			r.Get("/message", s.getMessages)
			r.Post("/message", s.sendMessage)
			r.Get("/context", s.getContext)

			r.Post("/abort", s.abortSession)
			r.Post("/reduce", s.reduceSession)
			r.Post("/done", s.finalizeSession)
		})
	})

	r.Route("/server", func(r chi.Router) {
		r.Get("/", s.listServers)
		r.Post("/{name}/restart", s.restartServer)
	})

	r.Get("/model", s.listModels)

	// Event streaming (SSE)
	r.Get("/event", s.allEvents)
}
