package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. resolve is
// applied to the POST routes that resolve requests and questions.
func MountRoutes(r chi.Router, h *Handlers, resolve ...func(http.Handler) http.Handler) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/tool_calls", h.ListToolCalls)
		r.Get("/tool_calls/{id}", h.GetToolCall)
		r.Get("/chat-history", h.ChatHistory)
		r.Get("/questions", h.ListQuestions)
		r.Get("/tools", h.ListTools)

		r.Group(func(r chi.Router) {
			r.Use(resolve...)
			r.Post("/approve/{id}", h.ApproveToolCall)
			r.Post("/deny/{id}", h.DenyToolCall)
			r.Post("/approve-batch", h.ApproveBatch)
			r.Post("/deny-batch", h.DenyBatch)
			r.Post("/respond", h.Respond)
		})
	})
}
