package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

// NewRouter wires the API routes.
func NewRouter(h *Handler, hub *Hub, limiter *RateLimiter, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(RequestLogger(logger))

	r.Route("/api/v1", func(api chi.Router) {
		api.Get("/health", h.HandleHealth)
		api.Get("/ws", hub.ServeWS)

		api.Post("/messages", h.HandleSend)
		api.Post("/messages/broadcast", h.HandleBroadcast)
		api.With(limiter.Middleware).Post("/push/{topicID}", h.HandlePush)
		api.Get("/topics", h.HandleListTopics)

		api.Get("/entities/{kind}", h.HandleListEntities)
		api.Get("/entities/{kind}/{id}", h.HandleGetEntity)
		api.Delete("/entities/{kind}/{id}", h.HandleDeleteEntity)
	})
	return r
}
