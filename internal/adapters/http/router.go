package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cxdexx/codex-passport/internal/application"
)

// ReadyFunc reports whether the gateway's backing stores are reachable.
type ReadyFunc func(ctx context.Context) error

// Handler is the HTTP adapter entrypoint for gateway use-cases.
// Keeping only the application dependency here preserves clean adapter boundaries.
type Handler struct {
	service   *application.Service
	ready     ReadyFunc
	wsOrigins []string
}

// NewHandler constructs an HTTP handler bound to the application service.
// ready may be nil, in which case readyz always succeeds. wsOrigins widens
// the WebSocket origin check beyond same-host.
func NewHandler(service *application.Service, ready ReadyFunc, wsOrigins []string) *Handler {
	return &Handler{service: service, ready: ready, wsOrigins: wsOrigins}
}

// NewRouter registers the gateway HTTP routes and middleware stack.
// Centralizing routes here keeps admission and error behavior consistent
// across endpoints.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/generate", handler.generate)
		r.Get("/generate/ws", handler.generateWS)
		r.Get("/passports/{passportId}", handler.getPassport)
		r.Get("/passports/{passportId}/usage", handler.listPassportUsage)
	})

	return r
}
