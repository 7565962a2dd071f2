package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/handler/auth"
	"github.com/zhouzirui/z-chat/internal/handler/chat"
	"github.com/zhouzirui/z-chat/internal/handler/push"
	"github.com/zhouzirui/z-chat/internal/handler/status"
	middlewarePkg "github.com/zhouzirui/z-chat/internal/middleware"
	"github.com/zhouzirui/z-chat/internal/protocol"
	authService "github.com/zhouzirui/z-chat/internal/service/auth"
	chatService "github.com/zhouzirui/z-chat/internal/service/chat"
)

// Deps are the services the router exposes.
type Deps struct {
	Auth    *authService.Service
	Chat    *chatService.Service
	Push    *push.Handler
	Limiter *middlewarePkg.RateLimiter
	Status  *status.Handler
}

// NewRouter wires HTTP routes to core services.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.Logger.With().Str("component", "handler").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	if d.Status != nil {
		d.Status.RegisterRoutes(r)
	}

	// Logging out also drops the session's push connection.
	onLogout := func(token string) {
		if d.Push != nil {
			d.Push.Registry().Revoke(token, protocol.ErrCodeUnauthorized, "session logged out")
		}
	}
	authHandler := auth.New(d.Auth, onLogout)
	chatHandler := chat.New(d.Chat, d.Limiter)

	r.Route("/api", func(api chi.Router) {
		authHandler.RegisterRoutes(api)

		// The push endpoint answers 401 itself before upgrading.
		if d.Push != nil {
			d.Push.RegisterRoutes(api)
		}

		api.Group(func(authed chi.Router) {
			authed.Use(middlewarePkg.Auth(d.Auth))
			chatHandler.RegisterRoutes(authed)
		})
	})

	return r
}
