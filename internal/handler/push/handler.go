// Package push serves the push endpoint: an authenticated websocket over
// which the server delivers the caller's private message topic.
package push

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-chat/internal/config"
	"github.com/zhouzirui/z-chat/internal/logging"
	"github.com/zhouzirui/z-chat/internal/middleware"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/internal/protocol"
	"github.com/zhouzirui/z-chat/pkg/utils"
)

// Subscriber streams a user's private topic until ctx ends.
type Subscriber interface {
	Subscribe(ctx context.Context, userID chat.ID) (<-chan chat.Message, error)
}

// Handler upgrades push connections.
type Handler struct {
	auth     middleware.Authenticator
	broker   Subscriber
	cfg      config.PushConfig
	registry *Registry
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// New creates the push handler.
func New(auth middleware.Authenticator, broker Subscriber, cfg config.PushConfig) *Handler {
	return &Handler{
		auth:     auth,
		broker:   broker,
		cfg:      cfg,
		registry: NewRegistry(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: logging.Component("push"),
	}
}

// RegisterRoutes mounts the websocket endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws", h.handleWebSocket)
}

// Registry exposes the live connections.
func (h *Handler) Registry() *Registry { return h.registry }

// Close drops every push connection.
func (h *Handler) Close() { h.registry.CloseAll() }

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFromRequest(r)
	sess, err := h.auth.Authenticate(r.Context(), token)
	if err != nil {
		utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		h.log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	id := uuid.NewString()
	logger := h.log.With().Str("user", sess.User.Username).Str("session_id", id).Logger()
	c := newClient(conn, sess, id, h.cfg, h.broker, logger)

	if old := h.registry.add(sess.Token, c); old != nil {
		logger.Info().Msg("replacing older push connection for the same session")
		old.closeWithError(protocol.ErrCodeReplaced, "a newer push connection replaced this one")
	}
	defer h.registry.remove(sess.Token, c)

	go c.writePump()
	c.enqueueFrame(protocol.TypeConnected, protocol.ConnectedFrame{UserID: sess.User.ID.String(), SessionID: id})
	logger.Info().Msg("push connection opened")

	c.readPump()
	logger.Info().Msg("push connection closed")
}
