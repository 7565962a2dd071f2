package chat

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-chat/internal/middleware"
	"github.com/zhouzirui/z-chat/internal/model/chat"
	chatService "github.com/zhouzirui/z-chat/internal/service/chat"
	"github.com/zhouzirui/z-chat/pkg/utils"
)

// Handler 聊天服务的HTTP处理器
type Handler struct {
	chatSvc *chatService.Service
	limiter *middleware.RateLimiter
}

// New 创建聊天处理器。limiter 为 nil 时不限速。
func New(chatSvc *chatService.Service, limiter *middleware.RateLimiter) *Handler {
	return &Handler{chatSvc: chatSvc, limiter: limiter}
}

// RegisterRoutes 注册聊天相关的路由，调用方负责挂上 Auth 中间件。
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/users/@me", h.handleMe)
	r.Post("/channels", h.handleCreateChannel)
	r.Route("/channels/{channelID}", func(r chi.Router) {
		r.Get("/", h.handleChannel)
		r.Post("/members", h.handleAddMember)
		r.Delete("/members/{userID}", h.handleRemoveMember)
		r.Get("/messages", h.handleMessages)
		if h.limiter != nil {
			r.With(h.limiter.Middleware).Post("/messages", h.handlePostMessage)
		} else {
			r.Post("/messages", h.handlePostMessage)
		}
	})
}

func currentUser(r *http.Request) chat.User {
	sess, _ := middleware.SessionFrom(r.Context())
	return sess.User
}

func channelID(r *http.Request) chat.ID {
	return chat.ID(chi.URLParam(r, "channelID"))
}

// respondServiceError 把服务层错误映射成 HTTP 状态码
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, chatService.ErrChannelNotFound), errors.Is(err, chatService.ErrUserNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, chatService.ErrNotMember):
		utils.RespondError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, chatService.ErrEmptyContent),
		errors.Is(err, chatService.ErrContentTooLong),
		errors.Is(err, chatService.ErrChannelName):
		utils.RespondError(w, http.StatusBadRequest, err.Error())
	default:
		log.Error().Err(err).Str("component", "handler").Msg("chat request failed")
		utils.RespondError(w, http.StatusInternalServerError, "internal error")
	}
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	profile, err := h.chatSvc.Profile(r.Context(), currentUser(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, profile)
}

func (h *Handler) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name string `json:"name"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ch, err := h.chatSvc.CreateChannel(r.Context(), currentUser(r), strings.TrimSpace(payload.Name))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusCreated, ch)
}

func (h *Handler) handleChannel(w http.ResponseWriter, r *http.Request) {
	ch, err := h.chatSvc.Channel(r.Context(), currentUser(r), channelID(r))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, ch)
}

func (h *Handler) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID chat.ID `json:"userId"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil || payload.UserID.IsZero() {
		utils.RespondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if err := h.chatSvc.AddMember(r.Context(), currentUser(r), channelID(r), payload.UserID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, nil)
}

func (h *Handler) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	userID := chat.ID(chi.URLParam(r, "userID"))
	if err := h.chatSvc.RemoveMember(r.Context(), currentUser(r), channelID(r), userID); err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, nil)
}

// handleMessages 返回分页历史；all=true 时返回完整列表
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	if all, _ := strconv.ParseBool(query.Get("all")); all {
		msgs, err := h.chatSvc.AllMessages(r.Context(), currentUser(r), channelID(r))
		if err != nil {
			respondServiceError(w, err)
			return
		}
		utils.RespondOK(w, http.StatusOK, msgs)
		return
	}

	q := chatService.PageQuery{
		Descending: strings.EqualFold(query.Get("sortDirection"), "DESC"),
	}
	var err error
	if q.Page, err = intParam(query.Get("page")); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid page")
		return
	}
	if q.Size, err = intParam(query.Get("size")); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid size")
		return
	}

	page, err := h.chatSvc.History(r.Context(), currentUser(r), channelID(r), q)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusOK, page)
}

func intParam(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("must be a non-negative integer")
	}
	return n, nil
}

func (h *Handler) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := h.chatSvc.PostMessage(r.Context(), currentUser(r), channelID(r), payload.Content)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	utils.RespondOK(w, http.StatusCreated, msg)
}
