package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/internal/middleware"
	authService "github.com/zhouzirui/z-chat/internal/service/auth"
	"github.com/zhouzirui/z-chat/pkg/utils"
)

// Service 是登录相关的服务接口
type Service interface {
	middleware.Authenticator
	Login(ctx context.Context, username, password string) (authService.Session, error)
	Logout(ctx context.Context, token string)
}

// Handler 登录/登出处理器
type Handler struct {
	svc      Service
	onLogout func(token string)
}

// New 创建登录处理器。onLogout 在 token 作废后调用，可为 nil。
func New(svc Service, onLogout func(token string)) *Handler {
	return &Handler{svc: svc, onLogout: onLogout}
}

// RegisterRoutes 注册登录相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/auth", func(r chi.Router) {
		r.Post("/login", h.handleLogin)
		r.With(middleware.Auth(h.svc)).Post("/logout", h.handleLogout)
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Username) == "" || payload.Password == "" {
		utils.RespondError(w, http.StatusBadRequest, "username and password are required")
		return
	}

	sess, err := h.svc.Login(r.Context(), payload.Username, payload.Password)
	if err != nil {
		if errors.Is(err, authService.ErrInvalidCredentials) {
			utils.RespondError(w, http.StatusUnauthorized, err.Error())
			return
		}
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondOK(w, http.StatusOK, sess.Token)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess, _ := middleware.SessionFrom(r.Context())
	h.svc.Logout(r.Context(), sess.Token)
	if h.onLogout != nil {
		h.onLogout(sess.Token)
	}
	utils.RespondOK(w, http.StatusOK, nil)
}
