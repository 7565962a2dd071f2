// Package status serves liveness and runtime information.
package status

import (
	"net/http"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-chat/pkg/utils"
)

// Info describes the running server.
type Info struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	StoreDriver  string `json:"storeDriver"`
	BrokerDriver string `json:"brokerDriver"`
}

// Counters reports live totals for /status.
type Counters struct {
	Sessions        func() int
	PushConnections func() int
}

// Handler answers /health, /status and /info.
type Handler struct {
	info     Info
	counters Counters
	started  time.Time
}

func New(info Info, counters Counters) *Handler {
	return &Handler{info: info, counters: counters, started: time.Now()}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.handleHealth)
	r.Get("/status", h.handleStatus)
	r.Get("/info", h.handleInfo)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondOK(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	count := func(f func() int) int {
		if f == nil {
			return 0
		}
		return f()
	}
	utils.RespondOK(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"uptime":          time.Since(h.started).Round(time.Second).String(),
		"sessions":        count(h.counters.Sessions),
		"pushConnections": count(h.counters.PushConnections),
		"goroutines":      runtime.NumGoroutine(),
	})
}

func (h *Handler) handleInfo(w http.ResponseWriter, _ *http.Request) {
	utils.RespondOK(w, http.StatusOK, h.info)
}
