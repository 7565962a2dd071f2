package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/zhouzirui/z-chat/internal/model/chat"
	"github.com/zhouzirui/z-chat/pkg/utils"
)

// RateLimiter keeps one token bucket per authenticated user.
type RateLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[chat.ID]*rate.Limiter
}

// NewRateLimiter allows burst requests at once, refilled one every interval.
// A burst of zero or less disables limiting.
func NewRateLimiter(burst int, interval time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:    rate.Every(interval),
		burst:    burst,
		limiters: make(map[chat.ID]*rate.Limiter),
	}
}

// Allow reports whether userID may make another request now.
func (l *RateLimiter) Allow(userID chat.ID) bool {
	if l == nil || l.burst <= 0 {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[userID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

// Middleware answers 429 once the caller's bucket is empty. It must run
// after Auth; anonymous requests pass through.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := SessionFrom(r.Context())
		if ok && !l.Allow(sess.User.ID) {
			log.Warn().Str("component", "ratelimit").Str("user", sess.User.Username).Msg("rate limit exceeded")
			w.Header().Set("Retry-After", "1")
			utils.RespondError(w, http.StatusTooManyRequests, "too many messages, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}
