package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/zhouzirui/z-chat/internal/protocol"
	"github.com/zhouzirui/z-chat/internal/service/auth"
	"github.com/zhouzirui/z-chat/pkg/utils"
)

// Authenticator resolves bearer tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Session, error)
}

type sessionKey struct{}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter used by the push handshake.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.URL.Query().Get(protocol.TokenParam))
}

// Auth rejects requests without a valid token with 401 and stores the
// session in the request context.
func Auth(a Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, err := a.Authenticate(r.Context(), TokenFromRequest(r))
			if err != nil {
				utils.RespondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), sess)))
		})
	}
}

// WithSession attaches an authenticated session to ctx.
func WithSession(ctx context.Context, sess auth.Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

// SessionFrom returns the session stored by Auth.
func SessionFrom(ctx context.Context) (auth.Session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(auth.Session)
	return sess, ok
}
