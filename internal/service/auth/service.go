// Package auth issues and checks bearer tokens for the reference server.
package auth

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/zhouzirui/z-chat/internal/model/account"
	"github.com/zhouzirui/z-chat/internal/model/chat"
)

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrInvalidToken       = errors.New("invalid or expired token")
)

// Session is an issued token bound to a user.
type Session struct {
	Token     string
	User      chat.User
	CreatedAt time.Time
}

// Service keeps issued tokens in memory.
type Service struct {
	accounts account.Store
	ttl      time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]Session
}

// NewService creates the token service. A zero ttl means tokens never expire.
func NewService(accounts account.Store, ttl time.Duration) *Service {
	return &Service{
		accounts: accounts,
		ttl:      ttl,
		now:      time.Now,
		sessions: make(map[string]Session),
	}
}

// Login checks the password and issues a fresh token.
func (s *Service) Login(_ context.Context, username, password string) (Session, error) {
	acc, ok := s.accounts.FindByUsername(strings.TrimSpace(username))
	if !ok || !acc.CheckPassword(password) {
		return Session{}, ErrInvalidCredentials
	}
	return s.Issue(acc.User()), nil
}

// Issue creates a token for a user without a password check.
func (s *Service) Issue(user chat.User) Session {
	sess := Session{Token: uuid.NewString(), User: user, CreatedAt: s.now().UTC()}
	s.mu.Lock()
	s.sessions[sess.Token] = sess
	s.mu.Unlock()
	return sess
}

// Authenticate resolves a token to its session.
func (s *Service) Authenticate(_ context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrInvalidToken
	}

	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return Session{}, ErrInvalidToken
	}
	if s.ttl > 0 && s.now().Sub(sess.CreatedAt) > s.ttl {
		s.mu.Lock()
		delete(s.sessions, token)
		s.mu.Unlock()
		return Session{}, ErrInvalidToken
	}
	return sess, nil
}

// Logout revokes a token. Unknown tokens are ignored.
func (s *Service) Logout(_ context.Context, token string) {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
}

// Active counts live tokens.
func (s *Service) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
