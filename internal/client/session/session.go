// Package session holds the bearer credential for the current user.
package session

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// ErrNoSession is returned when no credential is stored.
var ErrNoSession = errors.New("not logged in")

// Session is an authenticated user's credential.
type Session struct {
	Token    string  `yaml:"token"`
	UserID   chat.ID `yaml:"user_id,omitempty"`
	Username string  `yaml:"username,omitempty"`
	APIURL   string  `yaml:"api_url,omitempty"`
}

// Valid reports whether the session carries a token.
func (s Session) Valid() bool { return s.Token != "" }

// Holder stores the current session. Safe for concurrent use.
type Holder struct {
	mu      sync.RWMutex
	current Session
	path    string
}

// NewHolder returns an empty holder. When path is non-empty, Save and Load
// use it as the session file.
func NewHolder(path string) *Holder {
	return &Holder{path: path}
}

// Set replaces the stored session.
func (h *Holder) Set(s Session) {
	h.mu.Lock()
	h.current = s
	h.mu.Unlock()
}

// SetUser records the user id once the profile is known.
func (h *Holder) SetUser(id chat.ID, username string) {
	h.mu.Lock()
	h.current.UserID = id
	if username != "" {
		h.current.Username = username
	}
	h.mu.Unlock()
}

// Get returns the stored session or ErrNoSession.
func (h *Holder) Get() (Session, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.current.Valid() {
		return Session{}, ErrNoSession
	}
	return h.current, nil
}

// Token returns the bearer token, or "" when logged out.
func (h *Holder) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Token
}

// Clear destroys the in-memory session. The file is left alone; call Remove
// to delete it as well.
func (h *Holder) Clear() {
	h.mu.Lock()
	h.current = Session{}
	h.mu.Unlock()
}

// Load reads the session file into the holder.
func (h *Holder) Load() (Session, error) {
	if h.path == "" {
		return Session{}, ErrNoSession
	}
	raw, err := os.ReadFile(h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Session{}, ErrNoSession
		}
		return Session{}, errors.Wrap(err, "read session file")
	}

	var s Session
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Session{}, errors.Wrap(err, "decode session file")
	}
	if !s.Valid() {
		return Session{}, ErrNoSession
	}
	h.Set(s)
	return s, nil
}

// Save writes the current session to the session file with owner-only permissions.
func (h *Holder) Save() error {
	if h.path == "" {
		return nil
	}
	s, err := h.Get()
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "encode session")
	}
	if err := os.MkdirAll(filepath.Dir(h.path), 0o700); err != nil {
		return errors.Wrap(err, "create session directory")
	}
	return errors.Wrap(os.WriteFile(h.path, raw, 0o600), "write session file")
}

// Remove clears the session and deletes the session file.
func (h *Holder) Remove() error {
	h.Clear()
	if h.path == "" {
		return nil
	}
	if err := os.Remove(h.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove session file")
	}
	return nil
}
