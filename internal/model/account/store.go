package account

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Store exposes account lookup for the auth service and handlers.
type Store interface {
	List() []Account
	FindByID(id chat.ID) (Account, bool)
	FindByUsername(username string) (Account, bool)
}

// MemoryStore implements Store with an in-memory slice.
type MemoryStore struct {
	mu    sync.RWMutex
	items []Account
}

// NewMemoryStore hashes the supplied credentials and returns a store holding them.
func NewMemoryStore(creds []Credential) (*MemoryStore, error) {
	return newMemoryStore(creds, bcrypt.DefaultCost)
}

// NewMemoryStoreWithCost is NewMemoryStore with an explicit bcrypt cost.
// Tests use bcrypt.MinCost.
func NewMemoryStoreWithCost(creds []Credential, cost int) (*MemoryStore, error) {
	return newMemoryStore(creds, cost)
}

func newMemoryStore(creds []Credential, cost int) (*MemoryStore, error) {
	s := &MemoryStore{items: make([]Account, 0, len(creds))}
	for _, c := range creds {
		if _, err := s.add(c, cost); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Add registers one more account.
func (s *MemoryStore) Add(c Credential) (Account, error) {
	return s.add(c, bcrypt.DefaultCost)
}

func (s *MemoryStore) add(c Credential, cost int) (Account, error) {
	username := normalizeUsername(c.Username)
	if username == "" {
		return Account{}, errors.New("account: username is required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), cost)
	if err != nil {
		return Account{}, errors.Wrapf(err, "account: hash password for %s", username)
	}
	id := c.ID
	if id.IsZero() {
		id = chat.ID(uuid.NewString())
	}
	acc := Account{ID: id, Username: username, PasswordHash: hash}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items {
		if item.Username == username {
			return Account{}, errors.Errorf("account: username %q already taken", username)
		}
	}
	s.items = append(s.items, acc)
	return acc, nil
}

// List returns all accounts.
func (s *MemoryStore) List() []Account {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Account(nil), s.items...)
}

// FindByID looks up an account by identifier.
func (s *MemoryStore) FindByID(id chat.ID) (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.ID == id {
			return item, true
		}
	}
	return Account{}, false
}

// FindByUsername looks up an account by its case-insensitive username.
func (s *MemoryStore) FindByUsername(username string) (Account, bool) {
	username = normalizeUsername(username)
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, item := range s.items {
		if item.Username == username {
			return item, true
		}
	}
	return Account{}, false
}
