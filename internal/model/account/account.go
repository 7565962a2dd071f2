package account

import (
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/zhouzirui/z-chat/internal/model/chat"
)

// Account is a user who can authenticate against the API.
type Account struct {
	ID           chat.ID `json:"id"`
	Username     string  `json:"username"`
	PasswordHash []byte  `json:"-"`
}

// User returns the public projection of the account.
func (a Account) User() chat.User {
	return chat.User{ID: a.ID, Username: a.Username}
}

// CheckPassword compares a plaintext password with the stored hash.
func (a Account) CheckPassword(password string) bool {
	if len(a.PasswordHash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(a.PasswordHash, []byte(password)) == nil
}

// Credential is a plaintext seed entry, hashed when the store is built.
type Credential struct {
	ID       chat.ID
	Username string
	Password string
}

// SeedChannel is a channel created at startup together with its members.
type SeedChannel struct {
	Name    string
	Members []string // usernames
}

// Seed provides the demo accounts used by the reference server and tests.
func Seed() []Credential {
	return []Credential{
		{ID: "2b5f0a4e-6a43-4c4f-9d5e-1f0e3a7c9b11", Username: "alice", Password: "alice-password"},
		{ID: "8c1d7e52-0b9a-4f6e-a3c1-5d2b9e4f7a20", Username: "bob", Password: "bob-password"},
		{ID: "d4e8a1f3-7c2b-4e95-8b06-3a9f1c5e2d37", Username: "carol", Password: "carol-password"},
	}
}

// SeedChannels provides the channels created alongside Seed.
func SeedChannels() []SeedChannel {
	return []SeedChannel{
		{Name: "general", Members: []string{"alice", "bob", "carol"}},
		{Name: "random", Members: []string{"alice", "bob"}},
	}
}

func normalizeUsername(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
