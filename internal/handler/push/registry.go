package push

import "sync"

// Registry tracks push connections by session token. Only the newest
// connection per token is kept.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*client
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*client)}
}

// add registers c and returns the connection it replaced, if any.
func (r *Registry) add(token string, c *client) *client {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.clients[token]
	r.clients[token] = c
	return old
}

// remove deletes the entry only while it still points at c, so a
// replacement connection stays registered.
func (r *Registry) remove(token string, c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.clients[token]; ok && cur == c {
		delete(r.clients, token)
	}
}

// Revoke sends an error frame with code to the token's connection and
// closes it.
func (r *Registry) Revoke(token, code, message string) bool {
	r.mu.Lock()
	c, ok := r.clients[token]
	if ok {
		delete(r.clients, token)
	}
	r.mu.Unlock()

	if ok {
		c.closeWithError(code, message)
	}
	return ok
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// CloseAll closes every connection.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*client)
	r.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
