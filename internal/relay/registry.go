package relay

import (
	"sync"

	"github.com/BioHazard786/peercall/internal/protocol"
)

// entry is one registered identity and the connection that announced it.
type entry struct {
	user   protocol.User
	client *Client
}

// Registry holds the identities announced by connected clients.
//
// Entries are created by req-register, replaced when the same id registers
// again, and dropped when the owning connection goes away. It is safe for
// concurrent use; List always observes whole entries.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register inserts or replaces the entry for user.ID. A replaced entry keeps
// its original position in List.
func (r *Registry) Register(user protocol.User, c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[user.ID]; !ok {
		r.order = append(r.order, user.ID)
	}
	r.entries[user.ID] = entry{user: user, client: c}
}

// Remove deletes every entry owned by c and returns how many were removed.
func (r *Registry) Remove(c *Client) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.order[:0]
	for _, id := range r.order {
		if r.entries[id].client == c {
			delete(r.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

// List returns a snapshot of all entries in insertion order.
func (r *Registry) List() []protocol.User {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]protocol.User, 0, len(r.order))
	for _, id := range r.order {
		users = append(users, r.entries[id].user)
	}
	return users
}

// Len returns the number of registered entries.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
