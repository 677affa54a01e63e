// Package session tracks which role this process holds per room. The binding
// is injected into whoever needs it instead of read from ambient globals, so
// arbitrary role/id combinations can be constructed in tests.
package session

import "sync"

type Role string

const (
	RoleHost     Role = "host"
	RoleListener Role = "listener"
)

// Binding is a process-lifetime association between a room and the identity
// this participant was granted when it created or joined the room.
type Binding struct {
	ParticipantID string
	Token         string
	Role          Role
}

type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

func (r *Registry) Bind(roomID string, b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bindings[roomID] = b
}

func (r *Registry) Lookup(roomID string) (Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[roomID]
	return b, ok
}

func (r *Registry) Forget(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.bindings, roomID)
}

// RoleFor resolves the local role for a room: host when the bound participant
// is the room's recognized host, listener otherwise (including no binding).
func (r *Registry) RoleFor(roomID, hostID string) Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.bindings[roomID]; ok && b.ParticipantID == hostID {
		return RoleHost
	}
	return RoleListener
}
