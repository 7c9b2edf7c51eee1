// Package registry tracks live connections: the opaque identity assigned when
// the transport hands us a connection, and the room/role/display-name metadata
// the room manager maintains for it.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Kind is the kind of room a connection currently belongs to.
type Kind string

const (
	KindNone     Kind = ""
	KindPairwise Kind = "pairwise"
	KindChat     Kind = "chat"
)

// Metadata is the mutable per-connection state. The zero value means "connected
// but not in any room".
type Metadata struct {
	Room     string
	Kind     Kind
	Nickname string
}

type Registry struct {
	mu    sync.Mutex
	conns map[string]Metadata
}

func New() *Registry {
	return &Registry{
		conns: make(map[string]Metadata),
	}
}

// Register assigns a fresh identity to a new connection. The identity is stable
// for the connection's lifetime and unique for the process.
func (r *Registry) Register() string {
	id := uuid.NewString()
	r.mu.Lock()
	r.conns[id] = Metadata{}
	r.mu.Unlock()
	return id
}

// SetMetadata replaces the metadata for id. Unknown identities are ignored: the
// caller may race with a disconnect, and a cleared connection must not be
// resurrected.
func (r *Registry) SetMetadata(id string, md Metadata) {
	r.mu.Lock()
	if _, ok := r.conns[id]; ok {
		r.conns[id] = md
	}
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.conns[id]
	return md, ok
}

// Clear removes id and returns the metadata it held at disconnect time so
// dependents can run room cleanup against the final snapshot.
func (r *Registry) Clear(id string) (Metadata, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	md, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return md, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
