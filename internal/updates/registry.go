package updates

import "sync"

// Registry tracks which connections receive which scopes. All mutation goes
// through Register, Unregister, Clear and Close.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	scopes map[Scope]map[*Conn]struct{}
	conns  map[*Conn][]Scope
}

func NewRegistry() *Registry {
	return &Registry{
		scopes: make(map[Scope]map[*Conn]struct{}),
		conns:  make(map[*Conn][]Scope),
	}
}

// Register adds c under every scope in scopes, all at once.
func (r *Registry) Register(c *Conn, scopes []Scope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrServiceClosed
	}
	if _, ok := r.conns[c]; ok {
		return ErrDuplicateRegistration
	}
	if c.State() == StateClosed {
		return ErrConnectionClosed
	}

	owned := append([]Scope(nil), scopes...)
	for _, scope := range owned {
		members, ok := r.scopes[scope]
		if !ok {
			members = make(map[*Conn]struct{})
			r.scopes[scope] = members
		}
		members[c] = struct{}{}
	}
	r.conns[c] = owned
	return nil
}

// Unregister removes c from every scope it was registered under. Unknown
// connections are ignored.
func (r *Registry) Unregister(c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	scopes, ok := r.conns[c]
	if !ok {
		return false
	}
	for _, scope := range scopes {
		members := r.scopes[scope]
		delete(members, c)
		if len(members) == 0 {
			delete(r.scopes, scope)
		}
	}
	delete(r.conns, c)
	return true
}

// ForEachInScope calls fn for every connection registered under scope at the
// moment of the call. fn runs without the registry lock held, so it may close
// or unregister connections.
func (r *Registry) ForEachInScope(scope Scope, fn func(*Conn)) {
	r.mu.RLock()
	members := make([]*Conn, 0, len(r.scopes[scope]))
	for c := range r.scopes[scope] {
		members = append(members, c)
	}
	r.mu.RUnlock()

	for _, c := range members {
		fn(c)
	}
}

func (r *Registry) Conns() []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	all := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		all = append(all, c)
	}
	return all
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

func (r *Registry) ScopeLen(scope Scope) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scopes[scope])
}

// Clear empties the registry and closes every connection that was in it.
// Registrations that race a Clear either land before it and are closed by
// it, or land after it in the emptied registry.
func (r *Registry) Clear() []*Conn {
	return r.drain(false)
}

// Close is Clear followed by refusing every later registration.
func (r *Registry) Close() []*Conn {
	return r.drain(true)
}

func (r *Registry) drain(seal bool) []*Conn {
	r.mu.Lock()
	if seal {
		r.sealed = true
	}
	removed := make([]*Conn, 0, len(r.conns))
	for c := range r.conns {
		removed = append(removed, c)
	}
	r.scopes = make(map[Scope]map[*Conn]struct{})
	r.conns = make(map[*Conn][]Scope)
	r.mu.Unlock()

	for _, c := range removed {
		c.CloseWithReason(CloseGoingAway, nil)
	}
	return removed
}
