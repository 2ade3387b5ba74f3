package realtime

// Registry tracks every open connection. It is owned by the reactor
// goroutine and needs no locking.
type Registry struct {
	conns map[string]*Conn
}

func newRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// attach registers a newly opened connection. It never fails.
func (r *Registry) attach(c *Conn) {
	r.conns[c.id] = c
}

// detach removes a connection and reports whether it was still attached.
// Detaching an already-detached connection is a no-op.
func (r *Registry) detach(c *Conn) bool {
	if _, ok := r.conns[c.id]; !ok {
		return false
	}
	delete(r.conns, c.id)
	return true
}

// get returns the connection with the given id, or nil.
func (r *Registry) get(id string) *Conn {
	return r.conns[id]
}

// len returns the number of open connections.
func (r *Registry) len() int { return len(r.conns) }

// forEachAuthenticated calls fn for every authenticated connection.
func (r *Registry) forEachAuthenticated(fn func(*Conn)) {
	for _, c := range r.conns {
		if c.authenticated() {
			fn(c)
		}
	}
}
