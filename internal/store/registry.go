package store

import "sync"

// Registry is the session-scoped cache of open databases. Only the Manager
// mutates it; readers go through the Manager as well. It exists as an
// explicit object so its lifetime is that of the session that owns it, not
// of the package.
type Registry struct {
	mu   sync.RWMutex
	open map[string]*Handle
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{open: make(map[string]*Handle)}
}

// Get returns the cached handle for name, if any.
func (r *Registry) Get(name string) (*Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.open[name]
	return h, ok
}

// Put caches an opened handle.
func (r *Registry) Put(name string, h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[name] = h
}

// Evict drops a handle, typically ahead of database deletion.
func (r *Registry) Evict(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, name)
}

// Names returns the names of all open databases.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.open))
	for name := range r.open {
		names = append(names, name)
	}
	return names
}
