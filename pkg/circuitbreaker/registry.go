package circuitbreaker

import "sync"

// Registry holds one breaker per destination, created lazily.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	config   Config
}

// NewRegistry creates a registry whose breakers all share the given config.
func NewRegistry(cfg Config) *Registry {
	return &Registry{
		breakers: make(map[string]*Breaker),
		config:   cfg,
	}
}

// Get returns the breaker for the destination, creating it if needed.
func (r *Registry) Get(destination string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[destination]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[destination]; ok {
		return b
	}
	b = New(r.config)
	r.breakers[destination] = b
	return b
}

// OpenCount returns how many breakers are currently open. Exposed as a gauge.
func (r *Registry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	open := 0
	for _, b := range r.breakers {
		if b.State() == Open {
			open++
		}
	}
	return open
}
