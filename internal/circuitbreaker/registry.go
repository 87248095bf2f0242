package circuitbreaker

import (
	"sync"
	"time"
)

// Registry hands out one breaker per backend URL.
type Registry struct {
	mutex     sync.RWMutex
	breakers  map[string]*CircuitBreaker
	threshold int
	timeout   time.Duration
	now       func() time.Time
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// Enabled reports whether breakers created by r ever open.
func (r *Registry) Enabled() bool {
	return r.threshold > 0
}

func (r *Registry) GetBreaker(backendURL string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[backendURL]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// another goroutine may have created it
	if cb, exists = r.breakers[backendURL]; exists {
		return cb
	}

	cb = newCircuitBreaker(r.threshold, r.timeout, r.now)
	r.breakers[backendURL] = cb
	return cb
}

// Stats returns the state of every breaker created so far, keyed by backend URL.
func (r *Registry) Stats() map[string]State {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	stats := make(map[string]State, len(r.breakers))
	for url, cb := range r.breakers {
		stats[url] = cb.State()
	}
	return stats
}
