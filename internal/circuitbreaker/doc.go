// Package circuitbreaker keeps the proxy from hammering backends whose
// metrics endpoint keeps failing.
//
// A breaker has three states:
//
//   - CLOSED: metrics fetches go out
//   - OPEN: fetches fail immediately and the backend scores zero
//   - HALF-OPEN: a single probe fetch decides whether to close again
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 10*time.Second)
//	cb := registry.GetBreaker("http://localhost:8081")
//	if cb.Allow() {
//	    // fetch /metrics...
//	    if err != nil {
//	        cb.RecordFailure()
//	    } else {
//	        cb.RecordSuccess()
//	    }
//	}
package circuitbreaker
