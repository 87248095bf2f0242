package backend

import (
	"net/url"
	"sync"
	"time"

	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

// Backend is one configured upstream instance. Its URL and priority are fixed
// at construction; the rest is bookkeeping updated by the dispatcher.
type Backend struct {
	url      *url.URL
	priority metrics.Priority

	mutex             sync.Mutex
	reachable         bool
	activeConnections int
	ewmaForwardTime   time.Duration
	hasEWMA           bool
}

const ewmaAlpha = 0.2

// New creates a Backend for the given URL. An empty priority means normal.
func New(u *url.URL, priority metrics.Priority) *Backend {
	if priority == "" {
		priority = metrics.PriorityNormal
	}
	return &Backend{
		url:       u,
		priority:  priority,
		reachable: true,
	}
}

// Parse builds a Backend from a raw URL.
func Parse(rawURL string, priority metrics.Priority) (*Backend, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return New(u, priority), nil
}

// URL returns the backend base URL.
func (b *Backend) URL() *url.URL {
	return b.url
}

// String returns the backend base URL as text.
func (b *Backend) String() string {
	return b.url.String()
}

// Priority returns the operator-configured priority.
func (b *Backend) Priority() metrics.Priority {
	return b.priority
}

// ApplyPriority raises a snapshot to critical when the backend is configured
// as critical. A configured normal priority never lowers what the instance reports.
func (b *Backend) ApplyPriority(s metrics.Snapshot) metrics.Snapshot {
	if b.priority == metrics.PriorityCritical {
		s.Priority = metrics.PriorityCritical
	}
	return s
}

// IncrementConn increments the in-flight request count.
func (b *Backend) IncrementConn() {
	b.mutex.Lock()
	b.activeConnections++
	b.mutex.Unlock()
}

// DecrementConn decrements the in-flight request count, never below zero.
func (b *Backend) DecrementConn() {
	b.mutex.Lock()
	if b.activeConnections > 0 {
		b.activeConnections--
	}
	b.mutex.Unlock()
}

// ActiveConnections returns the number of requests currently forwarded to b.
func (b *Backend) ActiveConnections() int {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.activeConnections
}

// IsReachable reports whether the last metrics fetch succeeded.
func (b *Backend) IsReachable() bool {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return b.reachable
}

// SetReachable records the outcome of a metrics fetch.
// Returns true if the state changed.
func (b *Backend) SetReachable(reachable bool) (changed bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if b.reachable == reachable {
		return false
	}

	b.reachable = reachable
	return true
}

// RecordForward folds the duration of a forwarded request into an
// exponentially weighted moving average.
func (b *Backend) RecordForward(duration time.Duration) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		b.ewmaForwardTime = duration
		b.hasEWMA = true
		return
	}
	// ewma = (1 - α) * ewma + α * latest
	b.ewmaForwardTime = time.Duration((1-ewmaAlpha)*float64(b.ewmaForwardTime) + ewmaAlpha*float64(duration))
}

// ForwardTime returns the moving average forward duration, or 0 before the
// first forwarded request.
func (b *Backend) ForwardTime() time.Duration {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	if !b.hasEWMA {
		return 0
	}
	return b.ewmaForwardTime
}
