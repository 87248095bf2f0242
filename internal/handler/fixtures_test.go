package handler_test

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/handler"
	"github.com/angeloszaimis/scoreproxy/internal/loadbalancer"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
	"github.com/angeloszaimis/scoreproxy/internal/registry"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
)

const fetchTimeout = 100 * time.Millisecond

type metricsMode int

const (
	metricsHealthy metricsMode = iota
	metricsBroken
	metricsHanging
)

// echo is what a fake backend answers on every non-metrics path.
type echo struct {
	ServedBy string `json:"servedBy"`
	Method   string `json:"method"`
	Path     string `json:"path"`
	Query    string `json:"query"`
	Body     string `json:"body"`
	Host     string `json:"host"`
}

type fakeBackend struct {
	name     string
	snapshot metrics.Snapshot
	mode     metricsMode
	release  chan struct{}
	server   *httptest.Server

	mu      sync.Mutex
	handler http.HandlerFunc
}

func newFakeBackend(name string, latencyMs float64) *fakeBackend {
	fb := &fakeBackend{
		name: name,
		snapshot: metrics.Snapshot{
			Latency:            latencyMs,
			Uptime:             600,
			MemoryUsedFraction: 0.4,
			SafeConcurrency:    10,
			RecentErrors:       []string{},
			Priority:           metrics.PriorityNormal,
		},
		release: make(chan struct{}),
	}
	fb.server = httptest.NewServer(http.HandlerFunc(fb.serve))
	return fb
}

func (fb *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/metrics" {
		switch fb.mode {
		case metricsBroken:
			http.Error(w, "boom", http.StatusInternalServerError)
		case metricsHanging:
			<-fb.release
		default:
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(metrics.Envelope{Metrics: &fb.snapshot})
		}
		return
	}

	fb.mu.Lock()
	custom := fb.handler
	fb.mu.Unlock()
	if custom != nil {
		custom(w, r)
		return
	}

	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(echo{
		ServedBy: fb.name,
		Method:   r.Method,
		Path:     r.URL.Path,
		Query:    r.URL.RawQuery,
		Body:     string(body),
		Host:     r.Host,
	})
}

func (fb *fakeBackend) respondWith(h http.HandlerFunc) {
	fb.mu.Lock()
	fb.handler = h
	fb.mu.Unlock()
}

func (fb *fakeBackend) URL() string {
	return fb.server.URL
}

func (fb *fakeBackend) Close() {
	close(fb.release)
	fb.server.Close()
}

// failingTransport refuses to reach selected hosts and forwards the rest.
type failingTransport struct {
	mu    sync.Mutex
	hosts map[string]bool
}

func (t *failingTransport) fail(rawURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hosts == nil {
		t.hosts = make(map[string]bool)
	}
	u := mustParseURL(rawURL)
	t.hosts[u.Host] = true
}

func (t *failingTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	t.mu.Lock()
	refused := t.hosts[r.URL.Host]
	t.mu.Unlock()
	if refused {
		return nil, errors.New("connection refused")
	}
	return http.DefaultTransport.RoundTrip(r)
}

type countingObserver struct {
	mu     sync.Mutex
	counts map[int]int
}

func (o *countingObserver) ObserveResponse(_ string, statusCode int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.counts == nil {
		o.counts = make(map[int]int)
	}
	o.counts[statusCode]++
}

func (o *countingObserver) count(statusCode int) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[statusCode]
}

type fixture struct {
	handler  *handler.ProxyHandler
	backends []*backend.Backend
}

func newFixture(policy string, opts handler.Options, fakes ...*fakeBackend) fixture {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	backends := make([]*backend.Backend, 0, len(fakes))
	for _, fb := range fakes {
		b, err := backend.Parse(fb.URL(), metrics.PriorityNormal)
		Expect(err).NotTo(HaveOccurred())
		backends = append(backends, b)
	}

	var strat strategy.Strategy
	switch policy {
	case strategy.PolicyRoundRobin:
		strat = strategy.NewRoundRobinStrategy()
	default:
		reg, err := registry.New(backends, registry.Options{FetchTimeout: fetchTimeout}, logger)
		Expect(err).NotTo(HaveOccurred())
		strat = strategy.NewScoredStrategy(reg, nil)
	}

	lb := loadbalancer.NewLoadBalancer(strat, backends, logger)
	return fixture{
		handler:  handler.NewProxyHandler(logger, lb, opts),
		backends: backends,
	}
}
