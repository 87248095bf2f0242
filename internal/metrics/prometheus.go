package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus exposes dispatch telemetry. A nil *Prometheus is a valid no-op.
type Prometheus struct {
	registry      *prometheus.Registry
	proxied       *prometheus.CounterVec
	fetchFailures *prometheus.CounterVec
	scores        *prometheus.GaugeVec
}

// NewPrometheus registers the proxy collectors on reg. The in-flight gauge
// reads straight from collector.
func NewPrometheus(reg *prometheus.Registry, collector *Collector) (*Prometheus, error) {
	p := &Prometheus{
		registry: reg,
		proxied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoreproxy_proxied_requests_total",
			Help: "Requests forwarded to a backend, by backend and status code.",
		}, []string{"backend", "code"}),
		fetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scoreproxy_snapshot_fetch_failures_total",
			Help: "Snapshot fetches that failed and scored the backend 0.",
		}, []string{"backend"}),
		scores: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "scoreproxy_backend_score",
			Help: "Most recent score computed for a backend.",
		}, []string{"backend"}),
	}

	inFlight := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "scoreproxy_in_flight_requests",
		Help: "Requests currently being handled by this instance.",
	}, func() float64 {
		return float64(collector.InFlight())
	})

	for _, c := range []prometheus.Collector{p.proxied, p.fetchFailures, p.scores, inFlight} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// ObserveScore records the outcome of scoring one backend.
func (p *Prometheus) ObserveScore(backend string, score float64, err error) {
	if p == nil {
		return
	}
	if err != nil {
		p.fetchFailures.WithLabelValues(backend).Inc()
	}
	p.scores.WithLabelValues(backend).Set(score)
}

// ObserveResponse counts a response relayed from backend.
func (p *Prometheus) ObserveResponse(backend string, statusCode int) {
	if p == nil {
		return
	}
	p.proxied.WithLabelValues(backend, strconv.Itoa(statusCode)).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// BackendState is the dispatcher's bookkeeping for one backend at scrape time.
type BackendState struct {
	Backend     string
	InFlight    int
	ForwardTime time.Duration
	Reachable   bool
	Breaker     string
}

// WatchBackends exports the result of states as per-backend gauges, read on
// every scrape. The breaker gauge is omitted for states without a breaker.
func (p *Prometheus) WatchBackends(states func() []BackendState) error {
	return p.registry.Register(newBackendCollector(states))
}

type backendCollector struct {
	states      func() []BackendState
	inFlight    *prometheus.Desc
	forwardTime *prometheus.Desc
	reachable   *prometheus.Desc
	breaker     *prometheus.Desc
}

func newBackendCollector(states func() []BackendState) *backendCollector {
	return &backendCollector{
		states: states,
		inFlight: prometheus.NewDesc("scoreproxy_backend_in_flight_requests",
			"Requests currently forwarded to a backend.", []string{"backend"}, nil),
		forwardTime: prometheus.NewDesc("scoreproxy_backend_forward_seconds",
			"Moving average of the time spent forwarding to a backend.", []string{"backend"}, nil),
		reachable: prometheus.NewDesc("scoreproxy_backend_reachable",
			"1 if the last snapshot fetch from a backend succeeded.", []string{"backend"}, nil),
		breaker: prometheus.NewDesc("scoreproxy_backend_breaker_state",
			"Circuit breaker state guarding a backend's snapshot fetches.", []string{"backend", "state"}, nil),
	}
}

func (c *backendCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.inFlight
	ch <- c.forwardTime
	ch <- c.reachable
	ch <- c.breaker
}

func (c *backendCollector) Collect(ch chan<- prometheus.Metric) {
	for _, s := range c.states() {
		ch <- prometheus.MustNewConstMetric(c.inFlight, prometheus.GaugeValue, float64(s.InFlight), s.Backend)
		ch <- prometheus.MustNewConstMetric(c.forwardTime, prometheus.GaugeValue, s.ForwardTime.Seconds(), s.Backend)

		reachable := 0.0
		if s.Reachable {
			reachable = 1
		}
		ch <- prometheus.MustNewConstMetric(c.reachable, prometheus.GaugeValue, reachable, s.Backend)

		if s.Breaker != "" {
			ch <- prometheus.MustNewConstMetric(c.breaker, prometheus.GaugeValue, 1, s.Backend, s.Breaker)
		}
	}
}
