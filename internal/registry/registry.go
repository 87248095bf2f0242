package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

var (
	ErrNoBackends         = errors.New("registry: no backends configured")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrMalformedSnapshot  = errors.New("malformed metrics snapshot")
)

const (
	DefaultFetchTimeout = 500 * time.Millisecond
	DefaultMetricsPath  = "/metrics"
)

// Options tunes how snapshots are fetched. Zero values fall back to defaults.
type Options struct {
	FetchTimeout time.Duration
	MetricsPath  string
	// Breakers short-circuits backends whose metrics endpoint keeps failing.
	// Nil disables breaking.
	Breakers *circuitbreaker.Registry
	Client   *fasthttp.Client
}

// Registry is the fixed, ordered set of backends the proxy knows about.
type Registry struct {
	backends []*backend.Backend
	opts     Options
	client   *fasthttp.Client
	logger   *slog.Logger
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

func New(backends []*backend.Backend, opts Options, logger *slog.Logger) (*Registry, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = DefaultMetricsPath
	}
	if logger == nil {
		logger = slog.Default()
	}

	client := opts.Client
	if client == nil {
		client = &fasthttp.Client{
			Name:                "scoreproxy",
			ReadTimeout:         opts.FetchTimeout,
			WriteTimeout:        opts.FetchTimeout,
			MaxConnsPerHost:     512,
			MaxIdleConnDuration: 30 * time.Second,
		}
	}

	return &Registry{
		backends: append([]*backend.Backend(nil), backends...),
		opts:     opts,
		client:   client,
		logger:   logger,
	}, nil
}

// Backends returns the backends in configured order.
func (r *Registry) Backends() []*backend.Backend {
	return append([]*backend.Backend(nil), r.backends...)
}

// States reports the dispatch bookkeeping of every backend in configured
// order. Breaker is empty when breaking is disabled.
func (r *Registry) States() []metrics.BackendState {
	var breakers map[string]circuitbreaker.State
	if r.opts.Breakers != nil && r.opts.Breakers.Enabled() {
		breakers = r.opts.Breakers.Stats()
	}

	states := make([]metrics.BackendState, 0, len(r.backends))
	for _, b := range r.backends {
		state := metrics.BackendState{
			Backend:     b.String(),
			InFlight:    b.ActiveConnections(),
			ForwardTime: b.ForwardTime(),
			Reachable:   b.IsReachable(),
		}
		if breakers != nil {
			// breakers are created lazily on the first fetch
			state.Breaker = breakers[b.String()].String()
		}
		states = append(states, state)
	}
	return states
}

// FetchSnapshot asks b for its current health. The call is bounded by the
// fetch timeout and abandoned as soon as ctx is done.
func (r *Registry) FetchSnapshot(ctx context.Context, b *backend.Backend) (metrics.Snapshot, error) {
	var breaker *circuitbreaker.CircuitBreaker
	if r.opts.Breakers != nil {
		breaker = r.opts.Breakers.GetBreaker(b.String())
		if !breaker.Allow() {
			return metrics.Snapshot{}, fmt.Errorf("%s: circuit open: %w", b, ErrBackendUnavailable)
		}
	}

	snap, err := r.fetch(ctx, b)

	// a cancelled caller says nothing about the backend
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if breaker != nil {
			breaker.Abandon()
		}
		return metrics.Snapshot{}, err
	}

	if breaker != nil {
		if err != nil {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
	}

	if b.SetReachable(err == nil) {
		if err != nil {
			r.logger.Warn("backend metrics unavailable", "backend", b.String(), "error", err)
		} else {
			r.logger.Info("backend metrics recovered", "backend", b.String())
		}
	}

	if err != nil {
		return metrics.Snapshot{}, err
	}
	return b.ApplyPriority(snap), nil
}

func (r *Registry) fetch(ctx context.Context, b *backend.Backend) (metrics.Snapshot, error) {
	endpoint := b.URL().JoinPath(r.opts.MetricsPath).String()
	deadline := time.Now().Add(r.opts.FetchTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	done := make(chan fetchResult, 1)
	go func() {
		req := fasthttp.AcquireRequest()
		resp := fasthttp.AcquireResponse()
		defer fasthttp.ReleaseRequest(req)
		defer fasthttp.ReleaseResponse(resp)

		req.SetRequestURI(endpoint)
		req.Header.SetMethod(fasthttp.MethodGet)
		req.Header.Set(fasthttp.HeaderAccept, "application/json")

		if err := r.client.DoDeadline(req, resp, deadline); err != nil {
			done <- fetchResult{err: err}
			return
		}
		done <- fetchResult{
			status: resp.StatusCode(),
			body:   append([]byte(nil), resp.Body()...),
		}
	}()

	var res fetchResult
	select {
	case res = <-done:
	case <-ctx.Done():
		return metrics.Snapshot{}, ctx.Err()
	}

	if res.err != nil {
		return metrics.Snapshot{}, fmt.Errorf("%s: %w: %w", b, ErrBackendUnavailable, res.err)
	}
	if res.status < 200 || res.status > 299 {
		return metrics.Snapshot{}, fmt.Errorf("%s: status %d: %w", b, res.status, ErrBackendUnavailable)
	}

	return decode(res.body)
}

func decode(body []byte) (metrics.Snapshot, error) {
	var envelope metrics.Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return metrics.Snapshot{}, fmt.Errorf("%w: %w", ErrMalformedSnapshot, err)
	}
	if envelope.Metrics == nil {
		return metrics.Snapshot{}, fmt.Errorf("%w: missing metrics field", ErrMalformedSnapshot)
	}
	return *envelope.Metrics, nil
}
