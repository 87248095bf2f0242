package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/angeloszaimis/scoreproxy/config"
	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/circuitbreaker"
	"github.com/angeloszaimis/scoreproxy/internal/handler"
	"github.com/angeloszaimis/scoreproxy/internal/healthcheck"
	"github.com/angeloszaimis/scoreproxy/internal/httpserver"
	"github.com/angeloszaimis/scoreproxy/internal/loadbalancer"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
	"github.com/angeloszaimis/scoreproxy/internal/registry"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
	"github.com/angeloszaimis/scoreproxy/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("err", err))
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.Logging.Level, cfg.Logging.AddSource, cfg.Server.Environment)

	undo, err := maxprocs.Set(maxprocs.Logger(func(format string, args ...interface{}) {
		log.Info(fmt.Sprintf(format, args...))
	}))
	defer undo()
	if err != nil {
		log.Warn("Failed to set GOMAXPROCS", slog.Any("err", err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(cfg, log)
	if err != nil {
		log.Error("Failed to initialize proxy", slog.Any("err", err))
		os.Exit(1)
	}

	srv, err := httpserver.New(cfg.Server.Address, app.router, httpserver.Options{}, log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	if interval := cfg.Proxy.ProbeInterval; interval > 0 {
		go healthcheck.Probe(ctx, app.registry, app.registry.Backends(), interval, app.prometheus, log)
	}

	srvErrCh := make(chan error, 1)

	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Proxy started",
		slog.String("address", cfg.Server.Address),
		slog.String("policy", cfg.Proxy.Policy),
		slog.String("prefix", cfg.Proxy.Prefix),
		slog.Int("backends", len(app.registry.Backends())))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting proxy", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

// app is the fully wired proxy, minus the listener.
type app struct {
	registry   *registry.Registry
	collector  *metrics.Collector
	prometheus *metrics.Prometheus
	router     *mux.Router
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	backends, err := initializeBackends(cfg, log)
	if err != nil {
		return nil, err
	}

	collector := newCollector(cfg)
	prom, err := metrics.NewPrometheus(prometheus.NewRegistry(), collector)
	if err != nil {
		return nil, fmt.Errorf("register prometheus collectors: %w", err)
	}

	reg, err := registry.New(backends, registry.Options{
		FetchTimeout: cfg.Proxy.FetchTimeout,
		Breakers:     circuitbreaker.NewRegistry(cfg.Breaker.FailureThreshold, cfg.Breaker.ResetTimeout),
	}, log)
	if err != nil {
		return nil, err
	}

	if err := prom.WatchBackends(reg.States); err != nil {
		return nil, fmt.Errorf("register backend gauges: %w", err)
	}

	strat, err := createStrategy(cfg.Proxy.Policy, reg, prom)
	if err != nil {
		return nil, err
	}

	lb := loadbalancer.NewLoadBalancer(strat, backends, log)
	proxyHandler := handler.NewProxyHandler(log, lb, handler.Options{
		Prefix:       cfg.Proxy.Prefix,
		MaxBodyBytes: cfg.Proxy.MaxBodyBytes,
		Observer:     prom,
	})

	return &app{
		registry:   reg,
		collector:  collector,
		prometheus: prom,
		router:     setupRouter(cfg.Proxy.Prefix, proxyHandler, collector, prom),
	}, nil
}

func initializeBackends(cfg *config.Config, log *slog.Logger) ([]*backend.Backend, error) {
	backends := make([]*backend.Backend, 0, len(cfg.Backends))

	for _, bc := range cfg.Backends {
		b, err := backend.Parse(bc.URL, metrics.ParsePriority(bc.Priority))
		if err != nil {
			return nil, fmt.Errorf("backend %q: %w", bc.URL, err)
		}
		backends = append(backends, b)
		log.Debug("Registered backend",
			slog.String("url", b.String()),
			slog.String("priority", string(b.Priority())))
	}

	if len(backends) == 0 {
		return nil, registry.ErrNoBackends
	}

	return backends, nil
}

func newCollector(cfg *config.Config) *metrics.Collector {
	return metrics.NewCollector(metrics.Options{
		Priority:           metrics.ParsePriority(cfg.Metrics.Priority),
		LatencyThreshold:   cfg.Metrics.LatencyThreshold,
		ErrorRateThreshold: cfg.Metrics.ErrorRateThreshold,
		LatencyWindow:      cfg.Metrics.LatencyWindow,
		ErrorWindow:        cfg.Metrics.ErrorWindow,
		ConcurrencyWindow:  cfg.Metrics.ConcurrencyWindow,
	})
}

func createStrategy(policy string, fetcher strategy.SnapshotFetcher, observer strategy.Observer) (strategy.Strategy, error) {
	switch policy {
	case strategy.PolicyScore:
		return strategy.NewScoredStrategy(fetcher, observer), nil
	case strategy.PolicyRoundRobin:
		return strategy.NewRoundRobinStrategy(), nil
	default:
		return nil, fmt.Errorf("unknown dispatch policy %q", policy)
	}
}
