// Command backend runs an instrumented service instance. Every API request
// passes through the metrics collector and the resulting health snapshot is
// published on GET /metrics for the proxy to score.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/angeloszaimis/scoreproxy/config"
	"github.com/angeloszaimis/scoreproxy/internal/httpserver"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
	"github.com/angeloszaimis/scoreproxy/pkg/logger"
)

func main() {
	cfg, err := config.LoadInstance()
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

	collector := metrics.NewCollector(metrics.Options{
		Priority:           metrics.ParsePriority(cfg.Metrics.Priority),
		LatencyThreshold:   cfg.Metrics.LatencyThreshold,
		ErrorRateThreshold: cfg.Metrics.ErrorRateThreshold,
		LatencyWindow:      cfg.Metrics.LatencyWindow,
		ErrorWindow:        cfg.Metrics.ErrorWindow,
		ConcurrencyWindow:  cfg.Metrics.ConcurrencyWindow,
	})

	srv, err := httpserver.New(cfg.Server.Address, setupRouter(collector, newCourseStore(), log), httpserver.Options{}, log)
	if err != nil {
		log.Error("Failed to create server", slog.Any("err", err))
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Start()
	}()

	log.Info("Backend instance started",
		slog.String("address", cfg.Server.Address),
		slog.String("priority", cfg.Metrics.Priority))

	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Error("Error during shutdown", slog.Any("err", err))
		}
	case err := <-srvErrCh:
		if err != nil {
			log.Error("Error starting backend", slog.Any("err", err))
			os.Exit(1)
		}
	}
}
