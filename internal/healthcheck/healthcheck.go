package healthcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
	"github.com/angeloszaimis/scoreproxy/internal/scoring"
)

// Fetcher retrieves a backend's current health.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, b *backend.Backend) (metrics.Snapshot, error)
}

// ScoreObserver receives the score of every probe.
type ScoreObserver interface {
	ObserveScore(backend string, score float64, err error)
}

// Probe fetches every backend's snapshot on each tick until ctx is done, so
// reachability, breaker state and the score gauges stay current while the
// proxy is idle. observer may be nil.
func Probe(
	ctx context.Context,
	fetcher Fetcher,
	backends []*backend.Backend,
	interval time.Duration,
	observer ScoreObserver,
	logger *slog.Logger,
) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("Snapshot probing started",
		slog.Int("backends", len(backends)),
		slog.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Snapshot probing stopped")
			return

		case <-ticker.C:
			for _, b := range backends {
				snap, err := fetcher.FetchSnapshot(ctx, b)
				if ctx.Err() != nil {
					return
				}

				var score float64
				if err == nil {
					score = scoring.Score(snap)
				}
				if observer != nil {
					observer.ObserveScore(b.String(), score, err)
				}
				logger.Debug("Probed backend",
					slog.String("server", b.String()),
					slog.String("score", scoring.FormatPoints(score)),
					slog.Bool("reachable", err == nil))
			}
		}
	}
}
