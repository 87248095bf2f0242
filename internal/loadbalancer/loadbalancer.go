package loadbalancer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/scoring"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
)

// LoadBalancer owns the configured backends and asks its strategy, once per
// request, which of them to use.
type LoadBalancer struct {
	strategy strategy.Strategy
	backends []*backend.Backend
	logger   *slog.Logger
}

func NewLoadBalancer(strategy strategy.Strategy, backends []*backend.Backend, logger *slog.Logger) *LoadBalancer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoadBalancer{
		strategy: strategy,
		backends: append([]*backend.Backend(nil), backends...),
		logger:   logger,
	}
}

// Reserve ranks the backends for one request and reserves the winner.
// The caller must Release whichever backend it ends up holding.
func (lb *LoadBalancer) Reserve(ctx context.Context) (strategy.Ranking, error) {
	if len(lb.backends) == 0 {
		return nil, fmt.Errorf("no backends configured")
	}

	ranking, err := lb.strategy.Rank(ctx, lb.backends)
	if err != nil {
		return nil, fmt.Errorf("rank backends: %w", err)
	}
	if len(ranking) == 0 {
		return nil, fmt.Errorf("strategy %s returned an empty ranking", lb.strategy.Name())
	}

	winner := ranking.Winner()
	winner.Backend.IncrementConn()

	if lb.logger.Enabled(ctx, slog.LevelDebug) {
		lb.logger.DebugContext(ctx, "backend selected",
			"policy", lb.strategy.Name(),
			"backend", winner.Backend.String(),
			"score", scoring.FormatPoints(winner.Score),
			"scored", winner.Scored,
		)
	}
	return ranking, nil
}

// Switch moves a reservation to the next candidate after from failed.
func (lb *LoadBalancer) Switch(from, to *backend.Backend) {
	from.DecrementConn()
	to.IncrementConn()
	lb.logger.Warn("falling back to next backend", "failed", from.String(), "next", to.String())
}

// Release ends a reservation. A positive elapsed time is folded into the
// backend's forward-time average.
func (lb *LoadBalancer) Release(b *backend.Backend, elapsed time.Duration) {
	b.DecrementConn()
	if elapsed > 0 {
		b.RecordForward(elapsed)
	}
}

func (lb *LoadBalancer) LoadBalancerStrategy() strategy.Strategy {
	return lb.strategy
}
