package strategy

import (
	"context"
	"errors"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/metrics"
)

const (
	PolicyScore      = "score"
	PolicyRoundRobin = "round-robin"
)

var ErrNoBackends = errors.New("no backends to rank")

// Choice is one backend considered for a request.
type Choice struct {
	Backend *backend.Backend
	// Score is in [0,1]. A backend whose snapshot could not be fetched scores 0.
	Score float64
	// Scored is false when the policy does not score or the fetch failed.
	Scored bool
	Err    error
}

// Ranking lists every backend for one request, best first. It lives only as
// long as the request it was computed for.
type Ranking []Choice

// Winner returns the best choice. It panics on an empty ranking.
func (r Ranking) Winner() Choice {
	return r[0]
}

type Strategy interface {
	Name() string
	Rank(ctx context.Context, backends []*backend.Backend) (Ranking, error)
}

// SnapshotFetcher retrieves a backend's current health.
type SnapshotFetcher interface {
	FetchSnapshot(ctx context.Context, b *backend.Backend) (metrics.Snapshot, error)
}

// Observer is told about every score computed during a fan-out.
type Observer interface {
	ObserveScore(backend string, score float64, err error)
}
