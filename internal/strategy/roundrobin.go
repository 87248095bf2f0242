package strategy

import (
	"context"
	"sync/atomic"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
)

type roundRobinStrategy struct {
	current uint64
}

func NewRoundRobinStrategy() Strategy {
	return &roundRobinStrategy{}
}

func (rb *roundRobinStrategy) Name() string {
	return PolicyRoundRobin
}

// Rank puts the next backend in rotation first and keeps the rest in
// configured order after it, wrapping around.
func (rb *roundRobinStrategy) Rank(_ context.Context, backends []*backend.Backend) (Ranking, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	n := atomic.AddUint64(&rb.current, 1)
	index := int((n - 1) % uint64(len(backends)))

	ranking := make(Ranking, 0, len(backends))
	for i := range backends {
		ranking = append(ranking, Choice{Backend: backends[(index+i)%len(backends)]})
	}
	return ranking, nil
}
