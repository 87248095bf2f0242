package strategy

import (
	"cmp"
	"context"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/scoring"
)

type scoredStrategy struct {
	fetcher  SnapshotFetcher
	observer Observer
}

// NewScoredStrategy ranks backends by the score of their live snapshot.
// observer may be nil.
func NewScoredStrategy(fetcher SnapshotFetcher, observer Observer) Strategy {
	return &scoredStrategy{
		fetcher:  fetcher,
		observer: observer,
	}
}

func (s *scoredStrategy) Name() string {
	return PolicyScore
}

// Rank fetches every backend's snapshot concurrently, once each, and sorts
// by descending score. Ties, including an all-zero outage, keep configured
// order. Failed fetches score 0 and stay in the ranking. If ctx ends before
// the fan-out joins, the outstanding fetches are abandoned and ctx's error
// is returned.
func (s *scoredStrategy) Rank(ctx context.Context, backends []*backend.Backend) (Ranking, error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}

	ranking := make(Ranking, len(backends))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(backends))

	for i, b := range backends {
		g.Go(func() error {
			snap, err := s.fetcher.FetchSnapshot(gctx, b)
			choice := Choice{Backend: b, Err: err}
			if err == nil {
				choice.Score = scoring.Score(snap)
				choice.Scored = true
			}
			ranking[i] = choice

			if s.observer != nil && gctx.Err() == nil {
				s.observer.ObserveScore(b.String(), choice.Score, err)
			}
			// a failed fetch must not cancel its siblings
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	slices.SortStableFunc(ranking, func(a, b Choice) int {
		return cmp.Compare(b.Score, a.Score)
	})
	return ranking, nil
}
