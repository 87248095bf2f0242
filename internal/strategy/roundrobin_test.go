package strategy_test

import (
	"context"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
)

var _ = Describe("RoundRobin", func() {
	var (
		strat    strategy.Strategy
		backends []*backend.Backend
		ctx      context.Context
	)

	winner := func() *backend.Backend {
		ranking, err := strat.Rank(ctx, backends)
		Expect(err).NotTo(HaveOccurred())
		return ranking.Winner().Backend
	}

	BeforeEach(func() {
		ctx = context.Background()
		strat = strategy.NewRoundRobinStrategy()
		backends = []*backend.Backend{
			backend.New(mustParseURL("http://localhost:8081"), ""),
			backend.New(mustParseURL("http://localhost:8082"), ""),
			backend.New(mustParseURL("http://localhost:8083"), ""),
		}
	})

	It("should be named after its policy", func() {
		Expect(strat.Name()).To(Equal(strategy.PolicyRoundRobin))
	})

	It("should visit A, B, C, A", func() {
		Expect(winner()).To(Equal(backends[0]))
		Expect(winner()).To(Equal(backends[1]))
		Expect(winner()).To(Equal(backends[2]))
		Expect(winner()).To(Equal(backends[0]))
	})

	It("should rank the rest in rotation order", func() {
		_, _ = strat.Rank(ctx, backends)

		ranking, err := strat.Rank(ctx, backends)
		Expect(err).NotTo(HaveOccurred())
		Expect(ranking).To(HaveLen(3))
		Expect(ranking[0].Backend).To(Equal(backends[1]))
		Expect(ranking[1].Backend).To(Equal(backends[2]))
		Expect(ranking[2].Backend).To(Equal(backends[0]))
		for _, c := range ranking {
			Expect(c.Scored).To(BeFalse())
		}
	})

	It("should distribute load evenly under concurrency", func() {
		var (
			mu     sync.Mutex
			wg     sync.WaitGroup
			counts = make(map[string]int)
		)
		for i := 0; i < 300; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ranking, err := strat.Rank(ctx, backends)
				if err != nil {
					return
				}
				mu.Lock()
				counts[ranking.Winner().Backend.String()]++
				mu.Unlock()
			}()
		}
		wg.Wait()

		Expect(counts["http://localhost:8081"]).To(Equal(100))
		Expect(counts["http://localhost:8082"]).To(Equal(100))
		Expect(counts["http://localhost:8083"]).To(Equal(100))
	})

	It("should refuse an empty backend list", func() {
		_, err := strat.Rank(ctx, nil)
		Expect(err).To(MatchError(strategy.ErrNoBackends))
	})
})
