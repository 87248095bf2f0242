package loadbalancer_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/internal/backend"
	"github.com/angeloszaimis/scoreproxy/internal/loadbalancer"
	"github.com/angeloszaimis/scoreproxy/internal/strategy"
)

type failingStrategy struct{ err error }

func (f failingStrategy) Name() string { return "failing" }

func (f failingStrategy) Rank(context.Context, []*backend.Backend) (strategy.Ranking, error) {
	return nil, f.err
}

type emptyStrategy struct{}

func (emptyStrategy) Name() string { return "empty" }

func (emptyStrategy) Rank(context.Context, []*backend.Backend) (strategy.Ranking, error) {
	return strategy.Ranking{}, nil
}

var _ = Describe("LoadBalancer", func() {
	var (
		lb       *loadbalancer.LoadBalancer
		backends []*backend.Backend
		logger   *slog.Logger
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		logger = slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
		backends = []*backend.Backend{
			backend.New(mustParseURL("http://localhost:8081"), ""),
			backend.New(mustParseURL("http://localhost:8082"), ""),
			backend.New(mustParseURL("http://localhost:8083"), ""),
		}
		lb = loadbalancer.NewLoadBalancer(strategy.NewRoundRobinStrategy(), backends, logger)
	})

	Describe("Reserve", func() {
		It("should reserve the winner only", func() {
			ranking, err := lb.Reserve(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ranking).To(HaveLen(3))
			Expect(ranking.Winner().Backend).To(Equal(backends[0]))
			Expect(backends[0].ActiveConnections()).To(Equal(1))
			Expect(backends[1].ActiveConnections()).To(Equal(0))
		})

		It("should follow the strategy across calls", func() {
			for _, expected := range []int{0, 1, 2, 0} {
				ranking, err := lb.Reserve(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(ranking.Winner().Backend).To(Equal(backends[expected]))
			}
		})

		It("should fail without backends", func() {
			lb = loadbalancer.NewLoadBalancer(strategy.NewRoundRobinStrategy(), nil, logger)
			_, err := lb.Reserve(ctx)
			Expect(err).To(HaveOccurred())
		})

		It("should wrap strategy errors", func() {
			lb = loadbalancer.NewLoadBalancer(failingStrategy{err: context.Canceled}, backends, logger)
			_, err := lb.Reserve(ctx)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})

		It("should reject an empty ranking", func() {
			lb = loadbalancer.NewLoadBalancer(emptyStrategy{}, backends, logger)
			_, err := lb.Reserve(ctx)
			Expect(err).To(MatchError(ContainSubstring("empty ranking")))
		})
	})

	Describe("Switch", func() {
		It("should move the reservation", func() {
			ranking, _ := lb.Reserve(ctx)
			lb.Switch(ranking[0].Backend, ranking[1].Backend)
			Expect(ranking[0].Backend.ActiveConnections()).To(Equal(0))
			Expect(ranking[1].Backend.ActiveConnections()).To(Equal(1))
		})
	})

	Describe("Release", func() {
		It("should free the backend and record the forward time", func() {
			ranking, _ := lb.Reserve(ctx)
			winner := ranking.Winner().Backend
			lb.Release(winner, 40*time.Millisecond)
			Expect(winner.ActiveConnections()).To(Equal(0))
			Expect(winner.ForwardTime()).To(Equal(40 * time.Millisecond))
		})

		It("should skip the average for an unmeasured request", func() {
			ranking, _ := lb.Reserve(ctx)
			winner := ranking.Winner().Backend
			lb.Release(winner, 0)
			Expect(winner.ForwardTime()).To(BeZero())
		})
	})

	It("should expose its strategy", func() {
		Expect(lb.LoadBalancerStrategy().Name()).To(Equal(strategy.PolicyRoundRobin))
	})
})
