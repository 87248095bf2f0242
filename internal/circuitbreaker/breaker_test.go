package circuitbreaker_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/angeloszaimis/scoreproxy/internal/circuitbreaker"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var _ = Describe("CircuitBreaker", func() {
	var (
		cb    *circuitbreaker.CircuitBreaker
		clock *fakeClock
	)

	trip := func() {
		for i := 0; i < 3; i++ {
			cb.RecordFailure()
		}
		Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
	}

	BeforeEach(func() {
		clock = newFakeClock()
		cb = circuitbreaker.NewCircuitBreakerWithClock(3, time.Second, clock.Now)
	})

	It("should start closed", func() {
		Expect(circuitbreaker.NewCircuitBreaker(5, time.Second).State()).To(Equal(circuitbreaker.StateClosed))
	})

	Context("when closed", func() {
		It("should allow fetches", func() {
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should stay closed below the threshold", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})

		It("should forget failures after a success", func() {
			cb.RecordFailure()
			cb.RecordFailure()
			cb.RecordSuccess()
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
		})
	})

	Context("when open", func() {
		BeforeEach(trip)

		It("should refuse fetches before the reset timeout", func() {
			clock.Advance(500 * time.Millisecond)
			Expect(cb.Allow()).To(BeFalse())
		})

		It("should let one probe through after the reset timeout", func() {
			clock.Advance(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			Expect(cb.State()).To(Equal(circuitbreaker.StateHalfOpen))
			Expect(cb.Allow()).To(BeFalse())
		})

		It("should close when the probe succeeds", func() {
			clock.Advance(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			cb.RecordSuccess()
			Expect(cb.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(cb.Allow()).To(BeTrue())
		})

		It("should reopen when the probe fails", func() {
			clock.Advance(time.Second)
			Expect(cb.Allow()).To(BeTrue())
			cb.RecordFailure()
			Expect(cb.State()).To(Equal(circuitbreaker.StateOpen))
			Expect(cb.Allow()).To(BeFalse())
		})
	})

	It("should admit a single concurrent probe", func() {
		trip()
		clock.Advance(2 * time.Second)

		var admitted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if cb.Allow() {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()
		Expect(admitted.Load()).To(Equal(int32(1)))
	})

	Context("with a zero threshold", func() {
		It("should never open", func() {
			disabled := circuitbreaker.NewCircuitBreaker(0, time.Second)
			for i := 0; i < 100; i++ {
				disabled.RecordFailure()
			}
			Expect(disabled.State()).To(Equal(circuitbreaker.StateClosed))
			Expect(disabled.Allow()).To(BeTrue())
		})
	})

	DescribeTable("State.String",
		func(s circuitbreaker.State, expected string) {
			Expect(s.String()).To(Equal(expected))
		},
		Entry("closed", circuitbreaker.StateClosed, "CLOSED"),
		Entry("open", circuitbreaker.StateOpen, "OPEN"),
		Entry("half-open", circuitbreaker.StateHalfOpen, "HALF-OPEN"),
		Entry("unknown", circuitbreaker.State(42), "UNKNOWN"),
	)
})

var _ = Describe("Abandon", func() {
	It("should let another caller probe", func() {
		clock := newFakeClock()
		cb := circuitbreaker.NewCircuitBreakerWithClock(1, time.Second, clock.Now)
		cb.RecordFailure()
		clock.Advance(time.Second)

		Expect(cb.Allow()).To(BeTrue())
		Expect(cb.Allow()).To(BeFalse())
		cb.Abandon()
		Expect(cb.Allow()).To(BeTrue())
	})
})
