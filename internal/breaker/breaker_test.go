package breaker_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/breaker"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
)

// newTestBreaker builds a breaker with a mutable clock so tests can advance
// time deterministically instead of sleeping.
func newTestBreaker(cfg config.BreakerConfig) (*breaker.Breaker, *fakeClock) {
	b := breaker.New(cfg)
	clock := &fakeClock{t: time.Now()}
	b.SetClockForTest(clock.Now)
	return b, clock
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

var _ = Describe("Breaker", func() {
	var cfg config.BreakerConfig

	BeforeEach(func() {
		cfg = config.BreakerConfig{
			FailureThreshold:  3,
			RecoveryTimeout:   5 * time.Second,
			SuccessThreshold:  2,
			TimeWindow:        10 * time.Minute,
			MaxBackoff:        5 * time.Minute,
			BackoffMultiplier: 2,
		}
	})

	Describe("opening and recovering", func() {
		It("opens after failureThreshold failures, then recovers through HALF_OPEN", func() {
			b, clock := newTestBreaker(cfg)

			Expect(b.CanExecute()).To(BeTrue())
			b.RecordFailure()
			b.RecordFailure()
			Expect(b.Snapshot().State).To(Equal(breaker.StateClosed))
			b.RecordFailure()

			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateOpen))
			Expect(snap.NextRetryAt).To(BeTemporally(">", clock.t))

			Expect(b.CanExecute()).To(BeFalse())

			clock.Advance(5001 * time.Millisecond)
			Expect(b.CanExecute()).To(BeTrue())
			Expect(b.Snapshot().State).To(Equal(breaker.StateHalfOpen))

			b.RecordSuccess()
			Expect(b.Snapshot().State).To(Equal(breaker.StateHalfOpen))
			b.RecordSuccess()

			snap = b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateClosed))
			Expect(snap.FailureCount).To(Equal(0))
		})

		It("reopens with a fresh nextRetryAt on a HALF_OPEN failure", func() {
			b, clock := newTestBreaker(cfg)
			b.RecordFailure()
			b.RecordFailure()
			b.RecordFailure()
			clock.Advance(5001 * time.Millisecond)
			Expect(b.CanExecute()).To(BeTrue())
			Expect(b.Snapshot().State).To(Equal(breaker.StateHalfOpen))

			b.RecordFailure()
			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateOpen))
			Expect(snap.NextRetryAt).To(BeTemporally(">", clock.t))
		})
	})

	Describe("exponential backoff", func() {
		It("grows on consecutive OPEN episodes, capped at maxBackoff", func() {
			cfg.MaxBackoff = 20 * time.Second
			b, clock := newTestBreaker(cfg)

			trip := func() time.Duration {
				b.RecordFailure()
				b.RecordFailure()
				b.RecordFailure()
				snap := b.Snapshot()
				return snap.NextRetryAt.Sub(clock.t)
			}

			first := trip() // 5s
			Expect(first).To(Equal(5 * time.Second))

			clock.Advance(first + time.Millisecond)
			Expect(b.CanExecute()).To(BeTrue()) // -> HALF_OPEN
			b.RecordFailure()                   // -> OPEN again, episode 2
			second := b.Snapshot().NextRetryAt.Sub(clock.t)
			Expect(second).To(Equal(10 * time.Second))

			clock.Advance(second + time.Millisecond)
			Expect(b.CanExecute()).To(BeTrue())
			b.RecordFailure()
			third := b.Snapshot().NextRetryAt.Sub(clock.t)
			Expect(third).To(Equal(cfg.MaxBackoff)) // 20s would be 20s; next would exceed cap
		})
	})

	Describe("sliding window", func() {
		It("drops failures older than timeWindow before threshold evaluation", func() {
			cfg.TimeWindow = 1 * time.Second
			b, clock := newTestBreaker(cfg)

			b.RecordFailure()
			b.RecordFailure()
			clock.Advance(2 * time.Second)
			b.RecordFailure()

			Expect(b.Snapshot().State).To(Equal(breaker.StateClosed))
			Expect(b.Snapshot().FailureCount).To(Equal(1))
		})
	})

	Describe("reset", func() {
		It("forces CLOSED with zeroed counters from any state", func() {
			b, clock := newTestBreaker(cfg)
			b.RecordFailure()
			b.RecordFailure()
			b.RecordFailure()
			clock.Advance(10 * time.Second)

			b.Reset()
			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateClosed))
			Expect(snap.FailureCount).To(Equal(0))
			Expect(snap.TotalFailures).To(Equal(int64(0)))
			Expect(snap.NextRetryAt.IsZero()).To(BeTrue())
		})

		It("is idempotent on an already-CLOSED breaker", func() {
			b, _ := newTestBreaker(cfg)
			b.Reset()
			b.Reset()
			Expect(b.Snapshot().State).To(Equal(breaker.StateClosed))
		})
	})

	Describe("concurrency", func() {
		It("lands in OPEN exactly once when a burst of failures collectively crosses the threshold", func() {
			b, _ := newTestBreaker(cfg)
			done := make(chan struct{})
			for i := 0; i < 20; i++ {
				go func() {
					defer GinkgoRecover()
					b.RecordFailure()
					done <- struct{}{}
				}()
			}
			for i := 0; i < 20; i++ {
				<-done
			}
			snap := b.Snapshot()
			Expect(snap.State).To(Equal(breaker.StateOpen))
			Expect(snap.FailureCount).To(BeNumerically(">=", cfg.FailureThreshold))
		})
	})
})
