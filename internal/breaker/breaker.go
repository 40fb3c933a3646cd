// Package breaker implements the per-account circuit breaker: a three-state
// machine (CLOSED/OPEN/HALF_OPEN) with a sliding-window failure memory and
// exponential backoff, one instance per account, created lazily on first
// reference. The Settings/OnStateChange vocabulary follows gobreaker, but
// the sliding window and explicit nextRetryAt scheduling needed here go
// beyond what gobreaker exposes, so the state machine itself is hand-rolled
// (see DESIGN.md).
package breaker

import (
	"sync"
	"time"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
)

// State is one of the three breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Metrics is a consistent, read-only snapshot of one account's breaker.
type Metrics struct {
	State             State
	FailureCount      int
	TotalFailures      int64
	TotalSuccesses     int64
	LastFailureAt      time.Time
	LastSuccessAt      time.Time
	NextRetryAt        time.Time // zero value while CLOSED; HALF_OPEN keeps the value set when the breaker last opened
	HalfOpenSuccesses  int
}

// Breaker is one account's circuit breaker. All exported methods are safe
// for concurrent use; transitions happen under mu so a burst of concurrent
// calls lands in a consistent terminal state.
type Breaker struct {
	cfg config.BreakerConfig

	mu                sync.Mutex
	state             State
	window            []time.Time // failure timestamps within TimeWindow
	totalFailures     int64
	totalSuccesses    int64
	lastFailureAt     time.Time
	lastSuccessAt     time.Time
	nextRetryAt       time.Time
	halfOpenSuccesses int
	halfOpenInFlight  bool // resolves the "one concurrent HALF_OPEN probe" open question (DESIGN.md)
	openEpisodes      int  // consecutive OPEN entries since the last CLOSED, drives backoff growth

	now func() time.Time // overridable for tests
}

// New constructs a breaker in the initial CLOSED state.
func New(cfg config.BreakerConfig) *Breaker {
	return &Breaker{cfg: cfg, state: StateClosed, now: time.Now}
}

// SetClockForTest overrides the breaker's time source. Exported for
// deterministic tests that need to advance time without sleeping; not
// intended for production callers.
func (b *Breaker) SetClockForTest(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

// CanExecute reports whether a call against this account is currently
// permitted. Side-effectful only in that it may perform the OPEN->HALF_OPEN
// transition when the backoff has elapsed, and in HALF_OPEN it reserves the
// single in-flight probe slot.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !b.nextRetryAt.IsZero() && !b.now().Before(b.nextRetryAt) {
			b.state = StateHalfOpen
			b.halfOpenSuccesses = 0
			b.halfOpenInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}
		b.halfOpenInFlight = true
		return true
	default:
		return false
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalSuccesses++
	b.lastSuccessAt = now

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.halfOpenSuccesses++
		if b.halfOpenSuccesses >= b.cfg.SuccessThreshold {
			b.toClosedLocked()
		}
	case StateClosed:
		// success does not erase the sliding window; stale failures age out
		// on their own via pruneLocked on the next RecordFailure.
	}
}

// RecordFailure reports a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.totalFailures++
	b.lastFailureAt = now

	switch b.state {
	case StateHalfOpen:
		b.halfOpenInFlight = false
		b.toOpenLocked(now)
	case StateClosed:
		b.window = append(b.window, now)
		b.pruneLocked(now)
		if len(b.window) >= b.cfg.FailureThreshold {
			b.toOpenLocked(now)
		}
	case StateOpen:
		// already open; nothing to advance.
	}
}

// Reset forces CLOSED with every counter zeroed, regardless of current
// state. Idempotent.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.window = nil
	b.totalFailures = 0
	b.totalSuccesses = 0
	b.lastFailureAt = time.Time{}
	b.lastSuccessAt = time.Time{}
	b.nextRetryAt = time.Time{}
	b.halfOpenSuccesses = 0
	b.halfOpenInFlight = false
	b.openEpisodes = 0
}

// Snapshot returns a consistent copy of the breaker's metrics.
func (b *Breaker) Snapshot() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pruneLocked(b.now())
	return Metrics{
		State:             b.state,
		FailureCount:      len(b.window),
		TotalFailures:     b.totalFailures,
		TotalSuccesses:    b.totalSuccesses,
		LastFailureAt:     b.lastFailureAt,
		LastSuccessAt:     b.lastSuccessAt,
		NextRetryAt:       b.nextRetryAt,
		HalfOpenSuccesses: b.halfOpenSuccesses,
	}
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.window = nil
	b.halfOpenSuccesses = 0
	b.nextRetryAt = time.Time{}
	b.openEpisodes = 0
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = StateOpen
	b.openEpisodes++
	b.nextRetryAt = now.Add(b.backoffLocked())
	b.pruneLocked(now)
}

// backoffLocked computes the exponential backoff for the current (just
// incremented) openEpisodes count: backoff(n) = min(recoveryTimeout *
// multiplier^(n-1), maxBackoff). n=1 on the first trip, growing on each
// consecutive re-open (HALF_OPEN failing back to OPEN), reset to 0 whenever
// the breaker reaches CLOSED again.
func (b *Breaker) backoffLocked() time.Duration {
	n := b.openEpisodes
	d := float64(b.cfg.RecoveryTimeout)
	for i := 1; i < n; i++ {
		d *= b.cfg.BackoffMultiplier
	}
	if max := float64(b.cfg.MaxBackoff); d > max {
		d = max
	}
	return time.Duration(d)
}

// pruneLocked drops failure timestamps older than TimeWindow from the
// sliding window. Caller must hold mu.
func (b *Breaker) pruneLocked(now time.Time) {
	if b.cfg.TimeWindow <= 0 || len(b.window) == 0 {
		return
	}
	cutoff := now.Add(-b.cfg.TimeWindow)
	i := 0
	for i < len(b.window) && b.window[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		b.window = append([]time.Time{}, b.window[i:]...)
	}
}
