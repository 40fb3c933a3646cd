// Package health implements the periodic health monitor: one
// probe per account per tick, an EWMA health-score update fed back into the
// vault, and threshold-crossing alerts on an in-process fan-out.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/connmanager"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

// ProbeTemplate is the named template consumed for health probes.
const ProbeTemplate = "CHECK_HEALTH"

const (
	// ewmaAlpha weights the newest observation against history.
	ewmaAlpha = 0.3
	// latencyThreshold is the point above which a successful probe still
	// discounts the health score.
	latencyThreshold = 500 * time.Millisecond
	failureRateWindow = 20 // probes considered for the maxFailureRate check
)

// Monitor runs the periodic probe tick.
type Monitor struct {
	cfg     config.HealthConfig
	vault   *vault.Vault
	conn    *connmanager.Manager
	publish Publisher
	log     logr.Logger

	mu           sync.Mutex
	probeBreaker map[string]*gobreaker.CircuitBreaker
	recent       map[string][]bool // ring (as a slice, newest appended) of recent probe outcomes
	wasDegraded  map[string]bool
	wasCritical  map[string]bool

	group  *errgroup.Group
	cancel context.CancelFunc

	sf singleflight.Group
}

// New constructs a health monitor. Call Start to begin ticking.
func New(cfg config.HealthConfig, v *vault.Vault, conn *connmanager.Manager, publish Publisher, log logr.Logger) *Monitor {
	return &Monitor{
		cfg:          cfg,
		vault:        v,
		conn:         conn,
		publish:      publish,
		log:          log,
		probeBreaker: make(map[string]*gobreaker.CircuitBreaker),
		recent:       make(map[string][]bool),
		wasDegraded:  make(map[string]bool),
		wasCritical:  make(map[string]bool),
	}
}

// Start begins the periodic tick loop in a background goroutine, joined on
// Close.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	group, gctx := errgroup.WithContext(ctx)
	m.group = group
	group.Go(func() error {
		m.loop(gctx)
		return nil
	})
}

func (m *Monitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes every known account once, updating health scores and
// emitting alerts. Exported so callers (and tests) can drive a tick
// synchronously instead of waiting on the ticker.
func (m *Monitor) Tick(ctx context.Context) {
	accounts := m.vault.ListAccounts()
	var wg sync.WaitGroup
	for _, a := range accounts {
		a := a
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.probeOne(ctx, a)
		}()
	}
	wg.Wait()

	m.checkFleetAlerts(accounts)
}

func (m *Monitor) probeBreakerFor(account string) *gobreaker.CircuitBreaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, ok := m.probeBreaker[account]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "probe:" + account,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     m.cfg.CheckInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	m.probeBreaker[account] = cb
	return cb
}

func (m *Monitor) probeOne(ctx context.Context, a *vault.Account) {
	// Coalesce concurrent probes for the same account (Tick overlapping a
	// manually-triggered probe, for instance).
	_, _, _ = m.sf.Do(a.Username, func() (interface{}, error) {
		cb := m.probeBreakerFor(a.Username)
		_, err := cb.Execute(func() (interface{}, error) {
			_, latency, err := m.conn.ProbeAccount(ctx, a.Username, ProbeTemplate, m.cfg.CheckInterval/2)
			m.recordOutcome(a, err == nil, latency)
			return nil, err
		})
		return nil, err
	})
}

func (m *Monitor) recordOutcome(a *vault.Account, success bool, latency time.Duration) {
	m.mu.Lock()
	ring := append(m.recent[a.Username], success)
	if len(ring) > failureRateWindow {
		ring = ring[len(ring)-failureRateWindow:]
	}
	m.recent[a.Username] = ring
	m.mu.Unlock()

	target := 0.0
	if success {
		target = 100.0
		if latency > latencyThreshold {
			target = 70.0 // discount a slow-but-successful probe
		}
	}
	old := a.HealthScore()
	newScore := ewmaAlpha*target + (1-ewmaAlpha)*old
	a.SetHealth(newScore)

	m.checkAccountAlerts(a, newScore)
}

func (m *Monitor) checkAccountAlerts(a *vault.Account, score float64) {
	now := time.Now()

	m.mu.Lock()
	wasDegraded := m.wasDegraded[a.Username]
	wasCritical := m.wasCritical[a.Username]
	isDegraded := score < m.cfg.DegradedHealthScore
	isCritical := score < m.cfg.CriticalHealthScore
	m.wasDegraded[a.Username] = isDegraded
	m.wasCritical[a.Username] = isCritical
	ring := append([]bool{}, m.recent[a.Username]...)
	m.mu.Unlock()

	if isDegraded && !wasDegraded {
		m.publish.Publish(Alert{Kind: AlertDegradedHealth, Account: a.Username, Value: score, Threshold: m.cfg.DegradedHealthScore, At: now})
	}
	if isCritical && !wasCritical {
		m.publish.Publish(Alert{Kind: AlertCriticalHealth, Account: a.Username, Value: score, Threshold: m.cfg.CriticalHealthScore, At: now})
	}

	if len(ring) > 0 {
		failures := 0
		for _, ok := range ring {
			if !ok {
				failures++
			}
		}
		rate := float64(failures) / float64(len(ring))
		if rate > m.cfg.MaxFailureRate {
			m.publish.Publish(Alert{Kind: AlertFailureRateExceeded, Account: a.Username, Value: rate, Threshold: m.cfg.MaxFailureRate, At: now})
		}
	}
}

func (m *Monitor) checkFleetAlerts(accounts []*vault.Account) {
	available := 0
	for _, a := range accounts {
		if a.IsActive() && !a.InCooldown() {
			available++
		}
	}
	if available < m.cfg.MinAvailableAccounts {
		m.publish.Publish(Alert{
			Kind:      AlertMinAccountsAvailable,
			Value:     float64(available),
			Threshold: float64(m.cfg.MinAvailableAccounts),
			At:        time.Now(),
		})
	}
}

// Close stops the tick loop and joins its goroutine.
func (m *Monitor) Close() error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	return m.group.Wait()
}
