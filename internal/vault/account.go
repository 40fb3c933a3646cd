package vault

import "sync"

// accountRecord is the on-disk (post-decrypt) shape of one account config.
type accountRecord struct {
	Username string            `json:"username"`
	Priority int               `json:"priority"`
	DSN      string            `json:"dsn"`
	Params   map[string]string `json:"params"`
}

// Spec is the exported input shape for Seal — callers outside this package
// (provisioning tools, tests) describe an account without reaching into the
// unexported on-disk record type.
type Spec struct {
	Username string
	Priority int
	DSN      string
	Params   map[string]string
}

// Account is an immutable identity plus mutable runtime state. Every
// mutation goes through a method so the vault's
// invariants (priority uniqueness, active-gates-selection) stay enforced in
// one place.
type Account struct {
	Username string
	Priority int // lower is preferred
	DSN      string
	Params   map[string]string

	mu                  sync.RWMutex
	isActive            bool
	consecutiveFailures int
	inCooldown          bool
	healthScore         float64
}

func newAccount(r accountRecord) *Account {
	return &Account{
		Username:    r.Username,
		Priority:    r.Priority,
		DSN:         r.DSN,
		Params:      r.Params,
		isActive:    true,
		healthScore: 100,
	}
}

// IsActive reports the account's active flag. An inactive account is never
// selected even if its breaker is closed.
func (a *Account) IsActive() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.isActive
}

// SetActive flips the active flag.
func (a *Account) SetActive(active bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.isActive = active
}

// InCooldown reports whether the account is in an operator- or health-
// monitor-imposed cooldown, independent of breaker state.
func (a *Account) InCooldown() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.inCooldown
}

// SetCooldown flips the cooldown flag.
func (a *Account) SetCooldown(cooldown bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inCooldown = cooldown
}

// HealthScore returns the current health score in [0,100].
func (a *Account) HealthScore() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.healthScore
}

// AdjustHealth applies delta to the health score, clamped to [0,100]. The
// health monitor is the primary writer; the connection manager also nudges
// it on successful/failed executeTemplate calls.
func (a *Account) AdjustHealth(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthScore += delta
	if a.healthScore > 100 {
		a.healthScore = 100
	}
	if a.healthScore < 0 {
		a.healthScore = 0
	}
}

// SetHealth sets the health score directly (used by the health monitor's
// EWMA update, which computes an absolute new value rather than a delta).
func (a *Account) SetHealth(score float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	a.healthScore = score
}

// ConsecutiveFailures returns the account's consecutive-failure counter,
// tracked independently of the breaker's own sliding window for vault-level
// reporting.
func (a *Account) ConsecutiveFailures() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.consecutiveFailures
}

// NoteOutcome updates the consecutive-failure counter.
func (a *Account) NoteOutcome(success bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if success {
		a.consecutiveFailures = 0
	} else {
		a.consecutiveFailures++
	}
}
