package breaker

import (
	"sync"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
)

// Manager owns one Breaker per account, created lazily on first reference.
type Manager struct {
	cfg config.BreakerConfig

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewManager constructs a breaker manager sharing cfg across every account.
func NewManager(cfg config.BreakerConfig) *Manager {
	return &Manager{cfg: cfg, breakers: make(map[string]*Breaker)}
}

// For returns the breaker for account, creating it in CLOSED state if this
// is the first reference.
func (m *Manager) For(account string) *Breaker {
	m.mu.RLock()
	b, ok := m.breakers[account]
	m.mu.RUnlock()
	if ok {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[account]; ok {
		return b
	}
	b = New(m.cfg)
	m.breakers[account] = b
	return b
}

// CanExecute is sugar for Manager.For(account).CanExecute().
func (m *Manager) CanExecute(account string) bool {
	return m.For(account).CanExecute()
}

// Snapshot returns every known account's current breaker metrics, keyed by
// account name. Used by the admin/debug surface.
func (m *Manager) Snapshot() map[string]Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Metrics, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// Reset resets the named account's breaker, if it exists.
func (m *Manager) Reset(account string) {
	m.mu.RLock()
	b, ok := m.breakers[account]
	m.mu.RUnlock()
	if ok {
		b.Reset()
	}
}
