// Package connmanager implements the connection manager: the
// orchestrator between the vault, the per-account breakers, and the
// per-account connection pools. Its core operation, ExecuteTemplate, selects
// an available account, borrows a connection, executes, and records the
// outcome back into the breaker and the vault's health score.
package connmanager

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/breaker"
	coreerrors "github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/errors"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/pool"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/vault"
)

// healthDelta is the fixed EWMA-free nudge ExecuteTemplate applies to an
// account's vault-reported health score on a bare success/failure, distinct
// from the health monitor's own EWMA update.
const (
	healthDeltaSuccess = 2.0
	healthDeltaFailure = -5.0
)

// Options customizes a single ExecuteTemplate call.
type Options struct {
	PreferredAccount string
	Timeout          time.Duration // caller deadline for driver.Execute; defaults to 1s when unset
	ConnectTimeout   time.Duration // defaults to Pool config's ConnectionTimeout
}

// Manager is the connection manager. Safe for concurrent use.
type Manager struct {
	vault    *vault.Vault
	breakers *breaker.Manager
	drv      driver.Driver
	poolCfg  config.PoolConfig
	log      logr.Logger
	tracer   trace.Tracer

	mu    sync.Mutex
	pools map[string]*pool.Pool
}

// New constructs a connection manager. Pools are created lazily per account
// on first selection.
func New(v *vault.Vault, breakers *breaker.Manager, drv driver.Driver, poolCfg config.PoolConfig, log logr.Logger) *Manager {
	return &Manager{
		vault:    v,
		breakers: breakers,
		drv:      drv,
		poolCfg:  poolCfg,
		log:      log,
		tracer:   otel.Tracer("connmanager"),
		pools:    make(map[string]*pool.Pool),
	}
}

func (m *Manager) poolFor(ctx context.Context, a *vault.Account) *pool.Pool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[a.Username]; ok {
		return p
	}
	accCfg := driver.AccountConfig{Username: a.Username, DSN: a.DSN, Params: a.Params}
	p := pool.New(ctx, a.Username, m.drv, accCfg, m.poolCfg, m.log)
	m.pools[a.Username] = p
	return p
}

// candidates builds the priority/health-ordered, availability-filtered
// account list. Availability here means
// isActive && !inCooldown; breaker permission is checked once per candidate
// during iteration (not here) so a HALF_OPEN account's single probe slot
// isn't consumed twice by the same call.
func (m *Manager) candidates(opts Options) []*vault.Account {
	all := m.vault.ListAccounts() // already priority-ascending
	out := make([]*vault.Account, 0, len(all))
	for _, a := range all {
		if a.IsActive() && !a.InCooldown() {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority < out[j].Priority
		}
		return out[i].HealthScore() > out[j].HealthScore()
	})

	if opts.PreferredAccount != "" {
		for i, a := range out {
			if a.Username == opts.PreferredAccount {
				out = append(out[:i:i], out[i+1:]...)
				out = append([]*vault.Account{a}, out...)
				break
			}
		}
	}
	return out
}

// ExecuteTemplate is the connection manager's core operation: it resolves
// an available account, acquires a pooled session, and executes the named
// template against it.
func (m *Manager) ExecuteTemplate(ctx context.Context, template string, params map[string]interface{}, opts Options) (*driver.Result, error) {
	ctx, span := m.tracer.Start(ctx, "connmanager.ExecuteTemplate", trace.WithAttributes(
		attribute.String("template", template),
	))
	defer span.End()

	execTimeout := opts.Timeout
	if execTimeout <= 0 {
		execTimeout = 1 * time.Second
	}
	connectTimeout := opts.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = m.poolCfg.ConnectionTimeout
	}

	for _, a := range m.candidates(opts) {
		if !m.breakers.CanExecute(a.Username) {
			continue
		}

		p := m.poolFor(ctx, a)
		conn, err := p.Borrow(ctx, connectTimeout)
		if err != nil {
			m.breakers.For(a.Username).RecordFailure()
			a.AdjustHealth(healthDeltaFailure)
			a.NoteOutcome(false)
			m.log.V(1).Info("borrow failed, advancing breaker and trying next account", "account", a.Username, "error", err)
			continue
		}

		execCtx, cancel := context.WithTimeout(ctx, execTimeout)
		res, execErr := conn.Session().Execute(execCtx, template, params)
		cancel()

		if execErr == nil {
			p.Return(conn, nil)
			m.breakers.For(a.Username).RecordSuccess()
			a.AdjustHealth(healthDeltaSuccess)
			a.NoteOutcome(true)
			span.SetAttributes(attribute.String("account", a.Username))
			span.SetStatus(codes.Ok, "")
			return res, nil
		}

		class := driver.ClassOf(execErr)
		if execCtx.Err() == context.DeadlineExceeded {
			class = driver.ErrorClassTimeout
		}
		p.Return(conn, execErr)

		if class == driver.ErrorClassQuery {
			// Query-level errors never trip the breaker and never fail
			// over.
			span.RecordError(execErr)
			span.SetStatus(codes.Error, "query error")
			return nil, coreerrors.New(coreerrors.KindQueryError, a.Username, execErr)
		}

		kind := coreerrors.KindNetworkTransient
		switch class {
		case driver.ErrorClassAuth:
			kind = coreerrors.KindAuthRejected
		case driver.ErrorClassTimeout:
			kind = coreerrors.KindTimeout
		}
		m.breakers.For(a.Username).RecordFailure()
		a.AdjustHealth(healthDeltaFailure)
		a.NoteOutcome(false)
		m.log.V(1).Info("breaker-worthy error, failing over to next account", "account", a.Username, "kind", kind)
	}

	span.SetStatus(codes.Error, "no accounts available")
	return nil, coreerrors.ErrNoAccountsAvailable
}

// ProbeAccount executes template against exactly one named account,
// honoring its breaker but never failing over to another account — the
// single-account path the health monitor uses to probe a specific account
// directly rather than letting the manager pick one.
func (m *Manager) ProbeAccount(ctx context.Context, account string, template string, timeout time.Duration) (*driver.Result, time.Duration, error) {
	a, ok := m.vault.Get(account)
	if !ok {
		return nil, 0, coreerrors.ErrNoAccountsAvailable
	}
	if !m.breakers.CanExecute(account) {
		return nil, 0, coreerrors.ErrNoAccountsAvailable
	}

	p := m.poolFor(ctx, a)
	conn, err := p.Borrow(ctx, m.poolCfg.ConnectionTimeout)
	if err != nil {
		m.breakers.For(account).RecordFailure()
		return nil, 0, coreerrors.New(coreerrors.KindConnection, account, err)
	}

	start := time.Now()
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	res, execErr := conn.Session().Execute(execCtx, template, nil)
	cancel()
	latency := time.Since(start)

	p.Return(conn, execErr)
	if execErr != nil {
		m.breakers.For(account).RecordFailure()
		return nil, latency, coreerrors.New(coreerrors.KindTimeout, account, execErr)
	}
	m.breakers.For(account).RecordSuccess()
	return res, latency, nil
}

// PoolStats returns each known account pool's current occupancy, keyed by
// account name. Used by the admin/debug surface.
func (m *Manager) PoolStats() map[string]pool.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]pool.Stats, len(m.pools))
	for name, p := range m.pools {
		out[name] = p.Snapshot()
	}
	return out
}

// Close closes every per-account pool this manager has created.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	pools := make([]*pool.Pool, 0, len(m.pools))
	for _, p := range m.pools {
		pools = append(pools, p)
	}
	m.mu.Unlock()

	var firstErr error
	for _, p := range pools {
		if err := p.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
