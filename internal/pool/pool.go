// Package pool implements the per-account bounded connection pool:
// a bounded set of live driver sessions with acquire/
// release semantics and a background health sweep, one pool per account.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/config"
	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// ErrBorrowTimeout is returned by Borrow when no connection becomes
// available within the configured timeout.
type ErrBorrowTimeout struct{ Account string }

func (e *ErrBorrowTimeout) Error() string { return "pool: borrow timeout for account " + e.Account }

// Pool is a bounded set of driver.Session instances for a single account.
// All exported methods are safe for concurrent use.
type Pool struct {
	account string
	driver  driver.Driver
	accCfg  driver.AccountConfig
	cfg     config.PoolConfig
	log     logr.Logger

	mu      sync.Mutex
	idle    []*Connection
	inUse   map[string]*Connection
	pending int             // reserved slots: capacity claimed but not yet a live connection
	waiters []chan struct{} // FIFO of parties waiting for a release

	closeOnce sync.Once
	cancel    context.CancelFunc
	group     *errgroup.Group
}

// New constructs a pool for account and starts its background health
// sweep. minPoolSize connections are opened eagerly best-effort; failures to
// reach minPoolSize at construction are not fatal: Borrow opens connections
// on demand. The sweep only closes connections and never opens new ones, so
// a pool below minPoolSize stays there until Borrow calls fill it.
func New(ctx context.Context, account string, d driver.Driver, accCfg driver.AccountConfig, cfg config.PoolConfig, log logr.Logger) *Pool {
	pctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(pctx)

	p := &Pool{
		account: account,
		driver:  d,
		accCfg:  accCfg,
		cfg:     cfg,
		log:     log.WithValues("account", account),
		inUse:   make(map[string]*Connection),
		cancel:  cancel,
		group:   group,
	}

	for i := 0; i < cfg.MinPoolSize; i++ {
		if conn, err := p.connect(ctx); err == nil {
			p.idle = append(p.idle, conn)
		} else {
			p.log.V(1).Info("eager warmup connect failed", "error", err)
		}
	}

	group.Go(func() error {
		p.sweepLoop(gctx)
		return nil
	})

	return p
}

func (p *Pool) connect(ctx context.Context) (*Connection, error) {
	session, err := p.driver.Connect(ctx, p.accCfg)
	if err != nil {
		return nil, err
	}
	return newConnection(p.account, session), nil
}

// Borrow returns an idle healthy connection, creating one if under
// maxPoolSize, or waits up to timeout for a release. Each successful borrow
// updates LastUsedAt.
func (p *Pool) Borrow(ctx context.Context, timeout time.Duration) (*Connection, error) {
	deadline := time.Now().Add(timeout)
	for {
		p.mu.Lock()
		if len(p.idle) > 0 {
			conn := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			conn.inUse = true
			conn.LastUsedAt = time.Now()
			p.inUse[conn.ID] = conn
			p.mu.Unlock()
			return conn, nil
		}
		if len(p.inUse)+len(p.idle)+p.pending < p.cfg.MaxPoolSize {
			p.pending++
			p.mu.Unlock()
			conn, err := p.connect(ctx)
			p.mu.Lock()
			p.pending--
			if err != nil {
				p.mu.Unlock()
				// the reservation freed back up; let a waiter retry instead
				// of leaving it stranded until the next release.
				p.notifyOneWaiter()
				return nil, err
			}
			conn.inUse = true
			conn.LastUsedAt = time.Now()
			p.inUse[conn.ID] = conn
			p.mu.Unlock()
			return conn, nil
		}

		wait := make(chan struct{}, 1)
		p.waiters = append(p.waiters, wait)
		p.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, &ErrBorrowTimeout{Account: p.account}
		}
		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
			// loop around and retry the idle/create path
		case <-timer.C:
			return nil, &ErrBorrowTimeout{Account: p.account}
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// Return releases conn back to the pool. If err classifies as a connection-
// invalidating failure (network/auth), the connection is destroyed instead
// of recycled. Never blocks the caller.
func (p *Pool) Return(conn *Connection, err error) {
	destroy := false
	if err != nil {
		switch driver.ClassOf(err) {
		case driver.ErrorClassNetwork, driver.ErrorClassAuth:
			destroy = true
		}
	}

	p.mu.Lock()
	delete(p.inUse, conn.ID)
	conn.inUse = false
	if destroy || !conn.healthy {
		p.mu.Unlock()
		_ = conn.session.Close()
		p.notifyOneWaiter()
		return
	}
	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.notifyOneWaiter()
}

func (p *Pool) notifyOneWaiter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		select {
		case w <- struct{}{}:
			return
		default:
			// waiter already gave up (timeout/ctx); try the next one
		}
	}
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	Idle  int
	InUse int
}

// Snapshot returns the current idle/in-use counts.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Idle: len(p.idle), InUse: len(p.inUse)}
}

// sweepLoop runs the background health check on a timer
// until ctx is cancelled.
func (p *Pool) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sweep(ctx)
		}
	}
}

func (p *Pool) sweep(ctx context.Context) {
	p.mu.Lock()
	candidates := append([]*Connection{}, p.idle...)
	p.mu.Unlock()

	now := time.Now()
	var toDrop []*Connection
	var toKeep []*Connection

	for _, conn := range candidates {
		pingCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
		err := conn.session.Ping(pingCtx)
		cancel()

		tooOld := p.cfg.MaxIdleTime > 0 && now.Sub(conn.LastUsedAt) > p.cfg.MaxIdleTime
		unhealthy := err != nil

		if unhealthy {
			conn.healthy = false
			toDrop = append(toDrop, conn)
			continue
		}
		if tooOld {
			toDrop = append(toDrop, conn)
			continue
		}
		toKeep = append(toKeep, conn)
	}

	// Never drop below MinPoolSize.
	p.mu.Lock()
	total := len(toKeep) + len(p.inUse)
	for len(toKeep)+len(p.inUse) < p.cfg.MinPoolSize && len(toDrop) > 0 {
		toKeep = append(toKeep, toDrop[len(toDrop)-1])
		toDrop = toDrop[:len(toDrop)-1]
		total++
	}
	// Remove only what is still idle: a connection borrowed while the pings
	// ran stays with its borrower and is neither re-idled nor closed.
	drop := make(map[*Connection]bool, len(toDrop))
	for _, conn := range toDrop {
		drop[conn] = true
	}
	toDrop = toDrop[:0]
	kept := p.idle[:0]
	for _, conn := range p.idle {
		if drop[conn] {
			toDrop = append(toDrop, conn)
		} else {
			kept = append(kept, conn)
		}
	}
	p.idle = kept
	p.mu.Unlock()

	for _, conn := range toDrop {
		_ = conn.session.Close()
	}
}

// Close stops the background sweep and closes every idle connection.
// In-flight borrows are not forcibly recalled; callers are expected to
// Return what they hold before shutdown completes.
func (p *Pool) Close(ctx context.Context) error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.group.Wait()

		p.mu.Lock()
		idle := p.idle
		p.idle = nil
		p.mu.Unlock()
		for _, conn := range idle {
			_ = conn.session.Close()
		}
	})
	return err
}
