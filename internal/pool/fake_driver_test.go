package pool_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// fakeDriver is a minimal in-memory driver.Driver for pool tests: every
// Connect call yields a fakeSession that stays up until it is closed.
type fakeDriver struct {
	connects int64
	mu       sync.Mutex
	broken   map[string]bool // by session id; no test in this package sets it
}

func newFakeDriver() *fakeDriver { return &fakeDriver{broken: map[string]bool{}} }

func (d *fakeDriver) Connect(ctx context.Context, cfg driver.AccountConfig) (driver.Session, error) {
	atomic.AddInt64(&d.connects, 1)
	return &fakeSession{id: atomic.LoadInt64(&d.connects), driver: d}, nil
}

func (d *fakeDriver) Connects() int64 { return atomic.LoadInt64(&d.connects) }

type fakeSession struct {
	id     int64
	driver *fakeDriver
	closed bool
}

func (s *fakeSession) Execute(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error) {
	return &driver.Result{}, nil
}

func (s *fakeSession) Ping(ctx context.Context) error { return nil }
func (s *fakeSession) Close() error                   { s.closed = true; return nil }
func (s *fakeSession) IsUp() bool                     { return !s.closed }
