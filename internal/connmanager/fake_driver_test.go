package connmanager_test

import (
	"context"
	"sync"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// scriptedDriver connects a scriptedSession per account whose Execute
// outcome is driven by a per-account, call-indexed script so tests can
// deterministically reproduce failover scenarios.
type scriptedDriver struct {
	mu       sync.Mutex
	scripts  map[string][]error // per-account queue of errors; nil entry = success
	attempts map[string]int
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{scripts: map[string][]error{}, attempts: map[string]int{}}
}

func (d *scriptedDriver) script(account string, errs ...error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.scripts[account] = errs
}

func (d *scriptedDriver) attemptsFor(account string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[account]
}

func (d *scriptedDriver) Connect(ctx context.Context, cfg driver.AccountConfig) (driver.Session, error) {
	return &scriptedSession{driver: d, account: cfg.Username}, nil
}

type scriptedSession struct {
	driver  *scriptedDriver
	account string
}

func (s *scriptedSession) Execute(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()

	idx := s.driver.attempts[s.account]
	s.driver.attempts[s.account] = idx + 1

	queue := s.driver.scripts[s.account]
	if idx < len(queue) && queue[idx] != nil {
		return nil, queue[idx]
	}
	return &driver.Result{RowCount: 1}, nil
}

func (s *scriptedSession) Ping(ctx context.Context) error { return nil }
func (s *scriptedSession) Close() error                   { return nil }
func (s *scriptedSession) IsUp() bool                     { return true }

// classifiedErr implements driver.Classifier for test scripting.
type classifiedErr struct {
	class driver.ErrorClass
	msg   string
}

func (e *classifiedErr) Error() string                      { return e.msg }
func (e *classifiedErr) ErrorClass() driver.ErrorClass { return e.class }
