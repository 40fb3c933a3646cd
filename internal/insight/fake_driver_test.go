package insight_test

import (
	"context"
	"sync"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// recordingDriver records every template invocation and serves a canned
// *driver.Result for GET_* templates, so insight store tests can assert on
// write-through calls without a real warehouse.
type recordingDriver struct {
	mu    sync.Mutex
	calls []recordedCall
	rows  map[string]*driver.Result // keyed by template name
}

type recordedCall struct {
	Template string
	Params   map[string]interface{}
}

func newRecordingDriver() *recordingDriver {
	return &recordingDriver{rows: make(map[string]*driver.Result)}
}

func (d *recordingDriver) setResult(template string, result *driver.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rows[template] = result
}

func (d *recordingDriver) callsFor(template string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c.Template == template {
			n++
		}
	}
	return n
}

func (d *recordingDriver) Connect(ctx context.Context, cfg driver.AccountConfig) (driver.Session, error) {
	return &recordingSession{driver: d}, nil
}

type recordingSession struct {
	driver *recordingDriver
}

func (s *recordingSession) Execute(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error) {
	s.driver.mu.Lock()
	defer s.driver.mu.Unlock()
	s.driver.calls = append(s.driver.calls, recordedCall{Template: template, Params: params})
	if res, ok := s.driver.rows[template]; ok {
		return res, nil
	}
	return &driver.Result{RowCount: 0}, nil
}

func (s *recordingSession) Ping(ctx context.Context) error { return nil }
func (s *recordingSession) Close() error                   { return nil }
func (s *recordingSession) IsUp() bool                      { return true }
