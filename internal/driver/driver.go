// Package driver defines the contract the core consumes from the warehouse
// wire protocol. The protocol itself is an opaque external dependency:
// this package only specifies the shape every pool and
// connection manager programs against, plus a concrete adapter
// (sqladapter) for any database/sql-compatible endpoint.
package driver

import (
	"context"
	stderrors "errors"
)

// Result is the outcome of a successful Execute call.
type Result struct {
	Rows     [][]interface{}
	Columns  []string
	RowCount int64
}

// Session is one live connection to a warehouse account. Implementations
// must be safe for use by a single goroutine at a time — the pool never
// hands the same Session to two borrowers concurrently.
type Session interface {
	// Execute runs template against params and returns the result set.
	Execute(ctx context.Context, template string, params map[string]interface{}) (*Result, error)
	// Ping verifies liveness without side effects.
	Ping(ctx context.Context) error
	// Close releases all resources held by the session. Idempotent.
	Close() error
	// IsUp reports the last-observed liveness without issuing new I/O.
	IsUp() bool
}

// AccountConfig carries the static connection parameters the Driver needs
// to open a new Session. Deliberately opaque beyond identity: the core never
// inspects DSN or credential contents.
type AccountConfig struct {
	Username string
	DSN      string
	Params   map[string]string
}

// Driver connects new sessions for an account. One Driver instance is
// typically shared across all of an account's pooled sessions.
type Driver interface {
	Connect(ctx context.Context, cfg AccountConfig) (Session, error)
}

// ErrorClass is the classification hook driver errors must implement so
// the connection manager can distinguish auth/network/query/
// timeout failures without parsing driver-specific error strings.
type ErrorClass int

const (
	ErrorClassUnknown ErrorClass = iota
	ErrorClassAuth
	ErrorClassNetwork
	ErrorClassQuery
	ErrorClassTimeout
)

// Classifier is implemented by driver errors that know their own class. A
// driver whose errors don't implement this are treated as ErrorClassQuery by
// the connection manager (the conservative default — never silently trips a
// breaker for an unclassified error).
type Classifier interface {
	ErrorClass() ErrorClass
}

// ClassOf extracts the ErrorClass from err, defaulting to ErrorClassQuery
// when err doesn't implement Classifier — the conservative default promised
// by Classifier's doc: an unclassified error never silently trips a breaker.
func ClassOf(err error) ErrorClass {
	var c Classifier
	if stderrors.As(err, &c) {
		return c.ErrorClass()
	}
	return ErrorClassQuery
}
