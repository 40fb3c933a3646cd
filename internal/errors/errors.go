// Package errors defines the error taxonomy shared by every component of the
// warehouse auth and query-dispatch core. Every outcome that crosses a
// component boundary is classified into one of the Kinds below so that the
// connection manager can decide, without inspecting driver internals,
// whether a failure is breaker-worthy or a plain query-level error.
package errors

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Kind classifies a failure for breaker and failover purposes.
type Kind string

const (
	// KindConfiguration marks a fatal startup error: missing/invalid vault,
	// no active accounts. Never retried, never trips a breaker.
	KindConfiguration Kind = "configuration"

	// KindAuthRejected marks credentials the warehouse refused outright.
	// Counts as one breaker failure right away; the caller fails over.
	KindAuthRejected Kind = "auth_rejected"

	// KindNetworkTransient covers connection refused/reset/DNS failures.
	// Trips the breaker; the caller fails over.
	KindNetworkTransient Kind = "network_transient"

	// KindTimeout marks an exceeded caller or health deadline.
	// Trips the breaker; the caller fails over.
	KindTimeout Kind = "timeout"

	// KindQueryError covers syntax/semantic/permission errors on an object.
	// Does NOT trip the breaker; surfaced to the caller unchanged.
	KindQueryError Kind = "query_error"

	// KindConnection marks a pool borrow failure, tracked distinctly from a
	// query failure (still breaker-worthy).
	KindConnection Kind = "connection"

	// KindNoAccountsAvailable means every candidate was excluded by breaker
	// state, inactivity, or cooldown.
	KindNoAccountsAvailable Kind = "no_accounts_available"

	// KindQueueAtCapacity means the event queue hit maxEvents.
	KindQueueAtCapacity Kind = "queue_at_capacity"

	// KindTicketInvalidTransition marks a rejected ticket state transition
	// (e.g. cancel on a RUNNING ticket). Never thrown, only returned as a
	// bool by the scheduler, but kept here so logging has a consistent tag.
	KindTicketInvalidTransition Kind = "ticket_invalid_transition"
)

// BreakerWorthy reports whether an error of this kind should advance a
// circuit breaker's failure count.
func (k Kind) BreakerWorthy() bool {
	switch k {
	case KindAuthRejected, KindNetworkTransient, KindTimeout, KindConnection:
		return true
	default:
		return false
	}
}

// Error is the classified error type threaded through the connection
// manager. Account, when non-empty, names the account the failure was
// observed against.
type Error struct {
	Kind    Kind
	Account string
	cause   error
}

func (e *Error) Error() string {
	if e.Account != "" {
		return fmt.Sprintf("%s: account=%s: %v", e.Kind, e.Account, e.cause)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.cause)
}

func (e *Error) Unwrap() error { return e.cause }

// New classifies cause under kind, optionally tagging it with the account it
// was observed against.
func New(kind Kind, account string, cause error) *Error {
	return &Error{Kind: kind, Account: account, cause: errors.Wrap(cause, string(kind))}
}

// Classify extracts the Kind from err, defaulting to KindQueryError when err
// does not carry a classification — a conservative default since an
// unclassified error must never silently trip a breaker.
func Classify(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindQueryError
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}

var (
	// ErrNoAccountsAvailable is returned by the connection manager when all
	// candidate accounts are excluded by breaker state, inactivity, or
	// cooldown.
	ErrNoAccountsAvailable = New(KindNoAccountsAvailable, "", errors.New("no accounts available"))

	// ErrQueueAtCapacity is returned by the event queue when maxEvents is
	// reached.
	ErrQueueAtCapacity = New(KindQueueAtCapacity, "", errors.New("queue at capacity"))
)

// Wrap is a thin re-export of go-faster/errors.Wrap for components that only
// need stack-annotated wrapping without a Kind (e.g. internal plumbing
// errors that never cross the manager boundary).
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf is the formatted variant of Wrap.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
