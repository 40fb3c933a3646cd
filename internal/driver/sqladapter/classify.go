package sqladapter

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// classifiedError wraps a raw database/sql error with the driver.Classifier
// hook the connection manager needs.
type classifiedError struct {
	class driver.ErrorClass
	cause error
}

func (e *classifiedError) Error() string             { return e.cause.Error() }
func (e *classifiedError) Unwrap() error              { return e.cause }
func (e *classifiedError) ErrorClass() driver.ErrorClass { return e.class }

// classify inspects a database/sql/pgx/lib-pq error and tags it with the
// ErrorClass the connection manager uses to decide breaker-worthiness.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return &classifiedError{driver.ErrorClassTimeout, err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &classifiedError{driver.ErrorClassTimeout, err}
		}
		return &classifiedError{driver.ErrorClassNetwork, err}
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01": // invalid_authorization_specification, invalid_password
			return &classifiedError{driver.ErrorClassAuth, err}
		case "08000", "08003", "08006", "08001", "08004": // connection_exception family
			return &classifiedError{driver.ErrorClassNetwork, err}
		default:
			return &classifiedError{driver.ErrorClassQuery, err}
		}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		switch {
		case code == "28000" || code == "28P01":
			return &classifiedError{driver.ErrorClassAuth, err}
		case strings.HasPrefix(code, "08"):
			return &classifiedError{driver.ErrorClassNetwork, err}
		default:
			return &classifiedError{driver.ErrorClassQuery, err}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "password") || strings.Contains(msg, "auth"):
		return &classifiedError{driver.ErrorClassAuth, err}
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "reset by peer") || strings.Contains(msg, "broken pipe"):
		return &classifiedError{driver.ErrorClassNetwork, err}
	case strings.Contains(msg, "timeout"):
		return &classifiedError{driver.ErrorClassTimeout, err}
	default:
		return &classifiedError{driver.ErrorClassQuery, err}
	}
}

// isConnErr reports whether err invalidates the underlying connection (the
// session should be destroyed rather than returned to the idle set).
func isConnErr(err error) bool {
	switch classify(err).(*classifiedError).class {
	case driver.ErrorClassNetwork, driver.ErrorClassAuth:
		return true
	default:
		return false
	}
}
