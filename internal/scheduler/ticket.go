package scheduler

import (
	"time"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// Status is one of a ticket's five lifecycle states.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Ticket is an immutable snapshot of a query ticket's state at the moment it
// was read. The scheduler is the sole writer of the live ticket; callers
// only ever see copies like this one.
type Ticket struct {
	ID          string
	Status      Status
	Template    string
	Params      map[string]interface{}
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Result      *driver.Result
	Err         error
	Progress    int
	ByteCap     *int64
}

// ticketState is the scheduler-owned mutable record. All mutation happens
// under the scheduler's single mutex.
type ticketState struct {
	Ticket
}

func (t *ticketState) snapshot() Ticket {
	return t.Ticket
}
