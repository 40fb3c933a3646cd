package pool

import (
	"time"

	"github.com/google/uuid"

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// Connection wraps a driver.Session with the pool's lease bookkeeping.
// Owned exclusively by the pool that created it; a borrower holds
// a time-limited lease but never outlives the pool.
type Connection struct {
	ID          string
	AccountName string
	CreatedAt   time.Time
	LastUsedAt  time.Time

	session driver.Session
	inUse   bool
	healthy bool
}

func newConnection(account string, session driver.Session) *Connection {
	now := time.Now()
	return &Connection{
		ID:          uuid.NewString(),
		AccountName: account,
		CreatedAt:   now,
		LastUsedAt:  now,
		session:     session,
		healthy:     true,
	}
}

// Session exposes the underlying driver session for the connection manager
// to execute templates against.
func (c *Connection) Session() driver.Session { return c.session }

// Healthy reports the connection's last-observed health.
func (c *Connection) Healthy() bool { return c.healthy }
