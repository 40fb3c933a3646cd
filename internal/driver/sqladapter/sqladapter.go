// Package sqladapter is a concrete driver.Driver backed by database/sql.
// Importing it registers pgx's stdlib driver under the name "pgx" and
// lib/pq's driver under "postgres"; SQLDriver.Name picks which of the two
// every session dials through. sqlx.Rows does the struct/column scanning
// into driver.Result. Named templates are passed through to the
// underlying session as parameterized SQL text — the SQL template catalog
// itself stays an opaque caller concern.
package sqladapter

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/lib/pq"              // registers the "postgres" database/sql driver

	"github.com/cklose2000/snowflake-activityschema-bi1-sub002/internal/driver"
)

// DriverName selects which registered database/sql driver sqladapter dials
// through.
type DriverName string

const (
	DriverPGX    DriverName = "pgx"
	DriverLibPQ  DriverName = "postgres"
)

// SQLDriver is a driver.Driver that opens *sql.DB-backed sessions.
type SQLDriver struct {
	Name DriverName
}

// New constructs a SQLDriver. name selects the underlying database/sql
// driver; pgx's stdlib adapter and lib/pq are registered as a side effect of
// importing this package.
func New(name DriverName) *SQLDriver {
	return &SQLDriver{Name: name}
}

func (d *SQLDriver) Connect(ctx context.Context, cfg driver.AccountConfig) (driver.Session, error) {
	db, err := sql.Open(string(d.Name), cfg.DSN)
	if err != nil {
		return nil, classify(err)
	}
	db.SetMaxOpenConns(1) // the core's pool, not database/sql's, owns pooling
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, classify(err)
	}

	return &sqlSession{db: sqlx.NewDb(db, string(d.Name)), up: true}, nil
}

type sqlSession struct {
	db *sqlx.DB
	up bool
}

func (s *sqlSession) Execute(ctx context.Context, template string, params map[string]interface{}) (*driver.Result, error) {
	rows, err := s.db.NamedQueryContext(ctx, template, params)
	if err != nil {
		s.up = !isConnErr(err)
		return nil, classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	var out [][]interface{}
	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}

	return &driver.Result{Rows: out, Columns: cols, RowCount: int64(len(out))}, nil
}

func (s *sqlSession) Ping(ctx context.Context) error {
	err := s.db.PingContext(ctx)
	s.up = err == nil
	if err != nil {
		return classify(err)
	}
	return nil
}

func (s *sqlSession) Close() error { return s.db.Close() }
func (s *sqlSession) IsUp() bool   { return s.up }
