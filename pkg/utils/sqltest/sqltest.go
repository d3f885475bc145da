// Package sqltest provides database/sql fixtures for repository tests: a
// scripted in-process driver and an opener for a real Postgres configured
// through the DB_* environment.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"voice-orchestrator/pkg/utils"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Stmt is one statement seen by the driver, with converted arguments.
type Stmt struct {
	Query string
	Args  []any
}

// Rows is a canned result set.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Driver answers statements with the Exec and Query callbacks and records
// every statement it receives. A nil Exec reports one affected row; a nil
// Query returns no rows.
type Driver struct {
	Exec  func(query string, args []any) (int64, error)
	Query func(query string, args []any) (*Rows, error)

	mu    sync.Mutex
	stmts []Stmt
}

// Stmts returns the statements received so far.
func (d *Driver) Stmts() []Stmt {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Stmt(nil), d.stmts...)
}

// Last returns the most recent statement. It fails the test when there is none.
func (d *Driver) Last(t testing.TB) Stmt {
	t.Helper()
	s := d.Stmts()
	if len(s) == 0 {
		t.Fatalf("no statements executed")
	}
	return s[len(s)-1]
}

func (d *Driver) record(query string, named []driver.NamedValue) []any {
	args := make([]any, len(named))
	for i, nv := range named {
		args[i] = nv.Value
	}
	d.mu.Lock()
	d.stmts = append(d.stmts, Stmt{Query: query, Args: args})
	d.mu.Unlock()
	return args
}

func (d *Driver) Open(string) (driver.Conn, error) { return &conn{d: d}, nil }

var seq atomic.Int64

// Open registers d under a unique name and returns a handle to it.
func Open(t testing.TB, d *Driver) *sql.DB {
	t.Helper()
	name := fmt.Sprintf("sqltest-%d", seq.Add(1))
	sql.Register(name, d)
	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open %s: %v", name, err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type conn struct{ d *Driver }

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("sqltest: prepare not supported")
}
func (c *conn) Close() error              { return nil }
func (c *conn) Begin() (driver.Tx, error) { return tx{}, nil }

func (c *conn) ExecContext(_ context.Context, query string, named []driver.NamedValue) (driver.Result, error) {
	args := c.d.record(query, named)
	if c.d.Exec == nil {
		return driver.RowsAffected(1), nil
	}
	n, err := c.d.Exec(query, args)
	if err != nil {
		return nil, err
	}
	return driver.RowsAffected(n), nil
}

func (c *conn) QueryContext(_ context.Context, query string, named []driver.NamedValue) (driver.Rows, error) {
	args := c.d.record(query, named)
	if c.d.Query == nil {
		return &rows{}, nil
	}
	r, err := c.d.Query(query, args)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return &rows{}, nil
	}
	return &rows{cols: r.Columns, vals: r.Values}, nil
}

type tx struct{}

func (tx) Commit() error   { return nil }
func (tx) Rollback() error { return nil }

type rows struct {
	cols []string
	vals [][]driver.Value
	pos  int
}

func (r *rows) Columns() []string { return r.cols }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.pos >= len(r.vals) {
		return io.EOF
	}
	copy(dest, r.vals[r.pos])
	r.pos++
	return nil
}

// Postgres opens the database named by DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD, DB_NAME and DB_SSLMODE and applies schema. The test is
// skipped when DB_HOST is unset.
func Postgres(t testing.TB, schema ...string) *sql.DB {
	t.Helper()
	host := strings.TrimSpace(os.Getenv("DB_HOST"))
	if host == "" {
		t.Skip("DB_HOST not set")
	}
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		host,
		envOr("DB_PORT", "5432"),
		envOr("DB_USER", "postgres"),
		os.Getenv("DB_PASSWORD"),
		envOr("DB_NAME", "postgres"),
		envOr("DB_SSLMODE", "disable"),
	)
	ctx := context.Background()
	db, err := utils.OpenPostgres(ctx, "pgx", dsn, utils.PostgresPoolConfig{PingTimeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := utils.EnsureSchema(ctx, db, schema...); err != nil {
		t.Fatalf("schema: %v", err)
	}
	return db
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
