package utils

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// recordingDriver is a minimal database/sql driver that records executed statements.
type recordingDriver struct {
	mu        sync.Mutex
	execs     []string
	commits   int
	rollbacks int
	failOn    string
}

func (d *recordingDriver) Open(string) (driver.Conn, error) { return &recordingConn{d: d}, nil }

type recordingConn struct{ d *recordingDriver }

func (c *recordingConn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("prepare not supported")
}
func (c *recordingConn) Close() error              { return nil }
func (c *recordingConn) Begin() (driver.Tx, error) { return &recordingTx{d: c.d}, nil }

func (c *recordingConn) ExecContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Result, error) {
	c.d.mu.Lock()
	defer c.d.mu.Unlock()
	if c.d.failOn != "" && strings.Contains(query, c.d.failOn) {
		return nil, errors.New("syntax error")
	}
	c.d.execs = append(c.d.execs, query)
	return driver.RowsAffected(0), nil
}

type recordingTx struct{ d *recordingDriver }

func (t *recordingTx) Commit() error {
	t.d.mu.Lock()
	t.d.commits++
	t.d.mu.Unlock()
	return nil
}

func (t *recordingTx) Rollback() error {
	t.d.mu.Lock()
	t.d.rollbacks++
	t.d.mu.Unlock()
	return nil
}

func openRecording(t *testing.T, d *recordingDriver) *sql.DB {
	t.Helper()
	name := "recording-" + strings.ReplaceAll(t.Name(), "/", "-")
	sql.Register(name, d)
	db, err := OpenPostgres(context.Background(), name, "", PostgresPoolConfig{PingTimeout: time.Second})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestEnsureSchema_AppliesAllAndCommits(t *testing.T) {
	d := &recordingDriver{}
	db := openRecording(t, d)

	if err := EnsureSchema(context.Background(), db, "CREATE TABLE a", "CREATE INDEX b"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(d.execs) != 2 || d.execs[0] != "CREATE TABLE a" || d.execs[1] != "CREATE INDEX b" {
		t.Fatalf("unexpected statements: %v", d.execs)
	}
	if d.commits != 1 || d.rollbacks != 0 {
		t.Fatalf("expected one commit, got commits=%d rollbacks=%d", d.commits, d.rollbacks)
	}
}

func TestEnsureSchema_RollsBackOnFailure(t *testing.T) {
	d := &recordingDriver{failOn: "BROKEN"}
	db := openRecording(t, d)

	err := EnsureSchema(context.Background(), db, "CREATE TABLE a", "BROKEN", "CREATE INDEX c")
	if err == nil || !strings.Contains(err.Error(), "schema statement 1") {
		t.Fatalf("expected indexed schema error, got %v", err)
	}
	if len(d.execs) != 1 {
		t.Fatalf("expected execution to stop at the failing statement, got %v", d.execs)
	}
	if d.commits != 0 || d.rollbacks != 1 {
		t.Fatalf("expected rollback, got commits=%d rollbacks=%d", d.commits, d.rollbacks)
	}
}

func TestWithTx_RecoversPanicWithRollback(t *testing.T) {
	d := &recordingDriver{}
	db := openRecording(t, d)

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic to propagate")
		}
		if d.rollbacks != 1 {
			t.Fatalf("expected rollback after panic, got %d", d.rollbacks)
		}
	}()
	_ = WithTx(context.Background(), db, nil, func(context.Context, *sql.Tx) error {
		panic("boom")
	})
}
