package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	atrerrors "github.com/sebbASF/tooling-trusted-releases/internal/errors"
)

// busyTimeout is how long SQLite waits on a locked database before
// returning SQLITE_BUSY.
const busyTimeout = 10 * time.Second

// DBTX is the common surface of *sql.DB, *sql.Conn and *sql.Tx that the
// typed queries run against. Queries therefore work identically inside and
// outside explicit transactions.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the durable metadata store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if necessary) the SQLite store at path and applies
// the connection pragmas the engine depends on: WAL journaling, foreign-key
// enforcement, a busy timeout, and strict typing where available.
func Open(ctx context.Context, path string) (*Store, error) {
	const op = "storage.Open"

	dsn := "file:" + path +
		"?_pragma=foreign_keys(ON)" +
		"&_pragma=busy_timeout(" + strconv.Itoa(int(busyTimeout.Milliseconds())) + ")" +
		"&_pragma=synchronous(NORMAL)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, atrerrors.FatalWrap(err, op, "failed to open database")
	}

	// journal_mode must be set outside the pragma DSN list because it
	// persists in the database file.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, atrerrors.FatalWrap(err, op, "failed to enable WAL journaling")
	}

	return &Store{db: db, path: path}, nil
}

// Close disposes the underlying database engine. Callers must ensure all
// in-flight handlers have completed first.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the store file path.
func (s *Store) Path() string {
	return s.path
}

// Queries returns the typed query surface running directly against the
// connection pool, outside any explicit transaction.
func (s *Store) Queries() *Queries {
	return &Queries{db: s.db}
}

// Tx is an explicit transaction over a dedicated connection. It exists
// (rather than *sql.Tx) so that the engine can issue BEGIN IMMEDIATE, which
// acquires the SQLite write lock up front and serializes racing writers such
// as concurrent revision creators.
type Tx struct {
	conn *sql.Conn
	q    *Queries
	done bool
}

// Begin starts a deferred transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, "BEGIN DEFERRED")
}

// BeginImmediate starts a transaction holding the write lock from the start.
func (s *Store) BeginImmediate(ctx context.Context) (*Tx, error) {
	return s.begin(ctx, "BEGIN IMMEDIATE")
}

func (s *Store) begin(ctx context.Context, stmt string) (*Tx, error) {
	const op = "storage.Begin"

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return nil, atrerrors.InternalWrap(err, op, "failed to acquire connection")
	}
	if _, err := conn.ExecContext(ctx, stmt); err != nil {
		conn.Close()
		return nil, atrerrors.InternalWrap(err, op, "failed to begin transaction")
	}
	return &Tx{conn: conn, q: &Queries{db: conn}}, nil
}

// Queries returns the typed query surface bound to this transaction.
func (t *Tx) Queries() *Queries {
	return t.q
}

// Commit commits the transaction and releases its connection.
func (t *Tx) Commit(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(ctx, "COMMIT")
	t.conn.Close()
	if err != nil {
		return atrerrors.InternalWrap(err, "storage.Commit", "failed to commit transaction")
	}
	return nil
}

// Rollback aborts the transaction. It is safe to call after Commit, so it
// can be deferred unconditionally.
func (t *Tx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	_, err := t.conn.ExecContext(ctx, "ROLLBACK")
	t.conn.Close()
	return err
}

// WithTx runs fn inside a deferred transaction, committing on success and
// rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	return s.withTx(ctx, false, fn)
}

// WithWriteTx runs fn inside a BEGIN IMMEDIATE transaction.
func (s *Store) WithWriteTx(ctx context.Context, fn func(q *Queries) error) error {
	return s.withTx(ctx, true, fn)
}

func (s *Store) withTx(ctx context.Context, immediate bool, fn func(q *Queries) error) error {
	var tx *Tx
	var err error
	if immediate {
		tx, err = s.BeginImmediate(ctx)
	} else {
		tx, err = s.Begin(ctx)
	}
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if err := fn(tx.Queries()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Queries is the typed query surface over a database, connection, or
// transaction.
type Queries struct {
	db DBTX
}

// IsUniqueConstraint reports whether err is a UNIQUE or PRIMARY KEY
// constraint violation. Callers surface these as domain-specific
// "already exists" conflicts.
func IsUniqueConstraint(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: UNIQUE")
}

// marshalStrings encodes a string slice as a JSON array column value.
func marshalStrings(list []string) string {
	if len(list) == 0 {
		return "[]"
	}
	b, err := json.Marshal(list)
	if err != nil {
		return "[]"
	}
	return string(b)
}

// unmarshalStrings decodes a JSON array column value.
func unmarshalStrings(s string) []string {
	if s == "" || s == "[]" {
		return nil
	}
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err != nil {
		return nil
	}
	return list
}
