// Package store persists accounts, transactions, extraction lifecycle
// records and MFA challenges in a local SQLite database.
//
// Every write is a single-row insert or update, so no locking beyond
// SQLite's own serialization is needed. Transactions are deduplicated on
// (account, post date, amount, currency): an insert whose key already
// exists is skipped, never overwritten.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrNotFound indicates a record does not exist.
var ErrNotFound = errors.New("record not found")

// Config holds the parameters for opening a Store.
type Config struct {
	// Path is the SQLite database file. Its directory must exist.
	Path string
	// PoolSize defaults to max(NumCPU, 4).
	PoolSize int
	Logger   *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Store is the SQLite-backed persistence layer. It is safe for concurrent use.
type Store struct {
	pool   *pool
	logger *zap.Logger
	now    func() time.Time
}

// Open opens (creating if needed) the database at cfg.Path and applies the
// schema.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	p, err := openPool(cfg.Path, cfg.PoolSize, logger, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{pool: p, logger: logger, now: now}, nil
}

// Close releases database resources.
func (s *Store) Close() error {
	return s.pool.close()
}

// Now returns the store's notion of the current time in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

func (s *Store) execute(ctx context.Context, query string, opts *sqlitex.ExecOptions) (changes int, err error) {
	conn, err := s.pool.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.put(conn)

	if err := sqlitex.Execute(conn, query, opts); err != nil {
		return 0, err
	}
	return conn.Changes(), nil
}

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// nullTime binds a nil pointer as SQL NULL.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func columnTime(stmt *sqlite.Stmt, col int) (time.Time, error) {
	t, err := time.Parse(timeLayout, stmt.ColumnText(col))
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", stmt.ColumnText(col), err)
	}
	return t, nil
}

func columnTimePtr(stmt *sqlite.Stmt, col int) (*time.Time, error) {
	if stmt.ColumnIsNull(col) {
		return nil, nil
	}
	t, err := columnTime(stmt, col)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
