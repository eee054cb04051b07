package task

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/specforge/internal/errors"
)

// Sequence issues monotonically increasing numbers per id prefix. Numbers are never reused.
type Sequence interface {
	// Next returns the next number for prefix, starting at 1
	Next(ctx context.Context, prefix string) (int, error)

	// Observe records that n was issued elsewhere so Next never returns n or below
	Observe(ctx context.Context, prefix string, n int) error

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	Close() error
}

// Backend selects and addresses a Sequence implementation
type Backend struct {
	// Driver is sqlite, redis, or postgres
	Driver string

	// DSN is a file path for sqlite, a redis:// URL, or a postgres connection string
	DSN string
}

// OpenSequence opens the configured backend
func OpenSequence(ctx context.Context, b Backend) (Sequence, error) {
	var (
		seq Sequence
		err error
	)
	switch strings.ToLower(b.Driver) {
	case "", "sqlite":
		seq, err = OpenSQLite(ctx, b.DSN)
	case "redis":
		seq, err = OpenRedis(ctx, b.DSN)
	case "postgres", "postgresql":
		seq, err = OpenPostgres(ctx, b.DSN)
	default:
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown sequence driver %q", b.Driver)).
			WithSuggestion("Set sequence.driver to sqlite, redis, or postgres")
	}
	if err != nil {
		return nil, err
	}
	return seq, nil
}

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sequences (
	prefix TEXT PRIMARY KEY,
	value  INTEGER NOT NULL
)`

// SQLiteSequence keeps counters in a project-local SQLite file. Each increment is a single
// upsert statement, so concurrent processes serialise on the database lock.
type SQLiteSequence struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the sequence database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteSequence, error) {
	if path == "" {
		return nil, errors.NewValidationError(errors.ErrCodeInvalidInput, "sqlite sequence path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.NewIOError(errors.ErrCodeDirectoryFailed, "failed to create sequence directory", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.NewIOError(errors.ErrCodeSequenceFailed, "failed to open sequence database", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.NewIOError(errors.ErrCodeSequenceFailed, "failed to migrate sequence database", err)
	}
	return &SQLiteSequence{db: db}, nil
}

// Next implements Sequence
func (s *SQLiteSequence) Next(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO sequences (prefix, value) VALUES (?, 1)
		 ON CONFLICT(prefix) DO UPDATE SET value = value + 1
		 RETURNING value`, prefix).Scan(&n)
	if err != nil {
		return 0, errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to allocate %s id", prefix), err)
	}
	return n, nil
}

// Observe implements Sequence
func (s *SQLiteSequence) Observe(ctx context.Context, prefix string, n int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sequences (prefix, value) VALUES (?, ?)
		 ON CONFLICT(prefix) DO UPDATE SET value = MAX(value, excluded.value)`, prefix, n)
	if err != nil {
		return errors.NewIOError(errors.ErrCodeSequenceFailed, fmt.Sprintf("failed to record %s-%d", prefix, n), err)
	}
	return nil
}

// Ping implements Sequence
func (s *SQLiteSequence) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements Sequence
func (s *SQLiteSequence) Close() error {
	return s.db.Close()
}
