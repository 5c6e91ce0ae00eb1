package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/MrWong99/signdeck/pkg/types"
)

// sqliteSchema is applied statement by statement by [SQLiteStore.Migrate].
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
    key        TEXT PRIMARY KEY,
    clip       TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_updated ON catalog_entries(updated_at);
`

// SQLExecutor is satisfied by both *sql.DB and *sql.Tx.
type SQLExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore is a [Store] backed by a SQLite database through
// github.com/mattn/go-sqlite3.
type SQLiteStore struct {
	db  SQLExecutor
	now func() time.Time
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens (or creates) the SQLite database at path and applies the
// schema. Use ":memory:" for an ephemeral database; in that case the pool is
// limited to one connection so every query sees the same database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, *sql.DB, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, nil, fmt.Errorf("catalog: open sqlite %q: %w", path, err)
	}
	if path == ":memory:" {
		conn.SetMaxOpenConns(1)
	}
	s := NewSQLiteStore(conn)
	if err := s.Migrate(ctx); err != nil {
		conn.Close()
		return nil, nil, err
	}
	return s, conn, nil
}

// NewSQLiteStore wraps an open database handle. Call [SQLiteStore.Migrate]
// before issuing queries against a fresh database.
func NewSQLiteStore(db SQLExecutor) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Migrate creates the catalog table and indexes if they do not exist.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(sqliteSchema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("catalog: migrate: %w", err)
		}
	}
	return nil
}

// List implements [Store.List].
func (s *SQLiteStore) List(ctx context.Context, order Order) ([]Entry, error) {
	query := `SELECT key, clip, created_at, updated_at FROM catalog_entries ORDER BY key`
	if order == OrderRecentlyUpdated {
		query = `SELECT key, clip, created_at, updated_at FROM catalog_entries ORDER BY updated_at DESC, key`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrap("list", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var clip string
		if err := rows.Scan(&e.Key, &clip, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, wrap("list scan", err)
		}
		e.Clip = types.Locator(clip)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list", err)
	}
	return out, nil
}

// Get implements [Store.Get].
func (s *SQLiteStore) Get(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	var clip string
	err := s.db.QueryRowContext(ctx,
		`SELECT clip, created_at, updated_at FROM catalog_entries WHERE key = ?`, e.Key,
	).Scan(&clip, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, wrap("get", err)
	}
	e.Clip = types.Locator(clip)
	return e, nil
}

// Insert implements [Store.Insert].
func (s *SQLiteStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}
	now := s.now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO catalog_entries (key, clip, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		e.Key, string(e.Clip), e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		if isSQLiteConstraintErr(err) {
			return Entry{}, ErrDuplicateKey
		}
		return Entry{}, wrap("insert", err)
	}
	return e, nil
}

// Update implements [Store.Update].
func (s *SQLiteStore) Update(ctx context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}
	now := s.now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE catalog_entries SET clip = ?, updated_at = ? WHERE key = ?`,
		string(e.Clip), now, e.Key,
	)
	if err != nil {
		return Entry{}, wrap("update", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Entry{}, ErrNotFound
	}
	return s.Get(ctx, e.Key)
}

// Delete implements [Store.Delete].
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM catalog_entries WHERE key = ?`, e.Key)
	if err != nil {
		return wrap("delete", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll implements [Store.DeleteAll].
func (s *SQLiteStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM catalog_entries`)
	return wrap("delete all", err)
}

// isSQLiteConstraintErr reports whether err is a SQLite constraint violation
// (the primary key on catalog_entries.key).
func isSQLiteConstraintErr(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrConstraint
	}
	return false
}
