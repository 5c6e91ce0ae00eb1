package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/MrWong99/signdeck/pkg/types"
)

// PostgresSchema is the SQL DDL for the catalog_entries table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS catalog_entries (
    key        TEXT PRIMARY KEY,
    clip       TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_catalog_entries_updated ON catalog_entries(updated_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by a PostgreSQL database.
type PostgresStore struct {
	db DB
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new [PostgresStore] that uses the given database
// connection or pool. The caller is responsible for calling
// [PostgresStore.Migrate] to ensure the schema exists before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes [PostgresSchema] against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// List implements [Store.List].
func (s *PostgresStore) List(ctx context.Context, order Order) ([]Entry, error) {
	query := `SELECT key, clip, created_at, updated_at FROM catalog_entries ORDER BY key`
	if order == OrderRecentlyUpdated {
		query = `SELECT key, clip, created_at, updated_at FROM catalog_entries ORDER BY updated_at DESC, key`
	}

	rows, err := s.db.Query(ctx, query)
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
func (s *PostgresStore) Get(ctx context.Context, key string) (Entry, error) {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	const query = `SELECT clip, created_at, updated_at FROM catalog_entries WHERE key = $1`

	var clip string
	err := s.db.QueryRow(ctx, query, e.Key).Scan(&clip, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, wrap("get", err)
	}
	e.Clip = types.Locator(clip)
	return e, nil
}

// Insert implements [Store.Insert].
func (s *PostgresStore) Insert(ctx context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	const query = `
		INSERT INTO catalog_entries (key, clip) VALUES ($1, $2)
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query, e.Key, string(e.Clip)).Scan(&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return Entry{}, ErrDuplicateKey
		}
		return Entry{}, wrap("insert", err)
	}
	return e, nil
}

// Update implements [Store.Update].
func (s *PostgresStore) Update(ctx context.Context, e Entry) (Entry, error) {
	if err := normalizeKey(&e); err != nil {
		return Entry{}, err
	}

	const query = `
		UPDATE catalog_entries SET clip = $2, updated_at = now()
		WHERE key = $1
		RETURNING created_at, updated_at`

	err := s.db.QueryRow(ctx, query, e.Key, string(e.Clip)).Scan(&e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, wrap("update", err)
	}
	return e, nil
}

// Delete implements [Store.Delete].
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	e := Entry{Key: key}
	if err := normalizeKey(&e); err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `DELETE FROM catalog_entries WHERE key = $1`, e.Key)
	if err != nil {
		return wrap("delete", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteAll implements [Store.DeleteAll].
func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM catalog_entries`)
	return wrap("delete all", err)
}

// isDuplicateKeyError reports whether err is a PostgreSQL unique_violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
