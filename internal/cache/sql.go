package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/juju/clock"
	_ "github.com/lib/pq"
)

// Dialect selects the SQL flavour of a SQLStore.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
)

const sqlTable = "akv_cache"

// SQLStore keeps entries in a database table so that several hosts can
// share one cache. Expiry is stored as unix nanoseconds.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	clock   clock.Clock
}

// OpenSQL opens a database for driver ("postgres" or "mysql") and dsn.
func OpenSQL(driver, dsn string, opts ...Option) (*SQLStore, error) {
	dialect, err := parseDialect(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s cache database: %w", dialect, err)
	}
	return NewSQLStore(db, dialect, opts...), nil
}

// NewSQLStore wraps an open database.
func NewSQLStore(db *sql.DB, dialect Dialect, opts ...Option) *SQLStore {
	o := buildOptions(opts)
	return &SQLStore{db: db, dialect: dialect, clock: o.clock}
}

func parseDialect(driver string) (Dialect, error) {
	switch Dialect(driver) {
	case DialectPostgres, DialectMySQL:
		return Dialect(driver), nil
	case "postgresql", "pq":
		return DialectPostgres, nil
	default:
		return "", fmt.Errorf("unsupported cache sql driver %q", driver)
	}
}

// EnsureSchema creates the cache table when it does not exist.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	var ddl string
	switch s.dialect {
	case DialectMySQL:
		ddl = "CREATE TABLE IF NOT EXISTS " + sqlTable +
			" (cache_key VARCHAR(512) NOT NULL PRIMARY KEY, value LONGBLOB NOT NULL, expires_at BIGINT NOT NULL)"
	default:
		ddl = "CREATE TABLE IF NOT EXISTS " + sqlTable +
			" (cache_key VARCHAR(512) PRIMARY KEY, value BYTEA NOT NULL, expires_at BIGINT NOT NULL)"
	}
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create cache table: %w", err)
	}
	return nil
}

func (s *SQLStore) placeholder(n int) string {
	if s.dialect == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", n)
}

// Get reads the entry for key.
func (s *SQLStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	query := "SELECT value, expires_at FROM " + sqlTable + " WHERE cache_key = " + s.placeholder(1)

	var value []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx, query, key).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("failed to read cache entry %q: %w", key, err)
	}

	entry := Entry{Key: key, Value: value, ExpiresAt: time.Unix(0, expiresAt).UTC()}
	if entry.Expired(s.clock.Now()) {
		return Entry{}, false, nil
	}
	return entry, true, nil
}

// Put upserts the entry for key.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, expiresAt time.Time) error {
	var query string
	switch s.dialect {
	case DialectMySQL:
		query = "INSERT INTO " + sqlTable + " (cache_key, value, expires_at) VALUES (?, ?, ?)" +
			" ON DUPLICATE KEY UPDATE value = VALUES(value), expires_at = VALUES(expires_at)"
	default:
		query = "INSERT INTO " + sqlTable + " (cache_key, value, expires_at) VALUES ($1, $2, $3)" +
			" ON CONFLICT (cache_key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at"
	}
	if _, err := s.db.ExecContext(ctx, query, key, value, expiresAt.UnixNano()); err != nil {
		return fmt.Errorf("failed to write cache entry %q: %w", key, err)
	}
	return nil
}

// Delete removes the entry for key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	query := "DELETE FROM " + sqlTable + " WHERE cache_key = " + s.placeholder(1)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete cache entry %q: %w", key, err)
	}
	return nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	query := "DELETE FROM " + sqlTable + " WHERE expires_at <= " + s.placeholder(1)
	res, err := s.db.ExecContext(ctx, query, s.clock.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to purge cache: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
