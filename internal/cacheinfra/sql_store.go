package cacheinfra

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"
)

// Supported database/sql driver names for the SQL store.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// kvEntry is the row layout of the kv_entries table.
type kvEntry struct {
	bun.BaseModel `bun:"table:kv_entries"`

	Key       string     `bun:"key,pk"`
	Value     []byte     `bun:"value,notnull"`
	ExpiresAt *time.Time `bun:"expires_at,nullzero"`
}

// SQLStore keeps entries in a single bun-managed table. Expired rows are
// filtered on read and removed lazily.
type SQLStore struct {
	db  *bun.DB
	now func() time.Time
}

// OpenSQLStore opens driver/dsn, wraps it with the matching bun dialect and
// creates the kv_entries table when missing.
func OpenSQLStore(ctx context.Context, driver, dsn string, now func() time.Time) (*SQLStore, error) {
	dialect, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == DriverSQLite {
		// every sqlite :memory: connection is its own database
		sqldb.SetMaxOpenConns(1)
	}

	store, err := NewSQLStore(ctx, bun.NewDB(sqldb, dialect), now)
	if err != nil {
		sqldb.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore uses an existing bun.DB and makes sure the table exists.
func NewSQLStore(ctx context.Context, db *bun.DB, now func() time.Time) (*SQLStore, error) {
	if db == nil {
		return nil, &ConfigError{Field: "db", Message: "cannot be nil"}
	}
	if now == nil {
		now = time.Now
	}

	if _, err := db.NewCreateTable().Model((*kvEntry)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, err
	}

	return &SQLStore{db: db, now: now}, nil
}

func dialectFor(driver string) (schema.Dialect, error) {
	switch driver {
	case DriverSQLite:
		return sqlitedialect.New(), nil
	case DriverPostgres:
		return pgdialect.New(), nil
	default:
		return nil, &ConfigError{Field: "Driver", Message: "must be one of sqlite3, postgres"}
	}
}

// Get returns the stored value for key, or nil when it is missing or expired.
func (s *SQLStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry := &kvEntry{Key: key}
	err := s.db.NewSelect().Model(entry).WherePK().Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if entry.ExpiresAt != nil && !now.Before(*entry.ExpiresAt) {
		// Only the expired row goes; a Put racing this read survives. A failed
		// delete leaves the row for Purge or the next read.
		_, _ = s.db.NewDelete().
			Model((*kvEntry)(nil)).
			Where("? = ?", bun.Ident("key"), key).
			Where("expires_at <= ?", now.UTC()).
			Exec(ctx)
		return nil, nil
	}

	return entry.Value, nil
}

// Put upserts the row for key. A ttl <= 0 stores it without expiry.
func (s *SQLStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := &kvEntry{Key: key, Value: value}
	if ttl > 0 {
		expiresAt := s.now().Add(ttl).UTC()
		entry.ExpiresAt = &expiresAt
	}

	_, err := s.db.NewInsert().
		Model(entry).
		On("CONFLICT (?) DO UPDATE", bun.Ident("key")).
		Set("value = EXCLUDED.value").
		Set("expires_at = EXCLUDED.expires_at").
		Exec(ctx)
	return err
}

// Delete removes the row for key.
func (s *SQLStore) Delete(ctx context.Context, key string) error {
	_, err := s.db.NewDelete().Model(&kvEntry{Key: key}).WherePK().Exec(ctx)
	return err
}

// Purge removes every expired row and reports how many were deleted.
func (s *SQLStore) Purge(ctx context.Context) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*kvEntry)(nil)).
		Where("expires_at IS NOT NULL AND expires_at <= ?", s.now().UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
