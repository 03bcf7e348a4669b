package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
	_ "modernc.org/sqlite"
)

// SQLiteConfig configures a SQLite-backed store.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file.
	// Special value ":memory:" creates an in-memory database.
	Path string

	// MaxOpenConns sets the maximum number of open connections. Ignored for
	// ":memory:", which always uses a single connection.
	MaxOpenConns int
}

// SQLiteStore persists cache entries in SQLite. Compute de-duplication is
// per process.
type SQLiteStore struct {
	db     *sql.DB
	group  singleflight.Group
	now    func() time.Time
	closed atomic.Bool
}

// NewSQLiteStore opens the database and creates the schema.
func NewSQLiteStore(cfg SQLiteConfig, opts ...StoreOption) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("cache: database path is required")
	}

	memory := cfg.Path == ":memory:"
	dsn := cfg.Path
	if !memory {
		dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: failed to open database: %w", err)
	}

	maxConns := cfg.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 4
	}
	// Every connection to ":memory:" is a separate database.
	if memory {
		maxConns = 1
	}
	db.SetMaxOpenConns(maxConns)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: failed to connect to database: %w", err)
	}

	o := newStoreOptions(opts)
	store := &SQLiteStore{db: db, now: o.now}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: failed to run migrations: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	migrations := []string{
		// Entries; expires_at is unix nanoseconds, NULL never expires
		`CREATE TABLE IF NOT EXISTS cache_entries (
			key TEXT PRIMARY KEY,
			value BLOB NOT NULL,
			expires_at INTEGER,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_entries_expires_at ON cache_entries(expires_at) WHERE expires_at IS NOT NULL`,

		// Tag index for invalidation
		`CREATE TABLE IF NOT EXISTS cache_tags (
			tag TEXT NOT NULL,
			key TEXT NOT NULL,
			PRIMARY KEY (tag, key)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_tags_key ON cache_tags(key)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}
	return nil
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.PingContext(ctx)
}

// Get retrieves an unexpired value. Expired rows are treated as missing.
func (s *SQLiteStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.lookup(ctx, key, Options{})
}

// lookup returns the value for key if it is unexpired and fresh for opts.
func (s *SQLiteStore) lookup(ctx context.Context, key string, opts Options) ([]byte, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}

	var (
		value     []byte
		expiresAt sql.NullInt64
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT value, expires_at, created_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&value, &expiresAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get %q: %w", key, err)
	}

	now := s.now()
	if expiresAt.Valid && now.UnixNano() >= expiresAt.Int64 {
		return nil, false, nil
	}
	if !opts.fresh(time.Unix(0, createdAt), now) {
		return nil, false, nil
	}
	return value, true, nil
}

// GetOrCompute returns the value for key that is fresh for opts, or computes
// it. Concurrent callers of one key in this process share a single compute.
func (s *SQLiteStore) GetOrCompute(ctx context.Context, key string, compute ComputeFunc, opts Options) ([]byte, error) {
	if compute == nil {
		return nil, ErrNilCompute
	}
	if err := ValidateKey(key); err != nil {
		return nil, err
	}

	v, ok, err := s.lookup(ctx, key, opts)
	if err != nil {
		return nil, err
	}
	if ok {
		return v, nil
	}

	ch := s.group.DoChan(key, func() (any, error) {
		bg := context.WithoutCancel(ctx)
		if v, ok, err := s.lookup(bg, key, opts); err != nil || ok {
			return v, err
		}
		v, err := compute(bg)
		if err != nil {
			return nil, err
		}
		if err := s.set(bg, key, v, opts); err != nil {
			return nil, err
		}
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *SQLiteStore) set(ctx context.Context, key string, value []byte, opts Options) error {
	now := s.now()
	expiresAt, store := opts.expiry(now)
	if !store {
		return s.Delete(ctx, key)
	}

	var expires sql.NullInt64
	if !expiresAt.IsZero() {
		expires = sql.NullInt64{Int64: expiresAt.UnixNano(), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cache_entries (key, value, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			created_at = excluded.created_at
	`, key, value, expires, now.UnixNano()); err != nil {
		return fmt.Errorf("cache: store %q: %w", key, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: reset tags for %q: %w", key, err)
	}
	for _, tag := range opts.Tags {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache_tags (tag, key) VALUES (?, ?)`, tag, key,
		); err != nil {
			return fmt.Errorf("cache: tag %q: %w", key, err)
		}
	}

	return tx.Commit()
}

// InvalidateTag drops every entry carrying tag in one transaction.
func (s *SQLiteStore) InvalidateTag(ctx context.Context, tag string) error {
	if s.closed.Load() {
		return ErrClosed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE key IN (SELECT key FROM cache_tags WHERE tag = ?)`, tag,
	); err != nil {
		return fmt.Errorf("cache: invalidate %q: %w", tag, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache_entries)`,
	); err != nil {
		return fmt.Errorf("cache: invalidate %q: %w", tag, err)
	}

	return tx.Commit()
}

// Delete removes a value. Idempotent - no error on miss.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_tags WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete %q: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (s *SQLiteStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at IS NOT NULL AND expires_at <= ?`, s.now().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("cache: purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache: purge expired: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_tags WHERE key NOT IN (SELECT key FROM cache_entries)`,
	); err != nil {
		return n, fmt.Errorf("cache: purge expired tags: %w", err)
	}
	return n, nil
}

// Len returns the number of stored rows, expired ones included.
func (s *SQLiteStore) Len(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: count entries: %w", err)
	}
	return n, nil
}

// Close closes the database. Further calls fail with ErrClosed.
func (s *SQLiteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ensure SQLiteStore implements Store
var _ Store = (*SQLiteStore)(nil)
