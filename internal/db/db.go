package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cipherchat/internal/metrics"
)

// DefaultRetention is how long a seen message survives after creation.
const DefaultRetention = 10 * time.Minute

// DB is the SQLite-backed message store. It also holds the user and contact
// tables of the auth and contacts collaborators.
type DB struct {
	*sql.DB
	now       func() time.Time
	retention time.Duration
	metrics   *metrics.Metrics
}

// Option configures a DB.
type Option func(*DB)

// WithClock replaces time.Now, used for createdAt and expiry cutoffs.
func WithClock(now func() time.Time) Option {
	return func(db *DB) { db.now = now }
}

// WithRetention overrides DefaultRetention.
func WithRetention(d time.Duration) Option {
	return func(db *DB) { db.retention = d }
}

// WithMetrics records store counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(db *DB) { db.metrics = m }
}

// Open creates the database directory if needed and opens a SQLite
// connection with WAL mode and a busy timeout. Transactions take the write
// lock at BEGIN so that concurrent writers wait on the busy timeout instead
// of failing on lock upgrade.
func Open(dbPath string, opts ...Option) (*DB, error) {
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	sqlDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	return New(sqlDB, opts...), nil
}

// New wraps an already opened *sql.DB.
func New(sqlDB *sql.DB, opts ...Option) *DB {
	db := &DB{
		DB:        sqlDB,
		now:       time.Now,
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// Retention returns the configured retention window.
func (db *DB) Retention() time.Duration {
	return db.retention
}

// Now returns the store's notion of the current time.
func (db *DB) Now() time.Time {
	return db.now()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
