// Package store persists the dataset: recording metadata and the
// time-series tables produced by the stream converters. SQLite (modernc)
// is the default backend; Postgres serves shared dataset servers. Queries
// are written once with ? placeholders and rebound per dialect.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// ParseDialect accepts the driver names and common aliases.
func ParseDialect(v string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pg":
		return Postgres, nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", v)
}

// Options tune how a store is opened.
type Options struct {
	// ReadOnly opens a handle that refuses writes and keeps its read lock
	// for its lifetime. Loader workers each hold their own read-only handle.
	ReadOnly bool
	// MaxOpenConns caps the pool; zero keeps the driver default.
	MaxOpenConns int
}

// Store wraps a database handle with the dataset's reads and writes.
type Store struct {
	db       *sql.DB
	dialect  Dialect
	readOnly bool

	// writeMu serialises SQLite write transactions, which would otherwise
	// fail with SQLITE_BUSY once the busy timeout runs out.
	writeMu sync.Mutex
}

// Open connects to the dataset database. For SQLite dsn is a file path.
func Open(dialect Dialect, dsn string, opts Options) (*Store, error) {
	var (
		db  *sql.DB
		err error
	)
	switch dialect {
	case SQLite:
		db, err = sql.Open("sqlite", sqliteDSN(dsn, opts.ReadOnly))
	case Postgres:
		if opts.ReadOnly {
			dsn = withPostgresParam(dsn, "default_transaction_read_only", "on")
		}
		db, err = sql.Open("postgres", dsn)
	default:
		return nil, fmt.Errorf("unsupported database dialect %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s database: %w", dialect, err)
	}
	return &Store{db: db, dialect: dialect, readOnly: opts.ReadOnly}, nil
}

// New wraps an existing handle. It is used with sqlmock in tests.
func New(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

// sqliteDSN builds a modernc DSN whose pragmas apply to every pooled
// connection rather than only the one that happens to run an Exec.
// Read-only handles keep their shared lock for their lifetime, which only
// coexists with other readers under a rollback journal, not WAL.
func sqliteDSN(path string, readOnly bool) string {
	pragmas := []string{"busy_timeout(5000)", "foreign_keys(1)"}
	if readOnly {
		pragmas = append(pragmas, "query_only(1)", "locking_mode(EXCLUSIVE)")
	} else {
		pragmas = append(pragmas, "journal_mode(DELETE)", "synchronous(NORMAL)", "temp_store(MEMORY)")
	}
	q := make([]string, 0, len(pragmas)+1)
	if readOnly {
		q = append(q, "mode=ro")
	}
	for _, p := range pragmas {
		q = append(q, "_pragma="+p)
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return "file:" + strings.TrimPrefix(path, "file:") + sep + strings.Join(q, "&")
}

// withPostgresParam adds a run-time parameter to a URL or key=value DSN.
// lib/pq forwards unrecognised keys to the server as session settings.
func withPostgresParam(dsn, key, value string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err == nil {
			q := u.Query()
			q.Set(key, value)
			u.RawQuery = q.Encode()
			return u.String()
		}
	}
	return strings.TrimSpace(dsn + " " + key + "=" + value)
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Dialect reports the backend in use.
func (s *Store) Dialect() Dialect { return s.dialect }

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool { return s.readOnly }

// Close releases the handle.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) queryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}
