package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"github.com/roach88/strata/internal/faults"
	"github.com/roach88/strata/internal/ids"
)

//go:embed schema.sql
var schemaSQL string

// Format version tracking:
// 1 - records, commits, store_meta
// 2 - index on records(seq)
const currentFormatVersion = 2

var errClosed = errors.New("store is closed")

// Clock is the logical clock that stamps commits.
//
// Safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithIDGenerator sets the generator for commit ids.
func WithIDGenerator(g ids.Generator) Option {
	return func(s *Store) {
		if g != nil {
			s.ids = g
		}
	}
}

// Store is the durable backing for one dataset.
//
// Safe for concurrent use; writes are serialized.
type Store struct {
	mu       sync.Mutex // guards db and closed; held for the whole of each write
	desc     Descriptor
	location string
	db       *sql.DB
	clock    *Clock
	ids      ids.Generator
	logger   *slog.Logger
	closed   bool
}

// Open claims the descriptor's location and opens its backing. The
// schema DDL and format migrations are applied, and the descriptor's
// schema hash is checked against the one recorded on first open.
//
// Every failure is a faults.Error with a store-open code.
func Open(ctx context.Context, desc Descriptor, opts ...Option) (*Store, error) {
	if err := desc.Validate(); err != nil {
		return nil, faults.StoreOpen("validate descriptor", err)
	}
	loc, err := desc.Location()
	if err != nil {
		return nil, faults.StoreOpen("resolve location", err)
	}
	if !claimLocation(loc) {
		return nil, faults.BusyLocation(loc)
	}

	s := &Store{
		desc:     desc,
		location: loc,
		ids:      ids.UUIDv7Generator{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := s.connect(ctx)
	if err != nil {
		releaseLocation(loc)
		return nil, err
	}
	s.db = db

	s.logger.Debug("store opened",
		"location", loc,
		"kind", desc.Kind,
		"driver", desc.driverName(),
		"seq", s.clock.Current())
	return s, nil
}

// OpenAsync opens the store on a new goroutine and calls done exactly
// once with the result.
func OpenAsync(ctx context.Context, desc Descriptor, done func(*Store, error), opts ...Option) {
	go func() {
		s, err := Open(ctx, desc, opts...)
		done(s, err)
	}()
}

// connect opens the database and brings it to the current format.
func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	db, err := sql.Open(s.desc.driverName(), s.desc.dsn())
	if err != nil {
		return nil, faults.StoreOpen("open database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, faults.StoreOpen("connect", err)
	}

	// One connection: a single writer, and an in-memory database that
	// lives as long as the store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := s.applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, faults.StoreOpen("apply pragmas", err)
	}
	if err := s.applySchema(ctx, db); err != nil {
		db.Close()
		return nil, faults.StoreOpen("apply schema", err)
	}
	if err := s.checkSchemaHash(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	var last int64
	if err := db.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM commits`).Scan(&last); err != nil {
		db.Close()
		return nil, faults.StoreOpen("read last seq", err)
	}
	s.clock = NewClockAt(last)

	return db, nil
}

// applyPragmas sets SQLite configuration. Postgres needs none.
func (s *Store) applyPragmas(ctx context.Context, db *sql.DB) error {
	if s.desc.Kind == KindPostgres {
		return nil
	}

	pragmas := []string{
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	if s.desc.Kind == KindFile {
		pragmas = append([]string{"PRAGMA journal_mode = WAL"}, pragmas...)
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}
	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func (s *Store) applySchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}
	if err := s.runMigrations(ctx, db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// runMigrations applies incremental migrations based on
// store_meta.format_version.
func (s *Store) runMigrations(ctx context.Context, db *sql.DB) error {
	raw, ok, err := s.readMeta(ctx, db, "format_version")
	if err != nil {
		return err
	}
	version := 1
	if ok {
		version, err = strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("parse format_version %q: %w", raw, err)
		}
	}
	if version > currentFormatVersion {
		return fmt.Errorf("format version %d is newer than supported %d", version, currentFormatVersion)
	}

	if version < 2 {
		if err := migrateToV2(ctx, db); err != nil {
			return err
		}
	}

	return s.writeMeta(ctx, db, "format_version", strconv.Itoa(currentFormatVersion))
}

// migrateToV2 indexes records by seq.
func migrateToV2(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_records_seq ON records(seq)`)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	return nil
}

// checkSchemaHash records the descriptor's schema hash on first open and
// rejects a different one afterwards. Descriptors without a schema open
// any store.
func (s *Store) checkSchemaHash(ctx context.Context, db *sql.DB) error {
	want, err := s.desc.Schema.Hash()
	if err != nil {
		return faults.StoreOpen("hash schema", err)
	}
	if want == "" {
		return nil
	}

	got, ok, err := s.readMeta(ctx, db, "schema_hash")
	if err != nil {
		return faults.StoreOpen("read schema hash", err)
	}
	if ok && got != "" {
		if got != want {
			return faults.SchemaMismatch(s.location, want, got)
		}
		return nil
	}
	if err := s.writeMeta(ctx, db, "schema_hash", want); err != nil {
		return faults.StoreOpen("record schema hash", err)
	}
	return nil
}

func (s *Store) readMeta(ctx context.Context, db *sql.DB, key string) (string, bool, error) {
	var v string
	err := db.QueryRowContext(ctx, s.rebind(`SELECT value FROM store_meta WHERE key = ?`), key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) writeMeta(ctx context.Context, db *sql.DB, key, value string) error {
	_, err := db.ExecContext(ctx, s.rebind(`
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`), key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.desc.Kind != KindPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Location returns the identity claimed by this store.
func (s *Store) Location() string {
	return s.location
}

// Descriptor returns the descriptor the store was opened with.
func (s *Store) Descriptor() Descriptor {
	return s.desc
}

// LastSeq returns the seq of the latest commit.
func (s *Store) LastSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock == nil {
		return 0
	}
	return s.clock.Current()
}

// Close closes the database and releases the location. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	releaseLocation(s.location)

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return nil
}

// conn returns the open database. Callers hold s.mu.
func (s *Store) conn() (*sql.DB, error) {
	if s.closed {
		return nil, errClosed
	}
	if s.db == nil {
		return nil, errors.New("store is unavailable after a failed reset")
	}
	return s.db, nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, err := s.conn()
	if err != nil {
		return err
	}
	var value string
	if err := db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
