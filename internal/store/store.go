package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/offsync/internal/ir"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added idx_actions_entity for ByEntity listings
const currentSchemaVersion = 1

// IDGenerator produces action ids.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// PayloadValidator checks a draft's payload before it is written.
// internal/schema provides a CUE-backed implementation.
type PayloadValidator interface {
	ValidatePayload(kind ir.ActionKind, entityType string, payload ir.Payload) error
}

// Store is the durable Action Log.
// Uses SQLite with WAL mode and a single connection.
type Store struct {
	db            *sql.DB
	now           func() time.Time
	ids           IDGenerator
	validator     PayloadValidator
	defaultPolicy map[ir.ActionKind]ir.ConflictPolicy
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source used for created_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator sets the action id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// WithPayloadValidator enables payload validation at enqueue.
func WithPayloadValidator(v PayloadValidator) Option {
	return func(s *Store) { s.validator = v }
}

// WithDefaultPolicy records policy on drafts of the given kind that leave
// their policy unset.
func WithDefaultPolicy(kind ir.ActionKind, policy ir.ConflictPolicy) Option {
	return func(s *Store) { s.defaultPolicy[kind] = policy }
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// Use ":memory:" for a throwaway log in tests.
func Open(path string, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, ir.IOFailure("open database", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, ir.IOFailure("connect to database", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps ":memory:" databases alive for the life of the Store.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, ir.IOFailure("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, ir.IOFailure("apply schema", err)
	}

	s := &Store{
		db:            db,
		now:           time.Now,
		ids:           UUIDv7Generator{},
		defaultPolicy: make(map[ir.ActionKind]ir.ConflictPolicy),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB for direct queries in tests and tooling.
func (s *Store) DB() *sql.DB {
	return s.db
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_actions_entity
		ON actions(entity_type, seq)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	if err := s.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
