// Package store provides storage backends for uranaibot.
//
// The session row per user is the only shared mutable resource in the core;
// it is updated with compare-and-swap semantics keyed on the expected phase,
// never via blind overwrite. Backends: in-memory (tests and single-instance
// deployments), SQLite, and PostgreSQL.
package store

import (
	"errors"
	"strings"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// Error variables for session persistence.
var (
	// ErrSessionExists is returned by CreateSession when a row for the user
	// already exists; callers should re-read instead of overwriting.
	ErrSessionExists = errors.New("session already exists")
	// ErrPhaseConflict is returned by conditional updates whose expected
	// phase no longer matches the stored row. It signals a detected race,
	// not a failure: the losing writer stands down.
	ErrPhaseConflict = errors.New("session phase changed concurrently")
	// ErrSessionNotFound is returned by updates against a missing row.
	ErrSessionNotFound = errors.New("session not found")
)

// Store defines session persistence with optimistic concurrency.
type Store interface {
	// GetSession returns the session for a user, or (nil, nil) if absent.
	GetSession(userID string) (*models.Session, error)

	// CreateSession inserts a new session row. Returns ErrSessionExists if
	// the user already has one (upsert-by-key invariant: one row per user).
	CreateSession(s models.Session) error

	// UpdateSession writes the session conditionally on the stored phase
	// still being expectedPhase. Returns ErrPhaseConflict when another
	// writer advanced the phase first.
	UpdateSession(s models.Session, expectedPhase models.Phase) error

	// UpdateSessionWithResult performs the conditional session update and
	// the history append in a single transaction, so a phase advance and
	// its generated result are persisted together or not at all.
	UpdateSessionWithResult(s models.Session, expectedPhase models.Phase, r models.GeneratedResult) error

	// AppendResult records a completed generation call. Entries are
	// immutable once written.
	AppendResult(r models.GeneratedResult) error

	// ListResults returns all generated results for a user, oldest first.
	ListResults(userID string) ([]models.GeneratedResult, error)

	// AddCredits adjusts the credit balance outside the phase machine
	// (payment top-ups). A missing session is created first so that a
	// purchase arriving before the first message is not lost.
	// Returns the new balance.
	AddCredits(userID string, delta int) (int, error)

	// Close releases the underlying resources.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL-style connection strings
// and "sqlite" for anything else (treated as a file path).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
