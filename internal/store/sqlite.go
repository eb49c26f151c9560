// Package store provides storage backends for uranaibot.
//
// This file implements the SQLite-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/hoshiyomi/uranaibot/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories.
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore implements Store, DedupRepo, OutboxRepo and JobRepo on a
// single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN is a file path; missing directories are created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000")
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

// GetSession retrieves the session for a user, or (nil, nil) when absent.
func (s *SQLiteStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT user_id, phase, profile_json, concern, credit_balance, input_error_count, closed, created_at, updated_at
		 FROM sessions WHERE user_id = ?`, userID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetSession not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a new session row. ErrSessionExists signals the
// one-row-per-user invariant held against a concurrent creator.
func (s *SQLiteStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	profileJSON, err := marshalProfile(sess.Profile)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO sessions (user_id, phase, profile_json, concern, credit_balance, input_error_count, closed, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.UserID, string(sess.Phase), profileJSON, sess.Concern, sess.CreditBalance,
		sess.InputErrorCount, sess.Closed, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("create session failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionExists
	}
	slog.Debug("SQLiteStore CreateSession succeeded", "userID", sess.UserID)
	return nil
}

// UpdateSession writes the session conditionally on the stored phase.
func (s *SQLiteStore) UpdateSession(sess models.Session, expectedPhase models.Phase) error {
	return s.updateSessionTx(s.db, sess, expectedPhase)
}

// execer covers both *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStore) updateSessionTx(e execer, sess models.Session, expectedPhase models.Phase) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	profileJSON, err := marshalProfile(sess.Profile)
	if err != nil {
		return err
	}
	res, err := e.Exec(
		`UPDATE sessions
		 SET phase = ?, profile_json = ?, concern = ?, credit_balance = ?, input_error_count = ?, closed = ?, updated_at = ?
		 WHERE user_id = ? AND phase = ?`,
		string(sess.Phase), profileJSON, sess.Concern, sess.CreditBalance,
		sess.InputErrorCount, sess.Closed, time.Now(),
		sess.UserID, string(expectedPhase))
	if err != nil {
		slog.Error("SQLiteStore UpdateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("update session failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("SQLiteStore UpdateSession phase conflict", "userID", sess.UserID, "expectedPhase", expectedPhase)
		return ErrPhaseConflict
	}
	slog.Debug("SQLiteStore UpdateSession succeeded", "userID", sess.UserID, "phase", sess.Phase)
	return nil
}

// UpdateSessionWithResult applies the conditional update and the history
// append in one transaction.
func (s *SQLiteStore) UpdateSessionWithResult(sess models.Session, expectedPhase models.Phase, r models.GeneratedResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(tx, sess, expectedPhase); err != nil {
		return err
	}
	if err := insertResult(tx, r); err != nil {
		slog.Error("SQLiteStore UpdateSessionWithResult append failed", "error", err, "userID", sess.UserID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	slog.Debug("SQLiteStore UpdateSessionWithResult succeeded", "userID", sess.UserID, "phase", sess.Phase, "kind", r.Kind)
	return nil
}

// AppendResult records a completed generation call.
func (s *SQLiteStore) AppendResult(r models.GeneratedResult) error {
	if err := insertResult(s.db, r); err != nil {
		slog.Error("SQLiteStore AppendResult failed", "error", err, "userID", r.UserID)
		return err
	}
	return nil
}

func insertResult(e execer, r models.GeneratedResult) error {
	_, err := e.Exec(
		`INSERT INTO generated_results (id, user_id, kind, prompt_inputs, output_text, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.UserID, string(r.Kind), r.PromptInputs, r.OutputText, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert result failed: %w", err)
	}
	return nil
}

// ListResults returns all generated results for a user, oldest first.
func (s *SQLiteStore) ListResults(userID string) ([]models.GeneratedResult, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, kind, prompt_inputs, output_text, created_at
		 FROM generated_results WHERE user_id = ? ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("SQLiteStore ListResults query failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("list results failed: %w", err)
	}
	defer rows.Close()

	var results []models.GeneratedResult
	for rows.Next() {
		var r models.GeneratedResult
		var kind string
		if err := rows.Scan(&r.ID, &r.UserID, &kind, &r.PromptInputs, &r.OutputText, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan result failed: %w", err)
		}
		r.Kind = models.ReadingKind(kind)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results failed: %w", err)
	}
	return results, nil
}

// AddCredits adjusts the credit balance, creating the session first if the
// purchase arrived before the user's first message.
func (s *SQLiteStore) AddCredits(userID string, delta int) (int, error) {
	existing, err := s.GetSession(userID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		if err := s.CreateSession(models.NewSession(userID, time.Now())); err != nil && err != ErrSessionExists {
			return 0, err
		}
	}

	_, err = s.db.Exec(
		`UPDATE sessions SET credit_balance = credit_balance + ?, updated_at = ? WHERE user_id = ?`,
		delta, time.Now(), userID)
	if err != nil {
		slog.Error("SQLiteStore AddCredits failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("add credits failed: %w", err)
	}

	var balance int
	if err := s.db.QueryRow(`SELECT credit_balance FROM sessions WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, fmt.Errorf("read balance failed: %w", err)
	}
	slog.Debug("SQLiteStore AddCredits succeeded", "userID", userID, "delta", delta, "balance", balance)
	return balance, nil
}
