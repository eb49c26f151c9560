// Package store provides storage backends for uranaibot.
//
// This file implements the PostgreSQL-backed session store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/hoshiyomi/uranaibot/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore implements Store, DedupRepo, OutboxRepo and JobRepo on
// PostgreSQL, for multi-instance deployments.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// Close closes the PostgreSQL connection pool.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres connection pool")
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// GetSession retrieves the session for a user, or (nil, nil) when absent.
func (s *PostgresStore) GetSession(userID string) (*models.Session, error) {
	row := s.db.QueryRow(
		`SELECT user_id, phase, profile_json, concern, credit_balance, input_error_count, closed, created_at, updated_at
		 FROM sessions WHERE user_id = $1`, userID)
	sess, err := scanSession(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetSession not found", "userID", userID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetSession failed", "error", err, "userID", userID)
		return nil, fmt.Errorf("get session failed: %w", err)
	}
	return sess, nil
}

// CreateSession inserts a new session row, holding the one-row-per-user
// invariant with ON CONFLICT DO NOTHING.
func (s *PostgresStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	profileJSON, err := marshalProfile(sess.Profile)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(
		`INSERT INTO sessions (user_id, phase, profile_json, concern, credit_balance, input_error_count, closed, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id) DO NOTHING`,
		sess.UserID, string(sess.Phase), profileJSON, sess.Concern, sess.CreditBalance,
		sess.InputErrorCount, sess.Closed, sess.CreatedAt, sess.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("create session failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("create session rows affected: %w", err)
	}
	if n == 0 {
		return ErrSessionExists
	}
	slog.Debug("PostgresStore CreateSession succeeded", "userID", sess.UserID)
	return nil
}

// UpdateSession writes the session conditionally on the stored phase.
func (s *PostgresStore) UpdateSession(sess models.Session, expectedPhase models.Phase) error {
	return s.updateSessionTx(s.db, sess, expectedPhase)
}

func (s *PostgresStore) updateSessionTx(e execer, sess models.Session, expectedPhase models.Phase) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	profileJSON, err := marshalProfile(sess.Profile)
	if err != nil {
		return err
	}
	res, err := e.Exec(
		`UPDATE sessions
		 SET phase = $1, profile_json = $2, concern = $3, credit_balance = $4, input_error_count = $5, closed = $6, updated_at = $7
		 WHERE user_id = $8 AND phase = $9`,
		string(sess.Phase), profileJSON, sess.Concern, sess.CreditBalance,
		sess.InputErrorCount, sess.Closed, time.Now(),
		sess.UserID, string(expectedPhase))
	if err != nil {
		slog.Error("PostgresStore UpdateSession failed", "error", err, "userID", sess.UserID)
		return fmt.Errorf("update session failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug("PostgresStore UpdateSession phase conflict", "userID", sess.UserID, "expectedPhase", expectedPhase)
		return ErrPhaseConflict
	}
	slog.Debug("PostgresStore UpdateSession succeeded", "userID", sess.UserID, "phase", sess.Phase)
	return nil
}

// UpdateSessionWithResult applies the conditional update and the history
// append in one transaction.
func (s *PostgresStore) UpdateSessionWithResult(sess models.Session, expectedPhase models.Phase, r models.GeneratedResult) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction failed: %w", err)
	}
	defer tx.Rollback()

	if err := s.updateSessionTx(tx, sess, expectedPhase); err != nil {
		return err
	}
	if err := insertResultPg(tx, r); err != nil {
		slog.Error("PostgresStore UpdateSessionWithResult append failed", "error", err, "userID", sess.UserID)
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	slog.Debug("PostgresStore UpdateSessionWithResult succeeded", "userID", sess.UserID, "phase", sess.Phase, "kind", r.Kind)
	return nil
}

// AppendResult records a completed generation call.
func (s *PostgresStore) AppendResult(r models.GeneratedResult) error {
	if err := insertResultPg(s.db, r); err != nil {
		slog.Error("PostgresStore AppendResult failed", "error", err, "userID", r.UserID)
		return err
	}
	return nil
}

func insertResultPg(e execer, r models.GeneratedResult) error {
	_, err := e.Exec(
		`INSERT INTO generated_results (id, user_id, kind, prompt_inputs, output_text, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		r.ID, r.UserID, string(r.Kind), r.PromptInputs, r.OutputText, r.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert result failed: %w", err)
	}
	return nil
}

// ListResults returns all generated results for a user, oldest first.
func (s *PostgresStore) ListResults(userID string) ([]models.GeneratedResult, error) {
	rows, err := s.db.Query(
		`SELECT id, user_id, kind, prompt_inputs, output_text, created_at
		 FROM generated_results WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		slog.Error("PostgresStore ListResults query failed", "error", err, "userID", userID)
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

// AddCredits adjusts the credit balance atomically and returns the new value.
func (s *PostgresStore) AddCredits(userID string, delta int) (int, error) {
	existing, err := s.GetSession(userID)
	if err != nil {
		return 0, err
	}
	if existing == nil {
		if err := s.CreateSession(models.NewSession(userID, time.Now())); err != nil && err != ErrSessionExists {
			return 0, err
		}
	}

	var balance int
	err = s.db.QueryRow(
		`UPDATE sessions SET credit_balance = credit_balance + $1, updated_at = $2 WHERE user_id = $3
		 RETURNING credit_balance`,
		delta, time.Now(), userID).Scan(&balance)
	if err != nil {
		slog.Error("PostgresStore AddCredits failed", "error", err, "userID", userID)
		return 0, fmt.Errorf("add credits failed: %w", err)
	}
	slog.Debug("PostgresStore AddCredits succeeded", "userID", userID, "delta", delta, "balance", balance)
	return balance, nil
}
