package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// marshalProfile serializes an optional profile for the profile_json column.
// A nil profile maps to NULL.
func marshalProfile(p *models.Profile) (interface{}, error) {
	if p == nil {
		return nil, nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal profile failed: %w", err)
	}
	return string(b), nil
}

// unmarshalProfile deserializes the profile_json column.
func unmarshalProfile(s string) (*models.Profile, error) {
	if s == "" {
		return nil, nil
	}
	var p models.Profile
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, fmt.Errorf("unmarshal profile failed: %w", err)
	}
	return &p, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanSession scans a session row. sql.ErrNoRows passes through unchanged
// so callers can map it to the not-found contract.
func scanSession(row rowScanner) (*models.Session, error) {
	var sess models.Session
	var phase string
	var profileJSON sql.NullString
	err := row.Scan(
		&sess.UserID, &phase, &profileJSON, &sess.Concern, &sess.CreditBalance,
		&sess.InputErrorCount, &sess.Closed, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	sess.Phase = models.Phase(phase)
	profile, err := unmarshalProfile(profileJSON.String)
	if err != nil {
		return nil, err
	}
	sess.Profile = profile
	return &sess, nil
}

// scanJob scans a Job from a row scanner.
func scanJob(row rowScanner) (Job, error) {
	var j Job
	var payloadJSON, lastError, dedupeKey sql.NullString
	var lockedAt sql.NullTime
	err := row.Scan(
		&j.ID, &j.Kind, &j.RunAt, &payloadJSON, &j.Status, &j.Attempt, &j.MaxAttempts,
		&lastError, &lockedAt, &dedupeKey, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return j, err
	}
	j.PayloadJSON = payloadJSON.String
	j.LastError = lastError.String
	j.DedupeKey = dedupeKey.String
	if lockedAt.Valid {
		j.LockedAt = &lockedAt.Time
	}
	return j, nil
}

// scanOutboxMessage scans an OutboxMessage from a row scanner.
func scanOutboxMessage(row rowScanner) (OutboxMessage, error) {
	var m OutboxMessage
	var payloadJSON, dedupeKey, lastError sql.NullString
	var nextAttemptAt, lockedAt sql.NullTime
	err := row.Scan(
		&m.ID, &m.UserID, &m.Kind, &payloadJSON, &m.Status, &m.Attempts,
		&nextAttemptAt, &dedupeKey, &lockedAt, &lastError, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return m, err
	}
	m.PayloadJSON = payloadJSON.String
	m.DedupeKey = dedupeKey.String
	m.LastError = lastError.String
	if nextAttemptAt.Valid {
		m.NextAttemptAt = &nextAttemptAt.Time
	}
	if lockedAt.Valid {
		m.LockedAt = &lockedAt.Time
	}
	return m, nil
}
