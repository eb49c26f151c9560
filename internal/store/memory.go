// Package store provides storage backends for uranaibot.
//
// This file implements an in-memory store for tests and single-instance
// deployments. It honors the same conditional-update contract as the SQL
// backends.
package store

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoshiyomi/uranaibot/internal/models"
)

// InMemoryStore implements Store, DedupRepo, OutboxRepo and JobRepo with
// mutex-guarded maps.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string]models.Session
	results  map[string][]models.GeneratedResult
	dedup    map[string]DedupRecord
	outbox   map[string]OutboxMessage
	jobs     map[string]Job
}

var (
	_ Store      = (*InMemoryStore)(nil)
	_ DedupRepo  = (*InMemoryStore)(nil)
	_ OutboxRepo = (*InMemoryStore)(nil)
	_ JobRepo    = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]models.Session),
		results:  make(map[string][]models.GeneratedResult),
		dedup:    make(map[string]DedupRecord),
		outbox:   make(map[string]OutboxMessage),
		jobs:     make(map[string]Job),
	}
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }

// Ping is a no-op for the in-memory store.
func (s *InMemoryStore) Ping() error { return nil }

// GetSession retrieves the session for a user, or (nil, nil) when absent.
func (s *InMemoryStore) GetSession(userID string) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	cp := sess
	return &cp, nil
}

// CreateSession inserts a new session row.
func (s *InMemoryStore) CreateSession(sess models.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sess.UserID]; ok {
		return ErrSessionExists
	}
	s.sessions[sess.UserID] = sess
	slog.Debug("InMemoryStore CreateSession succeeded", "userID", sess.UserID)
	return nil
}

// UpdateSession writes the session conditionally on the stored phase.
func (s *InMemoryStore) UpdateSession(sess models.Session, expectedPhase models.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateSessionLocked(sess, expectedPhase)
}

func (s *InMemoryStore) updateSessionLocked(sess models.Session, expectedPhase models.Phase) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	current, ok := s.sessions[sess.UserID]
	if !ok {
		return ErrSessionNotFound
	}
	if current.Phase != expectedPhase {
		slog.Debug("InMemoryStore UpdateSession phase conflict", "userID", sess.UserID, "expectedPhase", expectedPhase, "currentPhase", current.Phase)
		return ErrPhaseConflict
	}
	sess.UpdatedAt = time.Now()
	s.sessions[sess.UserID] = sess
	return nil
}

// UpdateSessionWithResult applies the conditional update and the history
// append atomically under the store lock.
func (s *InMemoryStore) UpdateSessionWithResult(sess models.Session, expectedPhase models.Phase, r models.GeneratedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateSessionLocked(sess, expectedPhase); err != nil {
		return err
	}
	s.results[r.UserID] = append(s.results[r.UserID], r)
	return nil
}

// AppendResult records a completed generation call.
func (s *InMemoryStore) AppendResult(r models.GeneratedResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[r.UserID] = append(s.results[r.UserID], r)
	return nil
}

// ListResults returns all generated results for a user, oldest first.
func (s *InMemoryStore) ListResults(userID string) ([]models.GeneratedResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.GeneratedResult, len(s.results[userID]))
	copy(out, s.results[userID])
	return out, nil
}

// AddCredits adjusts the credit balance, creating the session if absent.
func (s *InMemoryStore) AddCredits(userID string, delta int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = models.NewSession(userID, time.Now())
	}
	sess.CreditBalance += delta
	sess.UpdatedAt = time.Now()
	s.sessions[userID] = sess
	return sess.CreditBalance, nil
}

// DedupRepo implementation.

func (s *InMemoryStore) IsDuplicate(messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.dedup[messageID]
	return ok, nil
}

func (s *InMemoryStore) RecordInbound(messageID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = DedupRecord{MessageID: messageID, UserID: userID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.dedup[messageID]
	if !ok {
		return nil
	}
	now := time.Now()
	rec.ProcessedAt = &now
	s.dedup[messageID] = rec
	return nil
}

// OutboxRepo implementation.

func (s *InMemoryStore) EnqueueOutboxMessage(userID, kind, payloadJSON, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, m := range s.outbox {
			if m.DedupeKey == dedupeKey && m.Status != OutboxStatusSent && m.Status != OutboxStatusCanceled {
				return m.ID, nil
			}
		}
	}
	now := time.Now()
	m := OutboxMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		Kind:        kind,
		PayloadJSON: payloadJSON,
		Status:      OutboxStatusQueued,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.outbox[m.ID] = m
	return m.ID, nil
}

func (s *InMemoryStore) ClaimDueOutboxMessages(now time.Time, limit int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []OutboxMessage
	for _, m := range s.outbox {
		if m.Status == OutboxStatusQueued && (m.NextAttemptAt == nil || !m.NextAttemptAt.After(now)) {
			due = append(due, m)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		m := due[i]
		m.Status = OutboxStatusSending
		t := now
		m.LockedAt = &t
		m.UpdatedAt = now
		s.outbox[m.ID] = m
		due[i] = m
	}
	return due, nil
}

func (s *InMemoryStore) MarkOutboxMessageSent(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusSent
		m.UpdatedAt = time.Now()
		s.outbox[id] = m
	}
	return nil
}

func (s *InMemoryStore) FailOutboxMessage(id string, errMsg string, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.outbox[id]; ok {
		m.Status = OutboxStatusQueued
		m.Attempts++
		m.LastError = errMsg
		m.NextAttemptAt = &nextAttemptAt
		m.LockedAt = nil
		m.UpdatedAt = time.Now()
		s.outbox[id] = m
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleSendingMessages(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, m := range s.outbox {
		if m.Status == OutboxStatusSending && m.LockedAt != nil && m.LockedAt.Before(staleBefore) {
			m.Status = OutboxStatusQueued
			m.LockedAt = nil
			m.UpdatedAt = time.Now()
			s.outbox[id] = m
			n++
		}
	}
	return n, nil
}

// JobRepo implementation.

func (s *InMemoryStore) EnqueueJob(kind string, runAt time.Time, payloadJSON string, dedupeKey string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dedupeKey != "" {
		for _, j := range s.jobs {
			if j.DedupeKey == dedupeKey && j.Status != JobStatusDone && j.Status != JobStatusCanceled {
				return j.ID, nil
			}
		}
	}
	now := time.Now()
	j := Job{
		ID:          uuid.NewString(),
		Kind:        kind,
		RunAt:       runAt,
		PayloadJSON: payloadJSON,
		Status:      JobStatusQueued,
		MaxAttempts: 3,
		DedupeKey:   dedupeKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[j.ID] = j
	return j.ID, nil
}

func (s *InMemoryStore) ClaimDueJobs(now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status == JobStatusQueued && !j.RunAt.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].RunAt.Before(due[j].RunAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	for i := range due {
		j := due[i]
		j.Status = JobStatusRunning
		t := now
		j.LockedAt = &t
		j.UpdatedAt = now
		s.jobs[j.ID] = j
		due[i] = j
	}
	return due, nil
}

func (s *InMemoryStore) CompleteJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusDone
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

func (s *InMemoryStore) FailJob(id string, errMsg string, nextRunAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil
	}
	j.Attempt++
	j.LastError = errMsg
	j.LockedAt = nil
	if j.Attempt >= j.MaxAttempts {
		j.Status = JobStatusFailed
	} else {
		j.Status = JobStatusQueued
		j.RunAt = nextRunAt
	}
	j.UpdatedAt = time.Now()
	s.jobs[id] = j
	return nil
}

func (s *InMemoryStore) CancelJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		j.Status = JobStatusCanceled
		j.LockedAt = nil
		j.UpdatedAt = time.Now()
		s.jobs[id] = j
	}
	return nil
}

func (s *InMemoryStore) RequeueStaleRunningJobs(staleBefore time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, j := range s.jobs {
		if j.Status == JobStatusRunning && j.LockedAt != nil && j.LockedAt.Before(staleBefore) {
			j.Status = JobStatusQueued
			j.LockedAt = nil
			j.UpdatedAt = time.Now()
			s.jobs[id] = j
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := j
		return &cp, nil
	}
	return nil, nil
}
