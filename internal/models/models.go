// Package models defines the core data structures for uranaibot.
//
// It includes the session record, the reading phase enum, and the outbound
// message shapes shared across modules.
package models

import (
	"errors"
	"time"
)

// Phase represents the discrete state of a user's session in the fixed
// linear reading flow.
type Phase string

const (
	// PhaseAwaitingProfile is the initial phase; waiting for a message
	// containing the required profile fields.
	PhaseAwaitingProfile Phase = "AWAITING_PROFILE"
	// PhaseProfileComplete means the profile reading was delivered; waiting
	// for the bonus unlock trigger phrase.
	PhaseProfileComplete Phase = "PROFILE_COMPLETE"
	// PhaseAwaitingConcern means the unlock trigger was received; waiting
	// for free text describing the user's concern.
	PhaseAwaitingConcern Phase = "AWAITING_CONCERN"
	// PhaseOfferShown means the bonus reading was delivered; waiting for the
	// closing trigger phrase.
	PhaseOfferShown Phase = "OFFER_SHOWN"
	// PhaseClosed is terminal; the session produces no further output.
	PhaseClosed Phase = "CLOSED"
)

// phaseRanks orders phases along the only legal progression. Transitions
// never move to a lower rank.
var phaseRanks = map[Phase]int{
	PhaseAwaitingProfile: 0,
	PhaseProfileComplete: 1,
	PhaseAwaitingConcern: 2,
	PhaseOfferShown:      3,
	PhaseClosed:          4,
}

// Rank returns the position of the phase in the linear flow, or -1 for an
// unknown phase.
func (p Phase) Rank() int {
	if r, ok := phaseRanks[p]; ok {
		return r
	}
	return -1
}

// IsValidPhase checks if the given phase is one of the known phase values.
func IsValidPhase(p Phase) bool {
	_, ok := phaseRanks[p]
	return ok
}

// Session configuration constants.
const (
	// InitialCreditBalance is the number of generation calls a new session
	// may trigger before an external top-up.
	InitialCreditBalance = 2
	// CreditTopUpAmount is added to the balance per completed purchase event.
	CreditTopUpAmount = 2
	// MaxInputErrors caps how many guidance messages are sent for malformed
	// profile submissions before the bot goes silent.
	MaxInputErrors = 2
)

// Error variables shared across modules.
var (
	ErrEmptyUserID      = errors.New("user id cannot be empty")
	ErrInvalidPhase     = errors.New("invalid session phase")
	ErrGenerationFailed = errors.New("text generation failed")
)

// Profile holds the structured user data captured during the profile phase.
// BirthTime and MBTI are optional.
type Profile struct {
	Name      string `json:"name"`
	BirthDate string `json:"birth_date"`
	BirthTime string `json:"birth_time,omitempty"`
	MBTI      string `json:"mbti,omitempty"`
	Gender    string `json:"gender"`
}

// Session is the authoritative per-user state record. Exactly one session
// exists per user id; the phase field is the single source of truth for
// what happens next.
type Session struct {
	UserID          string    `json:"user_id"`
	Phase           Phase     `json:"phase"`
	Profile         *Profile  `json:"profile,omitempty"`
	Concern         string    `json:"concern,omitempty"`
	CreditBalance   int       `json:"credit_balance"`
	InputErrorCount int       `json:"input_error_count"`
	Closed          bool      `json:"closed"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewSession creates a session in the initial phase with the starting
// credit balance.
func NewSession(userID string, now time.Time) Session {
	return Session{
		UserID:        userID,
		Phase:         PhaseAwaitingProfile,
		CreditBalance: InitialCreditBalance,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate performs basic validation on a Session.
func (s *Session) Validate() error {
	if s.UserID == "" {
		return ErrEmptyUserID
	}
	if !IsValidPhase(s.Phase) {
		return ErrInvalidPhase
	}
	return nil
}

// ReadingKind identifies which reading a generated result belongs to.
type ReadingKind string

const (
	// ReadingKindProfile is the first reading, built from the profile fields.
	ReadingKindProfile ReadingKind = "profile"
	// ReadingKindBonus is the second reading, built around the user's concern.
	ReadingKindBonus ReadingKind = "bonus"
)

// GenerationRequest is a structured prompt for the generation backend,
// split into an instruction component and an opaque user-data component.
type GenerationRequest struct {
	Kind   ReadingKind `json:"kind"`
	System string      `json:"system"`
	User   string      `json:"user"`
}

// GeneratedResult is one completed generation call. Entries are append-only
// and never edited or deleted.
type GeneratedResult struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Kind         ReadingKind `json:"kind"`
	PromptInputs string      `json:"prompt_inputs"`
	OutputText   string      `json:"output_text"`
	CreatedAt    time.Time   `json:"created_at"`
}

// InboundEvent is a single text message delivery from the chat platform.
type InboundEvent struct {
	UserID     string    `json:"user_id"`
	MessageID  string    `json:"message_id"`
	ReplyToken string    `json:"reply_token"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
}
