// Package flow implements the conversation session state machine: the logic
// that, given an inbound message and the persisted per-user session, decides
// the one legal transition, what to generate, and what to send back.
//
// Phases advance along a fixed linear path and never move backward. Every
// phase-dependent write is a conditional update keyed on the phase the
// handler read; a failed precondition means another writer already advanced
// the session and this event stands down silently.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hoshiyomi/uranaibot/internal/extract"
	"github.com/hoshiyomi/uranaibot/internal/guard"
	"github.com/hoshiyomi/uranaibot/internal/messaging"
	"github.com/hoshiyomi/uranaibot/internal/models"
	"github.com/hoshiyomi/uranaibot/internal/prompt"
	"github.com/hoshiyomi/uranaibot/internal/store"
)

// DefaultFollowUpDelay is how long after the profile reading the follow-up
// nudge is scheduled.
const DefaultFollowUpDelay = 22 * time.Hour

// Generator produces reading text from a structured request.
type Generator interface {
	Generate(ctx context.Context, req models.GenerationRequest) (string, error)
}

// Opts holds engine configuration.
type Opts struct {
	Idempotency   guard.IdempotencyGuard
	Limiter       guard.RateLimiter
	Outbox        store.OutboxRepo
	Jobs          store.JobRepo
	FollowUpDelay time.Duration
	ShareURL      string
	PurchaseURL   string
}

// Option configures the engine.
type Option func(*Opts)

// WithIdempotencyGuard sets the delivery dedup guard.
func WithIdempotencyGuard(g guard.IdempotencyGuard) Option {
	return func(o *Opts) { o.Idempotency = g }
}

// WithRateLimiter sets the per-user rate limiter.
func WithRateLimiter(l guard.RateLimiter) Option {
	return func(o *Opts) { o.Limiter = l }
}

// WithOutbox routes generated readings through a durable outbox instead of
// direct sends.
func WithOutbox(o store.OutboxRepo) Option {
	return func(opts *Opts) { opts.Outbox = o }
}

// WithJobs enables the deferred follow-up push via a durable job queue.
func WithJobs(j store.JobRepo) Option {
	return func(o *Opts) { o.Jobs = j }
}

// WithFollowUpDelay overrides the follow-up schedule.
func WithFollowUpDelay(d time.Duration) Option {
	return func(o *Opts) { o.FollowUpDelay = d }
}

// WithShareURL sets the link offered in the closing message.
func WithShareURL(url string) Option {
	return func(o *Opts) { o.ShareURL = url }
}

// WithPurchaseURL sets the link offered when credits run out.
func WithPurchaseURL(url string) Option {
	return func(o *Opts) { o.PurchaseURL = url }
}

// Engine is the session state machine.
type Engine struct {
	store         store.Store
	generator     Generator
	responder     messaging.Responder
	idem          guard.IdempotencyGuard
	limiter       guard.RateLimiter
	outbox        store.OutboxRepo
	jobs          store.JobRepo
	followUpDelay time.Duration
	shareURL      string
	purchaseURL   string

	// Per-user serialization is a local optimization that keeps a burst of
	// messages from one user from racing each other into duplicate
	// generation calls. The store's conditional update remains the arbiter
	// of truth across instances.
	userLocks sync.Map
}

// NewEngine creates the state machine with its collaborators. The guards
// default to in-memory implementations when not provided.
func NewEngine(st store.Store, gen Generator, resp messaging.Responder, opts ...Option) *Engine {
	cfg := Opts{
		FollowUpDelay: DefaultFollowUpDelay,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Idempotency == nil {
		cfg.Idempotency = guard.NewMemoryIdempotencyGuard(0)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = guard.NewMemoryRateLimiter(0, 0)
	}
	return &Engine{
		store:         st,
		generator:     gen,
		responder:     resp,
		idem:          cfg.Idempotency,
		limiter:       cfg.Limiter,
		outbox:        cfg.Outbox,
		jobs:          cfg.Jobs,
		followUpDelay: cfg.FollowUpDelay,
		shareURL:      cfg.ShareURL,
		purchaseURL:   cfg.PurchaseURL,
	}
}

func (e *Engine) lockUser(userID string) func() {
	muIface, _ := e.userLocks.LoadOrStore(userID, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// HandleInbound processes one inbound event end to end: idempotency check,
// rate check, session load or create, phase dispatch. At most one state
// mutation, at most one generation call, at most one outbound send.
func (e *Engine) HandleInbound(ctx context.Context, ev models.InboundEvent) error {
	if ev.UserID == "" {
		return models.ErrEmptyUserID
	}

	if ev.MessageID != "" {
		first, err := e.idem.FirstDelivery(ctx, ev.MessageID, ev.UserID)
		if err != nil {
			slog.Warn("flow idempotency check failed, continuing", "userID", ev.UserID, "error", err)
		} else if !first {
			slog.Debug("flow duplicate delivery dropped", "userID", ev.UserID, "messageID", ev.MessageID)
			return nil
		}
	}

	allowed, err := e.limiter.Allow(ctx, ev.UserID)
	if err != nil {
		slog.Warn("flow rate check failed, continuing", "userID", ev.UserID, "error", err)
	} else if !allowed {
		slog.Debug("flow rate limited", "userID", ev.UserID)
		return nil
	}

	unlock := e.lockUser(ev.UserID)
	defer unlock()

	sess, err := e.loadOrCreateSession(ev.UserID)
	if err != nil {
		slog.Error("flow session load failed", "userID", ev.UserID, "error", err)
		e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
		return err
	}

	slog.Debug("flow dispatching", "userID", ev.UserID, "phase", sess.Phase)
	switch sess.Phase {
	case models.PhaseAwaitingProfile:
		return e.handleAwaitingProfile(ctx, ev, sess)
	case models.PhaseProfileComplete:
		return e.handleProfileComplete(ctx, ev, sess)
	case models.PhaseAwaitingConcern:
		return e.handleAwaitingConcern(ctx, ev, sess)
	case models.PhaseOfferShown:
		return e.handleOfferShown(ctx, ev, sess)
	case models.PhaseClosed:
		slog.Debug("flow closed session, ignoring", "userID", ev.UserID)
		return nil
	default:
		return fmt.Errorf("%w: %q", models.ErrInvalidPhase, sess.Phase)
	}
}

func (e *Engine) loadOrCreateSession(userID string) (*models.Session, error) {
	sess, err := e.store.GetSession(userID)
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}

	created := models.NewSession(userID, time.Now())
	if err := e.store.CreateSession(created); err != nil {
		if errors.Is(err, store.ErrSessionExists) {
			// Lost the creation race; the winner's row is authoritative.
			return e.store.GetSession(userID)
		}
		return nil, err
	}
	slog.Debug("flow session created", "userID", userID)
	return &created, nil
}

// handleAwaitingProfile waits for a message carrying all required profile
// fields. Unlabeled text is ignored; labeled-but-incomplete text gets
// guidance up to the error cap, then silence.
func (e *Engine) handleAwaitingProfile(ctx context.Context, ev models.InboundEvent, sess *models.Session) error {
	if !extract.HasAnyMarker(ev.Text) {
		slog.Debug("flow unlabeled text ignored", "userID", ev.UserID)
		return nil
	}

	fields := extract.ExtractProfileFields(ev.Text)
	if missing := fields.MissingRequired(); len(missing) > 0 {
		if sess.InputErrorCount >= models.MaxInputErrors {
			slog.Debug("flow error cap reached, ignoring", "userID", ev.UserID, "errors", sess.InputErrorCount)
			return nil
		}
		updated := *sess
		updated.InputErrorCount++
		if err := e.store.UpdateSession(updated, models.PhaseAwaitingProfile); err != nil {
			if errors.Is(err, store.ErrPhaseConflict) {
				slog.Debug("flow lost update race, standing down", "userID", ev.UserID)
				return nil
			}
			e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
			return err
		}
		e.reply(ctx, ev, missingFieldsMessage(missing))
		return nil
	}

	if sess.CreditBalance <= 0 {
		e.reply(ctx, ev, noCreditsMessage(e.purchaseURL))
		return nil
	}

	if err := e.responder.ShowActivity(ctx, ev.UserID); err != nil {
		slog.Debug("flow activity indicator failed", "userID", ev.UserID, "error", err)
	}

	profile := fields.ToProfile()
	req := prompt.BuildProfileReading(profile)
	text, err := e.generator.Generate(ctx, req)
	if err != nil {
		slog.Error("flow profile generation failed", "userID", ev.UserID, "error", err)
		e.reply(ctx, ev, models.NewTextMessage(msgApology))
		return nil
	}

	result := newResult(ev.UserID, models.ReadingKindProfile, req, text)
	updated := *sess
	updated.Phase = models.PhaseProfileComplete
	updated.Profile = &profile
	updated.CreditBalance--
	updated.InputErrorCount = 0
	if err := e.store.UpdateSessionWithResult(updated, models.PhaseAwaitingProfile, result); err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			slog.Debug("flow lost transition race, standing down", "userID", ev.UserID)
			return nil
		}
		e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
		return err
	}
	slog.Debug("flow profile reading delivered", "userID", ev.UserID, "resultID", result.ID)

	e.deliverReading(ctx, ev, result.ID, unlockQuickReply(text))
	e.scheduleFollowUp(ev.UserID)
	return nil
}

// handleProfileComplete waits for the exact unlock trigger.
func (e *Engine) handleProfileComplete(ctx context.Context, ev models.InboundEvent, sess *models.Session) error {
	if strings.TrimSpace(ev.Text) != TriggerUnlock {
		slog.Debug("flow non-trigger text ignored", "userID", ev.UserID)
		return nil
	}

	updated := *sess
	updated.Phase = models.PhaseAwaitingConcern
	if err := e.store.UpdateSession(updated, models.PhaseProfileComplete); err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			slog.Debug("flow lost transition race, standing down", "userID", ev.UserID)
			return nil
		}
		e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
		return err
	}
	e.reply(ctx, ev, models.NewTextMessage(msgAskConcern))
	return nil
}

// handleAwaitingConcern treats any non-empty text as the concern for the
// bonus reading.
func (e *Engine) handleAwaitingConcern(ctx context.Context, ev models.InboundEvent, sess *models.Session) error {
	concern := strings.TrimSpace(ev.Text)
	if concern == "" {
		return nil
	}

	if sess.CreditBalance <= 0 {
		e.reply(ctx, ev, noCreditsMessage(e.purchaseURL))
		return nil
	}

	if err := e.responder.ShowActivity(ctx, ev.UserID); err != nil {
		slog.Debug("flow activity indicator failed", "userID", ev.UserID, "error", err)
	}

	var profile models.Profile
	if sess.Profile != nil {
		profile = *sess.Profile
	}
	req := prompt.BuildBonusReading(profile, concern)
	text, err := e.generator.Generate(ctx, req)
	if err != nil {
		slog.Error("flow bonus generation failed", "userID", ev.UserID, "error", err)
		e.reply(ctx, ev, models.NewTextMessage(msgApology))
		return nil
	}

	result := newResult(ev.UserID, models.ReadingKindBonus, req, text)
	updated := *sess
	updated.Phase = models.PhaseOfferShown
	updated.Concern = concern
	updated.CreditBalance--
	if err := e.store.UpdateSessionWithResult(updated, models.PhaseAwaitingConcern, result); err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			slog.Debug("flow lost transition race, standing down", "userID", ev.UserID)
			return nil
		}
		e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
		return err
	}
	slog.Debug("flow bonus reading delivered", "userID", ev.UserID, "resultID", result.ID)

	e.deliverReading(ctx, ev, result.ID, closingQuickReply(text))
	return nil
}

// handleOfferShown waits for the exact closing trigger, then closes the
// session for good.
func (e *Engine) handleOfferShown(ctx context.Context, ev models.InboundEvent, sess *models.Session) error {
	if strings.TrimSpace(ev.Text) != TriggerClosing {
		slog.Debug("flow non-trigger text ignored", "userID", ev.UserID)
		return nil
	}

	updated := *sess
	updated.Phase = models.PhaseClosed
	updated.Closed = true
	if err := e.store.UpdateSession(updated, models.PhaseOfferShown); err != nil {
		if errors.Is(err, store.ErrPhaseConflict) {
			slog.Debug("flow lost transition race, standing down", "userID", ev.UserID)
			return nil
		}
		e.reply(ctx, ev, models.NewTextMessage(msgSystemError))
		return err
	}
	e.reply(ctx, ev, closingMessage(e.shareURL))
	slog.Debug("flow session closed", "userID", ev.UserID)
	return nil
}

// reply sends a direct response. Send failures are logged, not propagated:
// the session mutation (if any) already committed and the platform must
// still receive its ack.
func (e *Engine) reply(ctx context.Context, ev models.InboundEvent, msg models.OutboundMessage) {
	if err := e.responder.Reply(ctx, ev.ReplyToken, ev.UserID, msg); err != nil {
		slog.Error("flow reply failed", "userID", ev.UserID, "error", err)
	}
}

// deliverReading routes a generated reading through the outbox when one is
// configured. The reading cost a credit; the durable path retries transient
// send failures instead of stranding paid content.
func (e *Engine) deliverReading(ctx context.Context, ev models.InboundEvent, resultID string, msg models.OutboundMessage) {
	if e.outbox == nil {
		e.reply(ctx, ev, msg)
		return
	}
	payload, err := json.Marshal(ReadingPayload{UserID: ev.UserID, Message: msg})
	if err != nil {
		slog.Error("flow reading payload marshal failed", "userID", ev.UserID, "error", err)
		e.reply(ctx, ev, msg)
		return
	}
	if _, err := e.outbox.EnqueueOutboxMessage(ev.UserID, OutboxKindReading, string(payload), "reading:"+resultID); err != nil {
		slog.Error("flow outbox enqueue failed, sending directly", "userID", ev.UserID, "error", err)
		e.reply(ctx, ev, msg)
	}
}

func (e *Engine) scheduleFollowUp(userID string) {
	if e.jobs == nil {
		return
	}
	payload, err := json.Marshal(followUpPayload{UserID: userID})
	if err != nil {
		slog.Error("flow follow-up payload marshal failed", "userID", userID, "error", err)
		return
	}
	runAt := time.Now().Add(e.followUpDelay)
	if _, err := e.jobs.EnqueueJob(JobKindProfileFollowUp, runAt, string(payload), "followup:"+userID); err != nil {
		slog.Error("flow follow-up enqueue failed", "userID", userID, "error", err)
		return
	}
	slog.Debug("flow follow-up scheduled", "userID", userID, "runAt", runAt)
}

func newResult(userID string, kind models.ReadingKind, req models.GenerationRequest, text string) models.GeneratedResult {
	inputs, err := json.Marshal(req)
	if err != nil {
		inputs = []byte("{}")
	}
	return models.GeneratedResult{
		ID:           uuid.NewString(),
		UserID:       userID,
		Kind:         kind,
		PromptInputs: string(inputs),
		OutputText:   text,
		CreatedAt:    time.Now(),
	}
}
