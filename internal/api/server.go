// Package api exposes the HTTP surface: the chat platform webhook, the
// payment top-up webhook, and a health check.
//
// The platform expects a fast acknowledgment, so webhook handlers verify the
// signature, ack with 200, and hand the events to the flow engine on
// background goroutines. Processing errors never surface as HTTP failures;
// a non-2xx would only provoke redelivery storms.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hoshiyomi/uranaibot/internal/line"
	"github.com/hoshiyomi/uranaibot/internal/models"
	"github.com/hoshiyomi/uranaibot/internal/store"
)

// Limits and timeouts for the HTTP surface.
const (
	DefaultAddr            = ":8080"
	maxWebhookBodyBytes    = 1 << 20
	dispatchTimeout        = 90 * time.Second
	serverShutdownTimeout  = 10 * time.Second
	signatureHeaderLine    = "X-Line-Signature"
	signatureHeaderPayment = "X-Payment-Signature"
)

// InboundHandler processes one parsed inbound event.
type InboundHandler interface {
	HandleInbound(ctx context.Context, ev models.InboundEvent) error
}

// CreditStore applies payment top-ups.
type CreditStore interface {
	AddCredits(userID string, delta int) (int, error)
}

// Pinger reports storage liveness for the health endpoint.
type Pinger interface {
	Ping() error
}

// Opts holds server configuration.
type Opts struct {
	Addr          string
	ChannelSecret string
	PaymentSecret string
	Dedup         store.DedupRepo
	Pinger        Pinger
}

// Option configures the server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithChannelSecret sets the chat platform webhook signing secret.
func WithChannelSecret(secret string) Option {
	return func(o *Opts) { o.ChannelSecret = secret }
}

// WithPaymentSecret sets the payment webhook signing secret.
func WithPaymentSecret(secret string) Option {
	return func(o *Opts) { o.PaymentSecret = secret }
}

// WithDedup enables payment event deduplication.
func WithDedup(d store.DedupRepo) Option {
	return func(o *Opts) { o.Dedup = d }
}

// WithPinger enables the storage liveness check on /health.
func WithPinger(p Pinger) Option {
	return func(o *Opts) { o.Pinger = p }
}

// Server is the HTTP front-end.
type Server struct {
	handler       InboundHandler
	credits       CreditStore
	dedup         store.DedupRepo
	pinger        Pinger
	addr          string
	channelSecret string
	paymentSecret string
	mux           *http.ServeMux
}

// NewServer wires the HTTP routes. The channel secret is required; the
// payment webhook stays disabled until a payment secret is configured.
func NewServer(handler InboundHandler, credits CreditStore, opts ...Option) (*Server, error) {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.ChannelSecret == "" {
		return nil, errors.New("channel secret not set")
	}

	s := &Server{
		handler:       handler,
		credits:       credits,
		dedup:         cfg.Dedup,
		pinger:        cfg.Pinger,
		addr:          cfg.Addr,
		channelSecret: cfg.ChannelSecret,
		paymentSecret: cfg.PaymentSecret,
		mux:           http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /webhook/line", s.handleLineWebhook)
	if s.paymentSecret != "" {
		s.mux.HandleFunc("POST /webhook/payments", s.handlePaymentWebhook)
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	return s, nil
}

// Handler returns the route multiplexer. Used by tests and by Run.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("api server listening", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer cancel()
		slog.Info("api server shutting down")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleLineWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("failed to read request body"))
		return
	}

	if !line.ValidateSignature(s.channelSecret, body, r.Header.Get(signatureHeaderLine)) {
		slog.Debug("api webhook signature rejected")
		writeJSON(w, http.StatusUnauthorized, models.Error("invalid signature"))
		return
	}

	events, err := line.ParseWebhook(body)
	if err != nil {
		// Signature was valid, so the platform sent this; ack rather than
		// invite a redelivery of an unparseable body.
		slog.Error("api webhook parse failed", "error", err)
		writeJSON(w, http.StatusOK, models.Success(nil))
		return
	}

	for _, ev := range events {
		go s.dispatch(ev)
	}
	writeJSON(w, http.StatusOK, models.Success(nil))
}

func (s *Server) dispatch(ev models.InboundEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()
	if err := s.handler.HandleInbound(ctx, ev); err != nil {
		slog.Error("api inbound handling failed", "userID", ev.UserID, "error", err)
	}
}

// paymentEvent is the payment provider's "purchase completed" notification.
// The reference ID is the chat platform user ID.
type paymentEvent struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
}

func (s *Server) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("failed to read request body"))
		return
	}

	if !line.ValidateSignature(s.paymentSecret, body, r.Header.Get(signatureHeaderPayment)) {
		slog.Debug("api payment signature rejected")
		writeJSON(w, http.StatusUnauthorized, models.Error("invalid signature"))
		return
	}

	var ev paymentEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeJSON(w, http.StatusBadRequest, models.Error("invalid payload"))
		return
	}
	if ev.UserID == "" || ev.EventID == "" {
		writeJSON(w, http.StatusBadRequest, models.Error("missing event_id or user_id"))
		return
	}

	if s.dedup != nil {
		first, err := s.dedup.RecordInbound("pay:"+ev.EventID, ev.UserID)
		if err != nil {
			slog.Error("api payment dedup failed", "eventID", ev.EventID, "error", err)
			writeJSON(w, http.StatusInternalServerError, models.Error("dedup check failed"))
			return
		}
		if !first {
			slog.Debug("api payment event replayed, ignoring", "eventID", ev.EventID)
			writeJSON(w, http.StatusOK, models.Success(map[string]string{"state": "duplicate"}))
			return
		}
	}

	balance, err := s.credits.AddCredits(ev.UserID, models.CreditTopUpAmount)
	if err != nil {
		slog.Error("api credit top-up failed", "userID", ev.UserID, "error", err)
		writeJSON(w, http.StatusInternalServerError, models.Error("credit update failed"))
		return
	}
	if s.dedup != nil {
		if err := s.dedup.MarkProcessed("pay:" + ev.EventID); err != nil {
			slog.Error("api payment mark processed failed", "eventID", ev.EventID, "error", err)
		}
	}

	slog.Debug("api credits added", "userID", ev.UserID, "balance", balance)
	writeJSON(w, http.StatusOK, models.Success(map[string]int{"credit_balance": balance}))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(); err != nil {
			slog.Error("api health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, models.Error("storage unavailable"))
			return
		}
	}
	writeJSON(w, http.StatusOK, models.Success(map[string]string{"state": "healthy"}))
}

func writeJSON(w http.ResponseWriter, status int, resp models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("api response encode failed", "error", err)
	}
}
