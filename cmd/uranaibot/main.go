// Command uranaibot runs the fortune-reading bot: the webhook HTTP server,
// the outbox sender, and the follow-up job runner.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/hoshiyomi/uranaibot/internal/api"
	"github.com/hoshiyomi/uranaibot/internal/flow"
	"github.com/hoshiyomi/uranaibot/internal/genai"
	"github.com/hoshiyomi/uranaibot/internal/guard"
	"github.com/hoshiyomi/uranaibot/internal/line"
	"github.com/hoshiyomi/uranaibot/internal/messaging"
	"github.com/hoshiyomi/uranaibot/internal/store"
	"github.com/hoshiyomi/uranaibot/internal/util"
)

// backingStore is everything the wiring needs from one storage backend.
type backingStore interface {
	store.Store
	store.DedupRepo
	store.OutboxRepo
	store.JobRepo
	Ping() error
}

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "error", err)
	}

	var (
		addr     = flag.String("addr", envOr("LISTEN_ADDR", api.DefaultAddr), "HTTP listen address")
		dsn      = flag.String("dsn", envOr("DATABASE_DSN", "data/uranaibot.db"), "database DSN (SQLite path or postgres:// URL)")
		model    = flag.String("model", envOr("OPENAI_MODEL", genai.DefaultModel), "generation model name")
		logLevel = flag.String("log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	)
	flag.Parse()

	setupLogging(*logLevel)

	st, err := openStore(*dsn)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	gen, err := genai.NewClient(genai.WithModel(*model))
	if err != nil {
		slog.Error("failed to create generation client", "error", err)
		os.Exit(1)
	}

	responder, err := buildResponder()
	if err != nil {
		slog.Error("failed to create responder", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	idem, limiter, err := buildGuards(ctx, st)
	if err != nil {
		slog.Error("failed to create guards", "error", err)
		os.Exit(1)
	}

	engine := flow.NewEngine(st, gen, responder,
		flow.WithIdempotencyGuard(idem),
		flow.WithRateLimiter(limiter),
		flow.WithOutbox(st),
		flow.WithJobs(st),
		flow.WithFollowUpDelay(util.ParseDurationEnv("FOLLOWUP_DELAY", flow.DefaultFollowUpDelay)),
		flow.WithShareURL(os.Getenv("SHARE_URL")),
		flow.WithPurchaseURL(os.Getenv("PURCHASE_URL")),
	)

	sender := store.NewOutboxSender(st, flow.NewOutboxSendFunc(responder),
		util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", 5*time.Second))
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Error("outbox recovery failed", "error", err)
		os.Exit(1)
	}

	runner := store.NewJobRunner(st, util.ParseDurationEnv("JOB_POLL_INTERVAL", 15*time.Second))
	runner.RegisterHandler(flow.JobKindProfileFollowUp, engine.HandleFollowUpJob)
	if err := runner.RecoverStaleJobs(); err != nil {
		slog.Error("job recovery failed", "error", err)
		os.Exit(1)
	}

	server, err := api.NewServer(engine, st,
		api.WithAddr(*addr),
		api.WithChannelSecret(os.Getenv("LINE_CHANNEL_SECRET")),
		api.WithPaymentSecret(os.Getenv("PAYMENT_WEBHOOK_SECRET")),
		api.WithDedup(st),
		api.WithPinger(st),
	)
	if err != nil {
		slog.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sender.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		runner.Run(ctx)
	}()

	if err := server.Run(ctx); err != nil {
		slog.Error("server stopped with error", "error", err)
	}
	stop()
	wg.Wait()
	slog.Info("uranaibot stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

func openStore(dsn string) (backingStore, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Info("using PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	slog.Info("using SQLite store", "path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// buildResponder picks the chat transport. LINE is the default; setting
// MESSAGING_PROVIDER=twilio switches to the WhatsApp fallback.
func buildResponder() (messaging.Responder, error) {
	if os.Getenv("MESSAGING_PROVIDER") == "twilio" {
		slog.Info("using Twilio WhatsApp responder")
		return messaging.NewTwilioResponder(
			os.Getenv("TWILIO_ACCOUNT_SID"),
			os.Getenv("TWILIO_AUTH_TOKEN"),
			os.Getenv("TWILIO_FROM_NUMBER"),
		)
	}
	client, err := line.NewClient()
	if err != nil {
		return nil, err
	}
	return messaging.NewLINEResponder(client), nil
}

// buildGuards wires the idempotency guard and rate limiter. With REDIS_URL
// set both are shared across instances; otherwise idempotency falls back to
// the store's dedup table and rate limiting stays in-process.
func buildGuards(ctx context.Context, st backingStore) (guard.IdempotencyGuard, guard.RateLimiter, error) {
	rateWindow := util.ParseDurationEnv("RATE_LIMIT_WINDOW", guard.DefaultRateLimitWindow)
	rateMax := util.ParseIntEnv("RATE_LIMIT_MAX", guard.DefaultRateLimitMax)

	if url := os.Getenv("REDIS_URL"); url != "" {
		client, err := guard.NewRedisClient(ctx, url)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using Redis-backed guards")
		return guard.NewRedisIdempotencyGuard(client, guard.DefaultIdempotencyTTL),
			guard.NewRedisRateLimiter(client, rateWindow, rateMax), nil
	}

	return guard.NewStoreIdempotencyGuard(st), guard.NewMemoryRateLimiter(rateWindow, rateMax), nil
}
