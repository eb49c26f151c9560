// Package guard provides the inbound safety checks applied before any
// session mutation: delivery idempotency and per-user rate limiting.
//
// Both checks are interface-backed so deployments can pick an in-memory
// implementation (single instance), Redis (multi-instance), or the dedup
// table in the main store (durable across restarts).
package guard

import (
	"context"
	"time"
)

// Default windows. Idempotency records outlive any realistic webhook
// redelivery horizon; the rate window matches one burst of taps.
const (
	DefaultIdempotencyTTL  = 24 * time.Hour
	DefaultRateLimitWindow = time.Minute
	DefaultRateLimitMax    = 20
)

// IdempotencyGuard decides whether an inbound message is being seen for the
// first time. FirstDelivery must be atomic: for a given messageID exactly one
// caller ever receives true.
type IdempotencyGuard interface {
	FirstDelivery(ctx context.Context, messageID, userID string) (bool, error)
}

// RateLimiter bounds how many inbound messages a single user may have
// processed per window. Allow returns false when the user is over budget.
type RateLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}
