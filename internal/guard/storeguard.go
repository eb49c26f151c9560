package guard

import (
	"context"

	"github.com/hoshiyomi/uranaibot/internal/store"
)

// StoreIdempotencyGuard backs delivery tracking with the store's dedup table,
// so redelivery protection survives process restarts without Redis.
type StoreIdempotencyGuard struct {
	repo store.DedupRepo
}

var _ IdempotencyGuard = (*StoreIdempotencyGuard)(nil)

// NewStoreIdempotencyGuard wraps a DedupRepo as an IdempotencyGuard.
func NewStoreIdempotencyGuard(repo store.DedupRepo) *StoreIdempotencyGuard {
	return &StoreIdempotencyGuard{repo: repo}
}

// FirstDelivery records the message in the dedup table. The insert is
// conditional in every backend, so exactly one delivery wins.
func (g *StoreIdempotencyGuard) FirstDelivery(_ context.Context, messageID, userID string) (bool, error) {
	return g.repo.RecordInbound(messageID, userID)
}
