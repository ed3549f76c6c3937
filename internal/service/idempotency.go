package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Admission is the answer of the idempotency guard for one upstream event.
type Admission struct {
	OK        bool
	Duplicate bool
}

// IdempotencyGuard records which upstream event ids were already applied to
// an entity. The check and the record are one atomic ledger write.
type IdempotencyGuard struct {
	ledger EventLedger
	logger *zap.Logger
}

func NewIdempotencyGuard(ledger EventLedger, logger *zap.Logger) *IdempotencyGuard {
	return &IdempotencyGuard{ledger: ledger, logger: logger}
}

// Admit records eventID against the entity. An empty eventID is always
// admitted: some payloads carry no id and can only be applied as they come.
func (g *IdempotencyGuard) Admit(ctx context.Context, collection, entityID, eventID string) (Admission, error) {
	if eventID == "" {
		return Admission{OK: true}, nil
	}

	fresh, err := g.ledger.Record(ctx, collection, entityID, eventID, utcNow())
	if err != nil {
		return Admission{}, fmt.Errorf("record event %s: %w", eventID, err)
	}
	if !fresh {
		return Admission{Duplicate: true}, nil
	}
	return Admission{OK: true}, nil
}

// Release forgets eventID so a provider redelivery gets evaluated again. It
// is used when the event was admitted but not applied.
func (g *IdempotencyGuard) Release(ctx context.Context, collection, entityID, eventID string) {
	if eventID == "" {
		return
	}
	if err := g.ledger.Forget(ctx, collection, entityID, eventID); err != nil {
		g.logger.Warn("failed to release event id",
			zap.String("collection", collection),
			zap.String("entity_id", entityID),
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}
}
