package booking

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

// ReconcileStrandedSlots releases booked slots that were reserved more than
// grace ago and that no active visit references. These are left behind when
// a create fails between reserving the slot and persisting the visit.
func (s *Service) ReconcileStrandedSlots(ctx context.Context, grace time.Duration, limit int) (released []string, err error) {
	ctx, span := s.startSpan(ctx, "ReconcileStrandedSlots", attribute.Int("reconcile.limit", limit))
	defer func() {
		span.SetAttributes(attribute.Int("reconcile.released", len(released)))
		endSpan(span, err)
	}()

	if grace < 0 {
		return nil, validation("grace must not be negative")
	}
	cutoff := s.now().Add(-grace)

	sctx, cancel := s.storeCtx(ctx)
	stale, err := s.slots.ListStaleBooked(sctx, cutoff, limit)
	cancel()
	if err != nil {
		return nil, internal("list stale slots", err)
	}

	for _, slot := range stale {
		if ctx.Err() != nil {
			return released, ctx.Err()
		}
		ok, err := s.releaseStranded(ctx, slot, cutoff)
		if err != nil {
			s.logger.WarnContext(ctx, "stranded slot check failed", "slot_id", slot.ID, "err", err)
			continue
		}
		if ok {
			released = append(released, slot.ID)
		}
	}
	if len(released) > 0 {
		s.logger.InfoContext(ctx, "released stranded slots", "count", len(released), "cutoff", cutoff)
	}
	return released, nil
}

func (s *Service) releaseStranded(ctx context.Context, slot model.Slot, cutoff time.Time) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	held, err := s.visits.HoldsSlot(sctx, slot.ID)
	if err != nil || held {
		return false, err
	}
	return s.slots.ReleaseStale(sctx, slot.ID, cutoff)
}
