package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/lifecycle"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

const (
	maxCancelReasonLen = 280
	maxStatusReasonLen = 500
)

type CancelVisitInput struct {
	VisitID string
	Reason  string
	Actor   Actor
}

type CancelVisitResult struct {
	Visit model.Visit
	// ReleasedSlot is the slot after release; zero when the release failed
	// and was left to the reconciliation sweep.
	ReleasedSlot model.Slot
}

type RescheduleVisitInput struct {
	VisitID   string
	NewSlotID string
	// ListingID moves the visit to another listing together with the slot.
	// Empty keeps the current listing.
	ListingID string
	Reason    string
	Actor     Actor
}

type RescheduleVisitResult struct {
	Visit        model.Visit
	PreviousSlot model.Slot
	NextSlot     model.Slot
}

type UpdateStatusInput struct {
	VisitID string
	Status  model.VisitStatus
	Reason  string
	Actor   Actor
}

func checkReason(reason string, limit int) (string, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > limit {
		return "", validation("reason longer than %d characters", limit)
	}
	return reason, nil
}

// applyUpdate runs an atomic visit update and maps store errors.
func (s *Service) applyUpdate(ctx context.Context, id string, mutate func(*model.Visit) error) (model.Visit, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	v, err := s.visits.Update(sctx, id, mutate)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, storage.ErrNotFound):
		return model.Visit{}, fmt.Errorf("%w: %s", ErrVisitNotFound, id)
	case errors.Is(err, storage.ErrSlotNotOpen):
		return model.Visit{}, errors.Join(ErrSlotUnavailable, err)
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrValidation):
		return model.Visit{}, err
	default:
		return model.Visit{}, internal("update visit", err)
	}
}

// CancelVisit moves a visit to canceled and frees its slot.
func (s *Service) CancelVisit(ctx context.Context, in CancelVisitInput) (res CancelVisitResult, err error) {
	ctx, span := s.startSpan(ctx, "CancelVisit", attribute.String("visit.id", in.VisitID))
	defer func() { endSpan(span, err) }()

	in.VisitID = strings.TrimSpace(in.VisitID)
	if in.VisitID == "" {
		return CancelVisitResult{}, validation("visit id is required")
	}
	reason, err := checkReason(in.Reason, maxCancelReasonLen)
	if err != nil {
		return CancelVisitResult{}, err
	}
	actor := in.Actor.orDefault(model.ActorUser)

	v, err := s.loadVisit(ctx, in.VisitID)
	if err != nil {
		return CancelVisitResult{}, err
	}
	if _, err := lifecycle.Next(v.Status, lifecycle.ActionCancel); err != nil {
		return CancelVisitResult{}, err
	}

	slot, err := s.loadSlot(ctx, v.SlotID)
	if err != nil {
		return CancelVisitResult{}, err
	}
	w, err := s.windows(ctx, v)
	if err != nil {
		return CancelVisitResult{}, err
	}
	if w.CancelExpired(slot.StartTime, s.now()) {
		return CancelVisitResult{}, fmt.Errorf("%w: visit %s starts at %s", ErrCancelWindowExpired, v.ID, slot.StartTime.Format(time.RFC3339))
	}

	previous := v.Status
	updated, err := s.applyUpdate(ctx, v.ID, func(cur *model.Visit) error {
		next, err := lifecycle.Next(cur.Status, lifecycle.ActionCancel)
		if err != nil {
			return err
		}
		previous = cur.Status
		cur.Status = next
		cur.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return CancelVisitResult{}, err
	}

	released, _ := s.release(ctx, updated.SlotID, "visit canceled")

	s.appendHistory(ctx, model.HistoryEntry{
		VisitID:    updated.ID,
		EventType:  model.HistoryStatusChanged,
		FromStatus: previous,
		ToStatus:   updated.Status,
		FromSlotID: updated.SlotID,
		Reason:     reason,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
	})
	s.emit(ctx, outbox.EventVisitCanceled, updated, eventDetails{Actor: actor, Reason: reason, PreviousStatus: previous})

	s.logger.InfoContext(ctx, "visit canceled", "visit_id", updated.ID, "slot_id", updated.SlotID, "actor_type", actor.Type)
	return CancelVisitResult{Visit: updated, ReleasedSlot: released}, nil
}

// RescheduleVisit moves a visit to another slot. The new slot is reserved
// before the old one is released, so a failure at any step leaves the visit
// with a valid booked slot.
func (s *Service) RescheduleVisit(ctx context.Context, in RescheduleVisitInput) (res RescheduleVisitResult, err error) {
	ctx, span := s.startSpan(ctx, "RescheduleVisit",
		attribute.String("visit.id", in.VisitID),
		attribute.String("visit.new_slot_id", in.NewSlotID),
	)
	defer func() { endSpan(span, err) }()

	in.VisitID = strings.TrimSpace(in.VisitID)
	in.NewSlotID = strings.TrimSpace(in.NewSlotID)
	in.ListingID = strings.TrimSpace(in.ListingID)
	if in.VisitID == "" || in.NewSlotID == "" {
		return RescheduleVisitResult{}, validation("visit id and slot_id are required")
	}
	reason, err := checkReason(in.Reason, maxCancelReasonLen)
	if err != nil {
		return RescheduleVisitResult{}, err
	}
	actor := in.Actor.orDefault(model.ActorUser)

	v, err := s.loadVisit(ctx, in.VisitID)
	if err != nil {
		return RescheduleVisitResult{}, err
	}
	if _, err := lifecycle.Next(v.Status, lifecycle.ActionReschedule); err != nil {
		return RescheduleVisitResult{}, err
	}
	if in.NewSlotID == v.SlotID {
		return RescheduleVisitResult{}, validation("visit is already booked on slot %s", v.SlotID)
	}

	previousSlot, err := s.loadSlot(ctx, v.SlotID)
	if err != nil {
		return RescheduleVisitResult{}, err
	}
	w, err := s.windows(ctx, v)
	if err != nil {
		return RescheduleVisitResult{}, err
	}
	if w.RescheduleExpired(previousSlot.StartTime, s.now()) {
		return RescheduleVisitResult{}, fmt.Errorf("%w: visit %s starts at %s", ErrCancelWindowExpired, v.ID, previousSlot.StartTime.Format(time.RFC3339))
	}

	listingID := v.ListingID
	if in.ListingID != "" {
		listingID = in.ListingID
	}
	target, err := s.resolveSlot(ctx, listingID, in.NewSlotID)
	if err != nil {
		return RescheduleVisitResult{}, err
	}
	nextSlot, err := s.reserve(ctx, target.ID)
	if err != nil {
		return RescheduleVisitResult{}, err
	}

	updated, err := s.applyUpdate(ctx, v.ID, func(cur *model.Visit) error {
		if _, err := lifecycle.Next(cur.Status, lifecycle.ActionReschedule); err != nil {
			return err
		}
		if cur.SlotID != previousSlot.ID {
			return fmt.Errorf("%w: visit %s was rescheduled concurrently", ErrInvalidTransition, cur.ID)
		}
		cur.SlotID = nextSlot.ID
		cur.ListingID = listingID
		cur.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		s.release(ctx, nextSlot.ID, "reschedule update failed")
		return RescheduleVisitResult{}, err
	}

	if released, ok := s.release(ctx, previousSlot.ID, "visit rescheduled"); ok {
		previousSlot = released
	}

	s.appendHistory(ctx, model.HistoryEntry{
		VisitID:    updated.ID,
		EventType:  model.HistoryRescheduled,
		FromStatus: updated.Status,
		ToStatus:   updated.Status,
		FromSlotID: previousSlot.ID,
		ToSlotID:   nextSlot.ID,
		Reason:     reason,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
		Metadata: map[string]any{
			"previous_slot_start": previousSlot.StartTime.Format(time.RFC3339),
			"next_slot_start":     nextSlot.StartTime.Format(time.RFC3339),
			"previous_listing_id": v.ListingID,
		},
	})
	s.emit(ctx, outbox.EventVisitRescheduled, updated, eventDetails{Actor: actor, Reason: reason, PreviousSlotID: previousSlot.ID})

	s.logger.InfoContext(ctx, "visit rescheduled", "visit_id", updated.ID, "from_slot", previousSlot.ID, "to_slot", nextSlot.ID)
	return RescheduleVisitResult{Visit: updated, PreviousSlot: previousSlot, NextSlot: nextSlot}, nil
}

// UpdateVisitStatus applies an administrative status change. Cancellation
// windows do not apply; canceled and no_show free the slot.
func (s *Service) UpdateVisitStatus(ctx context.Context, in UpdateStatusInput) (v model.Visit, err error) {
	ctx, span := s.startSpan(ctx, "UpdateVisitStatus",
		attribute.String("visit.id", in.VisitID),
		attribute.String("visit.requested_status", string(in.Status)),
	)
	defer func() { endSpan(span, err) }()

	in.VisitID = strings.TrimSpace(in.VisitID)
	if in.VisitID == "" {
		return model.Visit{}, validation("visit id is required")
	}
	if _, ok := model.ParseStatus(string(in.Status)); !ok {
		return model.Visit{}, validation("unknown status %q", in.Status)
	}
	reason, err := checkReason(in.Reason, maxStatusReasonLen)
	if err != nil {
		return model.Visit{}, err
	}
	actor := in.Actor.orDefault(model.ActorAdmin)

	action, ok := lifecycle.ActionFor(in.Status)
	if !ok {
		current, err := s.loadVisit(ctx, in.VisitID)
		if err != nil {
			return model.Visit{}, err
		}
		return model.Visit{}, fmt.Errorf("%w: visit in status %s cannot move to %s", ErrInvalidTransition, current.Status, in.Status)
	}

	var previous model.VisitStatus
	updated, err := s.applyUpdate(ctx, in.VisitID, func(cur *model.Visit) error {
		next, err := lifecycle.Next(cur.Status, action)
		if err != nil {
			return err
		}
		previous = cur.Status
		cur.Status = next
		cur.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return model.Visit{}, err
	}

	if !updated.Status.HoldsSlot() {
		s.release(ctx, updated.SlotID, "visit "+string(updated.Status))
	}

	s.appendHistory(ctx, model.HistoryEntry{
		VisitID:    updated.ID,
		EventType:  model.HistoryStatusChanged,
		FromStatus: previous,
		ToStatus:   updated.Status,
		Reason:     reason,
		ActorType:  actor.Type,
		ActorID:    actor.ID,
	})
	s.emit(ctx, outbox.EventVisitStatusChanged, updated, eventDetails{Actor: actor, Reason: reason, PreviousStatus: previous})

	s.logger.InfoContext(ctx, "visit status updated", "visit_id", updated.ID, "from", previous, "to", updated.Status)
	return updated, nil
}
