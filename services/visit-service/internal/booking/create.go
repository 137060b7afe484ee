package booking

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/blake2b"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/lifecycle"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

const (
	maxIdempotencyKeyLen = 255

	replayBackoffMin = 5 * time.Millisecond
	replayBackoffMax = 200 * time.Millisecond
)

type CreateVisitInput struct {
	ListingID      string
	SlotID         string
	UserID         string
	IdempotencyKey string
	Channel        model.Channel
	AgentID        string
	Contact        *model.Contact
}

type CreateVisitResult struct {
	Visit model.Visit
	// Idempotent is set when the visit already existed for the idempotency key.
	Idempotent bool
}

func (in *CreateVisitInput) normalize() error {
	in.ListingID = strings.TrimSpace(in.ListingID)
	in.SlotID = strings.TrimSpace(in.SlotID)
	in.UserID = strings.TrimSpace(in.UserID)
	in.IdempotencyKey = strings.TrimSpace(in.IdempotencyKey)
	in.AgentID = strings.TrimSpace(in.AgentID)

	var missing []string
	if in.ListingID == "" {
		missing = append(missing, "listing_id")
	}
	if in.SlotID == "" {
		missing = append(missing, "slot_id")
	}
	if in.UserID == "" {
		missing = append(missing, "user_id")
	}
	if in.IdempotencyKey == "" {
		missing = append(missing, "idempotency_key")
	}
	if len(missing) > 0 {
		return validation("missing required fields: %s", strings.Join(missing, ", "))
	}
	if len(in.IdempotencyKey) > maxIdempotencyKeyLen {
		return validation("idempotency_key longer than %d characters", maxIdempotencyKeyLen)
	}

	channel, ok := model.ParseChannel(string(in.Channel))
	if !ok {
		return validation("unknown channel %q", in.Channel)
	}
	if channel == "" {
		channel = model.ChannelWeb
	}
	in.Channel = channel

	if c := in.Contact; c != nil {
		c.Name = strings.TrimSpace(c.Name)
		c.Phone = strings.TrimSpace(c.Phone)
		c.Email = strings.TrimSpace(c.Email)
		if c.Email != "" && !strings.Contains(c.Email, "@") {
			return validation("invalid contact email")
		}
		// contact details are kept only when they can be used to reach the visitor
		if c.Name == "" || c.Phone == "" {
			in.Contact = nil
		}
	}
	return nil
}

// fingerprint identifies the parameters a create request was made with, so a
// replayed idempotency key with different parameters can be spotted.
func fingerprint(in CreateVisitInput) string {
	sum := blake2b.Sum256([]byte(strings.Join([]string{in.ListingID, in.SlotID, in.UserID, string(in.Channel)}, "\x00")))
	return hex.EncodeToString(sum[:])
}

// CreateVisit books slotID for userID. A repeated idempotency key returns the
// visit created by the first request without touching the slot again.
func (s *Service) CreateVisit(ctx context.Context, in CreateVisitInput) (res CreateVisitResult, err error) {
	ctx, span := s.startSpan(ctx, "CreateVisit",
		attribute.String("visit.listing_id", in.ListingID),
		attribute.String("visit.slot_id", in.SlotID),
	)
	defer func() { endSpan(span, err) }()

	if err := in.normalize(); err != nil {
		return CreateVisitResult{}, err
	}
	hash := fingerprint(in)

	if existing, ok, err := s.findByKey(ctx, in.IdempotencyKey); err != nil {
		return CreateVisitResult{}, err
	} else if ok {
		s.checkReplay(ctx, existing, hash)
		return CreateVisitResult{Visit: existing, Idempotent: true}, nil
	}

	slot, err := s.resolveSlot(ctx, in.ListingID, in.SlotID)
	if err != nil {
		return CreateVisitResult{}, err
	}
	if _, err := s.reserve(ctx, slot.ID); err != nil {
		if errors.Is(err, ErrSlotUnavailable) {
			// a concurrent retry with the same key may hold the slot
			if existing, ok := s.awaitReplay(ctx, in.IdempotencyKey, slot.ID); ok {
				s.checkReplay(ctx, existing, hash)
				return CreateVisitResult{Visit: existing, Idempotent: true}, nil
			}
		}
		return CreateVisitResult{}, err
	}

	now := s.now()
	agentID := in.AgentID
	if agentID == "" {
		agentID = s.cfg.DefaultAgentID
	}
	v := model.Visit{
		ID:             s.cfg.NewID(),
		ListingID:      in.ListingID,
		SlotID:         slot.ID,
		UserID:         in.UserID,
		AgentID:        agentID,
		Channel:        in.Channel,
		Status:         lifecycle.Initial,
		IdempotencyKey: in.IdempotencyKey,
		RequestHash:    hash,
		Contact:        in.Contact,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	sctx, cancel := s.storeCtx(ctx)
	err = s.visits.Insert(sctx, v)
	cancel()
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		s.release(ctx, slot.ID, "idempotency race lost")
		winner, ok, findErr := s.findByKey(ctx, in.IdempotencyKey)
		if findErr != nil {
			return CreateVisitResult{}, findErr
		}
		if !ok {
			return CreateVisitResult{}, internal("insert visit", err)
		}
		s.checkReplay(ctx, winner, hash)
		return CreateVisitResult{Visit: winner, Idempotent: true}, nil
	case errors.Is(err, storage.ErrSlotNotOpen):
		// another active visit already references the slot; it keeps the reservation
		s.logger.WarnContext(ctx, "reserved slot already held by a visit", "slot_id", slot.ID)
		return CreateVisitResult{}, errors.Join(ErrSlotUnavailable, err)
	case err != nil:
		s.release(ctx, slot.ID, "visit insert failed")
		return CreateVisitResult{}, internal("insert visit", err)
	}

	actor := Actor{Type: model.ActorUser, ID: in.UserID}
	s.appendHistory(ctx, model.HistoryEntry{
		VisitID:   v.ID,
		EventType: model.HistoryCreated,
		ToStatus:  v.Status,
		ToSlotID:  v.SlotID,
		ActorType: actor.Type,
		ActorID:   actor.ID,
		Metadata:  map[string]any{"channel": string(v.Channel)},
		CreatedAt: now,
	})
	s.emit(ctx, outbox.EventVisitCreated, v, eventDetails{Actor: actor})

	s.logger.InfoContext(ctx, "visit created", "visit_id", v.ID, "slot_id", v.SlotID, "listing_id", v.ListingID)
	return CreateVisitResult{Visit: v}, nil
}

func (s *Service) findByKey(ctx context.Context, key string) (model.Visit, bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	v, err := s.visits.FindByIdempotencyKey(sctx, key)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Visit{}, false, nil
	case err != nil:
		return model.Visit{}, false, internal("idempotency lookup", err)
	}
	return v, true, nil
}

func (s *Service) checkReplay(ctx context.Context, existing model.Visit, hash string) {
	if existing.RequestHash != "" && existing.RequestHash != hash {
		s.logger.WarnContext(ctx, "idempotency key replayed with different parameters",
			"visit_id", existing.ID, "idempotency_key", existing.IdempotencyKey)
	}
}

// awaitReplay waits for a visit created under key by a concurrent request
// that reserved slotID but has not stored its visit yet. A winner's insert is
// bounded by the store timeout, so the wait is too. It gives up early once the
// slot is held by a visit under another key, is no longer booked, or was
// reserved longer ago than an insert can take.
func (s *Service) awaitReplay(ctx context.Context, key, slotID string) (model.Visit, bool) {
	wctx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	backoff := replayBackoffMin
	for {
		if v, ok, err := s.findByKey(wctx, key); err != nil {
			return model.Visit{}, false
		} else if ok {
			return v, true
		}

		pending, err := s.reservationPending(wctx, slotID)
		if err != nil {
			return model.Visit{}, false
		}
		if !pending {
			// the holder may have been inserted between the two reads
			v, ok, err := s.findByKey(wctx, key)
			return v, ok && err == nil
		}

		select {
		case <-wctx.Done():
			return model.Visit{}, false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, replayBackoffMax)
	}
}

// reservationPending reports whether slotID is booked by a reservation whose
// visit may still be on its way into the store.
func (s *Service) reservationPending(ctx context.Context, slotID string) (bool, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	slot, err := s.slots.GetSlot(sctx, slotID)
	if err != nil {
		return false, err
	}
	if slot.Status != model.SlotBooked {
		return false, nil
	}
	if slot.ReservedAt != nil && s.now().Sub(*slot.ReservedAt) > s.cfg.StoreTimeout {
		return false, nil
	}
	held, err := s.visits.HoldsSlot(sctx, slotID)
	if err != nil {
		return false, err
	}
	return !held, nil
}
