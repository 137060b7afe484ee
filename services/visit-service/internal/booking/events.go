package booking

import (
	"context"
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
)

type eventDetails struct {
	Actor          Actor
	Reason         string
	PreviousStatus model.VisitStatus
	PreviousSlotID string
}

type visitEventPayload struct {
	VisitID        string    `json:"visit_id"`
	ListingID      string    `json:"listing_id"`
	SlotID         string    `json:"slot_id"`
	UserID         string    `json:"user_id"`
	AgentID        string    `json:"agent_id,omitempty"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	PreviousSlotID string    `json:"previous_slot_id,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	ActorType      string    `json:"actor_type"`
	ActorID        string    `json:"actor_id,omitempty"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (s *Service) emit(ctx context.Context, eventType string, v model.Visit, d eventDetails) {
	payload, err := json.Marshal(visitEventPayload{
		VisitID:        v.ID,
		ListingID:      v.ListingID,
		SlotID:         v.SlotID,
		UserID:         v.UserID,
		AgentID:        v.AgentID,
		Channel:        string(v.Channel),
		Status:         string(v.Status),
		PreviousStatus: string(d.PreviousStatus),
		PreviousSlotID: d.PreviousSlotID,
		Reason:         d.Reason,
		ActorType:      d.Actor.Type,
		ActorID:        d.Actor.ID,
		OccurredAt:     s.now(),
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "marshal visit event failed", "event_type", eventType, "err", err)
		return
	}

	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	err = s.cfg.Events.Emit(ectx, outbox.Event{
		AggregateType: outbox.AggregateVisit,
		AggregateID:   v.ID,
		EventType:     eventType,
		Payload:       payload,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "visit event not recorded", "event_type", eventType, "visit_id", v.ID, "err", err)
	}
}
