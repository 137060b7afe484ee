package handlers

import (
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

type contactBody struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type visitResponse struct {
	ID        string       `json:"id"`
	ListingID string       `json:"listing_id"`
	SlotID    string       `json:"slot_id"`
	UserID    string       `json:"user_id"`
	AgentID   string       `json:"agent_id,omitempty"`
	Channel   string       `json:"channel"`
	Status    string       `json:"status"`
	Contact   *contactBody `json:"contact,omitempty"`
	SlotStart string       `json:"slot_start,omitempty"`
	SlotEnd   string       `json:"slot_end,omitempty"`
	CreatedAt string       `json:"created_at"`
	UpdatedAt string       `json:"updated_at"`
}

type slotResponse struct {
	ID        string `json:"id"`
	ListingID string `json:"listing_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Status    string `json:"status"`
	Source    string `json:"source,omitempty"`
}

type historyResponse struct {
	ID         int64          `json:"id"`
	EventType  string         `json:"event_type"`
	FromStatus string         `json:"from_status,omitempty"`
	ToStatus   string         `json:"to_status,omitempty"`
	FromSlotID string         `json:"from_slot_id,omitempty"`
	ToSlotID   string         `json:"to_slot_id,omitempty"`
	Reason     string         `json:"reason,omitempty"`
	ActorType  string         `json:"actor_type"`
	ActorID    string         `json:"actor_id,omitempty"`
	Metadata   map[string]any `json:"metadata"`
	CreatedAt  string         `json:"created_at"`
}

type listMeta struct {
	Page       int `json:"page"`
	PageSize   int `json:"page_size"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func toVisitResponse(v model.Visit) visitResponse {
	out := visitResponse{
		ID:        v.ID,
		ListingID: v.ListingID,
		SlotID:    v.SlotID,
		UserID:    v.UserID,
		AgentID:   v.AgentID,
		Channel:   string(v.Channel),
		Status:    string(v.Status),
		CreatedAt: formatTime(v.CreatedAt),
		UpdatedAt: formatTime(v.UpdatedAt),
	}
	if c := v.Contact; c != nil {
		out.Contact = &contactBody{Name: c.Name, Phone: c.Phone, Email: c.Email}
	}
	return out
}

func toVisitWithSlotResponse(v model.VisitWithSlot) visitResponse {
	out := toVisitResponse(v.Visit)
	if v.SlotStart != nil {
		out.SlotStart = formatTime(*v.SlotStart)
	}
	if v.SlotEnd != nil {
		out.SlotEnd = formatTime(*v.SlotEnd)
	}
	return out
}

func toVisitList(items []model.VisitWithSlot) []visitResponse {
	out := make([]visitResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toVisitWithSlotResponse(item))
	}
	return out
}

func toSlotResponse(s model.Slot) *slotResponse {
	if s.ID == "" {
		return nil
	}
	return &slotResponse{
		ID:        s.ID,
		ListingID: s.ListingID,
		StartTime: formatTime(s.StartTime),
		EndTime:   formatTime(s.EndTime),
		Status:    string(s.Status),
		Source:    s.Source,
	}
}

func toHistoryResponse(entries []model.HistoryEntry) []historyResponse {
	out := make([]historyResponse, 0, len(entries))
	for _, e := range entries {
		meta := e.Metadata
		if meta == nil {
			meta = map[string]any{}
		}
		out = append(out, historyResponse{
			ID:         e.ID,
			EventType:  string(e.EventType),
			FromStatus: string(e.FromStatus),
			ToStatus:   string(e.ToStatus),
			FromSlotID: e.FromSlotID,
			ToSlotID:   e.ToSlotID,
			Reason:     e.Reason,
			ActorType:  e.ActorType,
			ActorID:    e.ActorID,
			Metadata:   meta,
			CreatedAt:  formatTime(e.CreatedAt),
		})
	}
	return out
}
