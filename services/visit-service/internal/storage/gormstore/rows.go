package gormstore

import (
	"time"

	"gorm.io/datatypes"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

type slotRow struct {
	ID         string     `gorm:"primaryKey"`
	ListingID  string     `gorm:"not null;index:idx_visit_slots_listing_start,priority:1"`
	StartTime  time.Time  `gorm:"not null;index:idx_visit_slots_listing_start,priority:2;index"`
	EndTime    time.Time  `gorm:"not null"`
	Status     string     `gorm:"not null;default:open"`
	Source     string     `gorm:"not null;default:system"`
	ReservedAt *time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func (slotRow) TableName() string { return "visit_slots" }

type visitRow struct {
	ID             string `gorm:"primaryKey"`
	ListingID      string `gorm:"not null"`
	SlotID         string `gorm:"not null;index;uniqueIndex:visits_active_slot_idx,where:status <> 'canceled' AND status <> 'no_show'"`
	UserID         string `gorm:"not null;index"`
	AgentID        string
	Channel        string
	Status         string `gorm:"not null"`
	IdempotencyKey string `gorm:"not null;uniqueIndex:visits_idempotency_key_key"`
	RequestHash    string
	ContactName    *string
	ContactPhone   *string
	ContactEmail   *string
	CreatedAt      time.Time `gorm:"index"`
	UpdatedAt      time.Time
}

func (visitRow) TableName() string { return "visits" }

type historyRow struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	VisitID    string `gorm:"not null;index"`
	EventType  string `gorm:"not null"`
	FromStatus string
	ToStatus   string
	FromSlot   string
	ToSlot     string
	Reason     string
	ActorType  string
	ActorID    string
	Metadata   datatypes.JSONMap
	CreatedAt  time.Time
}

func (historyRow) TableName() string { return "visit_status_history" }

func slotFromRow(r slotRow) model.Slot {
	return model.Slot{
		ID:         r.ID,
		ListingID:  r.ListingID,
		StartTime:  r.StartTime.UTC(),
		EndTime:    r.EndTime.UTC(),
		Status:     model.SlotStatus(r.Status),
		Source:     r.Source,
		ReservedAt: r.ReservedAt,
		CreatedAt:  r.CreatedAt,
	}
}

func slotToRow(s model.Slot) slotRow {
	return slotRow{
		ID:         s.ID,
		ListingID:  s.ListingID,
		StartTime:  s.StartTime.UTC(),
		EndTime:    s.EndTime.UTC(),
		Status:     string(s.Status),
		Source:     s.Source,
		ReservedAt: s.ReservedAt,
		CreatedAt:  s.CreatedAt,
	}
}

func visitFromRow(r visitRow) model.Visit {
	v := model.Visit{
		ID:             r.ID,
		ListingID:      r.ListingID,
		SlotID:         r.SlotID,
		UserID:         r.UserID,
		AgentID:        r.AgentID,
		Channel:        model.Channel(r.Channel),
		Status:         model.VisitStatus(r.Status),
		IdempotencyKey: r.IdempotencyKey,
		RequestHash:    r.RequestHash,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.ContactName != nil && r.ContactPhone != nil {
		v.Contact = &model.Contact{Name: *r.ContactName, Phone: *r.ContactPhone}
		if r.ContactEmail != nil {
			v.Contact.Email = *r.ContactEmail
		}
	}
	return v
}

func visitToRow(v model.Visit) visitRow {
	r := visitRow{
		ID:             v.ID,
		ListingID:      v.ListingID,
		SlotID:         v.SlotID,
		UserID:         v.UserID,
		AgentID:        v.AgentID,
		Channel:        string(v.Channel),
		Status:         string(v.Status),
		IdempotencyKey: v.IdempotencyKey,
		RequestHash:    v.RequestHash,
		CreatedAt:      v.CreatedAt.UTC(),
		UpdatedAt:      v.UpdatedAt.UTC(),
	}
	if c := v.Contact; c != nil {
		name, phone := c.Name, c.Phone
		r.ContactName, r.ContactPhone = &name, &phone
		if c.Email != "" {
			email := c.Email
			r.ContactEmail = &email
		}
	}
	return r
}
