package model

import "time"

type SlotStatus string

const (
	SlotOpen    SlotStatus = "open"
	SlotBlocked SlotStatus = "blocked"
	SlotBooked  SlotStatus = "booked"
)

const (
	SlotSourceSystem = "system"
	SlotSourceOwner  = "owner"
)

type Slot struct {
	ID         string
	ListingID  string
	StartTime  time.Time
	EndTime    time.Time
	Status     SlotStatus
	Source     string
	CreatedAt  time.Time
	ReservedAt *time.Time
}

func (s Slot) Valid() bool {
	switch s.Status {
	case SlotOpen, SlotBlocked, SlotBooked:
	default:
		return false
	}
	return s.ID != "" && s.ListingID != "" && s.StartTime.Before(s.EndTime)
}
