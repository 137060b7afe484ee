package model

import "time"

type VisitFilter struct {
	Status    VisitStatus
	AgentID   string
	ListingID string
	UserID    string
	Search    string
	DateFrom  *time.Time
	DateTo    *time.Time

	// SlotIDs restricts results to visits on these slots when RestrictSlots is set.
	// An empty set with RestrictSlots matches nothing.
	SlotIDs       []string
	RestrictSlots bool
}

type Page struct {
	Page     int
	PageSize int
}

func (p Page) Offset() int {
	return (p.Page - 1) * p.PageSize
}
