package model

import "time"

type HistoryEvent string

const (
	HistoryCreated       HistoryEvent = "created"
	HistoryStatusChanged HistoryEvent = "status_changed"
	HistoryRescheduled   HistoryEvent = "rescheduled"
)

const (
	ActorUser   = "user"
	ActorAdmin  = "admin"
	ActorSystem = "system"
)

type HistoryEntry struct {
	ID         int64
	VisitID    string
	EventType  HistoryEvent
	FromStatus VisitStatus
	ToStatus   VisitStatus
	FromSlotID string
	ToSlotID   string
	Reason     string
	ActorType  string
	ActorID    string
	Metadata   map[string]any
	CreatedAt  time.Time
}
