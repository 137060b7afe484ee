package model

import "time"

type VisitStatus string

const (
	StatusPending    VisitStatus = "pending"
	StatusConfirmed  VisitStatus = "confirmed"
	StatusInProgress VisitStatus = "in_progress"
	StatusCompleted  VisitStatus = "completed"
	StatusCanceled   VisitStatus = "canceled"
	StatusNoShow     VisitStatus = "no_show"
)

var AllStatuses = []VisitStatus{
	StatusPending,
	StatusConfirmed,
	StatusInProgress,
	StatusCompleted,
	StatusCanceled,
	StatusNoShow,
}

func ParseStatus(raw string) (VisitStatus, bool) {
	for _, s := range AllStatuses {
		if string(s) == raw {
			return s, true
		}
	}
	return "", false
}

func (s VisitStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled || s == StatusNoShow
}

// HoldsSlot reports whether a visit in this status keeps its slot booked.
func (s VisitStatus) HoldsSlot() bool {
	return s != StatusCanceled && s != StatusNoShow
}

type Channel string

const (
	ChannelWeb      Channel = "web"
	ChannelWhatsApp Channel = "whatsapp"
)

func ParseChannel(raw string) (Channel, bool) {
	switch Channel(raw) {
	case ChannelWeb, ChannelWhatsApp:
		return Channel(raw), true
	case "":
		return "", true
	default:
		return "", false
	}
}

type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
	Email string `json:"email,omitempty"`
}

type Visit struct {
	ID             string
	ListingID      string
	SlotID         string
	UserID         string
	AgentID        string
	Channel        Channel
	Status         VisitStatus
	IdempotencyKey string
	RequestHash    string
	Contact        *Contact
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VisitWithSlot carries the slot window alongside a visit for read paths.
type VisitWithSlot struct {
	Visit
	SlotStart *time.Time
	SlotEnd   *time.Time
}
