package outbox

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

const AggregateVisit = "visit"

const (
	EventVisitCreated       = "booking.visit.created.v1"
	EventVisitCanceled      = "booking.visit.canceled.v1"
	EventVisitRescheduled   = "booking.visit.rescheduled.v1"
	EventVisitStatusChanged = "booking.visit.status_changed.v1"
)
