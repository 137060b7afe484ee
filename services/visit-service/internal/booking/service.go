// Package booking owns every write to slot and visit status: creation with
// idempotent retries, cancellation, rescheduling and administrative status
// changes, plus the read paths built on the same stores.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/lifecycle"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/policy"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

var (
	ErrVisitNotFound       = errors.New("visit not found")
	ErrSlotUnavailable     = errors.New("slot unavailable")
	ErrInvalidTransition   = lifecycle.ErrInvalidTransition
	ErrCancelWindowExpired = errors.New("cancellation window expired")
	ErrValidation          = errors.New("validation failed")
	ErrInternal            = errors.New("internal error")
)

const (
	DefaultAgentID      = "agent_001"
	DefaultStoreTimeout = 5 * time.Second
)

type SlotStore interface {
	GetSlot(ctx context.Context, id string) (model.Slot, error)
	GetSlots(ctx context.Context, ids []string) (map[string]model.Slot, error)
	EnsureSlot(ctx context.Context, slot model.Slot) (model.Slot, error)
	TryReserve(ctx context.Context, id string) (model.Slot, error)
	Release(ctx context.Context, id string) (model.Slot, error)
	ListSlotIDsByStart(ctx context.Context, from, to *time.Time) ([]string, error)
	ListByListing(ctx context.Context, listingID string, from, to time.Time) ([]model.Slot, error)
	ListStaleBooked(ctx context.Context, cutoff time.Time, limit int) ([]model.Slot, error)
	ReleaseStale(ctx context.Context, id string, cutoff time.Time) (bool, error)
}

type VisitStore interface {
	FindByIdempotencyKey(ctx context.Context, key string) (model.Visit, error)
	Insert(ctx context.Context, v model.Visit) error
	Get(ctx context.Context, id string) (model.Visit, error)
	Update(ctx context.Context, id string, mutate func(*model.Visit) error) (model.Visit, error)
	List(ctx context.Context, f model.VisitFilter, page model.Page) ([]model.Visit, int, error)
	ListByUser(ctx context.Context, userID string) ([]model.Visit, error)
	HoldsSlot(ctx context.Context, slotID string) (bool, error)
	AppendHistory(ctx context.Context, e model.HistoryEntry) error
	History(ctx context.Context, visitID string) ([]model.HistoryEntry, error)
}

// EventSink receives activity events after each mutation. Emission is best effort.
type EventSink interface {
	Emit(ctx context.Context, evt outbox.Event) error
}

type Config struct {
	Policy         policy.Provider
	Events         EventSink
	Generator      *availability.Generator
	Now            func() time.Time
	NewID          func() string
	StoreTimeout   time.Duration
	DefaultAgentID string
}

type Service struct {
	slots  SlotStore
	visits VisitStore
	logger *slog.Logger
	cfg    Config
	tracer trace.Tracer
}

func NewService(slots SlotStore, visits VisitStore, logger *slog.Logger, cfg Config) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.NewStaticProvider(policy.Windows{
			CancelLead:        policy.DefaultLead,
			RescheduleLead:    policy.DefaultLead,
			EnforceReschedule: true,
		})
	}
	if cfg.Events == nil {
		cfg.Events = discardSink{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.DefaultAgentID == "" {
		cfg.DefaultAgentID = DefaultAgentID
	}
	return &Service{
		slots:  slots,
		visits: visits,
		logger: logger,
		cfg:    cfg,
		tracer: otel.Tracer("visit-service/booking"),
	}
}

// Actor identifies who requested a mutation. Type is one of model.ActorUser,
// model.ActorAdmin or model.ActorSystem.
type Actor struct {
	Type string
	ID   string
}

func (a Actor) orDefault(fallback string) Actor {
	if a.Type == "" {
		a.Type = fallback
	}
	return a
}

type discardSink struct{}

func (discardSink) Emit(context.Context, outbox.Event) error { return nil }

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// storeCtx bounds a single store call.
func (s *Service) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.StoreTimeout)
}

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "booking."+name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

func validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func (s *Service) loadVisit(ctx context.Context, id string) (model.Visit, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	v, err := s.visits.Get(sctx, id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Visit{}, fmt.Errorf("%w: %s", ErrVisitNotFound, id)
	case err != nil:
		return model.Visit{}, internal("load visit", err)
	}
	return v, nil
}

func (s *Service) loadSlot(ctx context.Context, id string) (model.Slot, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	slot, err := s.slots.GetSlot(sctx, id)
	if err != nil {
		return model.Slot{}, internal("load slot", err)
	}
	return slot, nil
}

// resolveSlot reads a slot, materializing generator slots on first use. The
// slot must belong to listingID and must not have started yet.
func (s *Service) resolveSlot(ctx context.Context, listingID, slotID string) (model.Slot, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	now := s.now()

	slot, err := s.slots.GetSlot(sctx, slotID)
	if errors.Is(err, storage.ErrNotFound) && s.cfg.Generator != nil {
		if generated, ok := s.cfg.Generator.Resolve(listingID, slotID); ok {
			if !generated.StartTime.After(now) {
				return model.Slot{}, startedErr(slotID, generated.StartTime)
			}
			slot, err = s.slots.EnsureSlot(sctx, generated)
		}
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return model.Slot{}, fmt.Errorf("%w: slot %s does not exist", ErrSlotUnavailable, slotID)
	case err != nil:
		return model.Slot{}, internal("resolve slot", err)
	}
	if slot.ListingID != listingID {
		return model.Slot{}, validation("slot %s does not belong to listing %s", slotID, listingID)
	}
	if !slot.StartTime.After(now) {
		return model.Slot{}, startedErr(slotID, slot.StartTime)
	}
	return slot, nil
}

func startedErr(slotID string, start time.Time) error {
	return fmt.Errorf("%w: slot %s started at %s", ErrSlotUnavailable, slotID, start.Format(time.RFC3339))
}

// reserve maps store outcomes of TryReserve onto service errors.
func (s *Service) reserve(ctx context.Context, slotID string) (model.Slot, error) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	slot, err := s.slots.TryReserve(sctx, slotID)
	switch {
	case errors.Is(err, storage.ErrSlotNotOpen), errors.Is(err, storage.ErrNotFound):
		return model.Slot{}, fmt.Errorf("%w: slot %s is not open", ErrSlotUnavailable, slotID)
	case err != nil:
		return model.Slot{}, internal("reserve slot", err)
	}
	return slot, nil
}

// release frees a slot on a context detached from the caller, so a caller
// timeout cannot leave the slot booked. Failures are logged; the
// reconciliation sweep picks up whatever stays booked.
func (s *Service) release(ctx context.Context, slotID, why string) (model.Slot, bool) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	slot, err := s.slots.Release(rctx, slotID)
	if err != nil {
		s.logger.ErrorContext(ctx, "slot release failed", "slot_id", slotID, "reason", why, "err", err)
		return model.Slot{}, false
	}
	return slot, true
}

func (s *Service) windows(ctx context.Context, v model.Visit) (policy.Windows, error) {
	w, err := s.cfg.Policy.Windows(ctx, v.ListingID, string(v.Channel))
	if err != nil {
		return policy.Windows{}, internal("window policy", err)
	}
	return w, nil
}

func (s *Service) appendHistory(ctx context.Context, e model.HistoryEntry) {
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	if err := s.visits.AppendHistory(hctx, e); err != nil {
		s.logger.ErrorContext(ctx, "append visit history failed", "visit_id", e.VisitID, "event", e.EventType, "err", err)
	}
}
