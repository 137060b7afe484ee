package booking

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/outbox"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/policy"
)

func TestCancelTwiceReleasesOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	v := f.create(t, "S1", "U1", "k1")

	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: v.ID}); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: v.ID}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
	if _, releases := f.slots.counts("S1"); releases != 1 {
		t.Fatalf("expected one release, got %d", releases)
	}
}

func TestCancelRecordsHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	v := f.create(t, "S1", "U1", "k1")

	_, err := f.svc.CancelVisit(ctx, CancelVisitInput{
		VisitID: v.ID,
		Reason:  "  found another place ",
		Actor:   Actor{Type: model.ActorAdmin, ID: "ops-7"},
	})
	if err != nil {
		t.Fatalf("CancelVisit: %v", err)
	}
	entries, err := f.svc.VisitHistory(ctx, v.ID)
	if err != nil || len(entries) != 2 {
		t.Fatalf("VisitHistory: %v %v", entries, err)
	}
	last := entries[1]
	if last.EventType != model.HistoryStatusChanged || last.FromStatus != model.StatusPending || last.ToStatus != model.StatusCanceled {
		t.Fatalf("unexpected entry: %+v", last)
	}
	if last.Reason != "found another place" || last.ActorType != model.ActorAdmin || last.ActorID != "ops-7" {
		t.Fatalf("reason or actor not recorded: %+v", last)
	}
}

func TestCancelWindow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	v := f.create(t, "S1", "U1", "k1")

	// one hour before start is inside the two hour window
	f.clock.Set(slotBase.Add(-time.Hour))
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: v.ID}); !errors.Is(err, ErrCancelWindowExpired) {
		t.Fatalf("expected ErrCancelWindowExpired, got %v", err)
	}
	if got := f.slotStatus(t, "S1"); got != model.SlotBooked {
		t.Fatalf("slot changed to %s after rejected cancel", got)
	}

	// exactly at the cutoff is still allowed
	f.clock.Set(slotBase.Add(-2 * time.Hour))
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: v.ID}); err != nil {
		t.Fatalf("cancel at cutoff: %v", err)
	}
}

func TestCancelWindowPerListing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, func(c *Config) {
		c.Policy = policy.NewStaticProvider(
			policy.Windows{CancelLead: 2 * time.Hour, RescheduleLead: 2 * time.Hour, EnforceReschedule: true},
			policy.Override{Scope: policy.ScopeListing, Key: "L1", Lead: 30 * time.Minute},
		)
	})
	f.addSlot("S1", "L1", slotBase)
	v := f.create(t, "S1", "U1", "k1")

	f.clock.Set(slotBase.Add(-time.Hour))
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: v.ID}); err != nil {
		t.Fatalf("listing override not applied: %v", err)
	}
}

func TestCancelValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: "missing"}); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for empty id, got %v", err)
	}
	long := strings.Repeat("x", maxCancelReasonLen+1)
	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: "missing", Reason: long}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for long reason, got %v", err)
	}
}

func TestRescheduleConflictKeepsOriginalSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	f.addSlot("S2", "L1", slotBase.Add(time.Hour))
	a := f.create(t, "S1", "U1", "kA")
	f.create(t, "S2", "U2", "kB")

	_, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: a.ID, NewSlotID: "S2"})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	reread, err := f.svc.GetVisit(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetVisit: %v", err)
	}
	if reread.SlotID != "S1" || reread.Status != model.StatusPending {
		t.Fatalf("visit A changed: %+v", reread.Visit)
	}
	if got := f.slotStatus(t, "S1"); got != model.SlotBooked {
		t.Fatalf("A's slot changed to %s", got)
	}
	if _, releases := f.slots.counts("S1"); releases != 0 {
		t.Fatalf("A's slot was released %d times", releases)
	}
}

func TestRescheduleRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	f.addSlot("S2", "L1", slotBase.Add(time.Hour))
	f.addSlot("X1", "L2", slotBase.Add(2*time.Hour))
	v := f.create(t, "S1", "U1", "k1")

	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for same slot, got %v", err)
	}
	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "X1"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for slot of another listing, got %v", err)
	}
	if got := f.slotStatus(t, "X1"); got != model.SlotOpen {
		t.Fatalf("foreign slot reserved: %s", got)
	}

	res, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "X1", ListingID: "L2"})
	if err != nil {
		t.Fatalf("move to L2: %v", err)
	}
	if res.Visit.ListingID != "L2" || res.Visit.SlotID != "X1" {
		t.Fatalf("listing not moved: %+v", res.Visit)
	}

	if _, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: v.ID, Status: model.StatusNoShow}); err != nil {
		t.Fatalf("no_show: %v", err)
	}
	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S2"}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for terminal visit, got %v", err)
	}
	if got := f.slotStatus(t, "S2"); got != model.SlotOpen {
		t.Fatalf("S2 reserved by a rejected reschedule: %s", got)
	}
}

func TestRescheduleRejectsStartedTarget(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("EARLY", "L1", slotBase.Add(-24*time.Hour))
	f.addSlot("S1", "L1", slotBase)
	v := f.create(t, "S1", "U1", "k1")

	f.clock.Set(slotBase.Add(-12 * time.Hour))
	_, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "EARLY"})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
	if f.slotStatus(t, "EARLY") != model.SlotOpen || f.slotStatus(t, "S1") != model.SlotBooked {
		t.Fatalf("slots changed: EARLY=%s S1=%s", f.slotStatus(t, "EARLY"), f.slotStatus(t, "S1"))
	}
}

func TestRescheduleWindow(t *testing.T) {
	ctx := context.Background()
	build := func(enforce bool) *fixture {
		f := newFixture(t, func(c *Config) {
			c.Policy = policy.NewStaticProvider(policy.Windows{
				CancelLead:        2 * time.Hour,
				RescheduleLead:    time.Hour,
				EnforceReschedule: enforce,
			})
		})
		f.addSlot("S1", "L1", slotBase)
		f.addSlot("S2", "L1", slotBase.Add(time.Hour))
		return f
	}

	f := build(true)
	v := f.create(t, "S1", "U1", "k1")
	f.clock.Set(slotBase.Add(-30 * time.Minute))
	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S2"}); !errors.Is(err, ErrCancelWindowExpired) {
		t.Fatalf("expected ErrCancelWindowExpired, got %v", err)
	}
	if got := f.slotStatus(t, "S2"); got != model.SlotOpen {
		t.Fatalf("S2 reserved despite expired window: %s", got)
	}
	// 90 minutes out is inside the cancel window but outside the reschedule window
	f.clock.Set(slotBase.Add(-90 * time.Minute))
	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S2"}); err != nil {
		t.Fatalf("reschedule with separate lead: %v", err)
	}

	f = build(false)
	v = f.create(t, "S1", "U1", "k1")
	f.clock.Set(slotBase.Add(-time.Minute))
	if _, err := f.svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S2"}); err != nil {
		t.Fatalf("unenforced window rejected reschedule: %v", err)
	}
}

type failingUpdate struct {
	VisitStore
}

func (failingUpdate) Update(context.Context, string, func(*model.Visit) error) (model.Visit, error) {
	return model.Visit{}, errors.New("deadlock detected")
}

func TestRescheduleUpdateFailureReleasesNewSlot(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	f.addSlot("S2", "L1", slotBase.Add(time.Hour))
	v := f.create(t, "S1", "U1", "k1")

	svc := NewService(f.store, failingUpdate{f.store}, f.svc.logger, f.svc.cfg)
	if _, err := svc.RescheduleVisit(ctx, RescheduleVisitInput{VisitID: v.ID, NewSlotID: "S2"}); !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if f.slotStatus(t, "S1") != model.SlotBooked || f.slotStatus(t, "S2") != model.SlotOpen {
		t.Fatalf("expected S1 booked and S2 open, got %s/%s", f.slotStatus(t, "S1"), f.slotStatus(t, "S2"))
	}
}

func TestUpdateVisitStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.addSlot("S1", "L1", slotBase)
	f.addSlot("S2", "L1", slotBase.Add(time.Hour))
	v := f.create(t, "S1", "U1", "k1")
	w := f.create(t, "S2", "U2", "k2")

	steps := []struct {
		status model.VisitStatus
		ok     bool
	}{
		{model.StatusConfirmed, true},
		{model.StatusConfirmed, false},
		{model.StatusPending, false},
		{model.StatusCompleted, false},
		{model.StatusInProgress, true},
		{model.StatusCompleted, true},
		{model.StatusCanceled, false},
	}
	for _, step := range steps {
		_, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: v.ID, Status: step.status})
		if step.ok && err != nil {
			t.Fatalf("%s: %v", step.status, err)
		}
		if !step.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Fatalf("%s: expected ErrInvalidTransition, got %v", step.status, err)
		}
	}
	if got := f.slotStatus(t, "S1"); got != model.SlotBooked {
		t.Fatalf("completed visit should keep its slot, got %s", got)
	}

	// admin cancellation ignores the window and frees the slot
	f.clock.Set(slotBase.Add(30 * time.Minute))
	updated, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: w.ID, Status: model.StatusCanceled, Reason: "owner unavailable"})
	if err != nil || updated.Status != model.StatusCanceled {
		t.Fatalf("admin cancel: %+v %v", updated, err)
	}
	if got := f.slotStatus(t, "S2"); got != model.SlotOpen {
		t.Fatalf("canceled visit kept slot: %s", got)
	}

	if _, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: v.ID, Status: "archived"}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
	if _, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: "missing", Status: model.StatusConfirmed}); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
	if _, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: "missing", Status: model.StatusPending}); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound for pending on a missing visit, got %v", err)
	}

	var statusEvents int
	for _, typ := range f.events.types() {
		if typ == outbox.EventVisitStatusChanged {
			statusEvents++
		}
	}
	if statusEvents != 4 {
		t.Fatalf("expected 4 status events, got %d", statusEvents)
	}
}
