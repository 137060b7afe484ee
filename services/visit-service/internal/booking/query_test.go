package booking

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

func TestListVisitsDateRange(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	day := 24 * time.Hour
	for i, id := range []string{"S1", "S2", "S3"} {
		f.addSlot(id, "L1", slotBase.Add(time.Duration(i)*day))
		f.create(t, id, "U1", "k-"+id)
	}

	from, to := slotBase.Add(12*time.Hour), slotBase.Add(36*time.Hour)
	res, err := f.svc.ListVisits(ctx, model.VisitFilter{DateFrom: &from, DateTo: &to}, 1, 20)
	if err != nil {
		t.Fatalf("ListVisits: %v", err)
	}
	if res.Total != 1 || len(res.Items) != 1 || res.Items[0].SlotID != "S2" {
		t.Fatalf("unexpected items: %+v", res)
	}
	if res.Items[0].SlotStart == nil || !res.Items[0].SlotStart.Equal(slotBase.Add(day)) {
		t.Fatalf("slot start not attached: %+v", res.Items[0])
	}

	empty := slotBase.Add(30 * day)
	res, err = f.svc.ListVisits(ctx, model.VisitFilter{DateFrom: &empty}, 1, 20)
	if err != nil || res.Total != 0 || res.Items == nil || len(res.Items) != 0 {
		t.Fatalf("expected empty page, got %+v %v", res, err)
	}

	if _, err := f.svc.ListVisits(ctx, model.VisitFilter{DateFrom: &to, DateTo: &from}, 1, 20); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted range, got %v", err)
	}
	if _, err := f.svc.ListVisits(ctx, model.VisitFilter{Status: "archived"}, 1, 20); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown status, got %v", err)
	}
}

func TestListVisitsPaging(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	for i, id := range []string{"S1", "S2", "S3"} {
		f.addSlot(id, "L1", slotBase.Add(time.Duration(i)*time.Hour))
		f.clock.Set(slotBase.Add(-48*time.Hour + time.Duration(i)*time.Minute))
		f.create(t, id, "U1", "k-"+id)
	}

	res, err := f.svc.ListVisits(ctx, model.VisitFilter{}, 2, 2)
	if err != nil {
		t.Fatalf("ListVisits: %v", err)
	}
	if res.Page != 2 || res.PageSize != 2 || res.Total != 3 || res.TotalPages != 2 || len(res.Items) != 1 {
		t.Fatalf("unexpected page: %+v", res)
	}
	if res.Items[0].SlotID != "S1" {
		t.Fatalf("expected oldest visit last, got %s", res.Items[0].SlotID)
	}

	res, _ = f.svc.ListVisits(ctx, model.VisitFilter{}, 0, 0)
	if res.Page != 1 || res.PageSize != DefaultPageSize {
		t.Fatalf("defaults not applied: page=%d size=%d", res.Page, res.PageSize)
	}
	res, _ = f.svc.ListVisits(ctx, model.VisitFilter{}, 1, 1000)
	if res.PageSize != MaxPageSize {
		t.Fatalf("page size not capped: %d", res.PageSize)
	}
	res, _ = f.svc.ListVisits(ctx, model.VisitFilter{Status: model.StatusCanceled}, 1, 10)
	if res.Total != 0 {
		t.Fatalf("status filter ignored: %+v", res)
	}
}

func TestGetVisitsByUser(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	day := 24 * time.Hour
	f.addSlot("S0", "L1", slotBase.Add(-47*time.Hour))
	f.addSlot("S1", "L1", slotBase)
	f.addSlot("S2", "L1", slotBase.Add(day))
	f.addSlot("S3", "L1", slotBase.Add(2*day))
	f.addSlot("S4", "L1", slotBase.Add(3*day))

	started := f.create(t, "S0", "U1", "k0")
	upcoming := f.create(t, "S1", "U1", "k1")
	canceled := f.create(t, "S2", "U1", "k2")
	completed := f.create(t, "S3", "U1", "k3")
	f.create(t, "S4", "U2", "k4")

	if _, err := f.svc.CancelVisit(ctx, CancelVisitInput{VisitID: canceled.ID}); err != nil {
		t.Fatalf("CancelVisit: %v", err)
	}
	for _, status := range []model.VisitStatus{model.StatusInProgress, model.StatusCompleted} {
		if _, err := f.svc.UpdateVisitStatus(ctx, UpdateStatusInput{VisitID: completed.ID, Status: status}); err != nil {
			t.Fatalf("UpdateVisitStatus(%s): %v", status, err)
		}
	}
	f.clock.Set(slotBase.Add(-46 * time.Hour))

	got, err := f.svc.GetVisitsByUser(ctx, "U1")
	if err != nil {
		t.Fatalf("GetVisitsByUser: %v", err)
	}
	if len(got.Upcoming) != 1 || got.Upcoming[0].ID != upcoming.ID {
		t.Fatalf("unexpected upcoming: %+v", got.Upcoming)
	}
	if len(got.Canceled) != 1 || got.Canceled[0].ID != canceled.ID {
		t.Fatalf("unexpected canceled: %+v", got.Canceled)
	}
	if len(got.Past) != 2 || got.Past[0].ID != completed.ID || got.Past[1].ID != started.ID {
		t.Fatalf("unexpected past: %+v", got.Past)
	}

	if _, err := f.svc.GetVisitsByUser(ctx, " "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestGetVisitAndHistoryNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	if _, err := f.svc.GetVisit(ctx, "missing"); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
	if _, err := f.svc.VisitHistory(ctx, "missing"); !errors.Is(err, ErrVisitNotFound) {
		t.Fatalf("expected ErrVisitNotFound, got %v", err)
	}
}

func TestAvailableSlots(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	monday := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	booked := availability.FormatSlotID("L1", monday.Add(13*time.Hour))
	if _, err := f.svc.CreateVisit(ctx, CreateVisitInput{ListingID: "L1", SlotID: booked, UserID: "U1", IdempotencyKey: "k1"}); err != nil {
		t.Fatalf("CreateVisit: %v", err)
	}
	f.store.PutSlot(model.Slot{ID: "OWN1", ListingID: "L1", StartTime: monday.Add(15 * time.Hour),
		EndTime: monday.Add(15*time.Hour + 30*time.Minute), Status: model.SlotBlocked, Source: model.SlotSourceOwner})
	f.store.PutSlot(model.Slot{ID: "OWN2", ListingID: "L1", StartTime: monday.Add(20 * time.Hour),
		EndTime: monday.Add(20*time.Hour + 30*time.Minute), Status: model.SlotOpen, Source: model.SlotSourceOwner})
	f.store.PutSlot(model.Slot{ID: "OTHER", ListingID: "L2", StartTime: monday.Add(16 * time.Hour),
		EndTime: monday.Add(16*time.Hour + 30*time.Minute), Status: model.SlotOpen})

	slots, err := f.svc.AvailableSlots(ctx, "L1", "2026-03-02")
	if err != nil {
		t.Fatalf("AvailableSlots: %v", err)
	}
	// 22 grid slots, minus the booked 13:00 and the blocked 15:00, plus the owner slot at 20:00
	if len(slots) != 21 {
		t.Fatalf("expected 21 slots, got %d", len(slots))
	}
	for i, s := range slots {
		if s.ID == booked || s.ID == "OTHER" || s.StartTime.Equal(monday.Add(15*time.Hour)) {
			t.Fatalf("unavailable slot offered: %+v", s)
		}
		if i > 0 && s.StartTime.Before(slots[i-1].StartTime) {
			t.Fatalf("slots not sorted at %d", i)
		}
	}
	if slots[len(slots)-1].ID != "OWN2" {
		t.Fatalf("expected owner slot last, got %s", slots[len(slots)-1].ID)
	}

	f.clock.Set(monday.Add(19 * time.Hour))
	slots, _ = f.svc.AvailableSlots(ctx, "L1", "2026-03-02")
	if len(slots) != 3 {
		t.Fatalf("expected 3 remaining slots, got %d", len(slots))
	}

	sunday, err := f.svc.AvailableSlots(ctx, "L1", "2026-03-01")
	if err != nil || sunday == nil || len(sunday) != 0 {
		t.Fatalf("expected no Sunday slots, got %v %v", sunday, err)
	}
	if _, err := f.svc.AvailableSlots(ctx, "L1", "03/02/2026"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for bad date, got %v", err)
	}
	if _, err := f.svc.AvailableSlots(ctx, "", "2026-03-02"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation for missing listing, got %v", err)
	}
}
