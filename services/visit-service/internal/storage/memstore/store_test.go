package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func openSlot(id string, offset time.Duration) model.Slot {
	return model.Slot{
		ID:        id,
		ListingID: "L1",
		StartTime: base.Add(offset),
		EndTime:   base.Add(offset + 30*time.Minute),
		Status:    model.SlotOpen,
		Source:    model.SlotSourceSystem,
	}
}

func TestTryReserveIsExclusive(t *testing.T) {
	s := New()
	s.PutSlot(openSlot("S1", 0))

	const callers = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins, conflicts := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.TryReserve(context.Background(), "S1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, storage.ErrSlotNotOpen):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || conflicts != callers-1 {
		t.Fatalf("expected 1 win and %d conflicts, got %d/%d", callers-1, wins, conflicts)
	}
}

func TestEnsureSlotRejectsInvalidSlots(t *testing.T) {
	s := New()
	inverted := openSlot("S1", 0)
	inverted.EndTime = inverted.StartTime.Add(-time.Minute)
	if _, err := s.EnsureSlot(context.Background(), inverted); !errors.Is(err, storage.ErrInvalidSlot) {
		t.Fatalf("expected ErrInvalidSlot, got %v", err)
	}
	if _, err := s.GetSlot(context.Background(), "S1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("invalid slot stored: %v", err)
	}
	if _, err := s.EnsureSlot(context.Background(), openSlot("S1", 0)); err != nil {
		t.Fatalf("EnsureSlot: %v", err)
	}
}

func TestReleaseIsIdempotentAndLeavesBlockedSlots(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.PutSlot(openSlot("S1", 0))
	blocked := openSlot("S2", time.Hour)
	blocked.Status = model.SlotBlocked
	s.PutSlot(blocked)

	if _, err := s.TryReserve(ctx, "S1"); err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	for i := 0; i < 2; i++ {
		slot, err := s.Release(ctx, "S1")
		if err != nil || slot.Status != model.SlotOpen || slot.ReservedAt != nil {
			t.Fatalf("release %d: %+v %v", i, slot, err)
		}
	}
	if slot, _ := s.Release(ctx, "S2"); slot.Status != model.SlotBlocked {
		t.Fatalf("blocked slot changed to %s", slot.Status)
	}
	if _, err := s.Release(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.TryReserve(ctx, "S2"); !errors.Is(err, storage.ErrSlotNotOpen) {
		t.Fatalf("blocked slot must not be reservable, got %v", err)
	}
}

func TestInsertRejectsDuplicateKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	v := model.Visit{ID: "V1", SlotID: "S1", IdempotencyKey: "k1", Status: model.StatusPending, CreatedAt: base}
	if err := s.Insert(ctx, v); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	v2 := v
	v2.ID, v2.SlotID = "V2", "S2"
	if err := s.Insert(ctx, v2); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	v3 := v
	v3.ID, v3.IdempotencyKey = "V3", "k3"
	if err := s.Insert(ctx, v3); !errors.Is(err, storage.ErrSlotNotOpen) {
		t.Fatalf("expected ErrSlotNotOpen for held slot, got %v", err)
	}
	got, err := s.FindByIdempotencyKey(ctx, "k1")
	if err != nil || got.ID != "V1" {
		t.Fatalf("FindByIdempotencyKey: %+v %v", got, err)
	}
}

func TestUpdateAbortsOnMutationError(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Insert(ctx, model.Visit{ID: "V1", IdempotencyKey: "k1", Status: model.StatusPending})

	boom := errors.New("boom")
	if _, err := s.Update(ctx, "V1", func(v *model.Visit) error {
		v.Status = model.StatusCanceled
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	got, _ := s.Get(ctx, "V1")
	if got.Status != model.StatusPending {
		t.Fatalf("aborted update leaked status %s", got.Status)
	}
	if _, err := s.Update(ctx, "nope", func(*model.Visit) error { return nil }); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 5; i++ {
		_ = s.Insert(ctx, model.Visit{
			ID:             fmt.Sprintf("V%d", i),
			ListingID:      "L1",
			SlotID:         fmt.Sprintf("S%d", i),
			UserID:         fmt.Sprintf("user-%d", i%2),
			AgentID:        "agent_001",
			IdempotencyKey: fmt.Sprintf("k%d", i),
			Status:         model.StatusPending,
			CreatedAt:      base.Add(time.Duration(i) * time.Minute),
		})
	}

	items, total, err := s.List(ctx, model.VisitFilter{}, model.Page{Page: 1, PageSize: 2})
	if err != nil || total != 5 || len(items) != 2 || items[0].ID != "V4" {
		t.Fatalf("page 1: %v total=%d err=%v", items, total, err)
	}
	items, _, _ = s.List(ctx, model.VisitFilter{}, model.Page{Page: 3, PageSize: 2})
	if len(items) != 1 || items[0].ID != "V0" {
		t.Fatalf("page 3: %v", items)
	}

	items, total, _ = s.List(ctx, model.VisitFilter{UserID: "user-1"}, model.Page{Page: 1, PageSize: 10})
	if total != 2 {
		t.Fatalf("user filter: total=%d", total)
	}

	items, total, _ = s.List(ctx, model.VisitFilter{Search: "USER-0"}, model.Page{Page: 1, PageSize: 10})
	if total != 3 {
		t.Fatalf("search: total=%d", total)
	}

	items, total, _ = s.List(ctx, model.VisitFilter{RestrictSlots: true, SlotIDs: []string{"S1", "S3"}}, model.Page{Page: 1, PageSize: 10})
	if total != 2 || items[0].ID != "V3" {
		t.Fatalf("slot filter: %v total=%d", items, total)
	}

	items, total, _ = s.List(ctx, model.VisitFilter{RestrictSlots: true}, model.Page{Page: 1, PageSize: 10})
	if total != 0 || items != nil {
		t.Fatalf("empty slot set must match nothing: %v", items)
	}
}

func TestReleaseStaleSkipsHeldSlots(t *testing.T) {
	ctx := context.Background()
	reservedAt := base
	s := New().WithClock(func() time.Time { return reservedAt })
	s.PutSlot(openSlot("S1", 0))
	s.PutSlot(openSlot("S2", time.Hour))
	_, _ = s.TryReserve(ctx, "S1")
	_, _ = s.TryReserve(ctx, "S2")
	_ = s.Insert(ctx, model.Visit{ID: "V2", SlotID: "S2", IdempotencyKey: "k2", Status: model.StatusConfirmed})

	cutoff := base.Add(time.Minute)
	stale, _ := s.ListStaleBooked(ctx, cutoff, 10)
	if len(stale) != 2 {
		t.Fatalf("expected 2 stale slots, got %d", len(stale))
	}
	if ok, _ := s.ReleaseStale(ctx, "S2", cutoff); ok {
		t.Fatal("slot held by a visit must not be released")
	}
	if ok, _ := s.ReleaseStale(ctx, "S1", base.Add(-time.Minute)); ok {
		t.Fatal("reservation newer than cutoff must not be released")
	}
	if ok, _ := s.ReleaseStale(ctx, "S1", cutoff); !ok {
		t.Fatal("expected stranded slot to be released")
	}
	if slot, _ := s.GetSlot(ctx, "S1"); slot.Status != model.SlotOpen {
		t.Fatalf("expected open, got %s", slot.Status)
	}
}
