package storage

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/md-rashed-zaman/visitbook/libs/db"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/migrations"
)

// These tests need a disposable Postgres database in VISIT_TEST_DATABASE_URL.
// Every test truncates the visit tables.
func openTestPool(t *testing.T) *db.Pool {
	t.Helper()
	url := os.Getenv("VISIT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("VISIT_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := db.Open(ctx, url)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	t.Cleanup(pool.Close)
	if _, err := pool.Migrate(ctx, migrations.FS); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := pool.Exec(ctx, `TRUNCATE visit_status_history, visits, visit_slots CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return pool
}

var pgBase = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func pgSlot(t *testing.T, slots *SlotRepository, id string, offset time.Duration) {
	t.Helper()
	_, err := slots.EnsureSlot(context.Background(), model.Slot{
		ID:        id,
		ListingID: "L1",
		StartTime: pgBase.Add(offset),
		EndTime:   pgBase.Add(offset + 30*time.Minute),
		Status:    model.SlotOpen,
		Source:    model.SlotSourceSystem,
	})
	if err != nil {
		t.Fatalf("EnsureSlot(%s): %v", id, err)
	}
}

func pgVisit(id, slotID, userID, key string, created time.Time) model.Visit {
	return model.Visit{
		ID:             id,
		ListingID:      "L1",
		SlotID:         slotID,
		UserID:         userID,
		AgentID:        "A1",
		Channel:        model.ChannelWeb,
		Status:         model.StatusPending,
		IdempotencyKey: key,
		CreatedAt:      created,
		UpdatedAt:      created,
	}
}

func TestPostgresListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	pool := openTestPool(t)
	slots, visits := NewSlotRepository(pool), NewVisitRepository(pool)

	for i, id := range []string{"S1", "S2", "S3"} {
		pgSlot(t, slots, id, time.Duration(i)*time.Hour)
	}
	users := []string{"U1", "U2", "U1"}
	for i, id := range []string{"V1", "V2", "V3"} {
		v := pgVisit(id, []string{"S1", "S2", "S3"}[i], users[i], "k"+id, pgBase.Add(time.Duration(i)*time.Minute))
		if err := visits.Insert(ctx, v); err != nil {
			t.Fatalf("Insert(%s): %v", id, err)
		}
	}

	items, total, err := visits.List(ctx, model.VisitFilter{UserID: "U1"}, model.Page{Page: 1, PageSize: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 2 || len(items) != 1 || items[0].ID != "V3" {
		t.Fatalf("expected newest U1 visit first of 2, got %d %+v", total, items)
	}

	items, total, err = visits.List(ctx, model.VisitFilter{RestrictSlots: true, SlotIDs: []string{"S1", "S2"}, Search: "u2"}, model.Page{Page: 1, PageSize: 10})
	if err != nil {
		t.Fatalf("List by slots: %v", err)
	}
	if total != 1 || len(items) != 1 || items[0].ID != "V2" {
		t.Fatalf("expected V2, got %d %+v", total, items)
	}
}

func TestPostgresUpdateAndReleaseStaleGuard(t *testing.T) {
	ctx := context.Background()
	pool := openTestPool(t)
	slots, visits := NewSlotRepository(pool), NewVisitRepository(pool)
	pgSlot(t, slots, "S1", 0)
	pgSlot(t, slots, "S2", time.Hour)

	if _, err := slots.TryReserve(ctx, "S1"); err != nil {
		t.Fatalf("TryReserve: %v", err)
	}
	if err := visits.Insert(ctx, pgVisit("V1", "S1", "U1", "k1", pgBase)); err != nil {
		t.Fatalf("Insert V1: %v", err)
	}
	if err := visits.Insert(ctx, pgVisit("V2", "S2", "U2", "k2", pgBase)); err != nil {
		t.Fatalf("Insert V2: %v", err)
	}

	cutoff := time.Now().Add(time.Minute)
	if released, err := slots.ReleaseStale(ctx, "S1", cutoff); err != nil || released {
		t.Fatalf("held slot released: %v %v", released, err)
	}

	// moving V2 onto the slot V1 holds trips the active-slot index
	_, err := visits.Update(ctx, "V2", func(v *model.Visit) error {
		v.SlotID = "S1"
		return nil
	})
	if !errors.Is(err, ErrSlotNotOpen) {
		t.Fatalf("expected ErrSlotNotOpen, got %v", err)
	}

	if _, err := visits.Update(ctx, "V1", func(v *model.Visit) error {
		v.Status = model.StatusCanceled
		return nil
	}); err != nil {
		t.Fatalf("cancel V1: %v", err)
	}
	if released, err := slots.ReleaseStale(ctx, "S1", cutoff); err != nil || !released {
		t.Fatalf("expected stale S1 released once unheld: %v %v", released, err)
	}
	if _, err := visits.Update(ctx, "missing", func(*model.Visit) error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
