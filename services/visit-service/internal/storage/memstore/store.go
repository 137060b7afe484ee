// Package memstore keeps slots and visits in process memory. It backs local
// development and tests; a single mutex provides the compare-and-swap guarantees.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/storage"
)

type Store struct {
	mu        sync.Mutex
	now       func() time.Time
	slots     map[string]model.Slot
	visits    map[string]model.Visit
	byKey     map[string]string
	history   map[string][]model.HistoryEntry
	historyID int64
}

func New() *Store {
	return &Store{
		now:     time.Now,
		slots:   map[string]model.Slot{},
		visits:  map[string]model.Visit{},
		byKey:   map[string]string{},
		history: map[string][]model.HistoryEntry{},
	}
}

// WithClock replaces the clock used for reservation timestamps.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

// PutSlot stores or replaces a slot as is.
func (s *Store) PutSlot(slot model.Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = s.now().UTC()
	}
	s.slots[slot.ID] = slot
}

func (s *Store) GetSlot(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	return slot, nil
}

func (s *Store) GetSlots(_ context.Context, ids []string) (map[string]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[string]model.Slot{}
	for _, id := range ids {
		if slot, ok := s.slots[id]; ok {
			out[id] = slot
		}
	}
	return out, nil
}

func (s *Store) EnsureSlot(_ context.Context, slot model.Slot) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slot.Valid() {
		return model.Slot{}, fmt.Errorf("%w: %s", storage.ErrInvalidSlot, slot.ID)
	}
	if existing, ok := s.slots[slot.ID]; ok {
		return existing, nil
	}
	if slot.CreatedAt.IsZero() {
		slot.CreatedAt = s.now().UTC()
	}
	s.slots[slot.ID] = slot
	return slot, nil
}

func (s *Store) TryReserve(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	if slot.Status != model.SlotOpen {
		return model.Slot{}, storage.ErrSlotNotOpen
	}
	now := s.now().UTC()
	slot.Status = model.SlotBooked
	slot.ReservedAt = &now
	s.slots[id] = slot
	return slot, nil
}

func (s *Store) Release(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	if slot.Status == model.SlotBooked {
		slot.Status = model.SlotOpen
		slot.ReservedAt = nil
		s.slots[id] = slot
	}
	return slot, nil
}

func (s *Store) Block(_ context.Context, id string) (model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok {
		return model.Slot{}, storage.ErrNotFound
	}
	if slot.Status != model.SlotOpen {
		return model.Slot{}, storage.ErrSlotNotOpen
	}
	slot.Status = model.SlotBlocked
	s.slots[id] = slot
	return slot, nil
}

func (s *Store) ListSlotIDsByStart(_ context.Context, from, to *time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, slot := range s.slots {
		if from != nil && slot.StartTime.Before(*from) {
			continue
		}
		if to != nil && slot.StartTime.After(*to) {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ListByListing(_ context.Context, listingID string, from, to time.Time) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Slot
	for _, slot := range s.slots {
		if slot.ListingID != listingID || slot.StartTime.Before(from) || !slot.StartTime.Before(to) {
			continue
		}
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (s *Store) ListStaleBooked(_ context.Context, cutoff time.Time, limit int) ([]model.Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Slot
	for _, slot := range s.slots {
		if slot.Status == model.SlotBooked && slot.ReservedAt != nil && !slot.ReservedAt.After(cutoff) {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservedAt.Before(*out[j].ReservedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) ReleaseStale(_ context.Context, id string, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slot, ok := s.slots[id]
	if !ok || slot.Status != model.SlotBooked || slot.ReservedAt == nil || slot.ReservedAt.After(cutoff) {
		return false, nil
	}
	if s.holdsSlotLocked(id) {
		return false, nil
	}
	slot.Status = model.SlotOpen
	slot.ReservedAt = nil
	s.slots[id] = slot
	return true, nil
}

func (s *Store) FindByIdempotencyKey(_ context.Context, key string) (model.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byKey[key]
	if !ok {
		return model.Visit{}, storage.ErrNotFound
	}
	return s.visits[id], nil
}

func (s *Store) Insert(_ context.Context, v model.Visit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[v.IdempotencyKey]; ok {
		return storage.ErrDuplicateKey
	}
	if v.Status.HoldsSlot() && s.holdsSlotLocked(v.SlotID) {
		return storage.ErrSlotNotOpen
	}
	s.visits[v.ID] = v
	s.byKey[v.IdempotencyKey] = v.ID
	return nil
}

func (s *Store) Get(_ context.Context, id string) (model.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	if !ok {
		return model.Visit{}, storage.ErrNotFound
	}
	return v, nil
}

func (s *Store) Update(_ context.Context, id string, mutate func(*model.Visit) error) (model.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.visits[id]
	if !ok {
		return model.Visit{}, storage.ErrNotFound
	}
	if err := mutate(&v); err != nil {
		return model.Visit{}, err
	}
	s.visits[id] = v
	return v, nil
}

func (s *Store) List(_ context.Context, f model.VisitFilter, page model.Page) ([]model.Visit, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.RestrictSlots && len(f.SlotIDs) == 0 {
		return nil, 0, nil
	}
	slotSet := map[string]bool{}
	for _, id := range f.SlotIDs {
		slotSet[id] = true
	}
	search := strings.ToLower(strings.TrimSpace(f.Search))

	var matched []model.Visit
	for _, v := range s.visits {
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		if f.AgentID != "" && v.AgentID != f.AgentID {
			continue
		}
		if f.ListingID != "" && v.ListingID != f.ListingID {
			continue
		}
		if f.UserID != "" && v.UserID != f.UserID {
			continue
		}
		if f.RestrictSlots && !slotSet[v.SlotID] {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(v.ID), search) &&
			!strings.Contains(strings.ToLower(v.UserID), search) &&
			!strings.Contains(strings.ToLower(v.ListingID), search) {
			continue
		}
		matched = append(matched, v)
	}
	sortNewestFirst(matched)

	total := len(matched)
	start := page.Offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + page.PageSize
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (s *Store) ListByUser(_ context.Context, userID string) ([]model.Visit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Visit
	for _, v := range s.visits {
		if v.UserID == userID {
			out = append(out, v)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *Store) HoldsSlot(_ context.Context, slotID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holdsSlotLocked(slotID), nil
}

func (s *Store) AppendHistory(_ context.Context, e model.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.historyID++
	e.ID = s.historyID
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now().UTC()
	}
	s.history[e.VisitID] = append(s.history[e.VisitID], e)
	return nil
}

func (s *Store) History(_ context.Context, visitID string) ([]model.HistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.history[visitID]
	out := make([]model.HistoryEntry, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *Store) holdsSlotLocked(slotID string) bool {
	for _, v := range s.visits {
		if v.SlotID == slotID && v.Status.HoldsSlot() {
			return true
		}
	}
	return false
}

func sortNewestFirst(visits []model.Visit) {
	sort.Slice(visits, func(i, j int) bool {
		if visits[i].CreatedAt.Equal(visits[j].CreatedAt) {
			return visits[i].ID > visits[j].ID
		}
		return visits[i].CreatedAt.After(visits[j].CreatedAt)
	})
}
