package booking

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/availability"
	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
	dateLayout      = "2006-01-02"
)

type ListVisitsResult struct {
	Items      []model.VisitWithSlot
	Page       int
	PageSize   int
	Total      int
	TotalPages int
}

// UserVisits groups a user's visits the way a visitor's dashboard shows them.
type UserVisits struct {
	Upcoming []model.VisitWithSlot
	Past     []model.VisitWithSlot
	Canceled []model.VisitWithSlot
}

func normalizePage(page, pageSize int) model.Page {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return model.Page{Page: page, PageSize: pageSize}
}

// ListVisits pages through visits newest first. A slot date range is resolved
// to slot ids first and then applied as a slot-id restriction on visits.
func (s *Service) ListVisits(ctx context.Context, f model.VisitFilter, page, pageSize int) (res ListVisitsResult, err error) {
	ctx, span := s.startSpan(ctx, "ListVisits")
	defer func() { endSpan(span, err) }()

	p := normalizePage(page, pageSize)
	res = ListVisitsResult{Items: []model.VisitWithSlot{}, Page: p.Page, PageSize: p.PageSize}

	if f.Status != "" {
		if _, ok := model.ParseStatus(string(f.Status)); !ok {
			return ListVisitsResult{}, validation("unknown status %q", f.Status)
		}
	}
	if f.DateFrom != nil && f.DateTo != nil && f.DateTo.Before(*f.DateFrom) {
		return ListVisitsResult{}, validation("date_to is before date_from")
	}

	if f.DateFrom != nil || f.DateTo != nil {
		sctx, cancel := s.storeCtx(ctx)
		ids, err := s.slots.ListSlotIDsByStart(sctx, f.DateFrom, f.DateTo)
		cancel()
		if err != nil {
			return ListVisitsResult{}, internal("list slots by start", err)
		}
		if len(ids) == 0 {
			return res, nil
		}
		f.SlotIDs = ids
		f.RestrictSlots = true
	}

	sctx, cancel := s.storeCtx(ctx)
	visits, total, err := s.visits.List(sctx, f, p)
	cancel()
	if err != nil {
		return ListVisitsResult{}, internal("list visits", err)
	}

	items, err := s.withSlots(ctx, visits)
	if err != nil {
		return ListVisitsResult{}, err
	}
	res.Items = items
	res.Total = total
	res.TotalPages = (total + p.PageSize - 1) / p.PageSize
	return res, nil
}

func (s *Service) GetVisit(ctx context.Context, id string) (model.VisitWithSlot, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return model.VisitWithSlot{}, validation("visit id is required")
	}
	v, err := s.loadVisit(ctx, id)
	if err != nil {
		return model.VisitWithSlot{}, err
	}
	items, err := s.withSlots(ctx, []model.Visit{v})
	if err != nil {
		return model.VisitWithSlot{}, err
	}
	return items[0], nil
}

// VisitHistory returns the audit trail of a visit, oldest entry first.
func (s *Service) VisitHistory(ctx context.Context, id string) ([]model.HistoryEntry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, validation("visit id is required")
	}
	if _, err := s.loadVisit(ctx, id); err != nil {
		return nil, err
	}
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	entries, err := s.visits.History(sctx, id)
	if err != nil {
		return nil, internal("visit history", err)
	}
	if entries == nil {
		entries = []model.HistoryEntry{}
	}
	return entries, nil
}

// GetVisitsByUser splits a user's visits into upcoming, past and canceled.
// Completed and no-show visits count as past, as does anything whose slot
// has already started.
func (s *Service) GetVisitsByUser(ctx context.Context, userID string) (UserVisits, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return UserVisits{}, validation("user_id is required")
	}

	sctx, cancel := s.storeCtx(ctx)
	visits, err := s.visits.ListByUser(sctx, userID)
	cancel()
	if err != nil {
		return UserVisits{}, internal("list user visits", err)
	}
	items, err := s.withSlots(ctx, visits)
	if err != nil {
		return UserVisits{}, err
	}

	now := s.now()
	out := UserVisits{
		Upcoming: []model.VisitWithSlot{},
		Past:     []model.VisitWithSlot{},
		Canceled: []model.VisitWithSlot{},
	}
	for _, item := range items {
		switch {
		case item.Status == model.StatusCanceled:
			out.Canceled = append(out.Canceled, item)
		case item.Status == model.StatusCompleted, item.Status == model.StatusNoShow:
			out.Past = append(out.Past, item)
		case item.SlotStart != nil && !item.SlotStart.After(now):
			out.Past = append(out.Past, item)
		default:
			out.Upcoming = append(out.Upcoming, item)
		}
	}
	sort.SliceStable(out.Upcoming, func(i, j int) bool {
		return slotStart(out.Upcoming[i]).Before(slotStart(out.Upcoming[j]))
	})
	sort.SliceStable(out.Past, func(i, j int) bool {
		return slotStart(out.Past[i]).After(slotStart(out.Past[j]))
	})
	return out, nil
}

func slotStart(v model.VisitWithSlot) time.Time {
	if v.SlotStart == nil {
		return v.CreatedAt
	}
	return *v.SlotStart
}

// AvailableSlots lists the open, not yet started slots of a listing on date
// (YYYY-MM-DD in the listing time zone; empty means today). Stored slots take
// precedence over the generated grid.
func (s *Service) AvailableSlots(ctx context.Context, listingID, date string) (slots []model.Slot, err error) {
	ctx, span := s.startSpan(ctx, "AvailableSlots")
	defer func() { endSpan(span, err) }()

	listingID = strings.TrimSpace(listingID)
	if listingID == "" {
		return nil, validation("listing id is required")
	}
	loc := time.UTC
	if s.cfg.Generator != nil {
		loc = s.cfg.Generator.Location
	}
	now := s.now()

	day := now.In(loc)
	if date = strings.TrimSpace(date); date != "" {
		day, err = time.ParseInLocation(dateLayout, date, loc)
		if err != nil {
			return nil, validation("date must be YYYY-MM-DD")
		}
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	sctx, cancel := s.storeCtx(ctx)
	stored, err := s.slots.ListByListing(sctx, listingID, dayStart.UTC(), dayEnd.UTC())
	cancel()
	if err != nil {
		return nil, internal("list listing slots", err)
	}

	byID := map[string]model.Slot{}
	for _, slot := range stored {
		if slot.Status == model.SlotOpen && !slot.StartTime.Before(now) {
			byID[slot.ID] = slot
		}
	}
	if s.cfg.Generator != nil {
		for _, slot := range s.cfg.Generator.Day(listingID, dayStart, availability.Busy(stored), now) {
			if _, ok := byID[slot.ID]; !ok {
				byID[slot.ID] = slot
			}
		}
	}

	slots = make([]model.Slot, 0, len(byID))
	for _, slot := range byID {
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].StartTime.Equal(slots[j].StartTime) {
			return slots[i].ID < slots[j].ID
		}
		return slots[i].StartTime.Before(slots[j].StartTime)
	})
	return slots, nil
}

// withSlots attaches slot start and end times to visits in one batch read.
func (s *Service) withSlots(ctx context.Context, visits []model.Visit) ([]model.VisitWithSlot, error) {
	out := make([]model.VisitWithSlot, 0, len(visits))
	if len(visits) == 0 {
		return out, nil
	}
	seen := map[string]bool{}
	var ids []string
	for _, v := range visits {
		if !seen[v.SlotID] {
			seen[v.SlotID] = true
			ids = append(ids, v.SlotID)
		}
	}

	sctx, cancel := s.storeCtx(ctx)
	slots, err := s.slots.GetSlots(sctx, ids)
	cancel()
	if err != nil {
		return nil, internal("load visit slots", err)
	}
	for _, v := range visits {
		item := model.VisitWithSlot{Visit: v}
		if slot, ok := slots[v.SlotID]; ok {
			start, end := slot.StartTime, slot.EndTime
			item.SlotStart, item.SlotEnd = &start, &end
		}
		out = append(out, item)
	}
	return out, nil
}
