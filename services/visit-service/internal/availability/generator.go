package availability

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

const (
	slotPrefix       = "slot_"
	legacySlotPrefix = "mock-slot-"
	legacyLayout     = "2006-01-02-15:04"
)

// Generator produces the bookable grid for a listing: fixed-length slots inside
// daily operating hours on working weekdays, in the listing's time zone.
type Generator struct {
	Location   *time.Location
	OpenHour   int
	CloseHour  int
	SlotLength time.Duration
	Weekdays   map[time.Weekday]bool
}

// NewGenerator returns the default grid: 09:00-20:00, 30 minute slots, Monday to Saturday.
func NewGenerator(loc *time.Location) *Generator {
	if loc == nil {
		loc = time.UTC
	}
	return &Generator{
		Location:   loc,
		OpenHour:   9,
		CloseHour:  20,
		SlotLength: 30 * time.Minute,
		Weekdays: map[time.Weekday]bool{
			time.Monday:    true,
			time.Tuesday:   true,
			time.Wednesday: true,
			time.Thursday:  true,
			time.Friday:    true,
			time.Saturday:  true,
		},
	}
}

// Window returns the operating window for the calendar day of date in the generator's zone.
func (g *Generator) Window(date time.Time) (Interval, bool) {
	d := date.In(g.Location)
	if !g.Weekdays[d.Weekday()] {
		return Interval{}, false
	}
	start := time.Date(d.Year(), d.Month(), d.Day(), g.OpenHour, 0, 0, 0, g.Location)
	end := time.Date(d.Year(), d.Month(), d.Day(), g.CloseHour, 0, 0, 0, g.Location)
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

// Day lists the free grid slots of a listing for date, skipping busy intervals
// and slots that already started.
func (g *Generator) Day(listingID string, date time.Time, busy []Interval, now time.Time) []model.Slot {
	win, ok := g.Window(date)
	if !ok {
		return nil
	}
	starts := AvailableSlots(win.Start, win.End, g.SlotLength, g.SlotLength, busy, now)
	slots := make([]model.Slot, 0, len(starts))
	for _, s := range starts {
		slots = append(slots, g.slot(listingID, s))
	}
	return slots
}

// Resolve materializes a slot from its id when the id encodes a start time on the grid.
// Legacy ids carry no listing, so listingID is used for them.
func (g *Generator) Resolve(listingID, slotID string) (model.Slot, bool) {
	idListing, start, ok := ParseSlotID(slotID, g.Location)
	if !ok {
		return model.Slot{}, false
	}
	if idListing == "" {
		idListing = listingID
	}
	if idListing == "" || !g.onGrid(start) {
		return model.Slot{}, false
	}
	s := g.slot(idListing, start)
	s.ID = slotID
	return s, true
}

func (g *Generator) onGrid(start time.Time) bool {
	win, ok := g.Window(start)
	if !ok {
		return false
	}
	if start.Before(win.Start) || start.Add(g.SlotLength).After(win.End) {
		return false
	}
	return start.Sub(win.Start)%g.SlotLength == 0
}

func (g *Generator) slot(listingID string, start time.Time) model.Slot {
	return model.Slot{
		ID:        FormatSlotID(listingID, start),
		ListingID: listingID,
		StartTime: start.UTC(),
		EndTime:   start.Add(g.SlotLength).UTC(),
		Status:    model.SlotOpen,
		Source:    model.SlotSourceSystem,
	}
}

// FormatSlotID encodes a grid slot as slot_<listing>_<unix millis>.
func FormatSlotID(listingID string, start time.Time) string {
	return fmt.Sprintf("%s%s_%013d", slotPrefix, listingID, start.UnixMilli())
}

// ParseSlotID decodes both slot_<listing>_<millis> and the legacy
// mock-slot-YYYY-MM-DD-HH:MM form, which is read in loc and has no listing.
func ParseSlotID(id string, loc *time.Location) (string, time.Time, bool) {
	switch {
	case strings.HasPrefix(id, slotPrefix):
		rest := strings.TrimPrefix(id, slotPrefix)
		i := strings.LastIndex(rest, "_")
		if i <= 0 || i == len(rest)-1 {
			return "", time.Time{}, false
		}
		ms, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil || ms <= 0 {
			return "", time.Time{}, false
		}
		return rest[:i], time.UnixMilli(ms).UTC(), true
	case strings.HasPrefix(id, legacySlotPrefix):
		if loc == nil {
			loc = time.UTC
		}
		t, err := time.ParseInLocation(legacyLayout, strings.TrimPrefix(id, legacySlotPrefix), loc)
		if err != nil {
			return "", time.Time{}, false
		}
		return "", t.UTC(), true
	default:
		return "", time.Time{}, false
	}
}
