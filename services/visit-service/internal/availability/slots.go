package availability

import (
	"time"

	"github.com/md-rashed-zaman/visitbook/services/visit-service/internal/model"
)

type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps treats both intervals as half-open.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Busy returns the windows of stored slots that cannot be offered: booked or blocked.
func Busy(slots []model.Slot) []Interval {
	var busy []Interval
	for _, s := range slots {
		if s.Status == model.SlotOpen {
			continue
		}
		busy = append(busy, Interval{Start: s.StartTime, End: s.EndTime})
	}
	return busy
}

// AvailableSlots returns slot start times within [windowStart, windowEnd) where a visit
// of length duration would not overlap any busy interval. Starts before now are skipped.
func AvailableSlots(windowStart, windowEnd time.Time, duration, step time.Duration, busy []Interval, now time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}
	if !windowEnd.After(windowStart) || windowStart.Add(duration).After(windowEnd) {
		return nil
	}

	var starts []time.Time
	for t := windowStart; !t.Add(duration).After(windowEnd); t = t.Add(step) {
		if t.Before(now) {
			continue
		}
		candidate := Interval{Start: t, End: t.Add(duration)}
		free := true
		for _, b := range busy {
			if candidate.Overlaps(b) {
				free = false
				break
			}
		}
		if free {
			starts = append(starts, t)
		}
	}
	return starts
}
