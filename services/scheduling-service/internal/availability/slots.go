package availability

import (
	"time"

	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
)

// Carve returns the duration-sized candidates of window that do not intersect busy.
// Candidates start exactly at the window opening and advance by step; a candidate must end
// at or before the window close. Candidates starting before notBefore are skipped; the zero
// time keeps them all.
func Carve(window model.Interval, duration, step time.Duration, busy []model.Interval, notBefore time.Time) []model.Interval {
	if duration <= 0 || step <= 0 || !window.Valid() {
		return nil
	}
	if window.Start.Add(duration).After(window.End) {
		return nil
	}

	var slots []model.Interval
	for t := window.Start; !t.Add(duration).After(window.End); t = t.Add(step) {
		if t.Before(notBefore) {
			continue
		}
		candidate := model.Interval{Start: t, End: t.Add(duration)}
		if !overlapsAny(candidate, busy) {
			slots = append(slots, candidate)
		}
	}
	return slots
}

func overlapsAny(iv model.Interval, busy []model.Interval) bool {
	for _, b := range busy {
		if iv.Overlaps(b) {
			return true
		}
	}
	return false
}

// TotalMinutes sums the length of slots.
func TotalMinutes(slots []model.Interval) int {
	total := 0
	for _, s := range slots {
		total += s.Minutes()
	}
	return total
}
