// Package availability expands declared teacher availability into concrete
// intervals and keeps the per-teacher ledger of claimed time.
package availability

import (
	"iter"

	"github.com/noah-isme/tutor-booking-api/internal/models"
)

// Expand yields one interval per occurrence of entry's weekday inside
// [max(from, EffectiveFrom), min(to, EffectiveUntil)]. An open-ended entry is
// clipped to the query window. The sequence is lazy and can be ranged over
// any number of times.
func Expand(entry models.WeeklyAvailability, from, to models.CalendarDate) iter.Seq[models.Interval] {
	return func(yield func(models.Interval) bool) {
		if !entry.DayOfWeek.Valid() || entry.StartMinute < 0 || entry.StartMinute >= entry.EndMinute || entry.EndMinute > models.MinutesPerDay {
			return
		}
		start := from
		if entry.EffectiveFrom.After(start) {
			start = entry.EffectiveFrom
		}
		end := to
		if entry.EffectiveUntil != nil && entry.EffectiveUntil.Before(end) {
			end = *entry.EffectiveUntil
		}
		if start.After(end) {
			return
		}

		offset := (int(entry.DayOfWeek.Weekday()) - int(start.Weekday()) + 7) % 7
		for day := start.AddDays(offset); !day.After(end); day = day.AddDays(7) {
			if !yield(entry.IntervalOn(day)) {
				return
			}
		}
	}
}

// ExpandAll expands every entry over the window and returns the merged, sorted result.
func ExpandAll(entries []models.WeeklyAvailability, from, to models.CalendarDate) []models.Interval {
	var out []models.Interval
	for _, entry := range entries {
		for iv := range Expand(entry, from, to) {
			out = append(out, iv)
		}
	}
	return models.MergeIntervals(out)
}

// Occurrences expands a recurring class anchored at anchor into concrete
// sessions: for each of weeks consecutive weeks starting with the anchor's
// week, one session per requested day on or after the anchor date. The anchor
// itself is always the first occurrence.
func Occurrences(anchor models.Interval, days []models.DayOfWeek, weeks int) []models.Interval {
	if weeks <= 0 {
		weeks = 1
	}
	wanted := make(map[models.DayOfWeek]struct{}, len(days)+1)
	wanted[models.DayOf(anchor.Date.Weekday())] = struct{}{}
	for _, d := range days {
		if d.Valid() {
			wanted[d] = struct{}{}
		}
	}

	last := anchor.Date.AddDays(weeks*7 - 1)
	var out []models.Interval
	for day := anchor.Date; !day.After(last); day = day.AddDays(1) {
		if _, ok := wanted[models.DayOf(day.Weekday())]; !ok {
			continue
		}
		out = append(out, models.Interval{Date: day, StartMinute: anchor.StartMinute, EndMinute: anchor.EndMinute})
	}
	return out
}
