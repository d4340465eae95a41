package models

import "time"

// WeeklyAvailability is a recurring open-slot declaration owned by a teacher.
type WeeklyAvailability struct {
	ID             string        `db:"id" json:"id"`
	TeacherID      string        `db:"teacher_id" json:"teacher_id"`
	DayOfWeek      DayOfWeek     `db:"day_of_week" json:"day_of_week"`
	StartMinute    int           `db:"start_minute" json:"start_minute"`
	EndMinute      int           `db:"end_minute" json:"end_minute"`
	EffectiveFrom  CalendarDate  `db:"effective_from" json:"effective_from"`
	EffectiveUntil *CalendarDate `db:"effective_until" json:"effective_until,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updated_at"`
}

// ActiveOn reports whether the declaration covers date (weekday and effective range).
func (w WeeklyAvailability) ActiveOn(date CalendarDate) bool {
	if date.Weekday() != w.DayOfWeek.Weekday() || !w.DayOfWeek.Valid() {
		return false
	}
	if date.Before(w.EffectiveFrom) {
		return false
	}
	if w.EffectiveUntil != nil && date.After(*w.EffectiveUntil) {
		return false
	}
	return true
}

// IntervalOn materialises the declaration on date.
func (w WeeklyAvailability) IntervalOn(date CalendarDate) Interval {
	return Interval{Date: date, StartMinute: w.StartMinute, EndMinute: w.EndMinute}
}

// BlockedInterval is a one-off period a teacher is unavailable.
type BlockedInterval struct {
	ID        string `db:"id" json:"id"`
	TeacherID string `db:"teacher_id" json:"teacher_id"`
	Interval
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
