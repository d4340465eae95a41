package models

import "time"

// BookingStatus is the lifecycle state of a booking.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "PENDING"
	BookingStatusConfirmed BookingStatus = "CONFIRMED"
	BookingStatusCancelled BookingStatus = "CANCELLED"
	BookingStatusCompleted BookingStatus = "COMPLETED"
)

// Occupies reports whether a booking in this state holds its interval.
func (s BookingStatus) Occupies() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// Terminal reports whether no further transitions are possible.
func (s BookingStatus) Terminal() bool {
	return s == BookingStatusCancelled || s == BookingStatusCompleted
}

// ClassType distinguishes single sessions from recurring series.
type ClassType string

const (
	ClassTypeOneTime   ClassType = "ONE_TIME"
	ClassTypeRecurring ClassType = "RECURRING"
)

// Booking is a student's claim on a teacher interval.
type Booking struct {
	ID        string  `db:"id" json:"id"`
	SeriesID  *string `db:"series_id" json:"series_id,omitempty"`
	StudentID string  `db:"student_id" json:"student_id"`
	TeacherID string  `db:"teacher_id" json:"teacher_id"`
	Subject   string  `db:"subject" json:"subject"`
	Interval
	Status       BookingStatus `db:"status" json:"status"`
	ClassType    ClassType     `db:"class_type" json:"class_type"`
	CancelReason *string       `db:"cancel_reason" json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time    `db:"cancelled_at" json:"cancelled_at,omitempty"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`

	Occurrences []Booking `db:"-" json:"occurrences,omitempty"`
}

// BookingFilter describes query params for listing bookings.
type BookingFilter struct {
	TeacherID string
	StudentID string
	Status    BookingStatus
	From      *CalendarDate
	To        *CalendarDate
	Page      int
	PageSize  int
	SortOrder string
}

// Conflict reasons reported in SlotConflict.
const (
	ConflictOverlap             = "OVERLAP"
	ConflictOutsideAvailability = "OUTSIDE_AVAILABILITY"
	ConflictBlocked             = "BLOCKED"
)

// SlotConflict is the machine-readable context of a SLOT_UNAVAILABLE error.
type SlotConflict struct {
	TeacherID            string    `json:"teacher_id"`
	Requested            Interval  `json:"requested"`
	Conflicting          *Interval `json:"conflicting,omitempty"`
	ConflictingBookingID string    `json:"conflicting_booking_id,omitempty"`
	Reason               string    `json:"reason"`
}

// TransitionDetails is the machine-readable context of an INVALID_TRANSITION error.
type TransitionDetails struct {
	BookingID string        `json:"booking_id"`
	From      BookingStatus `json:"from"`
	To        BookingStatus `json:"to"`
}

// BookingEventType names a booking lifecycle event.
type BookingEventType string

const (
	BookingEventCreated     BookingEventType = "booking.created"
	BookingEventConfirmed   BookingEventType = "booking.confirmed"
	BookingEventCancelled   BookingEventType = "booking.cancelled"
	BookingEventRejected    BookingEventType = "booking.rejected"
	BookingEventCompleted   BookingEventType = "booking.completed"
	BookingEventRescheduled BookingEventType = "booking.rescheduled"
)

// BookingEvent is emitted after every successful booking transition.
type BookingEvent struct {
	ID               string           `json:"id"`
	Type             BookingEventType `json:"type"`
	BookingID        string           `json:"booking_id"`
	TeacherID        string           `json:"teacher_id"`
	StudentID        string           `json:"student_id"`
	Status           BookingStatus    `json:"status"`
	Interval         Interval         `json:"interval"`
	PreviousInterval *Interval        `json:"previous_interval,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
	// RequestID links the event to the API request that caused it. Empty for sweeper transitions.
	RequestID string `json:"request_id,omitempty"`
}
