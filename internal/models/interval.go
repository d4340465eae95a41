package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

// MinutesPerDay bounds interval minutes.
const MinutesPerDay = 24 * 60

const dateLayout = "2006-01-02"

// CalendarDate is a timezone-free calendar day.
type CalendarDate struct {
	Year  int
	Month time.Month
	Day   int
}

// NewDate normalises the provided components (e.g. day 32 rolls into the next month).
func NewDate(year int, month time.Month, day int) CalendarDate {
	return DateOf(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) CalendarDate {
	y, m, d := t.Date()
	return CalendarDate{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(raw string) (CalendarDate, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(raw))
	if err != nil {
		return CalendarDate{}, fmt.Errorf("parse date %q: %w", raw, err)
	}
	return DateOf(t), nil
}

func (d CalendarDate) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// IsZero reports whether the date is unset.
func (d CalendarDate) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

// Weekday returns the day of week for the date.
func (d CalendarDate) Weekday() time.Weekday {
	return d.midnight().Weekday()
}

// AddDays shifts the date by n days.
func (d CalendarDate) AddDays(n int) CalendarDate {
	return DateOf(d.midnight().AddDate(0, 0, n))
}

// Compare returns -1, 0 or +1.
func (d CalendarDate) Compare(other CalendarDate) int {
	switch {
	case d.Year != other.Year:
		return sign(d.Year - other.Year)
	case d.Month != other.Month:
		return sign(int(d.Month) - int(other.Month))
	default:
		return sign(d.Day - other.Day)
	}
}

// Before reports whether d is strictly earlier than other.
func (d CalendarDate) Before(other CalendarDate) bool { return d.Compare(other) < 0 }

// After reports whether d is strictly later than other.
func (d CalendarDate) After(other CalendarDate) bool { return d.Compare(other) > 0 }

// DaysUntil returns the number of days from d to other.
func (d CalendarDate) DaysUntil(other CalendarDate) int {
	return int(other.midnight().Sub(d.midnight()).Hours() / 24)
}

// At returns the instant minute minutes after midnight of d in loc.
func (d CalendarDate) At(minute int, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, 0, minute, 0, 0, loc)
}

func (d CalendarDate) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dateLayout)
}

// MarshalJSON encodes the date as YYYY-MM-DD.
func (d CalendarDate) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes YYYY-MM-DD.
func (d *CalendarDate) UnmarshalJSON(data []byte) error {
	var raw *string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil || *raw == "" {
		*d = CalendarDate{}
		return nil
	}
	parsed, err := ParseDate(*raw)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer.
func (d CalendarDate) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *CalendarDate) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*d = CalendarDate{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		parsed, err := ParseDate(firstN(v, len(dateLayout)))
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into CalendarDate", src)
	}
}

// DayOfWeek names a recurring weekday.
type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdays = map[DayOfWeek]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// ParseDayOfWeek accepts any casing of the full day name.
func ParseDayOfWeek(raw string) (DayOfWeek, error) {
	day := DayOfWeek(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := weekdays[day]; !ok {
		return "", fmt.Errorf("unknown day of week %q", raw)
	}
	return day, nil
}

// DayOf converts a time.Weekday.
func DayOf(w time.Weekday) DayOfWeek {
	for day, wd := range weekdays {
		if wd == w {
			return day
		}
	}
	return ""
}

// Valid reports whether the day is a known weekday.
func (d DayOfWeek) Valid() bool {
	_, ok := weekdays[d]
	return ok
}

// Weekday converts to time.Weekday. Unknown values map to Sunday; check Valid first.
func (d DayOfWeek) Weekday() time.Weekday {
	return weekdays[d]
}

// Interval is a half-open [StartMinute, EndMinute) range on one calendar date.
type Interval struct {
	Date        CalendarDate `db:"date" json:"date"`
	StartMinute int          `db:"start_minute" json:"start_minute"`
	EndMinute   int          `db:"end_minute" json:"end_minute"`
}

// NewInterval builds a validated interval.
func NewInterval(date CalendarDate, start, end int) (Interval, error) {
	iv := Interval{Date: date, StartMinute: start, EndMinute: end}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

// Validate enforces 0 <= start < end <= 1440 and a set date.
func (i Interval) Validate() error {
	if i.Date.IsZero() {
		return appErrors.WithDetails(appErrors.Clone(appErrors.ErrInvalidInterval, "interval date is required"), i)
	}
	if i.StartMinute < 0 || i.EndMinute > MinutesPerDay || i.StartMinute >= i.EndMinute {
		return appErrors.WithDetails(appErrors.ErrInvalidInterval, i)
	}
	return nil
}

// Overlaps reports whether both intervals share at least one minute.
func (i Interval) Overlaps(other Interval) bool {
	return i.Date == other.Date && i.StartMinute < other.EndMinute && other.StartMinute < i.EndMinute
}

// Contains reports whether inner lies entirely within i.
func (i Interval) Contains(inner Interval) bool {
	return i.Date == inner.Date && i.StartMinute <= inner.StartMinute && inner.EndMinute <= i.EndMinute
}

// DurationMinutes returns the interval length.
func (i Interval) DurationMinutes() int {
	return i.EndMinute - i.StartMinute
}

// Subtract carves inner out of i, returning the 0, 1 or 2 remaining pieces.
func (i Interval) Subtract(inner Interval) ([]Interval, error) {
	if err := i.Validate(); err != nil {
		return nil, err
	}
	if err := inner.Validate(); err != nil {
		return nil, err
	}
	if !i.Overlaps(inner) {
		return []Interval{i}, nil
	}
	var rest []Interval
	if i.StartMinute < inner.StartMinute {
		rest = append(rest, Interval{Date: i.Date, StartMinute: i.StartMinute, EndMinute: inner.StartMinute})
	}
	if inner.EndMinute < i.EndMinute {
		rest = append(rest, Interval{Date: i.Date, StartMinute: inner.EndMinute, EndMinute: i.EndMinute})
	}
	return rest, nil
}

// Start returns the interval start instant in loc.
func (i Interval) Start(loc *time.Location) time.Time {
	return i.Date.At(i.StartMinute, loc)
}

// End returns the interval end instant in loc.
func (i Interval) End(loc *time.Location) time.Time {
	return i.Date.At(i.EndMinute, loc)
}

func (i Interval) String() string {
	return fmt.Sprintf("%s %s-%s", i.Date, FormatClock(i.StartMinute), FormatClock(i.EndMinute))
}

// Overlaps is the free-function form of Interval.Overlaps.
func Overlaps(a, b Interval) bool { return a.Overlaps(b) }

// Contains is the free-function form of Interval.Contains.
func Contains(outer, inner Interval) bool { return outer.Contains(inner) }

// DurationMinutes is the free-function form of Interval.DurationMinutes.
func DurationMinutes(i Interval) int { return i.DurationMinutes() }

// Subtract is the free-function form of Interval.Subtract.
func Subtract(outer, inner Interval) ([]Interval, error) { return outer.Subtract(inner) }

// SortIntervals orders by date then start then end.
func SortIntervals(items []Interval) {
	sort.Slice(items, func(a, b int) bool {
		if c := items[a].Date.Compare(items[b].Date); c != 0 {
			return c < 0
		}
		if items[a].StartMinute != items[b].StartMinute {
			return items[a].StartMinute < items[b].StartMinute
		}
		return items[a].EndMinute < items[b].EndMinute
	})
}

// MergeIntervals sorts and coalesces overlapping intervals. Adjacent intervals stay separate.
func MergeIntervals(items []Interval) []Interval {
	if len(items) == 0 {
		return nil
	}
	sorted := append([]Interval(nil), items...)
	SortIntervals(sorted)
	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if last.Overlaps(iv) {
			if iv.EndMinute > last.EndMinute {
				last.EndMinute = iv.EndMinute
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}

// ParseClock converts "HH:MM" into minutes since midnight. "24:00" is accepted as end of day.
func ParseClock(raw string) (int, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%d:%d", &h, &m); err != nil {
		return 0, fmt.Errorf("parse clock %q: %w", raw, err)
	}
	minutes := h*60 + m
	if h < 0 || m < 0 || m > 59 || minutes > MinutesPerDay {
		return 0, fmt.Errorf("clock %q out of range", raw)
	}
	return minutes, nil
}

// FormatClock renders minutes since midnight as "HH:MM".
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func sign(v int) int {
	switch {
	case v < 0:
		return -1
	case v > 0:
		return 1
	default:
		return 0
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
