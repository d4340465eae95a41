package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/tutor-booking-api/pkg/errors"
)

var day = NewDate(2025, time.March, 3)

func TestIntervalValidate(t *testing.T) {
	cases := []struct {
		name  string
		iv    Interval
		valid bool
	}{
		{"regular", Interval{Date: day, StartMinute: 540, EndMinute: 600}, true},
		{"whole day", Interval{Date: day, StartMinute: 0, EndMinute: MinutesPerDay}, true},
		{"empty", Interval{Date: day, StartMinute: 600, EndMinute: 600}, false},
		{"reversed", Interval{Date: day, StartMinute: 600, EndMinute: 540}, false},
		{"negative", Interval{Date: day, StartMinute: -1, EndMinute: 60}, false},
		{"past midnight", Interval{Date: day, StartMinute: 1380, EndMinute: 1500}, false},
		{"no date", Interval{StartMinute: 540, EndMinute: 600}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.iv.Validate()
			if tc.valid {
				assert.NoError(t, err)
				return
			}
			assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidInterval.Code))
		})
	}
}

func TestIntervalOverlapsIsHalfOpen(t *testing.T) {
	a := Interval{Date: day, StartMinute: 960, EndMinute: 1020}
	assert.True(t, Overlaps(a, Interval{Date: day, StartMinute: 990, EndMinute: 1050}))
	assert.True(t, Overlaps(a, Interval{Date: day, StartMinute: 900, EndMinute: 1100}))
	assert.False(t, Overlaps(a, Interval{Date: day, StartMinute: 1020, EndMinute: 1080}))
	assert.False(t, Overlaps(a, Interval{Date: day, StartMinute: 900, EndMinute: 960}))
	assert.False(t, Overlaps(a, Interval{Date: day.AddDays(1), StartMinute: 960, EndMinute: 1020}))
}

func TestIntervalContainsAndDuration(t *testing.T) {
	outer := Interval{Date: day, StartMinute: 540, EndMinute: 1020}
	assert.True(t, Contains(outer, Interval{Date: day, StartMinute: 540, EndMinute: 1020}))
	assert.True(t, Contains(outer, Interval{Date: day, StartMinute: 600, EndMinute: 660}))
	assert.False(t, Contains(outer, Interval{Date: day, StartMinute: 1000, EndMinute: 1080}))
	assert.False(t, Contains(outer, Interval{Date: day.AddDays(7), StartMinute: 600, EndMinute: 660}))
	assert.Equal(t, 480, DurationMinutes(outer))
}

func TestIntervalSubtract(t *testing.T) {
	outer := Interval{Date: day, StartMinute: 960, EndMinute: 1200}

	pieces, err := Subtract(outer, Interval{Date: day, StartMinute: 1020, EndMinute: 1080})
	require.NoError(t, err)
	assert.Equal(t, []Interval{
		{Date: day, StartMinute: 960, EndMinute: 1020},
		{Date: day, StartMinute: 1080, EndMinute: 1200},
	}, pieces)

	pieces, err = Subtract(outer, Interval{Date: day, StartMinute: 900, EndMinute: 1020})
	require.NoError(t, err)
	assert.Equal(t, []Interval{{Date: day, StartMinute: 1020, EndMinute: 1200}}, pieces)

	pieces, err = Subtract(outer, outer)
	require.NoError(t, err)
	assert.Empty(t, pieces)

	pieces, err = Subtract(outer, Interval{Date: day, StartMinute: 1200, EndMinute: 1260})
	require.NoError(t, err)
	assert.Equal(t, []Interval{outer}, pieces)

	_, err = Subtract(outer, Interval{Date: day, StartMinute: 1000, EndMinute: 990})
	assert.True(t, appErrors.HasCode(err, appErrors.ErrInvalidInterval.Code))
}

func TestMergeIntervalsKeepsAdjacentSeparate(t *testing.T) {
	merged := MergeIntervals([]Interval{
		{Date: day, StartMinute: 1080, EndMinute: 1200},
		{Date: day, StartMinute: 960, EndMinute: 1020},
		{Date: day, StartMinute: 1000, EndMinute: 1050},
		{Date: day, StartMinute: 1050, EndMinute: 1080},
	})
	assert.Equal(t, []Interval{
		{Date: day, StartMinute: 960, EndMinute: 1050},
		{Date: day, StartMinute: 1050, EndMinute: 1080},
		{Date: day, StartMinute: 1080, EndMinute: 1200},
	}, merged)
	assert.Nil(t, MergeIntervals(nil))
}

func TestParseAndFormatClock(t *testing.T) {
	minutes, err := ParseClock("16:30")
	require.NoError(t, err)
	assert.Equal(t, 990, minutes)

	minutes, err = ParseClock("24:00")
	require.NoError(t, err)
	assert.Equal(t, MinutesPerDay, minutes)

	for _, raw := range []string{"", "abc", "24:01", "10:60", "-1:00"} {
		_, err := ParseClock(raw)
		assert.Error(t, err, raw)
	}
	assert.Equal(t, "09:05", FormatClock(545))
}

func TestCalendarDateJSONAndScan(t *testing.T) {
	payload, err := json.Marshal(struct {
		Date CalendarDate `json:"date"`
	}{Date: day})
	require.NoError(t, err)
	assert.JSONEq(t, `{"date":"2025-03-03"}`, string(payload))

	var decoded struct {
		Date CalendarDate `json:"date"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"date":"2025-03-05"}`), &decoded))
	assert.Equal(t, NewDate(2025, time.March, 5), decoded.Date)
	assert.Error(t, json.Unmarshal([]byte(`{"date":"05/03/2025"}`), &decoded))

	var scanned CalendarDate
	require.NoError(t, scanned.Scan(time.Date(2025, time.March, 3, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, day, scanned)
	require.NoError(t, scanned.Scan([]byte("2025-03-10T00:00:00Z")))
	assert.Equal(t, day.AddDays(7), scanned)
	assert.Error(t, scanned.Scan(42))
}

func TestCalendarDateArithmetic(t *testing.T) {
	assert.Equal(t, time.Monday, day.Weekday())
	assert.Equal(t, NewDate(2025, time.April, 1), NewDate(2025, time.March, 32))
	assert.Equal(t, 14, day.DaysUntil(day.AddDays(14)))
	assert.True(t, day.Before(day.AddDays(1)))
	assert.True(t, day.AddDays(1).After(day))
	assert.Equal(t, time.Date(2025, time.March, 3, 16, 30, 0, 0, time.UTC), day.At(990, nil))
}

func TestParseDayOfWeek(t *testing.T) {
	d, err := ParseDayOfWeek(" wednesday ")
	require.NoError(t, err)
	assert.Equal(t, Wednesday, d)
	assert.Equal(t, time.Wednesday, d.Weekday())
	assert.Equal(t, Sunday, DayOf(time.Sunday))

	_, err = ParseDayOfWeek("WED")
	assert.Error(t, err)
}
