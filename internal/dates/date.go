// Package dates implements the calendar-date arithmetic used when planning
// check-in events. Dates are plain (year, month, day) values with no zone;
// the zone is only applied when a date is turned into a timestamp.
package dates

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ErrMalformed is returned when a string is not a MM/DD/YYYY date or HH:MM clock.
var ErrMalformed = errors.New("malformed date")

var (
	datePattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	clockPattern = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
)

// Date is a calendar date in the proleptic Gregorian calendar.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// New returns the date for the given components. Out-of-range components are
// normalised the way time.Date does.
func New(year int, month time.Month, day int) Date {
	return FromTime(time.Date(year, month, day, 0, 0, 0, 0, time.UTC))
}

// FromTime returns the calendar date of t in t's own location.
func FromTime(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// Parse reads a MM/DD/YYYY string with 1-2 digit month and day.
// Components that do not name a real day (02/30/2025) are rejected rather
// than rolled over into the next month.
func Parse(s string) (Date, error) {
	m := datePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Date{}, fmt.Errorf("%w: %q is not MM/DD/YYYY", ErrMalformed, s)
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])

	d := New(year, time.Month(month), day)
	if d.Year != year || int(d.Month) != month || d.Day != day {
		return Date{}, fmt.Errorf("%w: %q is not a calendar day", ErrMalformed, s)
	}
	return d, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Date {
	d, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return d
}

// String formats the date as zero-padded MM/DD/YYYY.
func (d Date) String() string {
	return fmt.Sprintf("%02d/%02d/%04d", int(d.Month), d.Day, d.Year)
}

// ISO formats the date as YYYY-MM-DD, the all-day form the calendar API expects.
func (d Date) ISO() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero Date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Weekday returns the day of the week d falls on.
func (d Date) Weekday() time.Weekday {
	return d.midnight(time.UTC).Weekday()
}

// At returns the instant at clock c on date d in loc.
func (d Date) At(c Clock, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, loc)
}

func (d Date) midnight(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, loc)
}

// AddDays returns d moved n days forward (or backward for negative n),
// crossing month and year boundaries as needed.
func AddDays(d Date, n int) Date {
	return New(d.Year, d.Month, d.Day+n)
}

// DaysBefore returns the date n days before d.
func DaysBefore(d Date, n int) Date {
	return AddDays(d, -n)
}

// IsWeekend reports whether d is a Saturday or a Sunday.
func IsWeekend(d Date) bool {
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// Shift is the outcome of ShiftWeekendToFriday.
type Shift struct {
	Adjusted   Date
	WasShifted bool
	Original   Date
}

// ShiftWeekendToFriday moves a Saturday back one day and a Sunday back two
// days so the result lands on the preceding Friday. Weekdays pass through.
func ShiftWeekendToFriday(d Date) Shift {
	s := Shift{Adjusted: d, Original: d}
	switch d.Weekday() {
	case time.Saturday:
		s.Adjusted = AddDays(d, -1)
		s.WasShifted = true
	case time.Sunday:
		s.Adjusted = AddDays(d, -2)
		s.WasShifted = true
	}
	return s
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock reads an HH:MM string in the range 00:00-23:59.
func ParseClock(s string) (Clock, error) {
	m := clockPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Clock{}, fmt.Errorf("%w: %q is not HH:MM", ErrMalformed, s)
	}
	h, _ := strconv.Atoi(m[1])
	min, _ := strconv.Atoi(m[2])
	if h > 23 || min > 59 {
		return Clock{}, fmt.Errorf("%w: %q is outside 00:00-23:59", ErrMalformed, s)
	}
	return Clock{Hour: h, Minute: min}, nil
}

// String formats the clock as HH:MM.
func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}
