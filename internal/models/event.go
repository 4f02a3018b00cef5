package models

import (
	"context"
	"strings"
	"time"

	"checkin/internal/dates"

	"google.golang.org/api/calendar/v3"
)

// EventKind decides the time-of-day treatment of an event.
type EventKind string

const (
	KindCheckin   EventKind = "checkin"
	KindReminder  EventKind = "reminder"
	KindRetention EventKind = "retention"
)

// AllDay reports whether events of this kind are single-date all-day events.
func (k EventKind) AllDay() bool {
	return k == KindRetention
}

// CalendarRoute selects which configured calendar an event is written to.
type CalendarRoute string

const (
	RouteDefault   CalendarRoute = "default"
	RouteReminder  CalendarRoute = "reminder"
	RouteRetention CalendarRoute = "retention"
)

// Source records which entry mode created a remote event.
type Source string

const (
	SourceManual Source = "manual"
	SourceCSV    Source = "csv-import"
)

// KnownSources lists every source tag this system writes.
var KnownSources = []Source{SourceManual, SourceCSV}

// IsKnownSource reports whether s is a source tag written by this system.
func IsKnownSource(s string) bool {
	for _, known := range KnownSources {
		if string(known) == s {
			return true
		}
	}
	return false
}

// Private extended property names persisted on every remote event.
const (
	PropSource        = "source"
	PropEventKey      = "eventKey"
	PropEventKind     = "eventKind"
	PropCalendarRoute = "calendarRoute"
	PropDemoMode      = "demoMode"
	PropAttendeeEmail = "attendeeEmail"
	PropParticipantID = "participantId"
	PropColumnCode    = "columnCode"
	PropBaseDate      = "baseDate"
	PropFollowUpType  = "followUpType"
)

// MetadataKeys lists the private property names in a stable order.
var MetadataKeys = []string{
	PropSource, PropEventKey, PropEventKind, PropCalendarRoute, PropDemoMode,
	PropAttendeeEmail, PropParticipantID, PropColumnCode, PropBaseDate, PropFollowUpType,
}

// LogicalEvent is a planned calendar entry before it is written remotely.
// It is computed per request and never persisted locally.
type LogicalEvent struct {
	Label        string // participant id or manual title
	Title        string // display title
	Description  string
	Date         dates.Date // after weekend shifting
	OriginalDate dates.Date // before weekend shifting
	WasShifted   bool
	Clock        dates.Clock // start time for timed kinds
	Kind         EventKind
	Route        CalendarRoute
	Source       Source
	Demo         bool
	Attendee     string // empty unless the attendee policy is enabled

	// Key inputs. Manual events use BaseDate/FollowUpType/Attendee,
	// CSV events use ParticipantID/KeyDate/ColumnCode.
	BaseDate      dates.Date
	FollowUpType  string
	ParticipantID string
	KeyDate       dates.Date
	ColumnCode    string

	// CalendarID, when set, overrides the routed calendar.
	CalendarID string
}

// Filter narrows a remote event listing.
type Filter struct {
	// Properties are "key=value" private extended property constraints, all of which must match.
	Properties []string
	// TimeMin, when non-zero, excludes events ending before it.
	TimeMin time.Time
	// MaxResults caps the number of events returned; zero means no cap.
	MaxResults int
}

// Matches reports whether ev satisfies f: every property constraint must
// hold and, when TimeMin is set, the event must end after it. Cancelled
// events never match.
func (f Filter) Matches(ev *calendar.Event) bool {
	if ev == nil || ev.Status == "cancelled" {
		return false
	}
	for _, p := range f.Properties {
		key, value, _ := strings.Cut(p, "=")
		if PrivateProp(ev, key) != value {
			return false
		}
	}
	if !f.TimeMin.IsZero() {
		end, ok := EndTime(ev)
		if !ok || !end.After(f.TimeMin) {
			return false
		}
	}
	return true
}

// PropertyFilter formats a private extended property constraint.
func PropertyFilter(key, value string) string {
	return key + "=" + value
}

// Store is the remote calendar service. It is the only durable state.
type Store interface {
	List(ctx context.Context, calendarID string, filter Filter) ([]*calendar.Event, error)
	Insert(ctx context.Context, calendarID string, event *calendar.Event, notify bool) (*calendar.Event, error)
	Delete(ctx context.Context, calendarID, eventID string, notify bool) error
}

// PrivateProp returns a private extended property of a remote event, or "".
func PrivateProp(ev *calendar.Event, key string) string {
	if ev == nil || ev.ExtendedProperties == nil || ev.ExtendedProperties.Private == nil {
		return ""
	}
	return ev.ExtendedProperties.Private[key]
}

// EndTime returns the end instant of ev. All-day end dates are read as UTC midnight.
func EndTime(ev *calendar.Event) (time.Time, bool) {
	return eventTime(ev.End)
}

// StartTime returns the start instant of ev. All-day start dates are read as UTC midnight.
func StartTime(ev *calendar.Event) (time.Time, bool) {
	return eventTime(ev.Start)
}

func eventTime(dt *calendar.EventDateTime) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, err == nil
	}
	if dt.Date != "" {
		t, err := time.Parse("2006-01-02", dt.Date)
		return t, err == nil
	}
	return time.Time{}, false
}

// StartString returns the start of a remote event as the API reports it.
func StartString(ev *calendar.Event) string {
	if ev == nil || ev.Start == nil {
		return ""
	}
	if ev.Start.DateTime != "" {
		return ev.Start.DateTime
	}
	return ev.Start.Date
}
