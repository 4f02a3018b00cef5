// Package planner expands manual requests and CSV rows into logical events.
package planner

import (
	"fmt"
	"log/slog"
	"strings"

	"checkin/internal/dates"
	"checkin/internal/models"
)

// Offset is a named follow-up interval from a manual base date.
type Offset struct {
	Label string
	Days  int
}

// DefaultOffsets are the fixed manual check-in intervals.
var DefaultOffsets = []Offset{
	{Label: "1 day", Days: 1},
	{Label: "10 day", Days: 10},
	{Label: "45 day", Days: 45},
}

// StatusActive is the only participant status that is planned.
const StatusActive = "Active"

// Row is one date cell of a CSV export.
type Row struct {
	ParticipantID string
	ColumnCode    string
	RawDate       string
	Status        string
}

// ManualRequest is a single manual check-in request.
type ManualRequest struct {
	BaseDate      string `json:"baseDate"`
	Title         string `json:"title"`
	Time          string `json:"time"`
	AttendeeEmail string `json:"attendeeEmail"`
	Demo          bool   `json:"demoMode"`
	DryRun        bool   `json:"dryRun"`
	CalendarID    string `json:"calendarId"`
}

// BatchOptions controls CSV planning.
type BatchOptions struct {
	Time             string
	Demo             bool
	DryRun           bool
	AttendeesEnabled bool
	AttendeeEmail    string
}

// InvalidRowError reports a row whose date could not be parsed. The row is
// skipped; the rest of the batch is still planned.
type InvalidRowError struct {
	Row Row
	Err error
}

func (e *InvalidRowError) Error() string {
	return fmt.Sprintf("participant %s column %s: %v", e.Row.ParticipantID, e.Row.ColumnCode, e.Err)
}

func (e *InvalidRowError) Unwrap() error { return e.Err }

// Planner turns requests into logical events. It holds no per-run state.
type Planner struct {
	logger       *slog.Logger
	schema       Schema
	offsets      []Offset
	defaultClock dates.Clock
	minYear      int
	maxYear      int
}

// DefaultEventClock is 09:00.
var DefaultEventClock = dates.Clock{Hour: 9}

// Options configures a Planner.
type Options struct {
	Schema       Schema
	Offsets      []Offset
	// DefaultClock is the time of timed events when a request gives none.
	// Nil means DefaultEventClock.
	DefaultClock *dates.Clock
	MinYear      int
	MaxYear      int
}

// New creates a Planner. Zero-valued options fall back to the defaults.
func New(logger *slog.Logger, opts Options) (*Planner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(opts.Schema.Columns) == 0 {
		opts.Schema = DefaultSchema()
	}
	if opts.Schema.RetentionDays == 0 {
		opts.Schema.RetentionDays = DefaultRetentionDays
	}
	if err := opts.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("invalid column schema: %w", err)
	}
	if len(opts.Offsets) == 0 {
		opts.Offsets = DefaultOffsets
	}
	if opts.MinYear == 0 {
		opts.MinYear = DefaultMinYear
	}
	if opts.MaxYear == 0 {
		opts.MaxYear = DefaultMaxYear
	}
	clock := DefaultEventClock
	if opts.DefaultClock != nil {
		clock = *opts.DefaultClock
	}
	return &Planner{
		logger:       logger,
		schema:       opts.Schema,
		offsets:      opts.Offsets,
		defaultClock: clock,
		minYear:      opts.MinYear,
		maxYear:      opts.MaxYear,
	}, nil
}

// Schema returns the column schema in use.
func (p *Planner) Schema() Schema { return p.schema }

// Offsets returns the manual follow-up offsets.
func (p *Planner) Offsets() []Offset { return p.offsets }

// ValidateManual checks every field of a manual request.
func (p *Planner) ValidateManual(req ManualRequest) (dates.Date, dates.Clock, error) {
	base, err := p.ValidateDate("base date", req.BaseDate)
	if err != nil {
		return dates.Date{}, dates.Clock{}, err
	}
	if strings.TrimSpace(req.Title) == "" {
		return dates.Date{}, dates.Clock{}, &models.ValidationError{Field: "title", Reason: "title is required"}
	}
	clock, err := p.ValidateClock(req.Time)
	if err != nil {
		return dates.Date{}, dates.Clock{}, err
	}
	if err := ValidateEmail("attendee email", strings.TrimSpace(req.AttendeeEmail)); err != nil {
		return dates.Date{}, dates.Clock{}, err
	}
	return base, clock, nil
}

// Manual expands a manual request into one check-in per offset.
func (p *Planner) Manual(req ManualRequest) ([]models.LogicalEvent, error) {
	base, clock, err := p.ValidateManual(req)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	email := strings.TrimSpace(req.AttendeeEmail)

	events := make([]models.LogicalEvent, 0, len(p.offsets))
	for _, off := range p.offsets {
		shift := dates.ShiftWeekendToFriday(dates.AddDays(base, off.Days))
		events = append(events, models.LogicalEvent{
			Label:        title,
			Title:        fmt.Sprintf("%s - %s check-in", title, off.Label),
			Description:  fmt.Sprintf("Automated check-in event created for %s.\nBase date: %s\nFollow-up type: %s", title, base, off.Label),
			Date:         shift.Adjusted,
			OriginalDate: shift.Original,
			WasShifted:   shift.WasShifted,
			Clock:        clock,
			Kind:         models.KindCheckin,
			Route:        models.RouteDefault,
			Source:       models.SourceManual,
			Demo:         req.Demo,
			Attendee:     email,
			BaseDate:     base,
			FollowUpType: off.Label,
			CalendarID:   strings.TrimSpace(req.CalendarID),
		})
	}
	return events, nil
}

// Batch plans CSV rows. Reminder columns are emitted in row order, followed by
// the retention events derived from seed columns. Rows that are not Active or
// whose column is unknown or ignored produce nothing; rows with unparseable
// dates are returned as InvalidRowErrors.
func (p *Planner) Batch(rows []Row, opts BatchOptions) ([]models.LogicalEvent, []*InvalidRowError, error) {
	clock, err := p.ValidateClock(opts.Time)
	if err != nil {
		return nil, nil, err
	}
	attendee := ""
	if opts.AttendeesEnabled {
		attendee = strings.TrimSpace(opts.AttendeeEmail)
		if attendee != "" {
			if err := ValidateEmail("attendee email", attendee); err != nil {
				return nil, nil, err
			}
		}
	}

	var (
		events    []models.LogicalEvent
		retention []models.LogicalEvent
		invalid   []*InvalidRowError
	)
	for _, row := range rows {
		if row.Status != StatusActive {
			continue
		}
		col, ok := p.schema.Lookup(row.ColumnCode)
		if !ok || col.Role == RoleIgnore {
			continue
		}
		raw := strings.TrimSpace(row.RawDate)
		if raw == "" {
			continue
		}
		d, err := p.ValidateDate("date", raw)
		if err != nil {
			p.logger.Warn("Skipping row with invalid date.", "participantId", row.ParticipantID, "column", row.ColumnCode, "date", raw, "error", err)
			invalid = append(invalid, &InvalidRowError{Row: row, Err: err})
			continue
		}

		switch col.Role {
		case RoleReminder:
			events = append(events, p.csvEvent(row, col, d, d, models.KindReminder, models.RouteReminder, clock, opts.Demo, attendee))
		case RoleRetentionSeed:
			ev := p.csvEvent(row, col, dates.DaysBefore(d, p.schema.RetentionDays), d, models.KindRetention, models.RouteRetention, clock, opts.Demo, attendee)
			ev.BaseDate = d
			ev.Description += fmt.Sprintf("\nBase date: %s", d)
			retention = append(retention, ev)
		}
	}
	return append(events, retention...), invalid, nil
}

func (p *Planner) csvEvent(row Row, col Column, date, keyBase dates.Date, kind models.EventKind, route models.CalendarRoute, clock dates.Clock, demo bool, attendee string) models.LogicalEvent {
	shift := dates.ShiftWeekendToFriday(date)
	keyDate := date
	if kind == models.KindRetention {
		keyDate = keyBase
	}
	return models.LogicalEvent{
		Label:         row.ParticipantID,
		Title:         fmt.Sprintf("%s - %s", row.ParticipantID, col.Title),
		Description:   fmt.Sprintf("Participant ID: %s\nColumn: %s", row.ParticipantID, col.Code),
		Date:          shift.Adjusted,
		OriginalDate:  shift.Original,
		WasShifted:    shift.WasShifted,
		Clock:         clock,
		Kind:          kind,
		Route:         route,
		Source:        models.SourceCSV,
		Demo:          demo,
		Attendee:      attendee,
		ParticipantID: row.ParticipantID,
		KeyDate:       keyDate,
		ColumnCode:    col.Code,
	}
}

// Summary counts planned events for a preview.
type Summary struct {
	TotalEvents       int            `json:"totalEvents"`
	TotalParticipants int            `json:"totalParticipants"`
	EventsByType      map[string]int `json:"eventsByType"`
	WeekendShifts     int            `json:"weekendShifts"`
}

// Summarize counts events per participant and per column title.
func Summarize(events []models.LogicalEvent) Summary {
	s := Summary{EventsByType: make(map[string]int)}
	participants := make(map[string]bool)
	for _, ev := range events {
		participants[ev.Label] = true
		title := ev.Title
		if ev.ParticipantID != "" {
			title = strings.TrimPrefix(title, ev.ParticipantID+" - ")
		}
		s.EventsByType[title]++
		if ev.WasShifted {
			s.WeekendShifts++
		}
	}
	s.TotalEvents = len(events)
	s.TotalParticipants = len(participants)
	return s
}
