// Package reconcile materialises logical events against a remote calendar.
// Each event is looked up by its idempotency key and created only if absent.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"checkin/internal/dates"
	"checkin/internal/keys"
	"checkin/internal/models"

	"google.golang.org/api/calendar/v3"
)

// DefaultDuration is the length of timed check-in and reminder events.
const DefaultDuration = 30 * time.Minute

// DefaultCalendarID is used for any route left unconfigured.
const DefaultCalendarID = "primary"

// Calendars maps each route to a remote calendar id.
type Calendars struct {
	Default   string `yaml:"default" json:"default"`
	Reminder  string `yaml:"reminder" json:"reminder"`
	Retention string `yaml:"retention" json:"retention"`
}

// WithDefaults fills empty routes with DefaultCalendarID.
func (c Calendars) WithDefaults() Calendars {
	if c.Default == "" {
		c.Default = DefaultCalendarID
	}
	if c.Reminder == "" {
		c.Reminder = DefaultCalendarID
	}
	if c.Retention == "" {
		c.Retention = DefaultCalendarID
	}
	return c
}

// For returns the calendar id of a route.
func (c Calendars) For(route models.CalendarRoute) string {
	switch route {
	case models.RouteReminder:
		return c.Reminder
	case models.RouteRetention:
		return c.Retention
	default:
		return c.Default
	}
}

// Distinct returns the configured calendar ids without duplicates, in route order.
func (c Calendars) Distinct() []string {
	var ids []string
	seen := make(map[string]bool)
	for _, id := range []string{c.Default, c.Reminder, c.Retention} {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// Options configures an Engine.
type Options struct {
	Calendars Calendars
	Location  *time.Location
	Duration  time.Duration
	// Locker serialises reconciliation per key. Defaults to an in-process KeyedMutex.
	Locker Locker
}

// Engine reconciles logical events against a Store.
type Engine struct {
	logger    *slog.Logger
	store     models.Store
	locker    Locker
	calendars Calendars
	location  *time.Location
	duration  time.Duration
}

// NewEngine creates an Engine.
func NewEngine(logger *slog.Logger, store models.Store, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Duration <= 0 {
		opts.Duration = DefaultDuration
	}
	if opts.Locker == nil {
		opts.Locker = NewKeyedMutex()
	}
	return &Engine{
		logger:    logger,
		store:     store,
		locker:    opts.Locker,
		calendars: opts.Calendars.WithDefaults(),
		location:  opts.Location,
		duration:  opts.Duration,
	}
}

// Calendars returns the route-to-calendar mapping in use.
func (e *Engine) Calendars() Calendars { return e.calendars }

// Key returns the idempotency key of ev.
func Key(ev models.LogicalEvent) string {
	if ev.Source == models.SourceManual {
		return keys.Manual(ev.BaseDate.String(), ev.Label, ev.FollowUpType, ev.Attendee)
	}
	return keys.CSV(ev.ParticipantID, ev.KeyDate.String(), ev.ColumnCode)
}

// CalendarFor returns the calendar id ev is written to.
func (e *Engine) CalendarFor(ev models.LogicalEvent) string {
	if ev.CalendarID != "" {
		return ev.CalendarID
	}
	return e.calendars.For(ev.Route)
}

// Find returns the live remote event carrying key, or nil. Failures other
// than ErrAuthRequired come back as a *models.LookupError.
func (e *Engine) Find(ctx context.Context, calendarID, key string) (*calendar.Event, error) {
	events, err := e.store.List(ctx, calendarID, models.Filter{
		Properties: []string{models.PropertyFilter(models.PropEventKey, key)},
	})
	if err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			return nil, err
		}
		return nil, &models.LookupError{Key: key, CalendarID: calendarID, Err: err}
	}
	for _, ev := range events {
		if ev.Status != "cancelled" {
			return ev, nil
		}
	}
	return nil, nil
}

// Reconcile creates ev unless an event with the same key already exists.
// Remote failures are reported in the result; only ErrAuthRequired is returned.
func (e *Engine) Reconcile(ctx context.Context, ev models.LogicalEvent, dryRun bool) (models.Result, error) {
	result := e.newResult(ev)
	key, calendarID := result.EventKey, result.CalendarID

	unlock, err := e.locker.Lock(ctx, key)
	if err != nil {
		e.logger.Error("Failed to acquire event lock", "key", key, "error", err)
		result.Outcome = models.OutcomeError
		result.Error = fmt.Sprintf("failed to acquire lock: %v", err)
		return result, nil
	}
	defer unlock()

	existing, err := e.Find(ctx, calendarID, key)
	if err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			return result, err
		}
		// Treated as absent: a failed lookup must not block creation.
		e.logger.Warn("Lookup failed, treating event as new.", "key", key, "calendarID", calendarID, "error", err)
	}
	if existing != nil {
		e.logger.Debug("Event already exists, skipping.", "key", key, "id", existing.Id)
		result.Outcome = models.OutcomeSkipped
		result.EventID = existing.Id
		result.HTMLLink = existing.HtmlLink
		result.Reason = "Event already exists"
		return result, nil
	}

	if dryRun {
		e.logger.Info("[DRY RUN] Would create event", "title", ev.Title, "date", result.Date, "calendarID", calendarID)
		result.Outcome = models.OutcomeDryRun
		result.Reason = "Dry run, event not created"
		return result, nil
	}

	created, err := e.store.Insert(ctx, calendarID, e.Build(ev, key), ev.Attendee != "")
	if err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			return result, err
		}
		werr := &models.RemoteWriteError{Op: "create", CalendarID: calendarID, Err: err}
		e.logger.Error("Failed to create event", "title", ev.Title, "key", key, "error", werr)
		result.Outcome = models.OutcomeError
		result.Error = werr.Error()
		return result, nil
	}

	e.logger.Info("Created event.", "title", ev.Title, "date", result.Date, "id", created.Id)
	result.Outcome = models.OutcomeCreated
	result.EventID = created.Id
	result.HTMLLink = created.HtmlLink
	return result, nil
}

// ReconcileAll reconciles events one after another. A run is not cancelled
// part way through by ctx; it stops early only on ErrAuthRequired. The
// returned summary then records the failing event and every event not
// attempted as errors, so the caller can retry exactly that subset.
func (e *Engine) ReconcileAll(ctx context.Context, events []models.LogicalEvent, dryRun bool) (*models.BatchSummary, error) {
	ctx = context.WithoutCancel(ctx)
	summary := &models.BatchSummary{Details: make([]models.Result, 0, len(events))}
	for i, ev := range events {
		result, err := e.Reconcile(ctx, ev, dryRun)
		if err != nil {
			result.Outcome = models.OutcomeError
			result.Error = err.Error()
			summary.Add(result)
			for _, rest := range events[i+1:] {
				skipped := e.newResult(rest)
				skipped.Outcome = models.OutcomeError
				skipped.Error = "not attempted: run aborted"
				summary.Add(skipped)
			}
			e.logger.Error("Reconciliation aborted.", "created", summary.Created, "errors", summary.Errors, "error", err)
			return summary, fmt.Errorf("failed to reconcile %q: %w", ev.Title, err)
		}
		summary.Add(result)
	}
	e.logger.Info("Reconciliation finished.", "created", summary.Created, "skipped", summary.Skipped, "errors", summary.Errors, "dryRun", summary.DryRun)
	return summary, nil
}

func (e *Engine) newResult(ev models.LogicalEvent) models.Result {
	result := models.Result{
		Title:         ev.Title,
		Date:          ev.Date.String(),
		EventKey:      Key(ev),
		Kind:          ev.Kind,
		Route:         ev.Route,
		CalendarID:    e.CalendarFor(ev),
		ParticipantID: ev.ParticipantID,
		WasShifted:    ev.WasShifted,
		HasAttendees:  ev.Attendee != "",
	}
	if ev.WasShifted {
		result.OriginalDate = ev.OriginalDate.String()
	}
	return result
}

// Build returns the remote representation of ev.
func (e *Engine) Build(ev models.LogicalEvent, key string) *calendar.Event {
	out := &calendar.Event{
		Summary:     ev.Title,
		Description: ev.Description,
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: Metadata(ev, key),
		},
		Reminders: &calendar.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
		},
	}

	if ev.Kind.AllDay() {
		out.Start = &calendar.EventDateTime{Date: ev.Date.ISO()}
		out.End = &calendar.EventDateTime{Date: dates.AddDays(ev.Date, 1).ISO()}
	} else {
		start := ev.Date.At(ev.Clock, e.location)
		out.Start = &calendar.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: e.location.String()}
		out.End = &calendar.EventDateTime{DateTime: start.Add(e.duration).Format(time.RFC3339), TimeZone: e.location.String()}
	}

	if ev.Attendee != "" {
		out.Attendees = []*calendar.EventAttendee{{Email: ev.Attendee}}
	}
	return out
}

// Metadata returns the private properties written on the remote event.
func Metadata(ev models.LogicalEvent, key string) map[string]string {
	props := map[string]string{
		models.PropSource:        string(ev.Source),
		models.PropEventKey:      key,
		models.PropEventKind:     string(ev.Kind),
		models.PropCalendarRoute: string(ev.Route),
		models.PropDemoMode:      strconv.FormatBool(ev.Demo),
	}
	set := func(k, v string) {
		if v != "" {
			props[k] = v
		}
	}
	set(models.PropAttendeeEmail, ev.Attendee)
	set(models.PropParticipantID, ev.ParticipantID)
	set(models.PropColumnCode, ev.ColumnCode)
	set(models.PropFollowUpType, ev.FollowUpType)
	if !ev.BaseDate.IsZero() {
		props[models.PropBaseDate] = ev.BaseDate.String()
	}
	return props
}
