package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"checkin/internal/memstore"
	"checkin/internal/models"
	"checkin/internal/planner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/calendar/v3"
)

var est = time.FixedZone("EST", -5*60*60)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(store models.Store, cals Calendars) *Engine {
	return NewEngine(testLogger(), store, Options{Calendars: cals, Location: est})
}

func manualEvents(t *testing.T, email string) []models.LogicalEvent {
	t.Helper()
	p, err := planner.New(testLogger(), planner.Options{})
	require.NoError(t, err)
	events, err := p.Manual(planner.ManualRequest{BaseDate: "11/08/2025", Title: "P100", AttendeeEmail: email})
	require.NoError(t, err)
	return events
}

func TestReconcileAllManualScenario(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{})

	summary, err := engine.ReconcileAll(context.Background(), manualEvents(t, "p100@example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Errors)
	require.Len(t, summary.Details, 3)

	first := summary.Details[0]
	assert.Equal(t, models.OutcomeCreated, first.Outcome)
	assert.True(t, first.WasShifted)
	assert.Equal(t, "11/09/2025", first.OriginalDate)
	assert.Equal(t, "11/07/2025", first.Date)
	assert.Equal(t, "11-08-2025_P100_1day_p100@example.com", first.EventKey)
	assert.NotEmpty(t, first.EventID)
	assert.NotEmpty(t, first.HTMLLink)
	assert.True(t, first.HasAttendees)

	assert.Len(t, store.Events("primary"), 3)
	assert.Len(t, store.Notified, 3)
}

func TestReconcileAllIsIdempotent(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{})
	events := manualEvents(t, "p100@example.com")

	_, err := engine.ReconcileAll(context.Background(), events, false)
	require.NoError(t, err)

	summary, err := engine.ReconcileAll(context.Background(), events, false)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 3, summary.Skipped)
	for _, d := range summary.Details {
		assert.Equal(t, "Event already exists", d.Reason)
		assert.NotEmpty(t, d.EventID)
	}
	assert.Equal(t, 3, store.Count())

	// A different attendee is a different key.
	summary, err = engine.ReconcileAll(context.Background(), manualEvents(t, "other@example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)
	assert.Equal(t, 6, store.Count())
}

func TestReconcileDryRun(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{})
	events := manualEvents(t, "p100@example.com")

	summary, err := engine.ReconcileAll(context.Background(), events, true)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.DryRun)
	assert.Equal(t, 0, summary.Created)
	assert.Equal(t, 0, store.Count())

	// Existing events are still reported as skipped.
	_, err = engine.Reconcile(context.Background(), events[0], false)
	require.NoError(t, err)
	summary, err = engine.ReconcileAll(context.Background(), events, true)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 2, summary.DryRun)
}

func TestReconcileInsertFailureDoesNotAbortBatch(t *testing.T) {
	store := memstore.New()
	store.InsertErr = func(calendarID string, ev *calendar.Event) error {
		if ev.Summary == "P100 - 10 day check-in" {
			return errors.New("backend unavailable")
		}
		return nil
	}
	engine := newEngine(store, Calendars{})

	summary, err := engine.ReconcileAll(context.Background(), manualEvents(t, "p100@example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.Errors)

	failed := summary.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "P100 - 10 day check-in", failed[0].Title)
	assert.Contains(t, failed[0].Error, "backend unavailable")
	assert.Equal(t, models.OutcomeCreated, summary.Details[2].Outcome)
}

func TestReconcileLookupFailureTreatedAsAbsent(t *testing.T) {
	store := memstore.New()
	store.ListErr = func(string, models.Filter) error { return errors.New("timeout") }
	engine := newEngine(store, Calendars{})

	summary, err := engine.ReconcileAll(context.Background(), manualEvents(t, "p100@example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Created)
}

func TestReconcileAuthFailureAbortsBatch(t *testing.T) {
	store := memstore.New()
	calls := 0
	store.InsertErr = func(string, *calendar.Event) error {
		calls++
		if calls == 2 {
			return models.ErrAuthRequired
		}
		return nil
	}
	engine := newEngine(store, Calendars{})

	summary, err := engine.ReconcileAll(context.Background(), manualEvents(t, "p100@example.com"), false)
	require.ErrorIs(t, err, models.ErrAuthRequired)
	assert.Equal(t, 1, summary.Created)
	assert.Equal(t, 2, summary.Errors)
	require.Len(t, summary.Details, 3)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, store.Count())

	failed := summary.Failed()
	require.Len(t, failed, 2)
	assert.Contains(t, failed[0].Error, "authorization required")
	assert.Equal(t, "P100 - 10 day check-in", failed[0].Title)
	assert.Equal(t, "not attempted: run aborted", failed[1].Error)
	assert.Equal(t, "P100 - 45 day check-in", failed[1].Title)
	assert.NotEmpty(t, failed[1].EventKey)
}

func TestReconcileRoutesAndBuildsCSVEvents(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{Reminder: "reminders", Retention: "retention"})

	p, err := planner.New(testLogger(), planner.Options{})
	require.NoError(t, err)
	events, _, err := p.Batch([]planner.Row{
		{ParticipantID: "701", ColumnCode: "B2STARTMIN10", RawDate: "11/02/2025", Status: planner.StatusActive},
		{ParticipantID: "701", ColumnCode: "B2STARTDATE", RawDate: "03/01/2026", Status: planner.StatusActive},
	}, planner.BatchOptions{Demo: true})
	require.NoError(t, err)

	summary, err := engine.ReconcileAll(context.Background(), events, false)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Created)
	assert.Equal(t, 1, summary.ReminderEvents)
	assert.Equal(t, 1, summary.RetentionEvents)
	assert.Equal(t, 1, summary.Shifted)

	reminders := store.Events("reminders")
	require.Len(t, reminders, 1)
	r := reminders[0]
	assert.Equal(t, "2025-10-31T09:00:00-05:00", r.Start.DateTime)
	assert.Equal(t, "2025-10-31T09:30:00-05:00", r.End.DateTime)
	assert.Equal(t, "EST", r.Start.TimeZone)
	assert.Equal(t, "701_11-02-2025_B2STARTMIN10", models.PrivateProp(r, models.PropEventKey))
	assert.Equal(t, "csv-import", models.PrivateProp(r, models.PropSource))
	assert.Equal(t, "true", models.PrivateProp(r, models.PropDemoMode))
	assert.Equal(t, "reminder", models.PrivateProp(r, models.PropEventKind))
	assert.Equal(t, "701", models.PrivateProp(r, models.PropParticipantID))
	assert.Empty(t, r.Attendees)

	retention := store.Events("retention")
	require.Len(t, retention, 1)
	ret := retention[0]
	assert.Equal(t, "2026-01-15", ret.Start.Date)
	assert.Equal(t, "2026-01-16", ret.End.Date)
	assert.Empty(t, ret.Start.DateTime)
	assert.Equal(t, "701_03-01-2026_B2STARTDATE", models.PrivateProp(ret, models.PropEventKey))
	assert.Equal(t, "03/01/2026", models.PrivateProp(ret, models.PropBaseDate))
	assert.Equal(t, "retention", models.PrivateProp(ret, models.PropCalendarRoute))
}

func TestReconcileCalendarOverride(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{Default: "team"})
	events := manualEvents(t, "p100@example.com")
	events[0].CalendarID = "elsewhere"

	_, err := engine.ReconcileAll(context.Background(), events, false)
	require.NoError(t, err)
	assert.Len(t, store.Events("elsewhere"), 1)
	assert.Len(t, store.Events("team"), 2)
}

func TestReconcileConcurrentSameKeyCreatesOnce(t *testing.T) {
	store := memstore.New()
	engine := newEngine(store, Calendars{})
	ev := manualEvents(t, "p100@example.com")[1]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := engine.Reconcile(context.Background(), ev, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, store.Count())
}

type failingLocker struct{}

func (failingLocker) Lock(context.Context, string) (func(), error) {
	return nil, errors.New("redis down")
}

func TestReconcileLockFailureIsPerEventError(t *testing.T) {
	store := memstore.New()
	engine := NewEngine(testLogger(), store, Options{Location: est, Locker: failingLocker{}})

	summary, err := engine.ReconcileAll(context.Background(), manualEvents(t, "p100@example.com"), false)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Errors)
	assert.Equal(t, 0, store.Count())
}

func TestCalendarsDistinct(t *testing.T) {
	assert.Equal(t, []string{"primary"}, Calendars{}.WithDefaults().Distinct())
	assert.Equal(t, []string{"a", "b"}, Calendars{Default: "a", Reminder: "b", Retention: "a"}.Distinct())
}
