// Package cleanup deletes events previously written by this system.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"checkin/internal/keys"
	"checkin/internal/models"
	"checkin/internal/planner"
	"checkin/internal/reconcile"

	"google.golang.org/api/calendar/v3"
)

// DefaultRecentHours is the delete-recent window used when none is given.
const DefaultRecentHours = 24

// MatchCriteria identifies the events of one manual request.
type MatchCriteria struct {
	BaseDate      string `json:"baseDate"`
	Title         string `json:"title"`
	AttendeeEmail string `json:"attendeeEmail"`
	CalendarID    string `json:"calendarId"`
}

// Cleaner runs best-effort deletions: one failed delete is recorded and the
// sweep moves on.
type Cleaner struct {
	logger    *slog.Logger
	store     models.Store
	planner   *planner.Planner
	calendars reconcile.Calendars
	now       func() time.Time
}

// New creates a Cleaner sweeping the distinct calendars of cals.
func New(logger *slog.Logger, store models.Store, p *planner.Planner, cals reconcile.Calendars) *Cleaner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Cleaner{
		logger:    logger,
		store:     store,
		planner:   p,
		calendars: cals.WithDefaults(),
		now:       time.Now,
	}
}

// DeleteByMatch recomputes the key of every manual offset and deletes the
// events found. Missing events are reported as not-found.
func (c *Cleaner) DeleteByMatch(ctx context.Context, criteria MatchCriteria) (*models.MatchDeleteSummary, error) {
	base, err := c.planner.ValidateDate("base date", criteria.BaseDate)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(criteria.Title)
	if title == "" {
		return nil, &models.ValidationError{Field: "title", Reason: "title is required"}
	}
	email := strings.TrimSpace(criteria.AttendeeEmail)
	if err := planner.ValidateEmail("attendee email", email); err != nil {
		return nil, err
	}

	calendarIDs := c.calendars.Distinct()
	if criteria.CalendarID != "" {
		calendarIDs = []string{criteria.CalendarID}
	}

	summary := &models.MatchDeleteSummary{}
	for _, off := range c.planner.Offsets() {
		key := keys.Manual(base.String(), title, off.Label, email)
		found := false
		for _, calID := range calendarIDs {
			events, err := c.store.List(ctx, calID, models.Filter{
				Properties: []string{models.PropertyFilter(models.PropEventKey, key)},
			})
			if err != nil {
				if errors.Is(err, models.ErrAuthRequired) {
					return summary, err
				}
				c.logger.Error("Failed to look up event for deletion", "key", key, "calendarID", calID, "error", err)
				summary.Errors++
				summary.Details = append(summary.Details, models.DeleteDetail{
					Outcome: models.DeleteError, FollowUpType: off.Label, EventKey: key, Error: err.Error(),
				})
				found = true
				continue
			}
			for _, ev := range events {
				found = true
				detail := models.DeleteDetail{FollowUpType: off.Label, EventKey: key, EventID: ev.Id, Title: ev.Summary}
				if err := c.delete(ctx, calID, ev); err != nil {
					if errors.Is(err, models.ErrAuthRequired) {
						return summary, err
					}
					detail.Outcome = models.DeleteError
					detail.Error = err.Error()
					summary.Errors++
				} else {
					detail.Outcome = models.DeleteDeleted
					summary.Deleted++
				}
				summary.Details = append(summary.Details, detail)
			}
		}
		if !found {
			summary.NotFound++
			summary.Details = append(summary.Details, models.DeleteDetail{
				Outcome: models.DeleteNotFound, FollowUpType: off.Label, EventKey: key,
			})
		}
	}
	c.logger.Info("Delete by match finished.", "deleted", summary.Deleted, "notFound", summary.NotFound, "errors", summary.Errors)
	return summary, nil
}

// DeleteAllDemo deletes every event tagged with a known source whose demo
// flag is set. A failed listing aborts the sweep.
func (c *Cleaner) DeleteAllDemo(ctx context.Context) (*models.DemoSweepSummary, error) {
	summary := &models.DemoSweepSummary{ErrorDetails: []models.SweepError{}}
	for _, calID := range c.calendars.Distinct() {
		for _, source := range models.KnownSources {
			events, err := c.store.List(ctx, calID, models.Filter{
				Properties: []string{models.PropertyFilter(models.PropSource, string(source))},
			})
			if err != nil {
				return summary, fmt.Errorf("failed to list demo events in %s: %w", calID, err)
			}
			var demo []*calendar.Event
			for _, ev := range events {
				if models.PrivateProp(ev, models.PropDemoMode) == "true" {
					demo = append(demo, ev)
				}
			}
			c.logger.Info("Found demo events to delete", "calendarID", calID, "source", source, "count", len(demo))

			for _, ev := range demo {
				if err := c.delete(ctx, calID, ev); err != nil {
					if errors.Is(err, models.ErrAuthRequired) {
						return summary, err
					}
					summary.Errors++
					summary.ErrorDetails = append(summary.ErrorDetails, models.SweepError{
						EventID: ev.Id, Summary: ev.Summary, CalendarID: calID, Error: err.Error(),
					})
					continue
				}
				summary.Deleted++
			}
		}
	}
	return summary, nil
}

// DeleteRecent deletes events with a known source that start at or after
// now minus hours. Non-positive hours mean DefaultRecentHours.
func (c *Cleaner) DeleteRecent(ctx context.Context, hours int) (*models.RecentSweepSummary, error) {
	if hours <= 0 {
		hours = DefaultRecentHours
	}
	since := c.now().Add(-time.Duration(hours) * time.Hour)
	summary := &models.RecentSweepSummary{EventsFound: []models.EventSummary{}, ErrorDetails: []models.SweepError{}}

	for _, calID := range c.calendars.Distinct() {
		events, err := c.store.List(ctx, calID, models.Filter{TimeMin: since})
		if err != nil {
			return summary, fmt.Errorf("failed to list recent events in %s: %w", calID, err)
		}
		for _, ev := range events {
			source := models.PrivateProp(ev, models.PropSource)
			if !models.IsKnownSource(source) {
				continue
			}
			start, ok := models.StartTime(ev)
			if !ok || start.Before(since) {
				continue
			}
			summary.EventsFound = append(summary.EventsFound, models.EventSummary{
				EventID: ev.Id, Summary: ev.Summary, Start: models.StartString(ev), Source: source, CalendarID: calID,
			})
			if err := c.delete(ctx, calID, ev); err != nil {
				if errors.Is(err, models.ErrAuthRequired) {
					return summary, err
				}
				summary.Errors++
				summary.ErrorDetails = append(summary.ErrorDetails, models.SweepError{
					EventID: ev.Id, Summary: ev.Summary, CalendarID: calID, Error: err.Error(),
				})
				continue
			}
			summary.Deleted++
		}
	}
	c.logger.Info("Delete recent finished.", "hours", hours, "deleted", summary.Deleted, "errors", summary.Errors)
	return summary, nil
}

// List returns the tagged events of every configured calendar.
func (c *Cleaner) List(ctx context.Context, demoOnly bool) ([]models.EventSummary, error) {
	var out []models.EventSummary
	for _, calID := range c.calendars.Distinct() {
		for _, source := range models.KnownSources {
			props := []string{models.PropertyFilter(models.PropSource, string(source))}
			if demoOnly {
				props = append(props, models.PropertyFilter(models.PropDemoMode, "true"))
			}
			events, err := c.store.List(ctx, calID, models.Filter{Properties: props})
			if err != nil {
				return nil, fmt.Errorf("failed to list events in %s: %w", calID, err)
			}
			for _, ev := range events {
				out = append(out, models.EventSummary{
					EventID: ev.Id, Summary: ev.Summary, Start: models.StartString(ev), Source: string(source), CalendarID: calID,
				})
			}
		}
	}
	return out, nil
}

func (c *Cleaner) delete(ctx context.Context, calendarID string, ev *calendar.Event) error {
	if err := c.store.Delete(ctx, calendarID, ev.Id, true); err != nil {
		if errors.Is(err, models.ErrAuthRequired) {
			return err
		}
		werr := &models.RemoteWriteError{Op: "delete", CalendarID: calendarID, EventID: ev.Id, Err: err}
		c.logger.Error("Failed to delete event", "title", ev.Summary, "error", werr)
		return werr
	}
	c.logger.Debug("Deleted event.", "title", ev.Summary, "id", ev.Id, "calendarID", calendarID)
	return nil
}
