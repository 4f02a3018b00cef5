// Package service is the single entry point used by the CLI and the HTTP
// adapter: it plans requests, reconciles them and runs cleanups.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"checkin/internal/cleanup"
	"checkin/internal/csvimport"
	"checkin/internal/memstore"
	"checkin/internal/models"
	"checkin/internal/planner"
	"checkin/internal/reconcile"
)

// Options configures a Service.
type Options struct {
	Planner planner.Options
	Engine  reconcile.Options

	// AttendeesEnabled and AttendeeEmail are the attendee policy for CSV imports.
	AttendeesEnabled bool
	AttendeeEmail    string

	// MarkDemo sets the demo flag on every created event.
	MarkDemo bool
	// DemoMode reports that store is the in-memory demo store.
	DemoMode bool
	// Offline means store has no credentials. Dry runs then plan against an
	// empty store instead of looking events up.
	Offline bool
}

// Service wires the planner, engine and cleaner around one store.
type Service struct {
	logger  *slog.Logger
	planner *planner.Planner
	engine  *reconcile.Engine
	offline *reconcile.Engine
	cleaner *cleanup.Cleaner
	opts    Options
}

// New creates a Service over store.
func New(logger *slog.Logger, store models.Store, opts Options) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	p, err := planner.New(logger, opts.Planner)
	if err != nil {
		return nil, fmt.Errorf("failed to create planner: %w", err)
	}
	engine := reconcile.NewEngine(logger, store, opts.Engine)

	s := &Service{
		logger:  logger,
		planner: p,
		engine:  engine,
		cleaner: cleanup.New(logger, store, p, engine.Calendars()),
		opts:    opts,
	}
	if opts.Offline {
		s.offline = reconcile.NewEngine(logger, memstore.New(), opts.Engine)
	}
	return s, nil
}

// DemoMode reports whether the service runs against the in-memory demo store.
func (s *Service) DemoMode() bool { return s.opts.DemoMode }

// Calendars returns the route-to-calendar mapping.
func (s *Service) Calendars() reconcile.Calendars { return s.engine.Calendars() }

// Planner returns the planner in use.
func (s *Service) Planner() *planner.Planner { return s.planner }

func (s *Service) engineFor(dryRun bool) *reconcile.Engine {
	if dryRun && s.offline != nil {
		s.logger.Info("No calendar credentials, dry run skips lookups.")
		return s.offline
	}
	return s.engine
}

// PlanAndReconcile plans a manual request and creates its missing check-ins.
// Validation errors are returned before any remote call.
func (s *Service) PlanAndReconcile(ctx context.Context, req planner.ManualRequest) (*models.BatchSummary, error) {
	req.Demo = req.Demo || s.opts.MarkDemo
	events, err := s.planner.Manual(req)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Planned manual check-ins", "title", req.Title, "baseDate", req.BaseDate, "count", len(events), "dryRun", req.DryRun)
	return s.engineFor(req.DryRun).ReconcileAll(ctx, events, req.DryRun)
}

// ImportOptions controls a CSV import.
type ImportOptions struct {
	Time   string `json:"time"`
	Demo   bool   `json:"demoMode"`
	DryRun bool   `json:"dryRun"`
}

func (s *Service) batchOptions(opts ImportOptions) planner.BatchOptions {
	return planner.BatchOptions{
		Time:             opts.Time,
		Demo:             opts.Demo || s.opts.MarkDemo,
		DryRun:           opts.DryRun,
		AttendeesEnabled: s.opts.AttendeesEnabled,
		AttendeeEmail:    s.opts.AttendeeEmail,
	}
}

// ParseCSV reads an export into rows for the configured schema.
func (s *Service) ParseCSV(r io.Reader) ([]planner.Row, error) {
	return csvimport.Parse(r, s.planner.Schema().Codes())
}

// PlanAndReconcileBatch plans CSV rows and creates the missing events.
// Rows with unparseable dates are reported in InvalidRows.
func (s *Service) PlanAndReconcileBatch(ctx context.Context, rows []planner.Row, opts ImportOptions) (*models.BatchSummary, error) {
	events, invalid, err := s.planner.Batch(rows, s.batchOptions(opts))
	if err != nil {
		return nil, err
	}
	s.logger.Info("Planned CSV events", "rows", len(rows), "events", len(events), "invalid", len(invalid), "dryRun", opts.DryRun)

	summary, err := s.engineFor(opts.DryRun).ReconcileAll(ctx, events, opts.DryRun)
	if summary != nil {
		summary.InvalidRows = invalidRows(invalid)
	}
	return summary, err
}

// PlannedEvent is the preview view of a logical event.
type PlannedEvent struct {
	ParticipantID string `json:"participantId,omitempty"`
	Title         string `json:"title"`
	Date          string `json:"date"`
	OriginalDate  string `json:"originalDate"`
	WasShifted    bool   `json:"wasShifted"`
	Kind          string `json:"eventKind"`
	Route         string `json:"calendarType"`
	CalendarID    string `json:"calendarId"`
	EventKey      string `json:"eventKey"`
	Column        string `json:"column,omitempty"`
}

// Preview is a CSV plan without any remote call.
type Preview struct {
	Summary     planner.Summary     `json:"summary"`
	Events      []PlannedEvent      `json:"events"`
	InvalidRows []models.InvalidRow `json:"invalidRows,omitempty"`
}

// Preview plans rows and reports what an import would create.
func (s *Service) Preview(rows []planner.Row, opts ImportOptions) (*Preview, error) {
	events, invalid, err := s.planner.Batch(rows, s.batchOptions(opts))
	if err != nil {
		return nil, err
	}
	out := &Preview{
		Summary:     planner.Summarize(events),
		Events:      make([]PlannedEvent, 0, len(events)),
		InvalidRows: invalidRows(invalid),
	}
	for _, ev := range events {
		out.Events = append(out.Events, PlannedEvent{
			ParticipantID: ev.ParticipantID,
			Title:         ev.Title,
			Date:          ev.Date.String(),
			OriginalDate:  ev.OriginalDate.String(),
			WasShifted:    ev.WasShifted,
			Kind:          string(ev.Kind),
			Route:         string(ev.Route),
			CalendarID:    s.engine.CalendarFor(ev),
			EventKey:      reconcile.Key(ev),
			Column:        ev.ColumnCode,
		})
	}
	return out, nil
}

// DeleteByMatch deletes the check-ins of one manual request.
func (s *Service) DeleteByMatch(ctx context.Context, criteria cleanup.MatchCriteria) (*models.MatchDeleteSummary, error) {
	return s.cleaner.DeleteByMatch(ctx, criteria)
}

// DeleteAllDemo deletes every demo-flagged event.
func (s *Service) DeleteAllDemo(ctx context.Context) (*models.DemoSweepSummary, error) {
	return s.cleaner.DeleteAllDemo(ctx)
}

// DeleteRecent deletes tagged events starting within the last hours.
func (s *Service) DeleteRecent(ctx context.Context, hours int) (*models.RecentSweepSummary, error) {
	return s.cleaner.DeleteRecent(ctx, hours)
}

// List returns the tagged events of the configured calendars.
func (s *Service) List(ctx context.Context, demoOnly bool) ([]models.EventSummary, error) {
	return s.cleaner.List(ctx, demoOnly)
}

func invalidRows(errs []*planner.InvalidRowError) []models.InvalidRow {
	if len(errs) == 0 {
		return nil
	}
	out := make([]models.InvalidRow, 0, len(errs))
	for _, e := range errs {
		out = append(out, models.InvalidRow{
			ParticipantID: e.Row.ParticipantID,
			ColumnCode:    e.Row.ColumnCode,
			RawDate:       e.Row.RawDate,
			Error:         e.Err.Error(),
		})
	}
	return out
}
