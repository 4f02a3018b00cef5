package models

// Outcome is the per-event result of a reconciliation.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeSkipped Outcome = "skipped"
	OutcomeError   Outcome = "error"
	OutcomeDryRun  Outcome = "dry-run"
)

// Result reports what happened to one LogicalEvent.
type Result struct {
	Outcome       Outcome       `json:"type"`
	Title         string        `json:"title"`
	Date          string        `json:"date"`
	EventKey      string        `json:"eventKey"`
	Kind          EventKind     `json:"eventKind"`
	Route         CalendarRoute `json:"calendarType"`
	CalendarID    string        `json:"calendarId"`
	ParticipantID string        `json:"participantId,omitempty"`
	WasShifted    bool          `json:"wasShifted"`
	OriginalDate  string        `json:"originalDate,omitempty"`
	HasAttendees  bool          `json:"hasAttendees"`
	EventID       string        `json:"eventId,omitempty"`
	HTMLLink      string        `json:"htmlLink,omitempty"`
	Reason        string        `json:"reason,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// InvalidRow reports a CSV row that could not be planned.
type InvalidRow struct {
	ParticipantID string `json:"participantId"`
	ColumnCode    string `json:"column"`
	RawDate       string `json:"date"`
	Error         string `json:"error"`
}

// BatchSummary aggregates the results of a reconciliation run.
type BatchSummary struct {
	Created         int          `json:"created"`
	Skipped         int          `json:"skipped"`
	Errors          int          `json:"errors"`
	DryRun          int          `json:"dryRun"`
	ReminderEvents  int          `json:"reminderEvents"`
	RetentionEvents int          `json:"retentionEvents"`
	Shifted         int          `json:"weekendShifts"`
	Details         []Result     `json:"details"`
	InvalidRows     []InvalidRow `json:"invalidRows,omitempty"`
}

// Add records r in the summary counters.
func (s *BatchSummary) Add(r Result) {
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
		switch r.Kind {
		case KindReminder:
			s.ReminderEvents++
		case KindRetention:
			s.RetentionEvents++
		}
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeError:
		s.Errors++
	case OutcomeDryRun:
		s.DryRun++
	}
	if r.WasShifted {
		s.Shifted++
	}
	s.Details = append(s.Details, r)
}

// Failed returns the details of every errored event, enough to retry just that subset.
func (s *BatchSummary) Failed() []Result {
	var out []Result
	for _, r := range s.Details {
		if r.Outcome == OutcomeError {
			out = append(out, r)
		}
	}
	return out
}

// DeleteOutcome is the per-event result of a match deletion.
type DeleteOutcome string

const (
	DeleteDeleted  DeleteOutcome = "deleted"
	DeleteNotFound DeleteOutcome = "not-found"
	DeleteError    DeleteOutcome = "error"
)

// DeleteDetail reports one expected event of a match deletion.
type DeleteDetail struct {
	Outcome      DeleteOutcome `json:"type"`
	FollowUpType string        `json:"followUpType"`
	EventKey     string        `json:"eventKey"`
	EventID      string        `json:"eventId,omitempty"`
	Title        string        `json:"title,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// MatchDeleteSummary is returned by a delete-by-match run.
type MatchDeleteSummary struct {
	Deleted  int            `json:"deleted"`
	NotFound int            `json:"notFound"`
	Errors   int            `json:"errors"`
	Details  []DeleteDetail `json:"details"`
}

// SweepError reports an event a cleanup sweep failed to delete.
type SweepError struct {
	EventID    string `json:"eventId"`
	Summary    string `json:"summary"`
	CalendarID string `json:"calendarId"`
	Error      string `json:"error"`
}

// DemoSweepSummary is returned by a delete-all-demo run.
type DemoSweepSummary struct {
	Deleted      int          `json:"deleted"`
	Errors       int          `json:"errors"`
	ErrorDetails []SweepError `json:"errorDetails"`
}

// EventSummary is a short description of a remote event.
type EventSummary struct {
	EventID    string `json:"id"`
	Summary    string `json:"summary"`
	Start      string `json:"start"`
	Source     string `json:"source"`
	CalendarID string `json:"calendarId"`
}

// RecentSweepSummary is returned by a delete-recent run.
type RecentSweepSummary struct {
	Deleted      int            `json:"deleted"`
	Errors       int            `json:"errors"`
	EventsFound  []EventSummary `json:"eventsFound"`
	ErrorDetails []SweepError   `json:"errorDetails"`
}
