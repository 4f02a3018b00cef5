package planner

import (
	"fmt"

	"checkin/internal/models"
)

// ColumnRole classifies a CSV date column.
type ColumnRole string

const (
	// RoleReminder columns emit one reminder event on the cell's date.
	RoleReminder ColumnRole = "reminder"
	// RoleIgnore columns carry a date that produces no event.
	RoleIgnore ColumnRole = "ignore"
	// RoleRetentionSeed columns emit a derived all-day retention event
	// RetentionDays before the cell's date.
	RoleRetentionSeed ColumnRole = "retention-seed"
)

// Column describes one CSV date column.
type Column struct {
	Code  string     `yaml:"code" json:"code"`
	Role  ColumnRole `yaml:"role" json:"role"`
	Title string     `yaml:"title" json:"title"`
}

// Schema is the column classification used by the CSV planner.
type Schema struct {
	Columns       []Column `yaml:"columns" json:"columns"`
	RetentionDays int      `yaml:"retention_days" json:"retention_days"`
}

// DefaultRetentionDays is how far before a base date the retention event falls.
const DefaultRetentionDays = 45

// DefaultSchema returns the BURST 1-4 column layout of the study export.
func DefaultSchema() Schema {
	s := Schema{RetentionDays: DefaultRetentionDays}
	for n := 1; n <= 4; n++ {
		s.Columns = append(s.Columns,
			Column{Code: fmt.Sprintf("B%dSTARTMIN10", n), Role: RoleReminder, Title: fmt.Sprintf("BURST %d Pre-BURST Checklist", n)},
			Column{Code: fmt.Sprintf("B%dSTARTMIN1", n), Role: RoleReminder, Title: fmt.Sprintf("BURST %d 1-Day Prior Reminder", n)},
		)
		if n == 1 {
			s.Columns = append(s.Columns, Column{Code: "B1STARTDATE", Role: RoleIgnore, Title: "BURST 1 Start Date"})
			continue
		}
		s.Columns = append(s.Columns, Column{Code: fmt.Sprintf("B%dSTARTDATE", n), Role: RoleRetentionSeed, Title: fmt.Sprintf("BURST %d Retention Text", n)})
	}
	return s
}

// Lookup returns the column with the given code.
func (s Schema) Lookup(code string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Code == code {
			return c, true
		}
	}
	return Column{}, false
}

// Codes returns every column code in schema order.
func (s Schema) Codes() []string {
	codes := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		codes = append(codes, c.Code)
	}
	return codes
}

// Validate checks that every column has a code, a known role and, unless
// ignored, a title, and that no code appears twice.
func (s Schema) Validate() error {
	if len(s.Columns) == 0 {
		return &models.ValidationError{Field: "columns", Reason: "at least one column is required"}
	}
	if s.RetentionDays < 0 {
		return &models.ValidationError{Field: "retention_days", Value: fmt.Sprint(s.RetentionDays), Reason: "must not be negative"}
	}
	seen := make(map[string]bool)
	for _, c := range s.Columns {
		if c.Code == "" {
			return &models.ValidationError{Field: "columns", Reason: "column code is empty"}
		}
		if seen[c.Code] {
			return &models.ValidationError{Field: "columns", Value: c.Code, Reason: "duplicate column code"}
		}
		seen[c.Code] = true
		switch c.Role {
		case RoleReminder, RoleRetentionSeed:
			if c.Title == "" {
				return &models.ValidationError{Field: "columns", Value: c.Code, Reason: "title is required"}
			}
		case RoleIgnore:
		default:
			return &models.ValidationError{Field: "columns", Value: c.Code, Reason: fmt.Sprintf("unknown role %q", c.Role)}
		}
	}
	return nil
}
