package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"checkin/internal/dates"
	"checkin/internal/models"
)

var (
	emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	datePattern  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
)

// Default bounds on accepted years.
const (
	DefaultMinYear = 2000
	DefaultMaxYear = 2100
)

// ValidateDate checks a MM/DD/YYYY string component by component and returns
// the parsed date. Every failure is a *models.ValidationError.
func (p *Planner) ValidateDate(field, s string) (dates.Date, error) {
	s = strings.TrimSpace(s)
	m := datePattern.FindStringSubmatch(s)
	if m == nil {
		return dates.Date{}, &models.ValidationError{Field: field, Value: s, Reason: "use MM/DD/YYYY"}
	}
	month, _ := strconv.Atoi(m[1])
	day, _ := strconv.Atoi(m[2])
	year, _ := strconv.Atoi(m[3])
	switch {
	case month < 1 || month > 12:
		return dates.Date{}, &models.ValidationError{Field: field, Value: s, Reason: "month must be 1-12"}
	case day < 1 || day > 31:
		return dates.Date{}, &models.ValidationError{Field: field, Value: s, Reason: "day must be 1-31"}
	case year < p.minYear || year > p.maxYear:
		return dates.Date{}, &models.ValidationError{Field: field, Value: s, Reason: fmt.Sprintf("year must be %d-%d", p.minYear, p.maxYear)}
	}
	d, err := dates.Parse(s)
	if err != nil {
		return dates.Date{}, &models.ValidationError{Field: field, Value: s, Reason: "not a calendar day"}
	}
	return d, nil
}

// ValidateClock checks an HH:MM string. An empty string yields the planner default.
func (p *Planner) ValidateClock(s string) (dates.Clock, error) {
	if strings.TrimSpace(s) == "" {
		return p.defaultClock, nil
	}
	c, err := dates.ParseClock(s)
	if err != nil {
		return dates.Clock{}, &models.ValidationError{Field: "time", Value: s, Reason: "use HH:MM between 00:00 and 23:59"}
	}
	return c, nil
}

// ValidateEmail checks the basic shape of an email address.
func ValidateEmail(field, s string) error {
	if !emailPattern.MatchString(s) {
		return &models.ValidationError{Field: field, Value: s, Reason: "invalid email address format"}
	}
	return nil
}
