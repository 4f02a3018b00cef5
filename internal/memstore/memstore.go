// Package memstore is an in-memory calendar store. It backs demo mode, where
// nothing may reach a real calendar, and the tests of the packages above it.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"checkin/internal/models"

	"google.golang.org/api/calendar/v3"
)

// Store keeps events per calendar id.
type Store struct {
	mu     sync.Mutex
	events map[string][]*calendar.Event
	nextID int

	// Failure hooks. A non-nil return fails the call.
	ListErr   func(calendarID string, filter models.Filter) error
	InsertErr func(calendarID string, event *calendar.Event) error
	DeleteErr func(calendarID, eventID string) error

	// Notified records the ids of events written or deleted with notify set.
	Notified []string
}

// New returns an empty Store.
func New() *Store {
	return &Store{events: make(map[string][]*calendar.Event)}
}

// List returns copies of the events of calendarID matching filter.
func (s *Store) List(ctx context.Context, calendarID string, filter models.Filter) ([]*calendar.Event, error) {
	if s.ListErr != nil {
		if err := s.ListErr(calendarID, filter); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*calendar.Event
	for _, ev := range s.events[calendarID] {
		if !filter.Matches(ev) {
			continue
		}
		out = append(out, clone(ev))
		if filter.MaxResults > 0 && len(out) >= filter.MaxResults {
			break
		}
	}
	return out, nil
}

// Insert stores a copy of event under a fresh id.
func (s *Store) Insert(ctx context.Context, calendarID string, event *calendar.Event, notify bool) (*calendar.Event, error) {
	if s.InsertErr != nil {
		if err := s.InsertErr(calendarID, event); err != nil {
			return nil, err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	stored := clone(event)
	stored.Id = fmt.Sprintf("evt%06d", s.nextID)
	stored.HtmlLink = "memory://" + calendarID + "/" + stored.Id
	stored.Status = "confirmed"
	stored.Created = time.Now().UTC().Format(time.RFC3339)
	s.events[calendarID] = append(s.events[calendarID], stored)
	if notify {
		s.Notified = append(s.Notified, stored.Id)
	}
	return clone(stored), nil
}

// Delete removes an event. Deleting a missing event is an error, as it is
// for the remote services.
func (s *Store) Delete(ctx context.Context, calendarID, eventID string, notify bool) error {
	if s.DeleteErr != nil {
		if err := s.DeleteErr(calendarID, eventID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events[calendarID]
	for i, ev := range events {
		if ev.Id == eventID {
			s.events[calendarID] = append(events[:i:i], events[i+1:]...)
			if notify {
				s.Notified = append(s.Notified, eventID)
			}
			return nil
		}
	}
	return fmt.Errorf("event %s not found in calendar %s", eventID, calendarID)
}

// Events returns copies of every event in calendarID.
func (s *Store) Events(calendarID string) []*calendar.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*calendar.Event, 0, len(s.events[calendarID]))
	for _, ev := range s.events[calendarID] {
		out = append(out, clone(ev))
	}
	return out
}

// Count returns the number of events across all calendars.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, events := range s.events {
		n += len(events)
	}
	return n
}

// Calendars returns the ids of calendars holding at least one event.
func (s *Store) Calendars() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ids []string
	for id, events := range s.events {
		if len(events) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func clone(ev *calendar.Event) *calendar.Event {
	c := *ev
	if ev.Start != nil {
		start := *ev.Start
		c.Start = &start
	}
	if ev.End != nil {
		end := *ev.End
		c.End = &end
	}
	if ev.ExtendedProperties != nil {
		props := &calendar.EventExtendedProperties{}
		if ev.ExtendedProperties.Private != nil {
			props.Private = make(map[string]string, len(ev.ExtendedProperties.Private))
			for k, v := range ev.ExtendedProperties.Private {
				props.Private[k] = v
			}
		}
		c.ExtendedProperties = props
	}
	if ev.Attendees != nil {
		c.Attendees = make([]*calendar.EventAttendee, 0, len(ev.Attendees))
		for _, a := range ev.Attendees {
			attendee := *a
			c.Attendees = append(c.Attendees, &attendee)
		}
	}
	return &c
}
