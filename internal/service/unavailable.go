package service

import (
	"context"

	"checkin/internal/models"

	"google.golang.org/api/calendar/v3"
)

// unavailableStore fails every call. It stands in for the remote calendar
// until credentials exist, so a server can start and answer 401.
type unavailableStore struct {
	err error
}

// Unavailable returns a Store whose every call fails with err.
func Unavailable(err error) models.Store {
	return unavailableStore{err: err}
}

func (s unavailableStore) List(context.Context, string, models.Filter) ([]*calendar.Event, error) {
	return nil, s.err
}

func (s unavailableStore) Insert(context.Context, string, *calendar.Event, bool) (*calendar.Event, error) {
	return nil, s.err
}

func (s unavailableStore) Delete(context.Context, string, string, bool) error {
	return s.err
}
