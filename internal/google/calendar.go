package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"time"

	"checkin/internal/models"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	// DefaultCredentialsFile is the OAuth client secret downloaded from the Cloud console.
	DefaultCredentialsFile = "credentials.json"
	// DefaultTokenFile holds the token written by the auth command.
	DefaultTokenFile = "token.json"
	// DefaultRedirectURL is where the consent screen sends the code; it is copied from the address bar.
	DefaultRedirectURL = "http://localhost"

	maxPageSize = 2500
)

// Options locates the OAuth client and token.
type Options struct {
	CredentialsPath string
	TokenPath       string
	ClientID        string
	ClientSecret    string
	RedirectURL     string
}

// CalendarClient is the Google Calendar implementation of models.Store.
type CalendarClient struct {
	service *calendar.Service
	logger  *slog.Logger
}

// NewClient creates a client from the saved token. A missing or unreadable
// token yields models.ErrAuthRequired.
func NewClient(ctx context.Context, logger *slog.Logger, opts Options) (*CalendarClient, error) {
	config, err := OAuthConfig(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenPath := opts.TokenPath
	if tokenPath == "" {
		tokenPath = DefaultTokenFile
	}
	token, err := tokenFromFile(tokenPath)
	if err != nil {
		return nil, fmt.Errorf("%w: could not load token from %s, run the 'auth' command first: %v", models.ErrAuthRequired, tokenPath, err)
	}

	source := &savingTokenSource{
		source: config.TokenSource(ctx, token),
		path:   tokenPath,
		last:   token,
		logger: logger,
	}
	return NewWithOptions(ctx, logger, option.WithHTTPClient(oauth2.NewClient(ctx, source)))
}

// NewWithOptions creates a client from explicit API options, e.g. an
// already authorised HTTP client or a test endpoint.
func NewWithOptions(ctx context.Context, logger *slog.Logger, opts ...option.ClientOption) (*CalendarClient, error) {
	service, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}
	return &CalendarClient{service: service, logger: logger}, nil
}

// List pages through the events of calendarID matching filter.
func (c *CalendarClient) List(ctx context.Context, calendarID string, filter models.Filter) ([]*calendar.Event, error) {
	c.logger.Debug("Listing events", "calendarID", calendarID, "properties", filter.Properties, "timeMin", filter.TimeMin)

	pageSize := int64(maxPageSize)
	if filter.MaxResults > 0 && filter.MaxResults < maxPageSize {
		pageSize = int64(filter.MaxResults)
	}

	var (
		out       []*calendar.Event
		pageToken string
	)
	for {
		call := c.service.Events.List(calendarID).
			SingleEvents(true).
			ShowDeleted(false).
			MaxResults(pageSize).
			Context(ctx)
		if len(filter.Properties) > 0 {
			call = call.PrivateExtendedProperty(filter.Properties...)
		}
		if !filter.TimeMin.IsZero() {
			call = call.TimeMin(filter.TimeMin.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		events, err := call.Do()
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", translate(err))
		}
		out = append(out, events.Items...)
		if filter.MaxResults > 0 && len(out) >= filter.MaxResults {
			return out[:filter.MaxResults], nil
		}
		if events.NextPageToken == "" {
			return out, nil
		}
		pageToken = events.NextPageToken
	}
}

// Insert creates event. Attendees are emailed only when notify is set.
func (c *CalendarClient) Insert(ctx context.Context, calendarID string, event *calendar.Event, notify bool) (*calendar.Event, error) {
	created, err := c.service.Events.Insert(calendarID, event).
		SendUpdates(sendUpdates(notify)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("failed to insert event: %w", translate(err))
	}
	return created, nil
}

// Delete removes an event, notifying attendees of the cancellation when notify is set.
func (c *CalendarClient) Delete(ctx context.Context, calendarID, eventID string, notify bool) error {
	err := c.service.Events.Delete(calendarID, eventID).
		SendUpdates(sendUpdates(notify)).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", translate(err))
	}
	return nil
}

// ListCalendars returns the calendars the account can see.
func (c *CalendarClient) ListCalendars(ctx context.Context) ([]*calendar.CalendarListEntry, error) {
	list, err := c.service.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", translate(err))
	}
	return list.Items, nil
}

func sendUpdates(notify bool) string {
	if notify {
		return "all"
	}
	return "none"
}

// forbiddenReasons are 403 reasons returned with a valid credential. They fail
// one call, not the whole run.
var forbiddenReasons = map[string]bool{
	"rateLimitExceeded":     true,
	"userRateLimitExceeded": true,
	"quotaExceeded":         true,
	"dailyLimitExceeded":    true,
	"requiredAccessLevel":   true,
}

// translate maps authorisation failures onto models.ErrAuthRequired. A 403
// caused by quotas or by missing access to one calendar stays an ordinary error.
func translate(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusUnauthorized:
			return fmt.Errorf("%w: %v", models.ErrAuthRequired, err)
		case http.StatusForbidden:
			for _, item := range gerr.Errors {
				if forbiddenReasons[item.Reason] {
					return err
				}
			}
			return fmt.Errorf("%w: %v", models.ErrAuthRequired, err)
		}
		return err
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) {
		return fmt.Errorf("%w: %v", models.ErrAuthRequired, err)
	}
	return err
}

// OAuthConfig builds the OAuth2 config. Client id and secret take precedence
// over the credentials file.
func OAuthConfig(opts Options) (*oauth2.Config, error) {
	redirect := opts.RedirectURL
	if redirect == "" {
		redirect = DefaultRedirectURL
	}

	if opts.ClientID != "" && opts.ClientSecret != "" {
		return &oauth2.Config{
			ClientID:     opts.ClientID,
			ClientSecret: opts.ClientSecret,
			RedirectURL:  redirect,
			Scopes:       []string{calendar.CalendarScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	path := opts.CredentialsPath
	if path == "" {
		path = DefaultCredentialsFile
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET or a credentials file: %w", path, models.ErrAuthRequired)
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = redirect
	return config, nil
}

// TokenFromWeb exchanges an authorisation code for a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// SaveToken writes a token to path, readable only by the owner.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// HasToken reports whether a token file exists at path.
func HasToken(path string) bool {
	if path == "" {
		path = DefaultTokenFile
	}
	_, err := os.Stat(path)
	return err == nil
}

func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// savingTokenSource writes refreshed tokens back to disk.
type savingTokenSource struct {
	source oauth2.TokenSource
	path   string
	last   *oauth2.Token
	logger *slog.Logger
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	token, err := s.source.Token()
	if err != nil {
		return nil, err
	}
	if s.last == nil || s.last.AccessToken != token.AccessToken {
		if err := SaveToken(s.path, token); err != nil {
			s.logger.Warn("Failed to save refreshed token", "file", s.path, "error", err)
		}
		s.last = token
	}
	return token, nil
}
