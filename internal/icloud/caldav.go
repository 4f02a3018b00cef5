package icloud

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"checkin/internal/models"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"
	"github.com/google/uuid"
	"google.golang.org/api/calendar/v3"
)

const (
	// DefaultEndpoint is the iCloud CalDAV endpoint.
	DefaultEndpoint = "https://caldav.icloud.com/"

	// PrimaryCalendar resolves to the first calendar of the account.
	PrimaryCalendar = "primary"

	propPrefix = "X-CHECKIN-"
	productID  = "-//checkin//EN"
)

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", "checkin/1.0")
	return t.Transport.RoundTrip(req)
}

// Options configures a CalDAVClient.
type Options struct {
	Endpoint string
	Username string
	Password string
}

// CalDAVClient is the CalDAV implementation of models.Store. Calendar ids are
// calendar display names, collection paths, or "primary".
type CalDAVClient struct {
	client   *caldav.Client
	logger   *slog.Logger
	endpoint string

	mu        sync.Mutex
	calendars map[string]string // display name -> collection path
	first     string
}

// NewClient creates a CalDAV client. Calendars are discovered on first use.
func NewClient(logger *slog.Logger, opts Options) (*CalDAVClient, error) {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultEndpoint
	}
	if opts.Username == "" || opts.Password == "" {
		return nil, fmt.Errorf("%w: caldav username and password are required", models.ErrAuthRequired)
	}
	httpClient := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &customTransport{
			Username:  opts.Username,
			Password:  opts.Password,
			Transport: http.DefaultTransport,
		},
	}

	client, err := caldav.NewClient(httpClient, opts.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}
	return &CalDAVClient{client: client, logger: logger, endpoint: opts.Endpoint}, nil
}

// List queries every VEVENT of the calendar and applies filter client side.
func (c *CalDAVClient) List(ctx context.Context, calendarID string, filter models.Filter) ([]*calendar.Event, error) {
	calPath, err := c.resolve(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name:  ical.CompCalendar,
			Comps: []caldav.CompFilter{{Name: ical.CompEvent}},
		},
	}
	objects, err := c.client.QueryCalendar(ctx, calPath, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar %s: %w", calendarID, err)
	}

	var out []*calendar.Event
	for _, obj := range objects {
		ev, err := fromICal(obj.Data)
		if err != nil {
			c.logger.Warn("Skipping unreadable calendar object", "path", obj.Path, "error", err)
			continue
		}
		ev.HtmlLink = c.link(obj.Path)
		if !filter.Matches(ev) {
			continue
		}
		out = append(out, ev)
		if filter.MaxResults > 0 && len(out) >= filter.MaxResults {
			break
		}
	}
	return out, nil
}

// Insert writes event as a new calendar object named after a fresh UID.
// CalDAV servers send their own invitations, so notify is not used.
func (c *CalDAVClient) Insert(ctx context.Context, calendarID string, event *calendar.Event, notify bool) (*calendar.Event, error) {
	calPath, err := c.resolve(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	uid := GenerateUID()
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Children = append(cal.Children, toICal(event, uid, time.Now().UTC()))

	obj, err := c.client.PutCalendarObject(ctx, objectPath(calPath, uid), cal)
	if err != nil {
		return nil, fmt.Errorf("failed to create event on CalDAV server: %w", err)
	}
	c.logger.Debug("Created calendar object", "path", obj.Path, "title", event.Summary)

	created := *event
	created.Id = uid
	created.ICalUID = uid
	created.HtmlLink = c.link(obj.Path)
	created.Status = "confirmed"
	return &created, nil
}

// Delete removes the calendar object of eventID.
func (c *CalDAVClient) Delete(ctx context.Context, calendarID, eventID string, notify bool) error {
	calPath, err := c.resolve(ctx, calendarID)
	if err != nil {
		return err
	}
	if err := c.client.RemoveAll(ctx, objectPath(calPath, eventID)); err != nil {
		return fmt.Errorf("failed to delete event on CalDAV server: %w", err)
	}
	return nil
}

// resolve maps a calendar id onto a collection path.
func (c *CalDAVClient) resolve(ctx context.Context, calendarID string) (string, error) {
	if strings.HasPrefix(calendarID, "/") {
		return calendarID, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendars == nil {
		if err := c.discover(ctx); err != nil {
			return "", err
		}
	}
	if p, ok := c.calendars[calendarID]; ok {
		return p, nil
	}
	if calendarID == PrimaryCalendar && c.first != "" {
		return c.first, nil
	}
	return "", fmt.Errorf("no calendar found with name '%s'", calendarID)
}

// discover finds the user's calendars. The caller holds c.mu.
func (c *CalDAVClient) discover(ctx context.Context) error {
	principalPath, err := c.client.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return fmt.Errorf("failed to find principal path: %w", err)
	}
	homeSetPath, err := c.client.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return fmt.Errorf("failed to find calendar home set: %w", err)
	}
	cals, err := c.client.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return fmt.Errorf("failed to find calendars: %w", err)
	}

	c.calendars = make(map[string]string, len(cals))
	for _, cal := range cals {
		c.calendars[cal.Name] = cal.Path
		if c.first == "" {
			c.first = cal.Path
		}
	}
	c.logger.Info("Discovered CalDAV calendars", "count", len(cals))
	return nil
}

func (c *CalDAVClient) link(objPath string) string {
	return strings.TrimSuffix(c.endpoint, "/") + objPath
}

func objectPath(calPath, uid string) string {
	return path.Join(calPath, uid+".ics")
}

// GenerateUID creates a new unique identifier for an event.
func GenerateUID() string {
	return uuid.New().String()
}

// metadataProp names the iCalendar property holding a private metadata key.
func metadataProp(key string) string {
	return propPrefix + strings.ToUpper(key)
}

// toICal converts a remote event body into a VEVENT. Timed events are written in UTC.
func toICal(event *calendar.Event, uid string, now time.Time) *ical.Component {
	ve := ical.NewComponent(ical.CompEvent)
	ve.Props.SetText(ical.PropUID, uid)
	ve.Props.SetText(ical.PropSummary, event.Summary)
	ve.Props.SetDateTime(ical.PropDateTimeStamp, now)

	if event.Description != "" {
		ve.Props.SetText(ical.PropDescription, event.Description)
	}
	setTime(ve, ical.PropDateTimeStart, event.Start)
	setTime(ve, ical.PropDateTimeEnd, event.End)

	for _, attendee := range event.Attendees {
		p := ical.NewProp(ical.PropAttendee)
		p.SetText(fmt.Sprintf("mailto:%s", attendee.Email))
		ve.Props.Add(p)
	}
	if event.ExtendedProperties != nil {
		for _, key := range models.MetadataKeys {
			if v, ok := event.ExtendedProperties.Private[key]; ok {
				ve.Props.SetText(metadataProp(key), v)
			}
		}
	}
	return ve
}

func setTime(ve *ical.Component, name string, dt *calendar.EventDateTime) {
	if dt == nil {
		return
	}
	if dt.Date != "" {
		if d, err := time.Parse("2006-01-02", dt.Date); err == nil {
			p := ical.NewProp(name)
			p.SetDate(d)
			ve.Props.Set(p)
		}
		return
	}
	if t, err := time.Parse(time.RFC3339, dt.DateTime); err == nil {
		ve.Props.SetDateTime(name, t.UTC())
	}
}

// fromICal converts the first VEVENT of cal into the remote event shape.
func fromICal(cal *ical.Calendar) (*calendar.Event, error) {
	if cal == nil {
		return nil, fmt.Errorf("empty calendar object")
	}
	var ve *ical.Component
	for _, child := range cal.Children {
		if child.Name == ical.CompEvent {
			ve = child
			break
		}
	}
	if ve == nil {
		return nil, fmt.Errorf("no VEVENT found in calendar")
	}

	ev := &calendar.Event{Status: "confirmed"}
	if p := ve.Props.Get(ical.PropUID); p != nil {
		ev.Id = p.Value
		ev.ICalUID = p.Value
	}
	if p := ve.Props.Get(ical.PropSummary); p != nil {
		ev.Summary, _ = p.Text()
	}
	if p := ve.Props.Get(ical.PropDescription); p != nil {
		ev.Description, _ = p.Text()
	}
	if p := ve.Props.Get(ical.PropStatus); p != nil && strings.EqualFold(p.Value, "CANCELLED") {
		ev.Status = "cancelled"
	}
	ev.Start = readTime(ve.Props.Get(ical.PropDateTimeStart))
	ev.End = readTime(ve.Props.Get(ical.PropDateTimeEnd))

	for _, p := range ve.Props.Values(ical.PropAttendee) {
		email := strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
		ev.Attendees = append(ev.Attendees, &calendar.EventAttendee{Email: email})
	}

	private := make(map[string]string)
	for _, key := range models.MetadataKeys {
		if p := ve.Props.Get(metadataProp(key)); p != nil {
			private[key], _ = p.Text()
		}
	}
	if len(private) > 0 {
		ev.ExtendedProperties = &calendar.EventExtendedProperties{Private: private}
	}
	return ev, nil
}

func readTime(p *ical.Prop) *calendar.EventDateTime {
	if p == nil {
		return nil
	}
	t, err := p.DateTime(time.UTC)
	if err != nil {
		return nil
	}
	if p.ValueType() == ical.ValueDate {
		return &calendar.EventDateTime{Date: t.Format("2006-01-02")}
	}
	return &calendar.EventDateTime{DateTime: t.Format(time.RFC3339)}
}
