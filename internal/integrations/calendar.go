package integrations

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/CareDesk/internal/models"
	"github.com/BTreeMap/CareDesk/internal/store"
	"google.golang.org/api/calendar/v3"
)

// Calendar sync settings.
const (
	CalendarCallbackPath     = "/api/calendar/callback"
	DefaultSyncWindow        = 30 * 24 * time.Hour
	defaultSessionMinutes    = 50
	calendarExternalIDPrefix = "gcal:"
	maxSyncEvents            = 250
)

// CalendarProvider talks to Google Calendar on behalf of the practice.
type CalendarProvider struct {
	*provider
}

// NewCalendarProvider creates a calendar provider. It is usable but reports
// Configured() == false when no client credentials are given.
func NewCalendarProvider(st store.Store, opts ...Option) *CalendarProvider {
	return &CalendarProvider{provider: newProvider(models.IntegrationCalendar, ScopeCalendarReadOnly, CalendarCallbackPath, st, opts...)}
}

// Status reports the connection state.
func (c *CalendarProvider) Status(ctx context.Context) (models.CalendarStatus, error) {
	integ, err := c.store.GetIntegration(ctx, models.IntegrationCalendar)
	if errors.Is(err, store.ErrNotFound) {
		return models.CalendarStatus{Connected: false}, nil
	}
	if err != nil {
		return models.CalendarStatus{}, err
	}
	return models.CalendarStatus{Connected: true, Account: integ.Account, LastSync: integ.LastSync}, nil
}

// Complete finishes the OAuth flow: validates state, exchanges the code and
// stores the token with the primary calendar id as the account name.
func (c *CalendarProvider) Complete(ctx context.Context, state, code string) error {
	tok, err := c.exchange(ctx, state, code)
	if err != nil {
		return err
	}
	if err := c.save(ctx, tok, "", nil); err != nil {
		return err
	}
	account := ""
	if cals, err := c.ListCalendars(ctx); err == nil {
		for _, cal := range cals {
			if cal.Primary {
				account = cal.ID
			}
		}
	} else {
		slog.Warn("CalendarProvider.Complete: could not read calendar list", "error", err)
	}
	if account != "" {
		integ, err := c.store.GetIntegration(ctx, models.IntegrationCalendar)
		if err == nil {
			integ.Account = account
			if err := c.store.SaveIntegration(ctx, integ); err != nil {
				return err
			}
		}
	}
	slog.Info("CalendarProvider.Complete: calendar connected", "account_set", account != "")
	return nil
}

// service returns a Calendar API client authorised with the stored token.
func (c *CalendarProvider) service(ctx context.Context) (*calendar.Service, error) {
	hc, _, err := c.client(ctx)
	if err != nil {
		return nil, err
	}
	svc, err := calendar.NewService(ctx, c.apiOptions(hc, "calendar/v3/")...)
	if err != nil {
		return nil, fmt.Errorf("create calendar service: %w", err)
	}
	return svc, nil
}

// ListCalendars returns the calendars of the connected account.
func (c *CalendarProvider) ListCalendars(ctx context.Context) ([]models.CalendarInfo, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	list, err := svc.CalendarList.List().Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("list calendars: %w", err)
	}
	out := make([]models.CalendarInfo, 0, len(list.Items))
	for _, e := range list.Items {
		out = append(out, models.CalendarInfo{ID: e.Id, Summary: e.Summary, Primary: e.Primary, TimeZone: e.TimeZone})
	}
	return out, nil
}

// Events returns single events of a calendar between from and to.
func (c *CalendarProvider) Events(ctx context.Context, calendarID string, from, to time.Time) ([]*calendar.Event, error) {
	svc, err := c.service(ctx)
	if err != nil {
		return nil, err
	}
	events, err := svc.Events.List(calendarID).
		TimeMin(from.UTC().Format(time.RFC3339)).
		TimeMax(to.UTC().Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(maxSyncEvents).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return events.Items, nil
}

// Sync imports upcoming events from the primary calendar as sessions. Events
// are matched to clients by attendee email, then by client name in the event
// title. Already imported events are skipped.
func (c *CalendarProvider) Sync(ctx context.Context, now time.Time) (models.SyncResult, error) {
	events, err := c.Events(ctx, "primary", now, now.Add(DefaultSyncWindow))
	if err != nil {
		return models.SyncResult{}, err
	}
	clients, err := c.store.ListClients(ctx, "")
	if err != nil {
		return models.SyncResult{}, err
	}

	var res models.SyncResult
	for _, ev := range events {
		if _, timed := eventTime(ev.Start); ev.Status == "cancelled" || !timed {
			res.Skipped++
			continue
		}
		client, ok := MatchClient(ev, clients)
		if !ok {
			res.Skipped++
			continue
		}
		sess := EventToSession(ev, client)
		if _, err := c.store.AddSession(ctx, sess); err != nil {
			if errors.Is(err, store.ErrConflict) {
				res.Skipped++
				continue
			}
			return res, fmt.Errorf("import event %s: %w", ev.Id, err)
		}
		res.Imported++
	}
	if err := c.markSynced(ctx, now); err != nil {
		slog.Warn("CalendarProvider.Sync: failed to record sync time", "error", err)
	}
	slog.Info("CalendarProvider.Sync: calendar synced", "imported", res.Imported, "skipped", res.Skipped)
	return res, nil
}

// MatchClient finds the client an event belongs to.
func MatchClient(ev *calendar.Event, clients []models.Client) (models.Client, bool) {
	for _, a := range ev.Attendees {
		if a == nil {
			continue
		}
		for _, cl := range clients {
			if cl.Email != "" && strings.EqualFold(cl.Email, a.Email) {
				return cl, true
			}
		}
	}
	summary := strings.ToLower(ev.Summary)
	for _, cl := range clients {
		if cl.Name != "" && strings.Contains(summary, strings.ToLower(cl.Name)) {
			return cl, true
		}
	}
	return models.Client{}, false
}

// eventTime parses an event boundary. All-day events carry only a date and
// report false.
func eventTime(t *calendar.EventDateTime) (time.Time, bool) {
	if t == nil || t.DateTime == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// EventToSession converts a timed calendar event into a scheduled session.
func EventToSession(ev *calendar.Event, client models.Client) models.Session {
	start, _ := eventTime(ev.Start)
	minutes := defaultSessionMinutes
	if end, ok := eventTime(ev.End); ok {
		if d := int(end.Sub(start).Minutes()); d > 0 {
			minutes = d
		}
	}
	return models.Session{
		ClientID:        client.ID,
		ScheduledAt:     start.UTC(),
		Type:            "individual",
		Status:          models.SessionStatusScheduled,
		DurationMinutes: minutes,
		Notes:           ev.Summary,
		ExternalID:      calendarExternalIDPrefix + ev.Id,
	}
}
