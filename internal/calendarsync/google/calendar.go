// Package google talks to Google Calendar on behalf of a connected provider.
package google

import (
	"context"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"appointly/backend/internal/calendarsync"
)

// pushedKey marks events created by this service so the pull side skips them.
const pushedKey = "appointlyAppointmentId"

func OAuthConfig(clientID, clientSecret, redirectURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  redirectURL,
		Scopes:       []string{calendar.CalendarEventsScope},
		Endpoint:     googleoauth.Endpoint,
	}
}

type Factory struct {
	opts []option.ClientOption
}

// NewFactory returns a factory for Google calendars. Extra options are
// appended after the authenticated HTTP client, mostly for tests.
func NewFactory(opts ...option.ClientOption) *Factory {
	return &Factory{opts: opts}
}

func (f *Factory) Open(ctx context.Context, ts oauth2.TokenSource) (calendarsync.Calendar, error) {
	client := &http.Client{
		Transport: otelhttp.NewTransport(&oauth2.Transport{Source: ts, Base: http.DefaultTransport}),
	}
	opts := append([]option.ClientOption{option.WithHTTPClient(client)}, f.opts...)
	svc, err := calendar.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	return &Calendar{svc: svc}, nil
}

type Calendar struct {
	svc *calendar.Service
}

func (c *Calendar) ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]calendarsync.RemoteEvent, error) {
	call := c.svc.Events.List(calendarID).
		SingleEvents(true).
		OrderBy("startTime").
		ShowDeleted(false).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		MaxResults(250)

	var out []calendarsync.RemoteEvent
	err := call.Pages(ctx, func(page *calendar.Events) error {
		loc := time.UTC
		if page.TimeZone != "" {
			if l, err := time.LoadLocation(page.TimeZone); err == nil {
				loc = l
			}
		}
		for _, item := range page.Items {
			if ev, ok := toRemote(item, loc); ok {
				out = append(out, ev)
			}
		}
		return nil
	})
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (c *Calendar) Insert(ctx context.Context, calendarID string, ev calendarsync.OutboundEvent) (string, error) {
	id, err := EventID(ev.AppointmentID)
	if err != nil {
		return "", backoff.Permanent(err)
	}
	body := &calendar.Event{
		Id:          id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       &calendar.EventDateTime{DateTime: ev.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &calendar.EventDateTime{DateTime: ev.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		ExtendedProperties: &calendar.EventExtendedProperties{
			Private: map[string]string{pushedKey: ev.AppointmentID},
		},
	}
	created, err := c.svc.Events.Insert(calendarID, body).Context(ctx).Do()
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return id, nil
		}
		return "", classify(err)
	}
	return created.Id, nil
}

// EventID derives the remote event id from the appointment id so a retried
// insert hits a conflict instead of creating a duplicate. Google accepts
// lowercase base32hex ids, which hex digits are a subset of.
func EventID(appointmentID string) (string, error) {
	id, err := uuid.Parse(appointmentID)
	if err != nil {
		return "", err
	}
	return "appt" + hex.EncodeToString(id[:]), nil
}

func toRemote(item *calendar.Event, loc *time.Location) (calendarsync.RemoteEvent, bool) {
	if item == nil || item.Status == "cancelled" || item.Transparency == "transparent" {
		return calendarsync.RemoteEvent{}, false
	}
	start, ok := eventTime(item.Start, loc)
	if !ok {
		return calendarsync.RemoteEvent{}, false
	}
	end, ok := eventTime(item.End, loc)
	if !ok {
		return calendarsync.RemoteEvent{}, false
	}
	pushed := item.ExtendedProperties != nil && item.ExtendedProperties.Private[pushedKey] != ""
	return calendarsync.RemoteEvent{
		ID:      item.Id,
		Summary: item.Summary,
		Start:   start,
		End:     end,
		Pushed:  pushed,
	}, true
}

// eventTime reads either a timed or an all-day boundary. All-day dates are
// placed at midnight in the calendar's zone.
func eventTime(dt *calendar.EventDateTime, loc *time.Location) (time.Time, bool) {
	if dt == nil {
		return time.Time{}, false
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		return t, err == nil
	}
	if dt.Date != "" {
		if dt.TimeZone != "" {
			if l, err := time.LoadLocation(dt.TimeZone); err == nil {
				loc = l
			}
		}
		t, err := time.ParseInLocation("2006-01-02", dt.Date, loc)
		return t, err == nil
	}
	return time.Time{}, false
}

// classify stops retries on client errors other than rate limiting.
func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code >= 400 && gerr.Code < 500 &&
		gerr.Code != http.StatusTooManyRequests && gerr.Code != http.StatusRequestTimeout {
		return backoff.Permanent(err)
	}
	return err
}
