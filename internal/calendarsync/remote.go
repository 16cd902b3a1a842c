package calendarsync

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"appointly/backend/internal/domain"
)

// RemoteEvent is a busy period read from the provider's external calendar.
// Pushed is set for events this service created itself.
type RemoteEvent struct {
	ID      string
	Summary string
	Start   time.Time
	End     time.Time
	Pushed  bool
}

// OutboundEvent is an appointment rendered for the external calendar.
type OutboundEvent struct {
	AppointmentID string
	Summary       string
	Description   string
	Location      string
	Start         time.Time
	End           time.Time
}

// Calendar is one provider's external calendar, bound to their credentials.
type Calendar interface {
	ListBusy(ctx context.Context, calendarID string, from, to time.Time) ([]RemoteEvent, error)
	// Insert creates the event and returns its remote id. Inserting the same
	// appointment twice must not create a second event.
	Insert(ctx context.Context, calendarID string, ev OutboundEvent) (string, error)
}

type CalendarFactory interface {
	Open(ctx context.Context, ts oauth2.TokenSource) (Calendar, error)
}

// OAuthConfig is satisfied by *oauth2.Config.
type OAuthConfig interface {
	AuthCodeURL(state string, opts ...oauth2.AuthCodeOption) string
	Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error)
	TokenSource(ctx context.Context, t *oauth2.Token) oauth2.TokenSource
}

func outboundEvent(a domain.Appointment) OutboundEvent {
	summary := a.ServiceNameSnapshot
	if summary == "" {
		summary = "Appointment"
	}
	desc := fmt.Sprintf("Appointly booking %s\nType: %s\nStatus: %s", a.ID, a.AppointmentType, a.Status)
	if a.MeetingURL != "" {
		desc += "\nJoin: " + a.MeetingURL
	}
	return OutboundEvent{
		AppointmentID: a.ID.String(),
		Summary:       summary,
		Description:   desc,
		Location:      a.MeetingURL,
		Start:         a.StartTime.UTC(),
		End:           a.EndTime.UTC(),
	}
}
