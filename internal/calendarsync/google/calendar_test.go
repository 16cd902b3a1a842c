package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"appointly/backend/internal/calendarsync"
)

func openTestCalendar(t *testing.T, h http.HandlerFunc) calendarsync.Calendar {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	f := NewFactory(option.WithEndpoint(srv.URL + "/"))
	cal, err := f.Open(context.Background(), oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok"}))
	require.NoError(t, err)
	return cal
}

func TestListBusy_MapsEvents(t *testing.T) {
	cal := openTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.True(t, strings.HasSuffix(r.URL.Path, "/calendars/primary/events"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"timeZone": "Europe/Berlin",
			"items": [
				{"id": "ev1", "summary": "Gym", "status": "confirmed",
				 "start": {"dateTime": "2026-03-02T10:00:00Z"}, "end": {"dateTime": "2026-03-02T11:00:00Z"}},
				{"id": "ev2", "status": "confirmed",
				 "start": {"date": "2026-03-03"}, "end": {"date": "2026-03-04"}},
				{"id": "ev3", "status": "confirmed", "transparency": "transparent",
				 "start": {"dateTime": "2026-03-02T12:00:00Z"}, "end": {"dateTime": "2026-03-02T13:00:00Z"}},
				{"id": "ev4", "status": "confirmed",
				 "extendedProperties": {"private": {"appointlyAppointmentId": "x"}},
				 "start": {"dateTime": "2026-03-02T14:00:00Z"}, "end": {"dateTime": "2026-03-02T15:00:00Z"}}
			]
		}`))
	})

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	events, err := cal.ListBusy(context.Background(), "primary", from, from.Add(7*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "ev1", events[0].ID)
	assert.Equal(t, "Gym", events[0].Summary)
	assert.False(t, events[0].Pushed)

	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	assert.True(t, events[1].Start.Equal(time.Date(2026, 3, 3, 0, 0, 0, 0, berlin)))

	assert.Equal(t, "ev4", events[2].ID)
	assert.True(t, events[2].Pushed)
}

func TestInsert_ConflictMeansAlreadyPushed(t *testing.T) {
	apptID := uuid.New().String()
	wantID, err := EventID(apptID)
	require.NoError(t, err)

	cal := openTestCalendar(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, wantID, body["id"])
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error": {"code": 409, "message": "The requested identifier already exists."}}`))
	})

	got, err := cal.Insert(context.Background(), "primary", calendarsync.OutboundEvent{
		AppointmentID: apptID,
		Summary:       "Consultation",
		Start:         time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		End:           time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, wantID, got)
}

func TestEventID_IsValidGoogleID(t *testing.T) {
	id, err := EventID("018f3a4e-1b2c-7d3e-8f40-123456789abc")
	require.NoError(t, err)
	assert.Len(t, id, 36)
	for _, r := range id {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'v') {
			t.Fatalf("id %q contains %q outside base32hex", id, r)
		}
	}

	_, err = EventID("not-a-uuid")
	assert.Error(t, err)
}
