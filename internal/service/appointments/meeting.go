package appointments

import (
	"context"
	"net/url"
	"strings"

	"appointly/backend/internal/domain"
)

type MeetingLinker interface {
	Link(ctx context.Context, appt domain.Appointment) (string, error)
}

// RoomLinker derives a stable meeting room URL from the appointment id.
type RoomLinker struct {
	base *url.URL
}

func NewRoomLinker(baseURL string) (*RoomLinker, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return nil, err
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, domain.NewValidationError("meeting base url must be absolute")
	}
	return &RoomLinker{base: u}, nil
}

func (l *RoomLinker) Link(ctx context.Context, appt domain.Appointment) (string, error) {
	return l.base.JoinPath("appointly-" + appt.ID.String()).String(), nil
}
