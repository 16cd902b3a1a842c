package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type AppointmentRepository interface {
	// InProviderTransaction runs fn in one transaction holding the provider's
	// exclusive lock. Different providers never contend.
	InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx ProviderTx) error) error

	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListForProvider(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	ListForConsumer(ctx context.Context, consumerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	// ListActive returns the provider's appointments outside the terminal negative
	// statuses that intersect [windowStart, windowEnd).
	ListActive(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	// ListUnpushed returns open appointments whose end_time is after since and
	// that have no remote calendar event yet.
	ListUnpushed(ctx context.Context, providerID string, since time.Time, limit int) ([]domain.Appointment, error)
	SetExternalEventID(ctx context.Context, appointmentID uuid.UUID, externalEventID string) error
}
