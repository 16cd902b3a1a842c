package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

// ProviderTx is the view of one provider's calendar inside a locked transaction.
type ProviderTx interface {
	WeeklyHours(ctx context.Context, providerID string) ([]domain.WeeklyHours, error)
	ListBlocks(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error)
	ListActiveAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)

	AppendEvent(ctx context.Context, ev domain.OutboxEvent) error
}
