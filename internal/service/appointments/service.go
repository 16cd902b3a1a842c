package appointments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/metrics"
	"appointly/backend/internal/store"
)

const maxAppointmentDuration = 24 * time.Hour

// SyncNotifier is told about new appointments so they can be pushed to the
// provider's external calendar. Notify must not block.
type SyncNotifier interface {
	Notify(providerID string)
}

type Config struct {
	MinLeadTime time.Duration
}

type Service struct {
	repo    store.AppointmentRepository
	catalog Catalog
	meeting MeetingLinker
	policy  CancellationPolicy
	sync    SyncNotifier
	metrics *metrics.Collector
	cfg     Config
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Service)

func WithMeetingLinker(m MeetingLinker) Option {
	return func(s *Service) { s.meeting = m }
}

func WithCancellationPolicy(p CancellationPolicy) Option {
	return func(s *Service) { s.policy = p }
}

func WithSyncNotifier(n SyncNotifier) Option {
	return func(s *Service) { s.sync = n }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(s *Service) { s.metrics = m }
}

func NewService(repo store.AppointmentRepository, catalog Catalog, cfg Config, log *slog.Logger, opts ...Option) *Service {
	if cfg.MinLeadTime < 0 {
		cfg.MinLeadTime = 0
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo:    repo,
		catalog: catalog,
		policy:  NoPenalty{},
		cfg:     cfg,
		now:     time.Now,
		log:     log.With(slog.String("component", "service.appointments")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the appointment when the actor takes part in it.
func (s *Service) Get(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment_id is required")
	}
	appt, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !appt.IsParticipant(actor) {
		return domain.Appointment{}, domain.ErrPermissionDenied
	}
	return appt, nil
}

// List returns the actor's own appointments intersecting the window.
func (s *Service) List(ctx context.Context, actor domain.Actor, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if actor.ID == "" {
		return nil, domain.NewValidationError("actor is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if !end.After(start) {
		return nil, domain.NewValidationError("window end must be after window start")
	}

	switch actor.Role {
	case domain.RoleProvider:
		return s.repo.ListForProvider(ctx, actor.ID, start, end)
	case domain.RoleConsumer:
		return s.repo.ListForConsumer(ctx, actor.ID, start, end)
	}
	return nil, domain.ErrPermissionDenied
}

func (s *Service) appendEvent(ctx context.Context, tx store.ProviderTx, eventType string, appt domain.Appointment, payload domain.AppointmentEventPayload) error {
	ev, err := domain.NewAppointmentEvent(eventType, appt.ID, payload)
	if err != nil {
		return err
	}
	return tx.AppendEvent(ctx, ev)
}

func (s *Service) checkStart(start time.Time) error {
	now := s.now()
	if !start.After(now) {
		return domain.NewValidationError("start_time must be in the future")
	}
	if start.Before(now.Add(s.cfg.MinLeadTime)) {
		return domain.Validationf("start_time must be at least %s from now", s.cfg.MinLeadTime)
	}
	return nil
}

func bookingOutcome(err error) string {
	var vErr *domain.ValidationError
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, store.ErrConflict):
		return "conflict"
	case errors.Is(err, store.ErrIdempotencyConflict), errors.Is(err, domain.ErrPermissionDenied), errors.As(err, &vErr):
		return "rejected"
	}
	return "error"
}
