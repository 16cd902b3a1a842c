package appointments

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type BookInput struct {
	Actor           domain.Actor
	ProviderID      string
	ConsumerID      string
	ServiceID       string
	StartTime       time.Time
	DurationMinutes int
	AppointmentType domain.AppointmentType
	PaymentMethod   domain.PaymentMethod
	AmountPaid      decimal.Decimal
	PrivateNotes    string
	PatientSymptoms string
	IdempotencyKey  string
}

// Book creates an appointment if the interval is free in the provider's
// calendar. The check and the insert run under the provider lock.
func (s *Service) Book(ctx context.Context, in BookInput) (domain.Appointment, error) {
	appt, err := s.prepareBooking(ctx, in)
	if err != nil {
		s.metrics.Booking(bookingOutcome(err))
		return domain.Appointment{}, err
	}

	var (
		out    domain.Appointment
		replay bool
	)
	err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.ProviderTx) error {
		var err error
		out, replay, err = s.bookInTx(ctx, tx, appt, in.Actor)
		return err
	})
	if err != nil {
		s.metrics.Booking(bookingOutcome(err))
		return domain.Appointment{}, err
	}

	if replay {
		s.metrics.Booking("replayed")
		s.log.Info("appointment booking replayed", slog.String("appointment_id", out.ID.String()))
		return out, nil
	}

	s.metrics.Booking("booked")
	if s.sync != nil {
		s.sync.Notify(out.ProviderID)
	}
	s.log.Info(
		"appointment booked",
		slog.String("appointment_id", out.ID.String()),
		slog.String("provider_id", out.ProviderID),
		slog.String("consumer_id", out.ConsumerID),
		slog.Time("start_time", out.StartTime),
		slog.Time("end_time", out.EndTime),
		slog.String("status", string(out.Status)),
	)
	return out, nil
}

func (s *Service) prepareBooking(ctx context.Context, in BookInput) (domain.Appointment, error) {
	providerID := strings.TrimSpace(in.ProviderID)
	consumerID := strings.TrimSpace(in.ConsumerID)
	serviceID := strings.TrimSpace(in.ServiceID)

	switch in.Actor.Role {
	case domain.RoleConsumer:
		if consumerID == "" {
			consumerID = in.Actor.ID
		}
		if consumerID != in.Actor.ID {
			return domain.Appointment{}, domain.ErrPermissionDenied
		}
	case domain.RoleProvider:
		if providerID == "" {
			providerID = in.Actor.ID
		}
		if providerID != in.Actor.ID {
			return domain.Appointment{}, domain.ErrPermissionDenied
		}
	default:
		return domain.Appointment{}, domain.ErrPermissionDenied
	}

	if providerID == "" {
		return domain.Appointment{}, domain.NewValidationError("provider_id is required")
	}
	if consumerID == "" {
		return domain.Appointment{}, domain.NewValidationError("consumer_id is required")
	}
	if serviceID == "" {
		return domain.Appointment{}, domain.NewValidationError("service_id is required")
	}
	if !in.AppointmentType.Valid() {
		return domain.Appointment{}, domain.NewValidationError("appointment_type must be ONLINE or IN_PERSON")
	}
	if !in.PaymentMethod.Valid() {
		return domain.Appointment{}, domain.NewValidationError("payment_method must be one of CASH, CARD, WALLET, TRANSFER")
	}
	if in.AmountPaid.IsNegative() {
		return domain.Appointment{}, domain.NewValidationError("amount_paid must not be negative")
	}

	duration := time.Duration(in.DurationMinutes) * time.Minute
	if duration <= 0 {
		return domain.Appointment{}, domain.NewValidationError("duration must be positive")
	}
	if duration > maxAppointmentDuration {
		return domain.Appointment{}, domain.NewValidationError("duration too long")
	}
	start := in.StartTime.UTC()
	if err := s.checkStart(start); err != nil {
		return domain.Appointment{}, err
	}

	id, err := bookingID(in.Actor.ID, in.IdempotencyKey)
	if err != nil {
		return domain.Appointment{}, err
	}

	snap, err := s.catalog.Lookup(ctx, providerID, serviceID)
	if err != nil {
		return domain.Appointment{}, err
	}

	paymentStatus := domain.DerivePaymentStatus(in.PaymentMethod, snap.Price, in.AmountPaid)
	status := domain.StatusPending
	if paymentStatus == domain.PaymentStatusPaid {
		status = domain.StatusConfirmed
	}

	appt := domain.Appointment{
		ID:                  id,
		ProviderID:          providerID,
		ConsumerID:          consumerID,
		ServiceID:           serviceID,
		ServiceNameSnapshot: snap.Name,
		StartTime:           start,
		EndTime:             start.Add(duration),
		AppointmentType:     in.AppointmentType,
		Status:              status,
		TotalPrice:          snap.Price,
		AmountPaid:          in.AmountPaid,
		Currency:            snap.Currency,
		PaymentStatus:       paymentStatus,
		PaymentMethod:       in.PaymentMethod,
		PrivateNotes:        strings.TrimSpace(in.PrivateNotes),
		PatientSymptoms:     strings.TrimSpace(in.PatientSymptoms),
	}

	if err := s.attachMeetingLink(ctx, &appt); err != nil {
		return domain.Appointment{}, err
	}
	return appt, nil
}

func bookingID(actorID, idempotencyKey string) (uuid.UUID, error) {
	key := strings.TrimSpace(idempotencyKey)
	if key == "" {
		return uuid.NewV7()
	}
	if len(key) > 256 {
		return uuid.Nil, domain.NewValidationError("idempotency_key too long")
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("appointly:book_appointment:"+actorID+":"+key)), nil
}

func (s *Service) attachMeetingLink(ctx context.Context, appt *domain.Appointment) error {
	if appt.AppointmentType != domain.AppointmentTypeOnline || s.meeting == nil {
		return nil
	}
	url, err := s.meeting.Link(ctx, *appt)
	if err != nil {
		return err
	}
	appt.MeetingURL = url
	return nil
}

// bookInTx runs the availability check and the insert. It reports replay=true
// when an identical appointment with the same id already exists.
func (s *Service) bookInTx(ctx context.Context, tx store.ProviderTx, appt domain.Appointment, actor domain.Actor) (domain.Appointment, bool, error) {
	existing, err := tx.GetAppointment(ctx, appt.ID)
	switch {
	case err == nil:
		if !sameBooking(existing, appt) {
			return domain.Appointment{}, false, store.ErrIdempotencyConflict
		}
		return existing, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return domain.Appointment{}, false, err
	}

	if err := checkCalendar(ctx, tx, appt); err != nil {
		return domain.Appointment{}, false, err
	}

	created, err := tx.CreateAppointment(ctx, appt)
	if err != nil {
		return domain.Appointment{}, false, err
	}
	if err := s.appendEvent(ctx, tx, domain.EventAppointmentCreated, created, domain.NewAppointmentPayload(created, actor)); err != nil {
		return domain.Appointment{}, false, err
	}
	return created, false, nil
}

// checkCalendar re-reads the provider's state under the lock. Appointment
// overlap is a conflict; falling outside hours or into a block is invalid input.
func checkCalendar(ctx context.Context, tx store.ProviderTx, appt domain.Appointment) error {
	active, err := tx.ListActiveAppointments(ctx, appt.ProviderID, appt.StartTime, appt.EndTime)
	if err != nil {
		return err
	}
	for _, a := range active {
		if a.ID != appt.ID && a.Interval().Overlaps(appt.Interval()) {
			return store.ErrConflict
		}
	}

	hours, err := tx.WeeklyHours(ctx, appt.ProviderID)
	if err != nil {
		return err
	}
	if !domain.WithinWeeklyHours(hours, appt.Interval(), domain.ScheduleLocation(hours)) {
		return domain.NewValidationError("requested time is outside the provider's working hours")
	}

	blocks, err := tx.ListBlocks(ctx, appt.ProviderID, appt.StartTime, appt.EndTime)
	if err != nil {
		return err
	}
	for _, b := range blocks {
		if b.Interval().Overlaps(appt.Interval()) {
			return domain.NewValidationError("requested time overlaps a blocked period")
		}
	}
	return nil
}

func sameBooking(a, b domain.Appointment) bool {
	return a.ProviderID == b.ProviderID &&
		a.ConsumerID == b.ConsumerID &&
		a.ServiceID == b.ServiceID &&
		a.AppointmentType == b.AppointmentType &&
		a.PaymentMethod == b.PaymentMethod &&
		a.StartTime.Equal(b.StartTime) &&
		a.EndTime.Equal(b.EndTime)
}
