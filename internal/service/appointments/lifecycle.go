package appointments

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

func (s *Service) Confirm(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, actor, appointmentID, domain.EventAppointmentConfirmed, providerOnly,
		func(a *domain.Appointment, now time.Time) (func(*domain.AppointmentEventPayload), error) {
			return nil, a.Confirm()
		})
}

func (s *Service) Complete(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, actor, appointmentID, domain.EventAppointmentCompleted, providerOnly,
		func(a *domain.Appointment, now time.Time) (func(*domain.AppointmentEventPayload), error) {
			return nil, a.Complete(now)
		})
}

func (s *Service) MarkNoShow(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.transition(ctx, actor, appointmentID, domain.EventAppointmentNoShow, providerOnly,
		func(a *domain.Appointment, now time.Time) (func(*domain.AppointmentEventPayload), error) {
			return nil, a.MarkNoShow(now)
		})
}

// Cancel frees the appointment's interval. The cancellation policy outcome is
// carried on the emitted event; nothing is charged here.
func (s *Service) Cancel(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, reason string) (domain.Appointment, error) {
	return s.transition(ctx, actor, appointmentID, domain.EventAppointmentCanceled, anyParticipant,
		func(a *domain.Appointment, now time.Time) (func(*domain.AppointmentEventPayload), error) {
			if err := a.Cancel(actor.Role, reason, now); err != nil {
				return nil, err
			}
			outcome := s.policy.Evaluate(CancellationContext{Appointment: *a, Role: actor.Role, Now: now})
			return outcome.apply, nil
		})
}

// Reschedule cancels the original and books the same service at newStart in
// one provider transaction. If the new booking fails nothing is changed.
func (s *Service) Reschedule(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, newStart time.Time) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment_id is required")
	}
	newStart = newStart.UTC()
	if err := s.checkStart(newStart); err != nil {
		return domain.Appointment{}, err
	}

	original, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !original.IsParticipant(actor) {
		return domain.Appointment{}, domain.ErrPermissionDenied
	}

	var out domain.Appointment
	err = s.repo.InProviderTransaction(ctx, original.ProviderID, func(ctx context.Context, tx store.ProviderTx) error {
		current, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		prevStatus := current.Status
		now := s.now()
		if err := current.Cancel(actor.Role, "Rescheduled to "+newStart.Format(time.RFC3339), now); err != nil {
			return err
		}
		canceled, err := tx.UpdateAppointment(ctx, current)
		if err != nil {
			return err
		}

		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		fromID := canceled.ID
		next := domain.Appointment{
			ID:                  id,
			ProviderID:          canceled.ProviderID,
			ConsumerID:          canceled.ConsumerID,
			ServiceID:           canceled.ServiceID,
			ServiceNameSnapshot: canceled.ServiceNameSnapshot,
			StartTime:           newStart,
			EndTime:             newStart.Add(canceled.Duration()),
			AppointmentType:     canceled.AppointmentType,
			Status:              carriedStatus(prevStatus),
			TotalPrice:          canceled.TotalPrice,
			AmountPaid:          canceled.AmountPaid,
			Currency:            canceled.Currency,
			PaymentStatus:       canceled.PaymentStatus,
			PaymentMethod:       canceled.PaymentMethod,
			PrivateNotes:        canceled.PrivateNotes,
			PatientSymptoms:     canceled.PatientSymptoms,
			RescheduledFromID:   &fromID,
		}
		if err := s.attachMeetingLink(ctx, &next); err != nil {
			return err
		}

		booked, _, err := s.bookInTx(ctx, tx, next, actor)
		if err != nil {
			return err
		}

		cancelPayload := domain.NewAppointmentPayload(canceled, actor)
		cancelPayload.RescheduledToID = booked.ID.String()
		if err := s.appendEvent(ctx, tx, domain.EventAppointmentCanceled, canceled, cancelPayload); err != nil {
			return err
		}
		if err := s.appendEvent(ctx, tx, domain.EventAppointmentRescheduled, booked, domain.NewAppointmentPayload(booked, actor)); err != nil {
			return err
		}
		out = booked
		return nil
	})
	if err != nil {
		s.log.Info("appointment reschedule rejected", slog.Any("err", err), slog.String("appointment_id", appointmentID.String()))
		return domain.Appointment{}, err
	}

	s.metrics.Transition(domain.EventAppointmentRescheduled)
	if s.sync != nil {
		s.sync.Notify(out.ProviderID)
	}
	s.log.Info(
		"appointment rescheduled",
		slog.String("appointment_id", out.ID.String()),
		slog.String("rescheduled_from_id", appointmentID.String()),
		slog.Time("start_time", out.StartTime),
	)
	return out, nil
}

// carriedStatus keeps a confirmed booking confirmed when it moves.
func carriedStatus(prev domain.AppointmentStatus) domain.AppointmentStatus {
	if prev == domain.StatusConfirmed {
		return domain.StatusConfirmed
	}
	return domain.StatusPending
}

type authorizeFunc func(actor domain.Actor, a domain.Appointment) bool

func anyParticipant(actor domain.Actor, a domain.Appointment) bool {
	return a.IsParticipant(actor)
}

func providerOnly(actor domain.Actor, a domain.Appointment) bool {
	return actor.IsProvider() && actor.ID == a.ProviderID
}

type mutateFunc func(a *domain.Appointment, now time.Time) (func(*domain.AppointmentEventPayload), error)

func (s *Service) transition(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, eventType string, authorize authorizeFunc, mutate mutateFunc) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, domain.NewValidationError("appointment_id is required")
	}
	appt, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !authorize(actor, appt) {
		return domain.Appointment{}, domain.ErrPermissionDenied
	}

	var out domain.Appointment
	err = s.repo.InProviderTransaction(ctx, appt.ProviderID, func(ctx context.Context, tx store.ProviderTx) error {
		current, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return err
		}
		decorate, err := mutate(&current, s.now())
		if err != nil {
			return err
		}
		updated, err := tx.UpdateAppointment(ctx, current)
		if err != nil {
			return err
		}
		payload := domain.NewAppointmentPayload(updated, actor)
		if decorate != nil {
			decorate(&payload)
		}
		if err := s.appendEvent(ctx, tx, eventType, updated, payload); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.metrics.Transition(eventType)
	s.log.Info(
		"appointment transitioned",
		slog.String("appointment_id", out.ID.String()),
		slog.String("event_type", eventType),
		slog.String("status", string(out.Status)),
		slog.String("actor_role", string(actor.Role)),
	)
	return out, nil
}
