package domain

import (
	"fmt"
	"strings"
	"time"
)

const DefaultCancellationReason = "No reason provided"

// Cancel moves an open appointment to the cancellation status matching the acting role.
func (a *Appointment) Cancel(by Role, reason string, now time.Time) error {
	if !a.Status.IsOpen() {
		return fmt.Errorf("cancel from %s: %w", a.Status, ErrInvalidTransition)
	}

	switch by {
	case RoleProvider:
		a.Status = StatusCanceledByProvider
	case RoleConsumer:
		a.Status = StatusCanceledByPatient
	default:
		return ErrPermissionDenied
	}

	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultCancellationReason
	}
	at := now.UTC()
	a.CancellationReason = reason
	a.CanceledAt = &at
	a.CanceledByRole = by
	return nil
}

func (a *Appointment) Confirm() error {
	if a.Status != StatusPending {
		return fmt.Errorf("confirm from %s: %w", a.Status, ErrInvalidTransition)
	}
	a.Status = StatusConfirmed
	return nil
}

// Complete closes out a visit. It is only allowed once the appointment has ended.
func (a *Appointment) Complete(now time.Time) error {
	if !a.Status.IsOpen() {
		return fmt.Errorf("complete from %s: %w", a.Status, ErrInvalidTransition)
	}
	if now.Before(a.EndTime) {
		return fmt.Errorf("complete before end_time: %w", ErrInvalidTransition)
	}
	a.Status = StatusCompleted
	return nil
}

func (a *Appointment) MarkNoShow(now time.Time) error {
	if a.Status != StatusConfirmed {
		return fmt.Errorf("no-show from %s: %w", a.Status, ErrInvalidTransition)
	}
	if now.Before(a.StartTime) {
		return fmt.Errorf("no-show before start_time: %w", ErrInvalidTransition)
	}
	a.Status = StatusNoShow
	return nil
}
