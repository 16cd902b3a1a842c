package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusPending            AppointmentStatus = "PENDING"
	StatusConfirmed          AppointmentStatus = "CONFIRMED"
	StatusCompleted          AppointmentStatus = "COMPLETED"
	StatusCanceledByPatient  AppointmentStatus = "CANCELED_BY_PATIENT"
	StatusCanceledByProvider AppointmentStatus = "CANCELED_BY_PROVIDER"
	StatusNoShow             AppointmentStatus = "NO_SHOW"
)

// TerminalNegativeStatuses free the appointment's interval for rebooking.
var TerminalNegativeStatuses = []AppointmentStatus{
	StatusCanceledByPatient,
	StatusCanceledByProvider,
	StatusNoShow,
}

func (s AppointmentStatus) IsTerminalNegative() bool {
	switch s {
	case StatusCanceledByPatient, StatusCanceledByProvider, StatusNoShow:
		return true
	}
	return false
}

// IsOpen reports whether the appointment can still be confirmed, canceled or completed.
func (s AppointmentStatus) IsOpen() bool {
	return s == StatusPending || s == StatusConfirmed
}

type AppointmentType string

const (
	AppointmentTypeOnline   AppointmentType = "ONLINE"
	AppointmentTypeInPerson AppointmentType = "IN_PERSON"
)

func (t AppointmentType) Valid() bool {
	return t == AppointmentTypeOnline || t == AppointmentTypeInPerson
}

type PaymentMethod string

const (
	PaymentMethodCash     PaymentMethod = "CASH"
	PaymentMethodCard     PaymentMethod = "CARD"
	PaymentMethodWallet   PaymentMethod = "WALLET"
	PaymentMethodTransfer PaymentMethod = "TRANSFER"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCash, PaymentMethodCard, PaymentMethodWallet, PaymentMethodTransfer:
		return true
	}
	return false
}

type PaymentStatus string

const (
	PaymentStatusUnpaid  PaymentStatus = "UNPAID"
	PaymentStatusPartial PaymentStatus = "PARTIAL"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// DerivePaymentStatus classifies what has been captured so far. Cash is always
// settled at the visit, so it never counts as paid up front.
func DerivePaymentStatus(method PaymentMethod, total, paid decimal.Decimal) PaymentStatus {
	if method == PaymentMethodCash {
		return PaymentStatusUnpaid
	}
	if paid.GreaterThanOrEqual(total) {
		return PaymentStatusPaid
	}
	if paid.IsPositive() {
		return PaymentStatusPartial
	}
	return PaymentStatusUnpaid
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                  uuid.UUID         `bun:"id,pk,type:uuid"`
	ProviderID          string            `bun:"provider_id,notnull"`
	ConsumerID          string            `bun:"consumer_id,notnull"`
	ServiceID           string            `bun:"service_id,notnull"`
	ServiceNameSnapshot string            `bun:"service_name_snapshot,notnull"`
	StartTime           time.Time         `bun:"start_time,notnull"`
	EndTime             time.Time         `bun:"end_time,notnull"`
	AppointmentType     AppointmentType   `bun:"appointment_type,notnull"`
	Status              AppointmentStatus `bun:"status,notnull"`
	CancellationReason  string            `bun:"cancellation_reason,nullzero"`
	CanceledAt          *time.Time        `bun:"canceled_at"`
	CanceledByRole      Role              `bun:"canceled_by_role,nullzero"`
	TotalPrice          decimal.Decimal   `bun:"total_price,type:numeric(12,2),notnull"`
	AmountPaid          decimal.Decimal   `bun:"amount_paid,type:numeric(12,2),notnull"`
	Currency            string            `bun:"currency,notnull"`
	PaymentStatus       PaymentStatus     `bun:"payment_status,notnull"`
	PaymentMethod       PaymentMethod     `bun:"payment_method,notnull"`
	PrivateNotes        string            `bun:"private_notes,nullzero"`
	PatientSymptoms     string            `bun:"patient_symptoms,nullzero"`
	MeetingURL          string            `bun:"meeting_url,nullzero"`
	RescheduledFromID   *uuid.UUID        `bun:"rescheduled_from_id,type:uuid"`
	ExternalEventID     string            `bun:"external_event_id,nullzero"`
	CreatedAt           time.Time         `bun:"created_at,notnull"`
	UpdatedAt           time.Time         `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Appointment) Interval() Interval {
	return Interval{Start: a.StartTime, End: a.EndTime}
}

func (a Appointment) Duration() time.Duration {
	return a.EndTime.Sub(a.StartTime)
}

// IsParticipant reports whether the actor is the provider or the consumer of the appointment.
func (a Appointment) IsParticipant(actor Actor) bool {
	switch actor.Role {
	case RoleProvider:
		return actor.ID == a.ProviderID
	case RoleConsumer:
		return actor.ID == a.ConsumerID
	}
	return false
}
