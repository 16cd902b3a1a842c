package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

const (
	EventAppointmentCreated     = "appointment.created"
	EventAppointmentConfirmed   = "appointment.confirmed"
	EventAppointmentCanceled    = "appointment.canceled"
	EventAppointmentCompleted   = "appointment.completed"
	EventAppointmentNoShow      = "appointment.no_show"
	EventAppointmentRescheduled = "appointment.rescheduled"

	AggregateAppointment = "appointment"
)

// OutboxEvent is a domain fact recorded in the same transaction as the change
// that produced it and relayed to the broker afterwards.
type OutboxEvent struct {
	bun.BaseModel `bun:"table:outbox_events"`

	ID            int64           `bun:"id,pk,autoincrement"`
	EventID       uuid.UUID       `bun:"event_id,type:uuid,notnull"`
	AggregateType string          `bun:"aggregate_type,notnull"`
	AggregateID   string          `bun:"aggregate_id,notnull"`
	EventType     string          `bun:"event_type,notnull"`
	Payload       json.RawMessage `bun:"payload,type:jsonb,notnull"`
	CreatedAt     time.Time       `bun:"created_at,notnull"`
	PublishedAt   *time.Time      `bun:"published_at"`
}

func (e *OutboxEvent) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if e.EventID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.EventID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}

// AppointmentEventPayload is the body of every appointment.* fact.
type AppointmentEventPayload struct {
	AppointmentID     string            `json:"appointment_id"`
	ProviderID        string            `json:"provider_id"`
	ConsumerID        string            `json:"consumer_id"`
	ServiceID         string            `json:"service_id"`
	StartTime         time.Time         `json:"start_time"`
	EndTime           time.Time         `json:"end_time"`
	Status            AppointmentStatus `json:"status"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	Reason            string            `json:"reason,omitempty"`
	ActorID           string            `json:"actor_id,omitempty"`
	ActorRole         Role              `json:"actor_role,omitempty"`
	RescheduledFromID string            `json:"rescheduled_from_id,omitempty"`
	RescheduledToID   string            `json:"rescheduled_to_id,omitempty"`
	PenaltyPercent    *decimal.Decimal  `json:"penalty_percent,omitempty"`
	PenaltyAmount     *decimal.Decimal  `json:"penalty_amount,omitempty"`
}

func NewAppointmentPayload(a Appointment, actor Actor) AppointmentEventPayload {
	p := AppointmentEventPayload{
		AppointmentID: a.ID.String(),
		ProviderID:    a.ProviderID,
		ConsumerID:    a.ConsumerID,
		ServiceID:     a.ServiceID,
		StartTime:     a.StartTime.UTC(),
		EndTime:       a.EndTime.UTC(),
		Status:        a.Status,
		PaymentStatus: a.PaymentStatus,
		Reason:        a.CancellationReason,
		ActorID:       actor.ID,
		ActorRole:     actor.Role,
	}
	if a.RescheduledFromID != nil {
		p.RescheduledFromID = a.RescheduledFromID.String()
	}
	return p
}

func NewAppointmentEvent(eventType string, appointmentID uuid.UUID, payload AppointmentEventPayload) (OutboxEvent, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return OutboxEvent{}, err
	}
	return OutboxEvent{
		AggregateType: AggregateAppointment,
		AggregateID:   appointmentID.String(),
		EventType:     eventType,
		Payload:       b,
	}, nil
}
