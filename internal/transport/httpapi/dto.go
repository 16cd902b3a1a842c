package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"appointly/backend/internal/domain"
)

type bookRequest struct {
	ProviderID      string          `json:"provider_id"`
	ConsumerID      string          `json:"consumer_id"`
	ServiceID       string          `json:"service_id"`
	StartTime       time.Time       `json:"start_time"`
	DurationMinutes int             `json:"duration_minutes"`
	AppointmentType string          `json:"appointment_type"`
	PaymentMethod   string          `json:"payment_method"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	PrivateNotes    string          `json:"private_notes"`
	PatientSymptoms string          `json:"patient_symptoms"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type rescheduleRequest struct {
	NewStartTime time.Time `json:"new_start_time"`
}

type appointmentResponse struct {
	ID                 string          `json:"id"`
	ProviderID         string          `json:"provider_id"`
	ConsumerID         string          `json:"consumer_id"`
	ServiceID          string          `json:"service_id"`
	ServiceName        string          `json:"service_name"`
	StartTime          time.Time       `json:"start_time"`
	EndTime            time.Time       `json:"end_time"`
	AppointmentType    string          `json:"appointment_type"`
	Status             string          `json:"status"`
	CancellationReason string          `json:"cancellation_reason,omitempty"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	CanceledByRole     string          `json:"canceled_by_role,omitempty"`
	TotalPrice         decimal.Decimal `json:"total_price"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	Currency           string          `json:"currency"`
	PaymentStatus      string          `json:"payment_status"`
	PaymentMethod      string          `json:"payment_method"`
	PrivateNotes       string          `json:"private_notes,omitempty"`
	PatientSymptoms    string          `json:"patient_symptoms,omitempty"`
	MeetingURL         string          `json:"meeting_url,omitempty"`
	RescheduledFromID  string          `json:"rescheduled_from_id,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// toAppointmentResponse hides the provider's private notes from consumers.
func toAppointmentResponse(a domain.Appointment, viewer domain.Actor) appointmentResponse {
	out := appointmentResponse{
		ID:                 a.ID.String(),
		ProviderID:         a.ProviderID,
		ConsumerID:         a.ConsumerID,
		ServiceID:          a.ServiceID,
		ServiceName:        a.ServiceNameSnapshot,
		StartTime:          a.StartTime,
		EndTime:            a.EndTime,
		AppointmentType:    string(a.AppointmentType),
		Status:             string(a.Status),
		CancellationReason: a.CancellationReason,
		CanceledAt:         a.CanceledAt,
		CanceledByRole:     string(a.CanceledByRole),
		TotalPrice:         a.TotalPrice.Round(2),
		AmountPaid:         a.AmountPaid.Round(2),
		Currency:           a.Currency,
		PaymentStatus:      string(a.PaymentStatus),
		PaymentMethod:      string(a.PaymentMethod),
		PatientSymptoms:    a.PatientSymptoms,
		MeetingURL:         a.MeetingURL,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
	if viewer.IsProvider() {
		out.PrivateNotes = a.PrivateNotes
	}
	if a.RescheduledFromID != nil {
		out.RescheduledFromID = a.RescheduledFromID.String()
	}
	return out
}

type dayHoursRequest struct {
	DayOfWeek  int16   `json:"day_of_week"`
	StartTime  string  `json:"start_time"`
	EndTime    string  `json:"end_time"`
	BreakStart *string `json:"break_start,omitempty"`
	BreakEnd   *string `json:"break_end,omitempty"`
}

type scheduleRequest struct {
	Timezone string            `json:"timezone"`
	Days     []dayHoursRequest `json:"days"`
}

type scheduleResponse struct {
	Timezone string            `json:"timezone"`
	Days     []dayHoursRequest `json:"days"`
}

func toScheduleResponse(rows []domain.WeeklyHours) scheduleResponse {
	out := scheduleResponse{Timezone: "UTC", Days: make([]dayHoursRequest, 0, len(rows))}
	for i, r := range rows {
		if i == 0 && r.Timezone != "" {
			out.Timezone = r.Timezone
		}
		out.Days = append(out.Days, dayHoursRequest{
			DayOfWeek:  r.DayOfWeek,
			StartTime:  r.StartTime,
			EndTime:    r.EndTime,
			BreakStart: r.BreakStart,
			BreakEnd:   r.BreakEnd,
		})
	}
	return out
}

type blockRequest struct {
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
	Reason        string    `json:"reason"`
}

type blockResponse struct {
	ID            string    `json:"id"`
	ProviderID    string    `json:"provider_id"`
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
	Reason        string    `json:"reason,omitempty"`
	ExternalID    string    `json:"external_id,omitempty"`
	IsManual      bool      `json:"is_manual"`
}

func toBlockResponse(b domain.Block) blockResponse {
	out := blockResponse{
		ID:            b.ID.String(),
		ProviderID:    b.ProviderID,
		StartDateTime: b.StartDateTime,
		EndDateTime:   b.EndDateTime,
		Reason:        b.Reason,
		IsManual:      b.IsManual,
	}
	if b.ExternalID != nil {
		out.ExternalID = *b.ExternalID
	}
	return out
}
