package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/appointments"
)

const idempotencyHeader = "Idempotency-Key"

func (h *handler) book(c *gin.Context) {
	var req bookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed booking request: "+err.Error())
		return
	}
	actor := actorFrom(c)

	appt, err := h.appts.Book(c.Request.Context(), appointments.BookInput{
		Actor:           actor,
		ProviderID:      req.ProviderID,
		ConsumerID:      req.ConsumerID,
		ServiceID:       req.ServiceID,
		StartTime:       req.StartTime,
		DurationMinutes: req.DurationMinutes,
		AppointmentType: domain.AppointmentType(strings.ToUpper(strings.TrimSpace(req.AppointmentType))),
		PaymentMethod:   domain.PaymentMethod(strings.ToUpper(strings.TrimSpace(req.PaymentMethod))),
		AmountPaid:      req.AmountPaid,
		PrivateNotes:    req.PrivateNotes,
		PatientSymptoms: req.PatientSymptoms,
		IdempotencyKey:  strings.TrimSpace(c.GetHeader(idempotencyHeader)),
	})
	if err != nil {
		respondError(c, h.log, "book", err)
		return
	}
	c.JSON(http.StatusCreated, toAppointmentResponse(appt, actor))
}

func (h *handler) getAppointment(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	appt, err := h.appts.Get(c.Request.Context(), actor, id)
	if err != nil {
		respondError(c, h.log, "get_appointment", err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt, actor))
}

func (h *handler) listAppointments(c *gin.Context) {
	from, to, ok := window(c)
	if !ok {
		return
	}
	actor := actorFrom(c)
	list, err := h.appts.List(c.Request.Context(), actor, from, to)
	if err != nil {
		respondError(c, h.log, "list_appointments", err)
		return
	}
	out := make([]appointmentResponse, 0, len(list))
	for _, a := range list {
		out = append(out, toAppointmentResponse(a, actor))
	}
	c.JSON(http.StatusOK, out)
}

func (h *handler) cancel(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "malformed cancel request: "+err.Error())
			return
		}
	}
	actor := actorFrom(c)
	appt, err := h.appts.Cancel(c.Request.Context(), actor, id, req.Reason)
	if err != nil {
		respondError(c, h.log, "cancel", err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt, actor))
}

func (h *handler) reschedule(c *gin.Context) {
	id, ok := pathUUID(c)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "malformed reschedule request: "+err.Error())
		return
	}
	if req.NewStartTime.IsZero() {
		badRequest(c, "new_start_time is required")
		return
	}
	actor := actorFrom(c)
	appt, err := h.appts.Reschedule(c.Request.Context(), actor, id, req.NewStartTime)
	if err != nil {
		respondError(c, h.log, "reschedule", err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt, actor))
}

type transitionFunc func(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)

// transition serves the body-less status changes: confirm, complete and no-show.
func (h *handler) transition(op string, fn transitionFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUUID(c)
		if !ok {
			return
		}
		actor := actorFrom(c)
		appt, err := fn(c.Request.Context(), actor, id)
		if err != nil {
			respondError(c, h.log, op, err)
			return
		}
		c.JSON(http.StatusOK, toAppointmentResponse(appt, actor))
	}
}

func pathUUID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "id must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

const (
	defaultLookBack = 30 * 24 * time.Hour
	defaultSpan     = 120 * 24 * time.Hour
	maxListDays     = 366
)

// window reads the optional from/to RFC3339 query bounds. A missing from
// starts a month back and a missing to ends defaultSpan after from. Spans
// longer than maxListDays are rejected.
func window(c *gin.Context) (time.Time, time.Time, bool) {
	var from, to time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "from must be RFC3339")
			return from, to, false
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			badRequest(c, "to must be RFC3339")
			return from, to, false
		}
		to = t
	}
	if from.IsZero() {
		from = time.Now().UTC().Add(-defaultLookBack)
	}
	if to.IsZero() {
		to = from.Add(defaultSpan)
	}
	if !to.After(from) {
		badRequest(c, "to must be after from")
		return from, to, false
	}
	if to.Sub(from) > maxListDays*24*time.Hour {
		badRequest(c, fmt.Sprintf("window must not exceed %d days", maxListDays))
		return from, to, false
	}
	return from, to, true
}
