// Package httpapi exposes the booking, calendar and sync operations over
// HTTP with gin.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"appointly/backend/internal/calendarsync"
	"appointly/backend/internal/domain"
	"appointly/backend/internal/metrics"
	"appointly/backend/internal/service/appointments"
	"appointly/backend/internal/service/schedule"
)

type appointmentsService interface {
	Book(ctx context.Context, in appointments.BookInput) (domain.Appointment, error)
	Get(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)
	List(ctx context.Context, actor domain.Actor, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	Confirm(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)
	Complete(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)
	MarkNoShow(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Appointment, error)
	Cancel(ctx context.Context, actor domain.Actor, id uuid.UUID, reason string) (domain.Appointment, error)
	Reschedule(ctx context.Context, actor domain.Actor, id uuid.UUID, newStart time.Time) (domain.Appointment, error)
}

type availabilityService interface {
	ComputeSlots(ctx context.Context, providerID string, startDate, endDate time.Time, slotMinutes int) ([]time.Time, error)
}

type scheduleService interface {
	WeeklyHours(ctx context.Context, actor domain.Actor) ([]domain.WeeklyHours, error)
	ReplaceWeeklyHours(ctx context.Context, actor domain.Actor, in schedule.ReplaceInput) ([]domain.WeeklyHours, error)
	CreateBlock(ctx context.Context, actor domain.Actor, in schedule.BlockInput) (domain.Block, error)
	ListBlocks(ctx context.Context, actor domain.Actor, windowStart, windowEnd time.Time) ([]domain.Block, error)
	DeleteBlock(ctx context.Context, actor domain.Actor, id uuid.UUID) error
}

type calendarConnector interface {
	AuthURL(ctx context.Context, actor domain.Actor) (string, error)
	Callback(ctx context.Context, code, state string) (domain.CalendarConnection, error)
}

type calendarSyncer interface {
	SyncProvider(ctx context.Context, providerID string) (calendarsync.Summary, error)
}

// Deps wires the router. Connector and Syncer are nil when no calendar
// integration is configured.
type Deps struct {
	Appointments appointmentsService
	Availability availabilityService
	Schedule     scheduleService
	Connector    calendarConnector
	Syncer       calendarSyncer
	// Ready reports whether the process can serve traffic.
	Ready     func(ctx context.Context) error
	Metrics   *metrics.Collector
	JWTSecret []byte
	Log       *slog.Logger
}

type handler struct {
	appts     appointmentsService
	avail     availabilityService
	schedule  scheduleService
	connector calendarConnector
	syncer    calendarSyncer
	ready     func(ctx context.Context) error
	log       *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "transport.http"))

	h := &handler{
		appts:     d.Appointments,
		avail:     d.Availability,
		schedule:  d.Schedule,
		connector: d.Connector,
		syncer:    d.Syncer,
		ready:     d.Ready,
		log:       log,
	}

	r := gin.New()
	r.Use(gin.Recovery(), withRequestID(), withAccessLog(log, d.Metrics))

	r.GET("/healthz", h.healthz)
	r.GET("/readyz", h.readyz)
	if d.Metrics != nil {
		r.GET("/metrics", gin.WrapH(d.Metrics.Handler()))
	}

	r.GET("/calendar/availability/provider/:id", h.availability)
	r.GET("/calendar/callback", h.calendarCallback)

	authed := r.Group("/", withAuth(d.JWTSecret))
	{
		authed.POST("/appointments/book", h.book)
		authed.GET("/appointments", h.listAppointments)
		authed.GET("/appointments/:id", h.getAppointment)
		authed.PUT("/appointments/:id/cancel", h.cancel)
		authed.PUT("/appointments/:id/reschedule", h.reschedule)
		authed.PUT("/appointments/:id/complete", h.transition("complete", h.appts.Complete))
		authed.PUT("/appointments/:id/confirm", h.transition("confirm", h.appts.Confirm))
		authed.PUT("/appointments/:id/no-show", h.transition("no_show", h.appts.MarkNoShow))

		authed.GET("/calendar/schedule", h.getSchedule)
		authed.PUT("/calendar/schedule", h.putSchedule)
		authed.POST("/calendar/block", h.createBlock)
		authed.GET("/calendar/blocks", h.listBlocks)
		authed.DELETE("/calendar/block/:id", h.deleteBlock)
		authed.POST("/calendar/connect", h.calendarConnect)
		authed.POST("/calendar/sync", h.calendarSync)
	}
	return r
}

// NewServer wraps the router with OpenTelemetry server spans.
func NewServer(addr string, router http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           otelhttp.NewHandler(router, "appointly.http"),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) readyz(c *gin.Context) {
	if h.ready != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.ready(ctx); err != nil {
			h.log.Warn("readiness check failed", slog.Any("err", err))
			writeError(c, http.StatusServiceUnavailable, "not_ready", "dependencies unavailable")
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}
