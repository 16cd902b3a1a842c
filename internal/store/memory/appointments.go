package memory

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type AppointmentRepo struct {
	s *Store
}

func (r *AppointmentRepo) InProviderTransaction(ctx context.Context, providerID string, fn func(ctx context.Context, tx store.ProviderTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	unlock := r.s.locks.Lock(providerID)
	defer unlock()

	tx := &providerTx{
		s:      r.s,
		staged: make(map[uuid.UUID]domain.Appointment),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (r *AppointmentRepo) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	a, ok := r.s.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (r *AppointmentRepo) ListForProvider(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	return r.filter(func(a domain.Appointment) bool {
		return a.ProviderID == providerID && a.Interval().Overlaps(window)
	}), nil
}

func (r *AppointmentRepo) ListForConsumer(ctx context.Context, consumerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	return r.filter(func(a domain.Appointment) bool {
		return a.ConsumerID == consumerID && a.Interval().Overlaps(window)
	}), nil
}

func (r *AppointmentRepo) ListActive(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	return r.filter(func(a domain.Appointment) bool {
		return a.ProviderID == providerID && !a.Status.IsTerminalNegative() && a.Interval().Overlaps(window)
	}), nil
}

func (r *AppointmentRepo) ListUnpushed(ctx context.Context, providerID string, since time.Time, limit int) ([]domain.Appointment, error) {
	if limit <= 0 {
		limit = 100
	}
	out := r.filter(func(a domain.Appointment) bool {
		return a.ProviderID == providerID &&
			a.ExternalEventID == "" &&
			a.Status.IsOpen() &&
			a.EndTime.After(since)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *AppointmentRepo) SetExternalEventID(ctx context.Context, appointmentID uuid.UUID, externalEventID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	a, ok := r.s.appointments[appointmentID]
	if !ok {
		return store.ErrNotFound
	}
	a.ExternalEventID = externalEventID
	a.UpdatedAt = time.Now().UTC()
	r.s.appointments[appointmentID] = a
	return nil
}

func (r *AppointmentRepo) filter(keep func(domain.Appointment) bool) []domain.Appointment {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Appointment
	for _, a := range r.s.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out
}

func sortByStart(rows []domain.Appointment) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].ID.String() < rows[j].ID.String()
		}
		return rows[i].StartTime.Before(rows[j].StartTime)
	})
}

// providerTx reads committed state overlaid with its own staged writes. The
// provider lock is held for its whole lifetime.
type providerTx struct {
	s      *Store
	staged map[uuid.UUID]domain.Appointment
	events []domain.OutboxEvent
}

func (t *providerTx) WeeklyHours(ctx context.Context, providerID string) ([]domain.WeeklyHours, error) {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return append([]domain.WeeklyHours(nil), t.s.hours[providerID]...), nil
}

func (t *providerTx) ListBlocks(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	return (&BlockRepo{s: t.s}).List(ctx, providerID, windowStart, windowEnd)
}

func (t *providerTx) ListActiveAppointments(ctx context.Context, providerID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	window := domain.Interval{Start: windowStart, End: windowEnd}
	var out []domain.Appointment
	for _, a := range t.view() {
		if a.ProviderID == providerID && !a.Status.IsTerminalNegative() && a.Interval().Overlaps(window) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *providerTx) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if a, ok := t.staged[appointmentID]; ok {
		return a, nil
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	a, ok := t.s.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (t *providerTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if _, err := t.GetAppointment(ctx, appt.ID); err == nil {
		return domain.Appointment{}, store.ErrIdempotencyConflict
	}
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	if !appt.Status.IsTerminalNegative() && t.overlapsActive(appt) {
		return domain.Appointment{}, store.ErrConflict
	}

	now := time.Now().UTC()
	if appt.CreatedAt.IsZero() {
		appt.CreatedAt = now
	}
	appt.UpdatedAt = now
	t.staged[appt.ID] = appt
	return appt, nil
}

func (t *providerTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	current, err := t.GetAppointment(ctx, appt.ID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !appt.Status.IsTerminalNegative() && current.Status.IsTerminalNegative() && t.overlapsActive(appt) {
		return domain.Appointment{}, store.ErrConflict
	}
	applyMutableColumns(&current, appt)
	current.UpdatedAt = time.Now().UTC()
	t.staged[current.ID] = current
	return current, nil
}

func (t *providerTx) AppendEvent(ctx context.Context, ev domain.OutboxEvent) error {
	if ev.EventID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		ev.EventID = id
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *providerTx) overlapsActive(appt domain.Appointment) bool {
	for _, other := range t.view() {
		if other.ID == appt.ID || other.ProviderID != appt.ProviderID || other.Status.IsTerminalNegative() {
			continue
		}
		if other.Interval().Overlaps(appt.Interval()) {
			return true
		}
	}
	return false
}

func (t *providerTx) view() map[uuid.UUID]domain.Appointment {
	t.s.mu.RLock()
	out := make(map[uuid.UUID]domain.Appointment, len(t.s.appointments)+len(t.staged))
	for id, a := range t.s.appointments {
		out[id] = a
	}
	t.s.mu.RUnlock()
	for id, a := range t.staged {
		out[id] = a
	}
	return out
}

func (t *providerTx) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, a := range t.staged {
		if current, ok := t.s.appointments[id]; ok {
			applyMutableColumns(&current, a)
			current.UpdatedAt = a.UpdatedAt
			t.s.appointments[id] = current
			continue
		}
		t.s.appointments[id] = a
	}
	for _, ev := range t.events {
		t.s.nextEventID++
		ev.ID = t.s.nextEventID
		t.s.outbox = append(t.s.outbox, ev)
	}
}

// applyMutableColumns copies what a calendar transaction may change. The
// external event id is owned by sync and never overwritten here.
func applyMutableColumns(dst *domain.Appointment, src domain.Appointment) {
	dst.Status = src.Status
	dst.CancellationReason = src.CancellationReason
	dst.CanceledAt = src.CanceledAt
	dst.CanceledByRole = src.CanceledByRole
	dst.PaymentStatus = src.PaymentStatus
	dst.AmountPaid = src.AmountPaid
	dst.MeetingURL = src.MeetingURL
}
