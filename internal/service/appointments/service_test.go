package appointments

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
)

var (
	monday   = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	provider = domain.Actor{ID: "p1", Role: domain.RoleProvider}
	patient  = domain.Actor{ID: "c1", Role: domain.RoleConsumer}
)

type recordingNotifier struct {
	mu        sync.Mutex
	providers []string
}

func (n *recordingNotifier) Notify(providerID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.providers = append(n.providers, providerID)
}

type harness struct {
	svc    *Service
	store  *memory.Store
	now    time.Time
	notify *recordingNotifier
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	s := memory.New()
	_, err := s.Schedules().ReplaceWeeklyHours(context.Background(), "p1", []domain.WeeklyHours{{
		DayOfWeek: int16(time.Monday),
		StartTime: "09:00",
		EndTime:   "17:00",
		Timezone:  "UTC",
	}})
	require.NoError(t, err)

	catalog := NewStaticCatalog([]CatalogEntry{{
		ID:       "consult",
		Name:     "Consultation",
		Price:    decimal.NewFromInt(100),
		Currency: "USD",
	}})
	h := &harness{store: s, now: monday.Add(-24 * time.Hour), notify: &recordingNotifier{}}
	opts = append([]Option{WithSyncNotifier(h.notify)}, opts...)
	h.svc = NewService(s.Appointments(), catalog, Config{}, nil, opts...)
	h.svc.now = func() time.Time { return h.now }
	return h
}

func bookInput(actor domain.Actor, consumerID string, start time.Time) BookInput {
	return BookInput{
		Actor:           actor,
		ProviderID:      "p1",
		ConsumerID:      consumerID,
		ServiceID:       "consult",
		StartTime:       start,
		DurationMinutes: 30,
		AppointmentType: domain.AppointmentTypeInPerson,
		PaymentMethod:   domain.PaymentMethodCash,
	}
}

func eventsOfType(t *testing.T, s *memory.Store, eventType string) []domain.AppointmentEventPayload {
	t.Helper()
	var out []domain.AppointmentEventPayload
	for _, ev := range s.Outbox().Events() {
		if ev.EventType != eventType {
			continue
		}
		var p domain.AppointmentEventPayload
		require.NoError(t, json.Unmarshal(ev.Payload, &p))
		out = append(out, p)
	}
	return out
}

func TestBook_ConcurrentRequestsForSameSlot(t *testing.T) {
	h := newHarness(t)
	start := monday.Add(10 * time.Hour)

	const n = 12
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		booked    int
		conflicts int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			consumer := domain.Actor{ID: "c" + string(rune('a'+i)), Role: domain.RoleConsumer}
			_, err := h.svc.Book(context.Background(), bookInput(consumer, "", start))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, store.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, booked)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, eventsOfType(t, h.store, domain.EventAppointmentCreated), 1)
}

func TestBook_PendingUnlessPaidInFull(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	cash, err := h.svc.Book(ctx, bookInput(patient, "", monday.Add(9*time.Hour)))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, cash.Status)
	assert.Equal(t, domain.PaymentStatusUnpaid, cash.PaymentStatus)
	assert.Equal(t, "Consultation", cash.ServiceNameSnapshot)
	assert.True(t, cash.TotalPrice.Equal(decimal.NewFromInt(100)))

	in := bookInput(patient, "", monday.Add(11*time.Hour))
	in.PaymentMethod = domain.PaymentMethodCard
	in.AmountPaid = decimal.NewFromInt(100)
	card, err := h.svc.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, card.Status)
	assert.Equal(t, domain.PaymentStatusPaid, card.PaymentStatus)

	assert.Equal(t, []string{"p1", "p1"}, h.notify.providers)
}

func TestBook_IdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := bookInput(patient, "", monday.Add(10*time.Hour))
	in.IdempotencyKey = "req-1"
	first, err := h.svc.Book(ctx, in)
	require.NoError(t, err)

	again, err := h.svc.Book(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Len(t, eventsOfType(t, h.store, domain.EventAppointmentCreated), 1)

	in.StartTime = monday.Add(12 * time.Hour)
	_, err = h.svc.Book(ctx, in)
	assert.ErrorIs(t, err, store.ErrIdempotencyConflict)
}

func TestBook_RejectsOutsideHoursAndBlocked(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.store.Blocks().Create(ctx, domain.Block{
		ProviderID:    "p1",
		StartDateTime: monday.Add(14 * time.Hour),
		EndDateTime:   monday.Add(15 * time.Hour),
		Reason:        "lunch meeting",
		IsManual:      true,
	})
	require.NoError(t, err)

	cases := []struct {
		name  string
		start time.Time
	}{
		{name: "before opening", start: monday.Add(8*time.Hour + 45*time.Minute)},
		{name: "past closing", start: monday.Add(16*time.Hour + 45*time.Minute)},
		{name: "closed day", start: monday.Add(24*time.Hour + 10*time.Hour)},
		{name: "inside block", start: monday.Add(14*time.Hour + 15*time.Minute)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Book(ctx, bookInput(patient, "", tc.start))
			var vErr *domain.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
}

func TestBook_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := monday.Add(10 * time.Hour)

	cases := []struct {
		name   string
		mutate func(*BookInput)
	}{
		{name: "unknown service", mutate: func(in *BookInput) { in.ServiceID = "massage" }},
		{name: "zero duration", mutate: func(in *BookInput) { in.DurationMinutes = 0 }},
		{name: "bad type", mutate: func(in *BookInput) { in.AppointmentType = "PHONE" }},
		{name: "bad payment", mutate: func(in *BookInput) { in.PaymentMethod = "IOU" }},
		{name: "negative amount", mutate: func(in *BookInput) { in.AmountPaid = decimal.NewFromInt(-1) }},
		{name: "in the past", mutate: func(in *BookInput) { in.StartTime = h.now.Add(-time.Hour) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := bookInput(patient, "", start)
			tc.mutate(&in)
			_, err := h.svc.Book(ctx, in)
			var vErr *domain.ValidationError
			assert.ErrorAs(t, err, &vErr)
		})
	}
	assert.Empty(t, h.store.Outbox().Events())
}

func TestBook_Permissions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := monday.Add(10 * time.Hour)

	_, err := h.svc.Book(ctx, bookInput(patient, "someone-else", start))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	other := domain.Actor{ID: "p2", Role: domain.RoleProvider}
	_, err = h.svc.Book(ctx, bookInput(other, "c1", start))
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	booked, err := h.svc.Book(ctx, bookInput(provider, "c1", start))
	require.NoError(t, err)
	assert.Equal(t, "c1", booked.ConsumerID)
}

func TestBook_OnlineGetsMeetingLink(t *testing.T) {
	linker, err := NewRoomLinker("https://meet.example.com/rooms")
	require.NoError(t, err)
	h := newHarness(t, WithMeetingLinker(linker))

	in := bookInput(patient, "", monday.Add(10*time.Hour))
	in.AppointmentType = domain.AppointmentTypeOnline
	appt, err := h.svc.Book(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "https://meet.example.com/rooms/appointly-"+appt.ID.String(), appt.MeetingURL)
}

func TestCancel_FreesSlotAndCarriesPenalty(t *testing.T) {
	policy := NewRulePolicy([]CancellationRule{
		{Role: domain.RoleConsumer, WithinHours: 24, FeePercent: decimal.NewFromInt(50)},
	})
	h := newHarness(t, WithCancellationPolicy(policy))
	ctx := context.Background()
	start := monday.Add(10 * time.Hour)

	appt, err := h.svc.Book(ctx, bookInput(patient, "", start))
	require.NoError(t, err)

	h.now = monday.Add(8 * time.Hour)
	canceled, err := h.svc.Cancel(ctx, patient, appt.ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceledByPatient, canceled.Status)
	assert.Equal(t, domain.DefaultCancellationReason, canceled.CancellationReason)

	events := eventsOfType(t, h.store, domain.EventAppointmentCanceled)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].PenaltyAmount)
	assert.True(t, events[0].PenaltyAmount.Equal(decimal.NewFromInt(50)), "penalty = %s", events[0].PenaltyAmount)

	other := domain.Actor{ID: "c2", Role: domain.RoleConsumer}
	_, err = h.svc.Book(ctx, bookInput(other, "", start))
	assert.NoError(t, err)
}

func TestCancel_RejectsStrangersAndClosedAppointments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	appt, err := h.svc.Book(ctx, bookInput(patient, "", monday.Add(10*time.Hour)))
	require.NoError(t, err)

	_, err = h.svc.Cancel(ctx, domain.Actor{ID: "c9", Role: domain.RoleConsumer}, appt.ID, "")
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	_, err = h.svc.Cancel(ctx, provider, appt.ID, "sick")
	require.NoError(t, err)
	_, err = h.svc.Cancel(ctx, patient, appt.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	_, err = h.svc.Cancel(ctx, patient, uuid.New(), "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLifecycle_ProviderTransitions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := monday.Add(10 * time.Hour)

	appt, err := h.svc.Book(ctx, bookInput(patient, "", start))
	require.NoError(t, err)

	_, err = h.svc.Confirm(ctx, patient, appt.ID)
	assert.ErrorIs(t, err, domain.ErrPermissionDenied)

	confirmed, err := h.svc.Confirm(ctx, provider, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)

	_, err = h.svc.MarkNoShow(ctx, provider, appt.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	h.now = start.Add(45 * time.Minute)
	done, err := h.svc.Complete(ctx, provider, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, done.Status)

	assert.Len(t, eventsOfType(t, h.store, domain.EventAppointmentConfirmed), 1)
	assert.Len(t, eventsOfType(t, h.store, domain.EventAppointmentCompleted), 1)
}

func TestReschedule_MovesAppointment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	in := bookInput(patient, "", monday.Add(10*time.Hour))
	in.PaymentMethod = domain.PaymentMethodCard
	in.AmountPaid = decimal.NewFromInt(100)
	original, err := h.svc.Book(ctx, in)
	require.NoError(t, err)

	moved, err := h.svc.Reschedule(ctx, patient, original.ID, monday.Add(15*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, moved.RescheduledFromID)
	assert.Equal(t, original.ID, *moved.RescheduledFromID)
	assert.Equal(t, domain.StatusConfirmed, moved.Status)
	assert.Equal(t, 30*time.Minute, moved.Duration())
	assert.True(t, moved.AmountPaid.Equal(original.AmountPaid))

	old, err := h.svc.Get(ctx, patient, original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCanceledByPatient, old.Status)
	assert.Contains(t, old.CancellationReason, "Rescheduled to")

	canceled := eventsOfType(t, h.store, domain.EventAppointmentCanceled)
	require.Len(t, canceled, 1)
	assert.Equal(t, moved.ID.String(), canceled[0].RescheduledToID)
	assert.Len(t, eventsOfType(t, h.store, domain.EventAppointmentRescheduled), 1)
}

func TestReschedule_ConflictLeavesOriginalUntouched(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	original, err := h.svc.Book(ctx, bookInput(patient, "", monday.Add(10*time.Hour)))
	require.NoError(t, err)
	other := domain.Actor{ID: "c2", Role: domain.RoleConsumer}
	_, err = h.svc.Book(ctx, bookInput(other, "", monday.Add(11*time.Hour)))
	require.NoError(t, err)
	before := len(h.store.Outbox().Events())

	_, err = h.svc.Reschedule(ctx, patient, original.ID, monday.Add(11*time.Hour+15*time.Minute))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := h.svc.Get(ctx, patient, original.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, got.Status)
	assert.Len(t, h.store.Outbox().Events(), before)
}

func TestList_ScopedToActor(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Book(ctx, bookInput(patient, "", monday.Add(10*time.Hour)))
	require.NoError(t, err)
	_, err = h.svc.Book(ctx, bookInput(domain.Actor{ID: "c2", Role: domain.RoleConsumer}, "", monday.Add(11*time.Hour)))
	require.NoError(t, err)

	mine, err := h.svc.List(ctx, patient, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := h.svc.List(ctx, provider, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = h.svc.List(ctx, patient, monday, monday)
	var vErr *domain.ValidationError
	assert.ErrorAs(t, err, &vErr)
}

func TestRulePolicy_PicksTightestMatchingWindow(t *testing.T) {
	rules, err := ParseCancellationRules(`[
		{"role": "patient", "within_hours": 48, "fee_percent": "25"},
		{"role": "patient", "within_hours": 4, "fee_percent": "100"},
		{"role": "provider", "within_hours": 2, "fee_percent": "10"}
	]`)
	require.NoError(t, err)
	p := NewRulePolicy(rules)

	appt := domain.Appointment{StartTime: monday.Add(10 * time.Hour), TotalPrice: decimal.RequireFromString("80.00")}
	cases := []struct {
		name   string
		role   domain.Role
		notice time.Duration
		want   string
	}{
		{name: "plenty of notice", role: domain.RoleConsumer, notice: 72 * time.Hour, want: "0"},
		{name: "one day", role: domain.RoleConsumer, notice: 24 * time.Hour, want: "20"},
		{name: "last minute", role: domain.RoleConsumer, notice: time.Hour, want: "80"},
		{name: "provider last minute", role: domain.RoleProvider, notice: time.Hour, want: "8"},
		{name: "provider early", role: domain.RoleProvider, notice: 3 * time.Hour, want: "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := p.Evaluate(CancellationContext{Appointment: appt, Role: tc.role, Now: appt.StartTime.Add(-tc.notice)})
			assert.True(t, out.Fee.Equal(decimal.RequireFromString(tc.want)), "fee = %s, want %s", out.Fee, tc.want)
		})
	}

	_, err = ParseCancellationRules(`[{"role": "admin", "within_hours": 1, "fee_percent": "5"}]`)
	assert.Error(t, err)
}
