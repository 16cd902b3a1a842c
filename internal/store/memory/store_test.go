package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

func appt(provider string, start time.Time, d time.Duration) domain.Appointment {
	return domain.Appointment{
		ProviderID: provider,
		ConsumerID: "c1",
		StartTime:  start,
		EndTime:    start.Add(d),
		Status:     domain.StatusPending,
	}
}

func TestProviderTransaction_RollbackDiscardsWrites(t *testing.T) {
	s := New()
	repo := s.Appointments()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	boom := errors.New("boom")
	err := repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		if _, err := tx.CreateAppointment(ctx, appt("p1", start, time.Hour)); err != nil {
			return err
		}
		ev, err := domain.NewAppointmentEvent(domain.EventAppointmentCreated, uuid.New(), domain.AppointmentEventPayload{})
		require.NoError(t, err)
		require.NoError(t, tx.AppendEvent(ctx, ev))
		return boom
	})
	require.ErrorIs(t, err, boom)

	rows, err := repo.ListForProvider(ctx, "p1", start.Add(-time.Hour), start.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Empty(t, s.Outbox().Events())
}

func TestProviderTransaction_RejectsOverlap(t *testing.T) {
	s := New()
	repo := s.Appointments()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	err := repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		_, err := tx.CreateAppointment(ctx, appt("p1", start, time.Hour))
		return err
	})
	require.NoError(t, err)

	err = repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		_, err := tx.CreateAppointment(ctx, appt("p1", start.Add(30*time.Minute), time.Hour))
		return err
	})
	require.ErrorIs(t, err, store.ErrConflict)

	err = repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		_, err := tx.CreateAppointment(ctx, appt("p1", start.Add(time.Hour), time.Hour))
		return err
	})
	require.NoError(t, err, "adjacent appointments must be allowed")

	err = repo.InProviderTransaction(ctx, "p2", func(ctx context.Context, tx store.ProviderTx) error {
		_, err := tx.CreateAppointment(ctx, appt("p2", start, time.Hour))
		return err
	})
	require.NoError(t, err, "other providers are independent")
}

func TestProviderTransaction_CanceledIntervalIsReusable(t *testing.T) {
	s := New()
	repo := s.Appointments()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var first domain.Appointment
	err := repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		var err error
		first, err = tx.CreateAppointment(ctx, appt("p1", start, time.Hour))
		return err
	})
	require.NoError(t, err)

	err = repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		a, err := tx.GetAppointment(ctx, first.ID)
		if err != nil {
			return err
		}
		if err := a.Cancel(domain.RoleConsumer, "", time.Now()); err != nil {
			return err
		}
		if _, err := tx.UpdateAppointment(ctx, a); err != nil {
			return err
		}
		_, err = tx.CreateAppointment(ctx, appt("p1", start, time.Hour))
		return err
	})
	require.NoError(t, err)

	active, err := repo.ListActive(ctx, "p1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.NotEqual(t, first.ID, active[0].ID)
}

func TestProviderTransaction_SerializesSameProvider(t *testing.T) {
	s := New()
	repo := s.Appointments()
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Empty(t, s.locks.locks, "released keys must be dropped")
}

func TestSetExternalEventIDSurvivesLaterUpdate(t *testing.T) {
	s := New()
	repo := s.Appointments()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	var created domain.Appointment
	require.NoError(t, repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		var err error
		created, err = tx.CreateAppointment(ctx, appt("p1", start, time.Hour))
		return err
	}))

	require.NoError(t, repo.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		a, err := tx.GetAppointment(ctx, created.ID)
		if err != nil {
			return err
		}
		require.NoError(t, repo.SetExternalEventID(ctx, created.ID, "evt-1"))
		if err := a.Confirm(); err != nil {
			return err
		}
		_, err = tx.UpdateAppointment(ctx, a)
		return err
	}))

	got, err := repo.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "evt-1", got.ExternalEventID)
	assert.Equal(t, domain.StatusConfirmed, got.Status)
}

func TestBlocks_UpsertExternalIsIdempotent(t *testing.T) {
	s := New()
	blocks := s.Blocks()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ext := "google:abc"

	b := domain.Block{ProviderID: "p1", StartDateTime: start, EndDateTime: start.Add(time.Hour), Reason: "Busy", ExternalID: &ext}

	res, err := blocks.UpsertExternal(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertInserted, res)

	res, err = blocks.UpsertExternal(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUnchanged, res)

	b.EndDateTime = start.Add(2 * time.Hour)
	res, err = blocks.UpsertExternal(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, domain.UpsertUpdated, res)

	rows, err := blocks.List(ctx, "p1", start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].IsManual)
	assert.True(t, rows[0].EndDateTime.Equal(start.Add(2*time.Hour)))
}

func TestBlocks_UpsertExternalRejectsOtherProvidersID(t *testing.T) {
	s := New()
	blocks := s.Blocks()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	ext := domain.GoogleExternalPrefix("p1", "primary") + "abc"

	_, err := blocks.UpsertExternal(ctx, domain.Block{ProviderID: "p1", StartDateTime: start, EndDateTime: start.Add(time.Hour), ExternalID: &ext})
	require.NoError(t, err)

	_, err = blocks.UpsertExternal(ctx, domain.Block{ProviderID: "p2", StartDateTime: start.Add(time.Hour), EndDateTime: start.Add(2 * time.Hour), ExternalID: &ext})
	require.ErrorIs(t, err, store.ErrConflict)

	rows, err := blocks.List(ctx, "p1", start, start.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].EndDateTime.Equal(start.Add(time.Hour)))
}

func TestBlocks_DeleteStaleExternalKeepsManualAndSeen(t *testing.T) {
	s := New()
	blocks := s.Blocks()
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	seen, gone := "google:seen", "google:gone"

	for _, ext := range []string{seen, gone} {
		ext := ext
		_, err := blocks.UpsertExternal(ctx, domain.Block{ProviderID: "p1", StartDateTime: start, EndDateTime: start.Add(time.Hour), ExternalID: &ext})
		require.NoError(t, err)
	}
	_, err := blocks.Create(ctx, domain.Block{ProviderID: "p1", StartDateTime: start, EndDateTime: start.Add(time.Hour), IsManual: true})
	require.NoError(t, err)

	n, err := blocks.DeleteStaleExternal(ctx, "p1", domain.ExternalIDPrefixGoogle, start.Add(-time.Hour), start.Add(24*time.Hour), []string{seen})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows, err := blocks.List(ctx, "p1", start, start.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, b := range rows {
		if b.ExternalID != nil {
			assert.Equal(t, seen, *b.ExternalID)
		}
	}
}

func TestOutbox_PublishMarksOnlyOnSuccess(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.Appointments().InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		ev, err := domain.NewAppointmentEvent(domain.EventAppointmentCreated, uuid.New(), domain.AppointmentEventPayload{ProviderID: "p1"})
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	}))

	outbox := s.Outbox()
	_, err := outbox.PublishPending(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		return errors.New("broker down")
	})
	require.Error(t, err)

	n, err := outbox.PublishPending(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		require.Len(t, events, 1)
		assert.Equal(t, int64(1), events[0].ID)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = outbox.PublishPending(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		t.Fatalf("nothing should be pending")
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, n)
}
