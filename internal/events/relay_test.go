package events

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
)

type fakeWriter struct {
	writeFn func(ctx context.Context, msgs ...kafka.Message) error
	closed  bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.writeFn == nil {
		panic("WriteMessages not configured")
	}
	return f.writeFn(ctx, msgs...)
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func seedEvents(t *testing.T, s *memory.Store, n int) []uuid.UUID {
	t.Helper()
	var ids []uuid.UUID
	for i := 0; i < n; i++ {
		id := uuid.New()
		ev, err := domain.NewAppointmentEvent(domain.EventAppointmentCreated, id, domain.AppointmentEventPayload{AppointmentID: id.String()})
		require.NoError(t, err)
		err = s.Appointments().InProviderTransaction(context.Background(), "p1", func(ctx context.Context, tx store.ProviderTx) error {
			return tx.AppendEvent(ctx, ev)
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func TestRelayOnce_PublishesWithKeysAndHeaders(t *testing.T) {
	s := memory.New()
	ids := seedEvents(t, s, 2)

	var got []kafka.Message
	w := &fakeWriter{writeFn: func(ctx context.Context, msgs ...kafka.Message) error {
		got = append(got, msgs...)
		return nil
	}}
	r := newRelay(s.Outbox(), w, RelayConfig{BatchSize: 10}, nil, nil)

	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, got, 2)
	assert.Equal(t, domain.EventAppointmentCreated, got[0].Topic)
	assert.Equal(t, ids[0].String(), string(got[0].Key))
	assert.Equal(t, domain.EventAppointmentCreated, headerValue(got[0].Headers, "event_type"))
	assert.NotEmpty(t, headerValue(got[0].Headers, "event_id"))

	n, err = r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRelayOnce_FailedWriteIsRetriedNextRound(t *testing.T) {
	s := memory.New()
	seedEvents(t, s, 1)

	fail := true
	w := &fakeWriter{writeFn: func(ctx context.Context, msgs ...kafka.Message) error {
		if fail {
			return errors.New("broker down")
		}
		return nil
	}}
	r := newRelay(s.Outbox(), w, RelayConfig{}, nil, nil)

	_, err := r.RelayOnce(context.Background())
	require.Error(t, err)

	fail = false
	n, err := r.RelayOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNewRelay_DisabledWithoutBrokers(t *testing.T) {
	r := NewRelay(memory.New().Outbox(), RelayConfig{Brokers: " , "}, nil, nil)
	assert.Nil(t, r)
	assert.NoError(t, r.Run(context.Background()))
	assert.Equal(t, []string{"a:9092", "b:9092"}, SplitBrokers("a:9092, b:9092,"))
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
