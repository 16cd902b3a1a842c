// Package events relays committed outbox rows to Kafka.
package events

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/metrics"
	"appointly/backend/internal/store"
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type RelayConfig struct {
	Brokers   string
	PollEvery time.Duration
	BatchSize int
}

type Relay struct {
	outbox    store.OutboxRepository
	writer    MessageWriter
	metrics   *metrics.Collector
	log       *slog.Logger
	pollEvery time.Duration
	batchSize int
}

// NewRelay builds a relay writing to the configured brokers. It returns nil
// when no brokers are configured; a nil relay's Run returns immediately.
func NewRelay(outbox store.OutboxRepository, cfg RelayConfig, m *metrics.Collector, log *slog.Logger) *Relay {
	brokers := SplitBrokers(cfg.Brokers)
	if len(brokers) == 0 {
		return nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newRelay(outbox, w, cfg, m, log)
}

func newRelay(outbox store.OutboxRepository, w MessageWriter, cfg RelayConfig, m *metrics.Collector, log *slog.Logger) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if log == nil {
		log = slog.Default()
	}
	return &Relay{
		outbox:    outbox,
		writer:    w,
		metrics:   m,
		log:       log.With(slog.String("component", "events.relay")),
		pollEvery: cfg.PollEvery,
		batchSize: cfg.BatchSize,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	if r == nil {
		slog.Default().Warn("outbox relay disabled (no kafka brokers configured)")
		return nil
	}
	defer func() {
		if err := r.writer.Close(); err != nil {
			r.log.Warn("close kafka writer", slog.Any("err", err))
		}
	}()

	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
				r.metrics.OutboxFailure()
				r.log.Error("outbox publish failed", slog.Any("err", err))
			}
		}
	}
}

// RelayOnce publishes one batch. Rows are marked published only after Kafka
// acknowledged them, so a crash in between redelivers rather than loses.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	n, err := r.outbox.PublishPending(ctx, r.batchSize, func(ctx context.Context, evs []domain.OutboxEvent) error {
		msgs := make([]kafka.Message, 0, len(evs))
		for _, ev := range evs {
			msgs = append(msgs, message(ctx, ev))
		}
		return r.writer.WriteMessages(ctx, msgs...)
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.metrics.OutboxRelayed(n)
		r.log.Debug("outbox batch relayed", slog.Int("count", n))
	}
	return n, nil
}

func message(ctx context.Context, ev domain.OutboxEvent) kafka.Message {
	msg := kafka.Message{
		Topic: ev.EventType,
		Key:   []byte(ev.AggregateID),
		Value: ev.Payload,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(ev.EventID.String())},
			{Key: "event_type", Value: []byte(ev.EventType)},
			{Key: "aggregate_type", Value: []byte(ev.AggregateType)},
		},
		Time: ev.CreatedAt,
	}
	carrier := headerCarrier{headers: &msg.Headers}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	return msg
}

func SplitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type headerCarrier struct {
	headers *[]kafka.Header
}

func (c headerCarrier) Get(key string) string {
	for _, h := range *c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c headerCarrier) Set(key, value string) {
	for i, h := range *c.headers {
		if h.Key == key {
			(*c.headers)[i].Value = []byte(value)
			return
		}
	}
	*c.headers = append(*c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
