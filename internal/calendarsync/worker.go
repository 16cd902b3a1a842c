package calendarsync

import (
	"context"
	"log/slog"
	"time"
)

const queueSize = 256

// Worker runs the periodic sync and drains push requests queued by bookings.
type Worker struct {
	adapter  *Adapter
	interval time.Duration
	queue    chan string
	log      *slog.Logger
}

func NewWorker(adapter *Adapter, interval time.Duration, log *slog.Logger) *Worker {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Worker{
		adapter:  adapter,
		interval: interval,
		queue:    make(chan string, queueSize),
		log:      log.With(slog.String("component", "calendarsync.worker")),
	}
}

// Notify queues an outbound push for the provider. It never blocks; when the
// queue is full the next periodic sweep picks the appointment up.
func (w *Worker) Notify(providerID string) {
	select {
	case w.queue <- providerID:
	default:
		w.log.Warn("sync queue full, push deferred", slog.String("provider_id", providerID))
	}
}

func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.log.Info("calendar sync worker started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := w.adapter.SyncAll(ctx); err != nil && ctx.Err() == nil {
				w.log.Error("calendar sync cycle failed", slog.Any("err", err))
			}
		case providerID := <-w.queue:
			if _, err := w.adapter.PushProvider(ctx, providerID); err != nil && ctx.Err() == nil {
				w.log.Warn("calendar push failed", slog.String("provider_id", providerID), slog.Any("err", err))
			}
		}
	}
}
