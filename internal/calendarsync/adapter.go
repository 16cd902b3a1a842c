package calendarsync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/metrics"
	"appointly/backend/internal/store"
)

const busyReason = "Busy (external calendar)"

type Config struct {
	// Window is how far ahead remote busy time is mirrored.
	Window         time.Duration
	RequestTimeout time.Duration
	MaxRetries     uint
	RetryInitial   time.Duration
	PushBatch      int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = 30 * 24 * time.Hour
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryInitial <= 0 {
		c.RetryInitial = 500 * time.Millisecond
	}
	if c.PushBatch <= 0 {
		c.PushBatch = 100
	}
	return c
}

// Summary reports what one sync run did for a provider.
type Summary struct {
	ProviderID string `json:"provider_id"`
	Inserted   int    `json:"inserted"`
	Updated    int    `json:"updated"`
	Unchanged  int    `json:"unchanged"`
	Deleted    int    `json:"deleted"`
	Pushed     int    `json:"pushed"`
	Failed     int    `json:"failed"`
}

// Adapter mirrors remote busy time into blocks and pushes new appointments
// out. It never holds a provider lock across a network call.
type Adapter struct {
	conns   store.ConnectionRepository
	blocks  store.BlockRepository
	appts   store.AppointmentRepository
	oauth   OAuthConfig
	remotes CalendarFactory
	cfg     Config
	metrics *metrics.Collector
	now     func() time.Time
	log     *slog.Logger
}

func NewAdapter(conns store.ConnectionRepository, blocks store.BlockRepository, appts store.AppointmentRepository, oauth OAuthConfig, remotes CalendarFactory, cfg Config, m *metrics.Collector, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		conns:   conns,
		blocks:  blocks,
		appts:   appts,
		oauth:   oauth,
		remotes: remotes,
		cfg:     cfg.withDefaults(),
		metrics: m,
		now:     time.Now,
		log:     log.With(slog.String("component", "calendarsync")),
	}
}

// SyncAll runs a full pull and push for every active connection. One
// provider's failure is logged and does not stop the others.
func (a *Adapter) SyncAll(ctx context.Context) ([]Summary, error) {
	conns, err := a.conns.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Summary, 0, len(conns))
	for _, conn := range conns {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		sum, err := a.run(ctx, conn, true)
		if err != nil {
			a.log.Warn("calendar sync failed", slog.String("provider_id", conn.ProviderID), slog.Any("err", err))
		}
		out = append(out, sum)
	}
	return out, nil
}

// SyncProvider runs a full pull and push for one provider on demand.
func (a *Adapter) SyncProvider(ctx context.Context, providerID string) (Summary, error) {
	conn, err := a.activeConnection(ctx, providerID)
	if err != nil {
		return Summary{ProviderID: providerID}, err
	}
	return a.run(ctx, conn, true)
}

// PushProvider only pushes the provider's unpushed appointments. Providers
// without an active connection are skipped quietly.
func (a *Adapter) PushProvider(ctx context.Context, providerID string) (Summary, error) {
	conn, err := a.activeConnection(ctx, providerID)
	if errors.Is(err, ErrNotConnected) {
		return Summary{ProviderID: providerID}, nil
	}
	if err != nil {
		return Summary{ProviderID: providerID}, err
	}
	return a.run(ctx, conn, false)
}

func (a *Adapter) activeConnection(ctx context.Context, providerID string) (domain.CalendarConnection, error) {
	conn, err := a.conns.Get(ctx, providerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CalendarConnection{}, ErrNotConnected
	}
	if err != nil {
		return domain.CalendarConnection{}, err
	}
	if !conn.Active() {
		return domain.CalendarConnection{}, ErrNotConnected
	}
	return conn, nil
}

func (a *Adapter) run(ctx context.Context, conn domain.CalendarConnection, pull bool) (Summary, error) {
	sum := Summary{ProviderID: conn.ProviderID}
	log := a.log.With(slog.String("provider_id", conn.ProviderID))

	ts := newTokenSource(ctx, a.oauth, a.conns, conn, log)
	cal, err := a.remotes.Open(ctx, ts)
	if err != nil {
		a.metrics.SyncRun("failed")
		return sum, external("open calendar", err)
	}

	if pull {
		if err := a.pull(ctx, conn, cal, &sum); err != nil {
			return sum, a.fail(ctx, conn, err)
		}
	}
	if err := a.push(ctx, conn, cal, &sum); err != nil {
		return sum, a.fail(ctx, conn, err)
	}

	if pull {
		if err := a.conns.MarkSynced(ctx, conn.ProviderID, a.now().UTC()); err != nil {
			log.Warn("mark synced failed", slog.Any("err", err))
		}
	}
	a.metrics.SyncRun("ok")
	log.Info(
		"calendar sync finished",
		slog.Bool("pull", pull),
		slog.Int("inserted", sum.Inserted),
		slog.Int("updated", sum.Updated),
		slog.Int("deleted", sum.Deleted),
		slog.Int("pushed", sum.Pushed),
		slog.Int("failed", sum.Failed),
	)
	return sum, nil
}

// fail marks the connection broken when the grant was revoked. Other errors
// leave it active for the next cycle.
func (a *Adapter) fail(ctx context.Context, conn domain.CalendarConnection, err error) error {
	if !isAuthFailure(err) {
		a.metrics.SyncRun("failed")
		return err
	}
	a.metrics.SyncRun("broken")
	if mErr := a.conns.MarkBroken(ctx, conn.ProviderID, err.Error()); mErr != nil {
		a.log.Error("mark connection broken failed", slog.String("provider_id", conn.ProviderID), slog.Any("err", mErr))
	}
	a.log.Warn("calendar connection broken", slog.String("provider_id", conn.ProviderID), slog.Any("err", err))
	return err
}

func (a *Adapter) pull(ctx context.Context, conn domain.CalendarConnection, cal Calendar, sum *Summary) error {
	from := a.now().UTC()
	to := from.Add(a.cfg.Window)

	events, err := retry(ctx, a, "list remote events", func(ctx context.Context) ([]RemoteEvent, error) {
		return cal.ListBusy(ctx, conn.CalendarID, from, to)
	})
	if err != nil {
		return err
	}

	prefix := domain.GoogleExternalPrefix(conn.ProviderID, conn.CalendarID)
	keep := make([]string, 0, len(events))
	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev.Pushed || ev.ID == "" || !ev.End.After(ev.Start) {
			continue
		}
		externalID := prefix + ev.ID
		keep = append(keep, externalID)

		reason := strings.TrimSpace(ev.Summary)
		if reason == "" {
			reason = busyReason
		}
		res, err := a.blocks.UpsertExternal(ctx, domain.Block{
			ProviderID:    conn.ProviderID,
			StartDateTime: ev.Start.UTC(),
			EndDateTime:   ev.End.UTC(),
			Reason:        reason,
			ExternalID:    &externalID,
		})
		if err != nil {
			sum.Failed++
			a.log.Warn("upsert synced block failed", slog.String("external_id", externalID), slog.Any("err", err))
			continue
		}
		switch res {
		case domain.UpsertInserted:
			sum.Inserted++
		case domain.UpsertUpdated:
			sum.Updated++
		default:
			sum.Unchanged++
		}
	}

	deleted, err := a.blocks.DeleteStaleExternal(ctx, conn.ProviderID, prefix, from, to, keep)
	if err != nil {
		return err
	}
	sum.Deleted = deleted

	a.metrics.SyncBlocks("inserted", sum.Inserted)
	a.metrics.SyncBlocks("updated", sum.Updated)
	a.metrics.SyncBlocks("deleted", sum.Deleted)
	return nil
}

func (a *Adapter) push(ctx context.Context, conn domain.CalendarConnection, cal Calendar, sum *Summary) error {
	pending, err := a.appts.ListUnpushed(ctx, conn.ProviderID, a.now().UTC(), a.cfg.PushBatch)
	if err != nil {
		return err
	}
	for _, appt := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev := outboundEvent(appt)
		eventID, err := retry(ctx, a, "push appointment", func(ctx context.Context) (string, error) {
			return cal.Insert(ctx, conn.CalendarID, ev)
		})
		if err != nil {
			if isAuthFailure(err) {
				return err
			}
			sum.Failed++
			a.metrics.SyncPush("failed")
			a.log.Warn("push appointment failed", slog.String("appointment_id", appt.ID.String()), slog.Any("err", err))
			continue
		}
		if err := a.appts.SetExternalEventID(ctx, appt.ID, eventID); err != nil {
			sum.Failed++
			a.log.Error("store external event id failed", slog.String("appointment_id", appt.ID.String()), slog.Any("err", err))
			continue
		}
		sum.Pushed++
		a.metrics.SyncPush("pushed")
	}
	return nil
}

// retry calls fn with a per-attempt timeout and exponential backoff. Auth
// failures are not retried.
func retry[T any](ctx context.Context, a *Adapter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.cfg.RetryInitial

	v, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
		defer cancel()
		v, err := fn(attemptCtx)
		if err != nil && isAuthFailure(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.cfg.MaxRetries))
	if err != nil {
		return v, external(op, err)
	}
	return v, nil
}
