package postgres

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

func openTestDB(t *testing.T) *bun.DB {
	t.Helper()
	databaseURL := strings.TrimSpace(os.Getenv("APPOINTLY_TEST_DATABASE_URL"))
	if databaseURL == "" {
		t.Skip("APPOINTLY_TEST_DATABASE_URL not set")
	}

	db, err := Open(context.Background(), databaseURL, PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1})
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() {
		_ = Close(db)
	})
	return db
}

// useTestSchema creates a throwaway schema, migrates it and points the single
// pooled connection at it for the rest of the test.
func useTestSchema(t *testing.T, db *bun.DB) {
	t.Helper()
	schema := "appointly_test_" + randomHex(t, 8)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_, _ = db.NewRaw("DROP SCHEMA IF EXISTS " + schema + " CASCADE").Exec(ctx)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.NewRaw("CREATE SCHEMA " + schema).Exec(ctx); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	if _, err := db.NewRaw("SET search_path TO " + schema).Exec(ctx); err != nil {
		t.Fatalf("set search_path: %v", err)
	}
	if err := applyMigrations(ctx, db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}

func testAppointment(id string, start time.Time, d time.Duration) domain.Appointment {
	return domain.Appointment{
		ID:                  uuid.MustParse(id),
		ProviderID:          "p1",
		ConsumerID:          "c1",
		ServiceID:           "svc-1",
		ServiceNameSnapshot: "Consultation",
		StartTime:           start,
		EndTime:             start.Add(d),
		AppointmentType:     domain.AppointmentTypeInPerson,
		Status:              domain.StatusPending,
		TotalPrice:          decimal.NewFromInt(50),
		AmountPaid:          decimal.Zero,
		Currency:            "USD",
		PaymentStatus:       domain.PaymentStatusUnpaid,
		PaymentMethod:       domain.PaymentMethodCash,
	}
}

func TestPostgresIntegration_ProviderTxOverlapAndIdempotency(t *testing.T) {
	db := openTestDB(t)
	useTestSchema(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)

	err := db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		c := providerTx{tx: tx}

		a1, err := c.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000901", start, time.Hour))
		if err != nil {
			return err
		}

		rows, err := c.ListActiveAppointments(ctx, "p1", start.Add(-time.Minute), end.Add(time.Minute))
		if err != nil {
			return err
		}
		if len(rows) != 1 || rows[0].ID != a1.ID {
			return fmt.Errorf("active rows = %v, want [%s]", rows, a1.ID)
		}
		if !rows[0].TotalPrice.Equal(decimal.NewFromInt(50)) {
			return fmt.Errorf("total_price = %s, want 50", rows[0].TotalPrice)
		}

		err = tx.RunInTx(ctx, nil, func(ctx context.Context, sp bun.Tx) error {
			_, err := providerTx{tx: sp}.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000902", start.Add(30*time.Minute), time.Hour))
			return err
		})
		if err != store.ErrConflict {
			return fmt.Errorf("overlap err = %v, want %v", err, store.ErrConflict)
		}

		if _, err := c.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000903", end, time.Hour)); err != nil {
			return fmt.Errorf("adjacent create: %w", err)
		}

		a1.Status = domain.StatusCanceledByPatient
		a1.CancellationReason = "busy"
		a1.CanceledByRole = domain.RoleConsumer
		if _, err := c.UpdateAppointment(ctx, a1); err != nil {
			return err
		}
		if _, err := c.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000904", start, time.Hour)); err != nil {
			return fmt.Errorf("rebook canceled interval: %w", err)
		}

		err = tx.RunInTx(ctx, nil, func(ctx context.Context, sp bun.Tx) error {
			_, err := providerTx{tx: sp}.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000901", start.Add(5*time.Hour), time.Hour))
			return err
		})
		if err != store.ErrIdempotencyConflict {
			return fmt.Errorf("duplicate id err = %v, want %v", err, store.ErrIdempotencyConflict)
		}

		got, err := c.GetAppointment(ctx, a1.ID)
		if err != nil {
			return err
		}
		if got.Status != domain.StatusCanceledByPatient || got.CanceledByRole != domain.RoleConsumer {
			return fmt.Errorf("updated row = %+v", got)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("tx error: %v", err)
	}
}

func TestPostgresIntegration_BlocksScheduleAndOutbox(t *testing.T) {
	db := openTestDB(t)
	useTestSchema(t, db)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	schedules := NewScheduleRepo(db)
	brk, brkEnd := "13:00", "14:00"
	_, err := schedules.ReplaceWeeklyHours(ctx, "p1", []domain.WeeklyHours{
		{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00", BreakStart: &brk, BreakEnd: &brkEnd, Timezone: "UTC"},
		{DayOfWeek: 2, StartTime: "09:00", EndTime: "12:00", Timezone: "UTC"},
	})
	if err != nil {
		t.Fatalf("ReplaceWeeklyHours error: %v", err)
	}
	_, err = schedules.ReplaceWeeklyHours(ctx, "p1", []domain.WeeklyHours{
		{DayOfWeek: 3, StartTime: "10:00", EndTime: "11:00", Timezone: "UTC"},
	})
	if err != nil {
		t.Fatalf("ReplaceWeeklyHours error: %v", err)
	}
	hours, err := schedules.GetWeeklyHours(ctx, "p1")
	if err != nil {
		t.Fatalf("GetWeeklyHours error: %v", err)
	}
	if len(hours) != 1 || hours[0].DayOfWeek != 3 {
		t.Fatalf("hours = %+v, want only wednesday", hours)
	}

	blocks := NewBlockRepo(db)
	start := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	ext := "google:evt-1"
	b := domain.Block{ProviderID: "p1", StartDateTime: start, EndDateTime: start.Add(time.Hour), Reason: "Busy", ExternalID: &ext}
	for i, want := range []domain.UpsertResult{domain.UpsertInserted, domain.UpsertUnchanged} {
		got, err := blocks.UpsertExternal(ctx, b)
		if err != nil {
			t.Fatalf("UpsertExternal[%d] error: %v", i, err)
		}
		if got != want {
			t.Fatalf("UpsertExternal[%d] = %s, want %s", i, got, want)
		}
	}
	b.Reason = "Dentist"
	if got, err := blocks.UpsertExternal(ctx, b); err != nil || got != domain.UpsertUpdated {
		t.Fatalf("UpsertExternal after change = %s, %v", got, err)
	}
	other := b
	other.ProviderID = "p2"
	if _, err := blocks.UpsertExternal(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("UpsertExternal for another provider error = %v, want ErrConflict", err)
	}
	n, err := blocks.DeleteStaleExternal(ctx, "p1", domain.ExternalIDPrefixGoogle, start.Add(-time.Hour), start.Add(48*time.Hour), nil)
	if err != nil {
		t.Fatalf("DeleteStaleExternal error: %v", err)
	}
	if n != 1 {
		t.Fatalf("deleted = %d, want 1", n)
	}

	appts := NewAppointmentRepo(db)
	err = appts.InProviderTransaction(ctx, "p1", func(ctx context.Context, tx store.ProviderTx) error {
		a, err := tx.CreateAppointment(ctx, testAppointment("00000000-0000-0000-0000-000000000a01", start, time.Hour))
		if err != nil {
			return err
		}
		ev, err := domain.NewAppointmentEvent(domain.EventAppointmentCreated, a.ID, domain.NewAppointmentPayload(a, domain.Actor{ID: "c1", Role: domain.RoleConsumer}))
		if err != nil {
			return err
		}
		return tx.AppendEvent(ctx, ev)
	})
	if err != nil {
		t.Fatalf("InProviderTransaction error: %v", err)
	}

	outbox := NewOutboxRepo(db)
	published, err := outbox.PublishPending(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		if len(events) != 1 || events[0].EventType != domain.EventAppointmentCreated {
			return fmt.Errorf("events = %+v", events)
		}
		return nil
	})
	if err != nil || published != 1 {
		t.Fatalf("PublishPending = %d, %v", published, err)
	}
	published, err = outbox.PublishPending(ctx, 10, func(ctx context.Context, events []domain.OutboxEvent) error {
		return fmt.Errorf("unexpected batch of %d", len(events))
	})
	if err != nil || published != 0 {
		t.Fatalf("second PublishPending = %d, %v", published, err)
	}
}

func randomHex(t *testing.T, bytesLen int) string {
	t.Helper()
	b := make([]byte, bytesLen)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand.Read error: %v", err)
	}
	return hex.EncodeToString(b)
}

type rawExecutor interface {
	NewRaw(query string, args ...any) *bun.RawQuery
}

func applyMigrations(ctx context.Context, exec rawExecutor) error {
	dir, err := migrationsDir()
	if err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type mig struct {
		name string
		path string
	}
	migs := make([]mig, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		migs = append(migs, mig{name: e.Name(), path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(migs, func(i, j int) bool { return migs[i].name < migs[j].name })

	for _, m := range migs {
		b, err := os.ReadFile(m.path)
		if err != nil {
			return err
		}
		upSQL, err := extractGooseUp(string(b))
		if err != nil {
			return err
		}
		stmts := splitSQLStatements(upSQL)
		for _, stmt := range stmts {
			if normalized, ok := normalizeExtensionStatement(stmt); ok {
				stmt = normalized
			}
			if _, err := exec.NewRaw(stmt).Exec(ctx); err != nil {
				return err
			}
		}
	}

	return nil
}

func migrationsDir() (string, error) {
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("runtime.Caller failed")
	}
	base := filepath.Dir(file)
	return filepath.Clean(filepath.Join(base, "..", "..", "..", "migrations")), nil
}

func extractGooseUp(sql string) (string, error) {
	upMarker := "-- +goose Up"
	downMarker := "-- +goose Down"

	upIdx := strings.Index(sql, upMarker)
	if upIdx < 0 {
		return "", fmt.Errorf("missing goose up marker")
	}
	afterUp := sql[upIdx+len(upMarker):]
	afterUp = strings.TrimLeft(afterUp, "\r\n")

	downIdx := strings.Index(afterUp, downMarker)
	if downIdx < 0 {
		return strings.TrimSpace(afterUp), nil
	}
	return strings.TrimSpace(afterUp[:downIdx]), nil
}

func normalizeExtensionStatement(stmt string) (string, bool) {
	s := strings.TrimSpace(stmt)
	upper := strings.ToUpper(s)
	if !strings.HasPrefix(upper, "CREATE EXTENSION") {
		return "", false
	}
	if !strings.Contains(upper, "BTREE_GIST") {
		return "", false
	}
	if strings.Contains(upper, " SCHEMA ") {
		return "", false
	}
	return s + " SCHEMA public", true
}

func splitSQLStatements(sql string) []string {
	parts := strings.Split(sql, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
