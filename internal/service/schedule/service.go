package schedule

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

const maxBlockDuration = 366 * 24 * time.Hour

type DayHours struct {
	DayOfWeek  int16
	StartTime  string
	EndTime    string
	BreakStart *string
	BreakEnd   *string
}

type ReplaceInput struct {
	Timezone string
	Days     []DayHours
}

type BlockInput struct {
	StartDateTime time.Time
	EndDateTime   time.Time
	Reason        string
}

// Service manages a provider's own weekly hours and manual blocks.
type Service struct {
	schedules store.ScheduleRepository
	blocks    store.BlockRepository
	log       *slog.Logger
}

func NewService(schedules store.ScheduleRepository, blocks store.BlockRepository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		schedules: schedules,
		blocks:    blocks,
		log:       log.With(slog.String("component", "service.schedule")),
	}
}

func (s *Service) WeeklyHours(ctx context.Context, actor domain.Actor) ([]domain.WeeklyHours, error) {
	if err := requireProvider(actor); err != nil {
		return nil, err
	}
	return s.schedules.GetWeeklyHours(ctx, actor.ID)
}

// ReplaceWeeklyHours wipes the provider's schedule and stores in.Days. An
// empty list leaves the provider without bookable hours.
func (s *Service) ReplaceWeeklyHours(ctx context.Context, actor domain.Actor, in ReplaceInput) ([]domain.WeeklyHours, error) {
	if err := requireProvider(actor); err != nil {
		return nil, err
	}

	tz := strings.TrimSpace(in.Timezone)
	if tz == "" {
		tz = "UTC"
	}
	rows := make([]domain.WeeklyHours, 0, len(in.Days))
	for _, d := range in.Days {
		row := domain.WeeklyHours{
			ProviderID: actor.ID,
			DayOfWeek:  d.DayOfWeek,
			StartTime:  strings.TrimSpace(d.StartTime),
			EndTime:    strings.TrimSpace(d.EndTime),
			BreakStart: trimmed(d.BreakStart),
			BreakEnd:   trimmed(d.BreakEnd),
			Timezone:   tz,
		}
		if err := row.Validate(); err != nil {
			return nil, err
		}
		normalizeClocks(&row)
		rows = append(rows, row)
	}
	if err := domain.ValidateSchedule(rows); err != nil {
		return nil, err
	}

	saved, err := s.schedules.ReplaceWeeklyHours(ctx, actor.ID, rows)
	if err != nil {
		return nil, err
	}
	s.log.Info("weekly hours replaced", slog.String("provider_id", actor.ID), slog.Int("days", len(saved)), slog.String("timezone", tz))
	return saved, nil
}

func (s *Service) CreateBlock(ctx context.Context, actor domain.Actor, in BlockInput) (domain.Block, error) {
	if err := requireProvider(actor); err != nil {
		return domain.Block{}, err
	}
	b := domain.Block{
		ProviderID:    actor.ID,
		StartDateTime: in.StartDateTime.UTC(),
		EndDateTime:   in.EndDateTime.UTC(),
		Reason:        strings.TrimSpace(in.Reason),
		IsManual:      true,
	}
	if err := b.Validate(); err != nil {
		return domain.Block{}, err
	}
	if b.EndDateTime.Sub(b.StartDateTime) > maxBlockDuration {
		return domain.Block{}, domain.NewValidationError("block must not exceed one year")
	}

	created, err := s.blocks.Create(ctx, b)
	if err != nil {
		return domain.Block{}, err
	}
	s.log.Info(
		"block created",
		slog.String("block_id", created.ID.String()),
		slog.String("provider_id", created.ProviderID),
		slog.Time("start", created.StartDateTime),
		slog.Time("end", created.EndDateTime),
	)
	return created, nil
}

func (s *Service) ListBlocks(ctx context.Context, actor domain.Actor, windowStart, windowEnd time.Time) ([]domain.Block, error) {
	if err := requireProvider(actor); err != nil {
		return nil, err
	}
	start, end := windowStart.UTC(), windowEnd.UTC()
	if !end.After(start) {
		return nil, domain.NewValidationError("window end must be after window start")
	}
	return s.blocks.List(ctx, actor.ID, start, end)
}

// DeleteBlock removes one of the provider's blocks. Synced blocks can be
// deleted too; the next sync recreates them if the remote event still exists.
func (s *Service) DeleteBlock(ctx context.Context, actor domain.Actor, blockID uuid.UUID) error {
	if err := requireProvider(actor); err != nil {
		return err
	}
	if blockID == uuid.Nil {
		return domain.NewValidationError("block id is required")
	}
	b, err := s.blocks.Get(ctx, blockID)
	if err != nil {
		return err
	}
	if b.ProviderID != actor.ID {
		return domain.ErrPermissionDenied
	}
	if err := s.blocks.Delete(ctx, actor.ID, blockID); err != nil {
		return err
	}
	s.log.Info("block deleted", slog.String("block_id", blockID.String()), slog.Bool("manual", b.IsManual))
	return nil
}

func requireProvider(actor domain.Actor) error {
	if !actor.IsProvider() || actor.ID == "" {
		return domain.ErrPermissionDenied
	}
	return nil
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}

// normalizeClocks stores validated times as HH:MM.
func normalizeClocks(w *domain.WeeklyHours) {
	norm := func(s string) string {
		c, err := domain.ParseClock(s)
		if err != nil {
			return s
		}
		return c.String()
	}
	w.StartTime = norm(w.StartTime)
	w.EndTime = norm(w.EndTime)
	if w.BreakStart != nil {
		bs, be := norm(*w.BreakStart), norm(*w.BreakEnd)
		w.BreakStart, w.BreakEnd = &bs, &be
	}
}
