package availability

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

const (
	DefaultMaxRangeDays = 62
	maxSlotMinutes      = 24 * 60
)

type Config struct {
	// MinLeadTime hides slots that could no longer be booked.
	MinLeadTime  time.Duration
	MaxRangeDays int
}

type Service struct {
	schedules store.ScheduleRepository
	blocks    store.BlockRepository
	appts     store.AppointmentRepository
	cfg       Config
	now       func() time.Time
	log       *slog.Logger
}

func NewService(schedules store.ScheduleRepository, blocks store.BlockRepository, appts store.AppointmentRepository, cfg Config, log *slog.Logger) *Service {
	if cfg.MaxRangeDays <= 0 {
		cfg.MaxRangeDays = DefaultMaxRangeDays
	}
	if cfg.MinLeadTime < 0 {
		cfg.MinLeadTime = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		schedules: schedules,
		blocks:    blocks,
		appts:     appts,
		cfg:       cfg,
		now:       time.Now,
		log:       log.With(slog.String("component", "service.availability")),
	}
}

// ComputeSlots lists bookable slot starts for the provider between the civil
// dates startDate and endDate, both inclusive, in the provider's timezone.
func (s *Service) ComputeSlots(ctx context.Context, providerID string, startDate, endDate time.Time, slotMinutes int) ([]time.Time, error) {
	providerID = strings.TrimSpace(providerID)
	if providerID == "" {
		return nil, domain.NewValidationError("provider_id is required")
	}
	if slotMinutes <= 0 || slotMinutes > maxSlotMinutes {
		return nil, domain.Validationf("duration must be between 1 and %d minutes", maxSlotMinutes)
	}

	first := dateOnly(startDate)
	last := dateOnly(endDate)
	if last.Before(first) {
		return nil, domain.NewValidationError("end date must not be before start date")
	}
	if days := int(last.Sub(first).Hours()/24) + 1; days > s.cfg.MaxRangeDays {
		return nil, domain.Validationf("date range must not exceed %d days", s.cfg.MaxRangeDays)
	}

	hours, err := s.schedules.GetWeeklyHours(ctx, providerID)
	if err != nil {
		return nil, err
	}
	if len(hours) == 0 {
		return []time.Time{}, nil
	}
	loc := domain.ScheduleLocation(hours)

	windowStart := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, loc)
	windowEnd := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, loc).AddDate(0, 0, 1)

	blocks, err := s.blocks.List(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	appts, err := s.appts.ListActive(ctx, providerID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	busy := make([]domain.Interval, 0, len(blocks)+len(appts))
	for _, b := range blocks {
		busy = append(busy, b.Interval())
	}
	for _, a := range appts {
		busy = append(busy, a.Interval())
	}

	slots := domain.ComputeSlots(domain.SlotQuery{
		Hours:        hours,
		Busy:         busy,
		StartDate:    first,
		EndDate:      last,
		SlotDuration: time.Duration(slotMinutes) * time.Minute,
		Location:     loc,
	})

	now := s.now()
	earliest := now.Add(s.cfg.MinLeadTime)
	out := make([]time.Time, 0, len(slots))
	for _, t := range slots {
		if !t.After(now) || t.Before(earliest) {
			continue
		}
		out = append(out, t)
	}

	s.log.Debug(
		"slots computed",
		slog.String("provider_id", providerID),
		slog.Int("count", len(out)),
		slog.Int("busy", len(busy)),
	)
	return out, nil
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
