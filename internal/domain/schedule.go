package domain

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/uptrace/bun"
)

// WeeklyHours is one provider's recurring operating window for a day of the week.
// DayOfWeek follows time.Weekday (0 = Sunday).
type WeeklyHours struct {
	bun.BaseModel `bun:"table:weekly_hours"`

	ProviderID string    `bun:"provider_id,pk"`
	DayOfWeek  int16     `bun:"day_of_week,pk"`
	StartTime  string    `bun:"start_time,notnull"`
	EndTime    string    `bun:"end_time,notnull"`
	BreakStart *string   `bun:"break_start"`
	BreakEnd   *string   `bun:"break_end"`
	Timezone   string    `bun:"timezone,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

func (w *WeeklyHours) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if w.CreatedAt.IsZero() {
			w.CreatedAt = now
		}
		if w.UpdatedAt.IsZero() {
			w.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		w.UpdatedAt = now
	}
	return nil
}

// Clock is a wall-clock time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		s = s[:5]
	}
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return Clock{}, fmt.Errorf("invalid time %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 24 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}
	if h == 24 && m != 0 {
		return Clock{}, fmt.Errorf("invalid time %q", s)
	}
	return Clock{Hour: h, Minute: m}, nil
}

func (c Clock) Minutes() int { return c.Hour*60 + c.Minute }

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }

// On places the clock on the given calendar day in loc.
func (c Clock) On(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// Validate checks the row in isolation.
func (w WeeklyHours) Validate() error {
	if w.DayOfWeek < 0 || w.DayOfWeek > 6 {
		return Validationf("day_of_week must be between 0 and 6, got %d", w.DayOfWeek)
	}
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return Validationf("start_time: %v", err)
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return Validationf("end_time: %v", err)
	}
	if start.Minutes() >= end.Minutes() {
		return NewValidationError("end_time must be after start_time")
	}

	if (w.BreakStart == nil) != (w.BreakEnd == nil) {
		return NewValidationError("break_start and break_end must be set together")
	}
	if w.BreakStart != nil {
		bs, err := ParseClock(*w.BreakStart)
		if err != nil {
			return Validationf("break_start: %v", err)
		}
		be, err := ParseClock(*w.BreakEnd)
		if err != nil {
			return Validationf("break_end: %v", err)
		}
		if bs.Minutes() >= be.Minutes() {
			return NewValidationError("break_end must be after break_start")
		}
		if bs.Minutes() < start.Minutes() || be.Minutes() > end.Minutes() {
			return NewValidationError("break must lie within working hours")
		}
	}

	if w.Timezone != "" {
		if _, err := time.LoadLocation(w.Timezone); err != nil {
			return NewValidationError("invalid timezone")
		}
	}
	return nil
}

// FreeIntervals returns the working window of the given day with the break cut out.
// Rows are validated on write; a row that fails to parse yields no time.
func (w WeeklyHours) FreeIntervals(day time.Time, loc *time.Location) []Interval {
	start, err := ParseClock(w.StartTime)
	if err != nil {
		return nil
	}
	end, err := ParseClock(w.EndTime)
	if err != nil {
		return nil
	}
	dayStart := start.On(day, loc)
	dayEnd := end.On(day, loc)

	if w.BreakStart == nil || w.BreakEnd == nil {
		return []Interval{{Start: dayStart, End: dayEnd}}
	}
	bs, err := ParseClock(*w.BreakStart)
	if err != nil {
		return []Interval{{Start: dayStart, End: dayEnd}}
	}
	be, err := ParseClock(*w.BreakEnd)
	if err != nil {
		return []Interval{{Start: dayStart, End: dayEnd}}
	}
	return Subtract(
		[]Interval{{Start: dayStart, End: dayEnd}},
		[]Interval{{Start: bs.On(day, loc), End: be.On(day, loc)}},
	)
}

// ScheduleLocation returns the timezone shared by a provider's rows, UTC when unset.
func ScheduleLocation(hours []WeeklyHours) *time.Location {
	for _, h := range hours {
		if h.Timezone == "" {
			continue
		}
		if loc, err := time.LoadLocation(h.Timezone); err == nil {
			return loc
		}
	}
	return time.UTC
}

// ValidateSchedule validates a full replacement set for one provider.
func ValidateSchedule(hours []WeeklyHours) error {
	seen := make(map[int16]struct{}, len(hours))
	tz := ""
	for i, h := range hours {
		if err := h.Validate(); err != nil {
			return err
		}
		if _, ok := seen[h.DayOfWeek]; ok {
			return Validationf("day_of_week %d listed more than once", h.DayOfWeek)
		}
		seen[h.DayOfWeek] = struct{}{}
		if i == 0 {
			tz = h.Timezone
		} else if h.Timezone != tz {
			return NewValidationError("all days must share one timezone")
		}
	}
	return nil
}
