package domain

import "time"

// SlotQuery is the full input of a slot computation. StartDate and EndDate are
// civil dates; only their year, month and day are read, both inclusive.
type SlotQuery struct {
	Hours        []WeeklyHours
	Busy         []Interval
	StartDate    time.Time
	EndDate      time.Time
	SlotDuration time.Duration
	Location     *time.Location
}

// ComputeSlots returns every slot start t, in ascending order, such that
// [t, t+SlotDuration) lies inside the provider's working hours of that day and
// intersects no busy interval. Slots step from the start of each free
// sub-interval. The function does no I/O.
func ComputeSlots(q SlotQuery) []time.Time {
	if q.SlotDuration <= 0 {
		return nil
	}
	loc := q.Location
	if loc == nil {
		loc = ScheduleLocation(q.Hours)
	}

	byDay := hoursByDay(q.Hours)
	first := civilDate(q.StartDate, loc)
	last := civilDate(q.EndDate, loc)

	var out []time.Time
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		row, ok := byDay[int16(day.Weekday())]
		if !ok {
			continue
		}
		free := Subtract(row.FreeIntervals(day, loc), q.Busy)
		for _, f := range free {
			for t := f.Start; !t.Add(q.SlotDuration).After(f.End); t = t.Add(q.SlotDuration) {
				out = append(out, t)
			}
		}
	}
	return out
}

// WithinWeeklyHours reports whether the interval sits entirely inside one of
// the working sub-intervals of the day it starts on.
func WithinWeeklyHours(hours []WeeklyHours, iv Interval, loc *time.Location) bool {
	if iv.Empty() {
		return false
	}
	if loc == nil {
		loc = ScheduleLocation(hours)
	}
	start := iv.Start.In(loc)
	day := civilDate(start, loc)
	row, ok := hoursByDay(hours)[int16(day.Weekday())]
	if !ok {
		return false
	}
	for _, f := range row.FreeIntervals(day, loc) {
		if f.Contains(iv) {
			return true
		}
	}
	return false
}

// FitsAvailability is the booking-side mirror of ComputeSlots: the interval is
// inside working hours and free of every busy interval.
func FitsAvailability(hours []WeeklyHours, busy []Interval, iv Interval, loc *time.Location) bool {
	return WithinWeeklyHours(hours, iv, loc) && !OverlapsAny(iv, busy)
}

func hoursByDay(hours []WeeklyHours) map[int16]WeeklyHours {
	m := make(map[int16]WeeklyHours, len(hours))
	for _, h := range hours {
		m[h.DayOfWeek] = h
	}
	return m
}

func civilDate(t time.Time, loc *time.Location) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
