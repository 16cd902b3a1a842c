package domain

import (
	"sort"
	"time"
)

// Interval is the half-open range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Empty() bool {
	return !i.Start.Before(i.End)
}

// Overlaps uses half-open semantics: [a,b) and [c,d) intersect iff a < d && c < b.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Subtract removes every busy interval from the free intervals and returns the
// remaining pieces in ascending order. Empty busy intervals are ignored.
func Subtract(free, busy []Interval) []Interval {
	cuts := make([]Interval, 0, len(busy))
	for _, b := range busy {
		if !b.Empty() {
			cuts = append(cuts, b)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Start.Before(cuts[j].Start) })

	base := make([]Interval, 0, len(free))
	for _, f := range free {
		if !f.Empty() {
			base = append(base, f)
		}
	}
	sort.Slice(base, func(i, j int) bool { return base[i].Start.Before(base[j].Start) })

	out := make([]Interval, 0, len(base))
	for _, f := range base {
		cur := f.Start
		for _, b := range cuts {
			if !b.Start.Before(f.End) {
				break
			}
			if !b.End.After(cur) {
				continue
			}
			if b.Start.After(cur) {
				out = append(out, Interval{Start: cur, End: b.Start})
			}
			cur = b.End
			if !cur.Before(f.End) {
				break
			}
		}
		if cur.Before(f.End) {
			out = append(out, Interval{Start: cur, End: f.End})
		}
	}
	return out
}

func OverlapsAny(i Interval, others []Interval) bool {
	for _, o := range others {
		if i.Overlaps(o) {
			return true
		}
	}
	return false
}
