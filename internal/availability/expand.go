package availability

import (
	"iter"
	"time"

	"github.com/hackgods/clinic-booking/internal/tz"
)

// Candidate is a slot in the doctor's wall-clock frame.
type Candidate struct {
	Start tz.Wall
	End   tz.Wall
}

func (c Candidate) overlaps(o Candidate) bool {
	return c.Start.Before(o.End) && c.End.After(o.Start)
}

// Expand tiles the enabled ranges of rules over [from, to) with back-to-back
// slots of the given length. Ranges are clipped to the window first and a
// trailing remainder shorter than slot is dropped. The sequence is lazy and
// can be ranged over any number of times.
func Expand(rules []WeeklyRule, from, to tz.Wall, slot time.Duration) iter.Seq[Candidate] {
	byDay := make(map[time.Weekday]WeeklyRule, len(rules))
	for _, r := range rules {
		byDay[r.Weekday] = r
	}

	return func(yield func(Candidate) bool) {
		if slot <= 0 || !to.After(from) {
			return
		}
		for day := from.StartOfDay(); day.Before(to); day = day.AddDays(1) {
			rule, ok := byDay[day.Weekday()]
			if !ok || !rule.Enabled {
				continue
			}
			for _, rg := range rule.Ranges {
				start := tz.MaxWall(day.Add(rg.Start.Offset()), from)
				end := tz.MinWall(day.Add(rg.End.Offset()), to)
				for cur := start; !cur.Add(slot).After(end); cur = cur.Add(slot) {
					if !yield(Candidate{Start: cur, End: cur.Add(slot)}) {
						return
					}
				}
			}
		}
	}
}
