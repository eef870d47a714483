// Package tz converts between UTC instants and the clinic's wall clock.
//
// Instants are plain time.Time values normalized to UTC. Wall-clock readings
// use the Wall type, which carries no zone and cannot be compared with an
// instant without going through a Zone first.
package tz

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrUnparseableTime = errors.New("unparseable time value")

// Zone is the operating timezone used to interpret naive inputs and to
// expand weekly rules.
type Zone struct {
	loc *time.Location
}

func LoadZone(name string) (Zone, error) {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return Zone{}, fmt.Errorf("load timezone %q: %w", name, err)
	}
	return Zone{loc: loc}, nil
}

// MustZone is LoadZone for package-level defaults and tests.
func MustZone(name string) Zone {
	z, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return z
}

func FromLocation(loc *time.Location) Zone {
	if loc == nil {
		loc = time.UTC
	}
	return Zone{loc: loc}
}

func (z Zone) Location() *time.Location {
	if z.loc == nil {
		return time.UTC
	}
	return z.loc
}

func (z Zone) String() string {
	return z.Location().String()
}

// ToUTC normalizes an instant. The zero time stays zero.
func (z Zone) ToUTC(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.UTC()
}

// Local returns the wall-clock reading of an instant in z.
func (z Zone) Local(instant time.Time) Wall {
	l := instant.In(z.Location())
	return NewWall(l.Year(), l.Month(), l.Day(), l.Hour(), l.Minute(), l.Second()).addNanos(l.Nanosecond())
}

// UTC resolves a wall-clock reading in z to an instant.
//
// Readings that occur twice (DST fold) resolve to the earlier instant.
// Readings that do not exist (DST gap) are read with the offset in force
// before the transition, which lands them past the gap by its length:
// 02:30 on a spring-forward night becomes 03:30 daylight time.
func (z Zone) UTC(w Wall) time.Time {
	loc := z.Location()
	asUTC := w.t

	_, offBefore := asUTC.Add(-12 * time.Hour).In(loc).Zone()
	_, offAfter := asUTC.Add(12 * time.Hour).In(loc).Zone()

	var best time.Time
	found := false
	for _, off := range []int{offBefore, offAfter} {
		inst := asUTC.Add(-time.Duration(off) * time.Second)
		if _, got := inst.In(loc).Zone(); got != off {
			continue
		}
		if !found || inst.Before(best) {
			best = inst
			found = true
		}
	}
	if !found {
		best = asUTC.Add(-time.Duration(offBefore) * time.Second)
	}
	return best.UTC()
}

var offsetLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Parse reads an ISO-8601 value. Values with an offset or a Z suffix are
// taken as instants; naive values are wall-clock readings in z.
func (z Zone) Parse(raw string) (time.Time, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, ErrUnparseableTime
	}
	for _, layout := range offsetLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	for _, layout := range naiveLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return z.UTC(Wall{t: t}), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrUnparseableTime, raw)
}
