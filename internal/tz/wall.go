package tz

import "time"

// Wall is a zone-less wall-clock reading. Arithmetic on it is pure calendar
// math: adding an hour always moves the hands by one hour, whatever DST does.
type Wall struct {
	t time.Time // UTC carrier, never an instant
}

func NewWall(year int, month time.Month, day, hour, minute, sec int) Wall {
	return Wall{t: time.Date(year, month, day, hour, minute, sec, 0, time.UTC)}
}

func (w Wall) addNanos(ns int) Wall {
	return Wall{t: w.t.Add(time.Duration(ns))}
}

func (w Wall) IsZero() bool { return w.t.IsZero() }

func (w Wall) Add(d time.Duration) Wall { return Wall{t: w.t.Add(d)} }

func (w Wall) AddDays(n int) Wall { return Wall{t: w.t.AddDate(0, 0, n)} }

func (w Wall) Sub(o Wall) time.Duration { return w.t.Sub(o.t) }

func (w Wall) Before(o Wall) bool { return w.t.Before(o.t) }

func (w Wall) After(o Wall) bool { return w.t.After(o.t) }

func (w Wall) Equal(o Wall) bool { return w.t.Equal(o.t) }

func (w Wall) Weekday() time.Weekday { return w.t.Weekday() }

func (w Wall) Date() (int, time.Month, int) { return w.t.Date() }

func (w Wall) Clock() (int, int, int) { return w.t.Clock() }

// StartOfDay truncates to 00:00 of the same calendar day.
func (w Wall) StartOfDay() Wall {
	y, m, d := w.t.Date()
	return NewWall(y, m, d, 0, 0, 0)
}

func (w Wall) String() string { return w.t.Format("2006-01-02T15:04:05") }

func MinWall(a, b Wall) Wall {
	if a.Before(b) {
		return a
	}
	return b
}

func MaxWall(a, b Wall) Wall {
	if a.After(b) {
		return a
	}
	return b
}
