package availability

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

const minutesPerDay = 24 * 60

// TimeOfDay is a wall-clock time as minutes since midnight. 24:00 is a valid
// range end.
type TimeOfDay int

func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", apperror.ErrValidation, s)
	}
	h, err1 := strconv.Atoi(hh)
	m, err2 := strconv.Atoi(mm)
	if err1 != nil || err2 != nil || h < 0 || m < 0 || m > 59 || len(mm) != 2 {
		return 0, fmt.Errorf("%w: time of day %q must be HH:MM", apperror.ErrValidation, s)
	}
	t := TimeOfDay(h*60 + m)
	if t > minutesPerDay {
		return 0, fmt.Errorf("%w: time of day %q is past 24:00", apperror.ErrValidation, s)
	}
	return t, nil
}

func (t TimeOfDay) Offset() time.Duration {
	return time.Duration(t) * time.Minute
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", int(t)/60, int(t)%60)
}

func (t TimeOfDay) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *TimeOfDay) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseTimeOfDay(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

type Range struct {
	Start TimeOfDay `json:"start"`
	End   TimeOfDay `json:"end"`
}

// WeeklyRule is the template for one weekday of one doctor.
// Weekday follows time.Weekday: 0 is Sunday.
type WeeklyRule struct {
	DoctorID  uuid.UUID
	Weekday   time.Weekday
	Enabled   bool
	Ranges    []Range
	UpdatedAt time.Time
}

// Validate checks the weekday and that ranges are well formed and pairwise
// disjoint. Ranges are sorted in place.
func (r *WeeklyRule) Validate() error {
	if r.Weekday < time.Sunday || r.Weekday > time.Saturday {
		return fmt.Errorf("%w: weekday %d out of range 0..6", apperror.ErrValidation, r.Weekday)
	}
	for _, rg := range r.Ranges {
		if rg.Start < 0 || rg.End > minutesPerDay {
			return fmt.Errorf("%w: range %s-%s outside the day", apperror.ErrValidation, rg.Start, rg.End)
		}
		if rg.End <= rg.Start {
			return fmt.Errorf("%w: range %s-%s must end after it starts", apperror.ErrValidation, rg.Start, rg.End)
		}
	}
	sort.Slice(r.Ranges, func(i, j int) bool { return r.Ranges[i].Start < r.Ranges[j].Start })
	for i := 1; i < len(r.Ranges); i++ {
		prev, cur := r.Ranges[i-1], r.Ranges[i]
		if cur.Start < prev.End {
			return fmt.Errorf("%w: ranges %s-%s and %s-%s overlap", apperror.ErrValidation, prev.Start, prev.End, cur.Start, cur.End)
		}
	}
	return nil
}

// Settings holds per-doctor availability preferences.
type Settings struct {
	DoctorID    uuid.UUID
	SlotMinutes int
	UpdatedAt   time.Time
}

const (
	MinSlotMinutes = 10
	MaxSlotMinutes = 240
)

func ValidSlotDuration(d time.Duration) bool {
	return d >= MinSlotMinutes*time.Minute && d <= MaxSlotMinutes*time.Minute && d%time.Minute == 0
}
