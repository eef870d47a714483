// Package interval is the read-only view over everything that occupies a
// doctor's time: confirmed appointments, live holds and calendar blocks.
package interval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

// Interval is a half-open UTC range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func New(start, end time.Time) (Interval, error) {
	iv := Interval{Start: start.UTC(), End: end.UTC()}
	if err := iv.Validate(); err != nil {
		return Interval{}, err
	}
	return iv, nil
}

func (iv Interval) Validate() error {
	if iv.Start.IsZero() || iv.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", apperror.ErrInvalidInterval)
	}
	if !iv.End.After(iv.Start) {
		return fmt.Errorf("%w: end must be after start", apperror.ErrInvalidInterval)
	}
	return nil
}

// Overlaps is the conflict predicate: s1 < e2 && e1 > s2.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && iv.End.After(o.Start)
}

func (iv Interval) Equal(o Interval) bool {
	return iv.Start.Equal(o.Start) && iv.End.Equal(o.End)
}

func (iv Interval) Duration() time.Duration {
	return iv.End.Sub(iv.Start)
}

type Kind string

const (
	KindConfirmed Kind = "confirmed"
	KindHeld      Kind = "held"
	KindBlock     Kind = "block"
)

// Commitment is a blocking occupation of a doctor's calendar.
type Commitment struct {
	DoctorID uuid.UUID
	Interval Interval
	Kind     Kind
	SourceID uuid.UUID // appointment or block id
}

// Checker answers overlap questions. Implementations never mutate state and
// can run inside the caller's transaction.
type Checker interface {
	// FindConflicts reports whether iv overlaps any blocking commitment of
	// the doctor at now. exclude skips one appointment (uuid.Nil skips none).
	FindConflicts(ctx context.Context, doctorID uuid.UUID, iv Interval, now time.Time, exclude uuid.UUID) (bool, error)

	// Blocking returns every blocking commitment overlapping window, ordered
	// by start.
	Blocking(ctx context.Context, doctorID uuid.UUID, window Interval, now time.Time) ([]Commitment, error)
}

// AnyOverlap is the in-memory form of FindConflicts over a prefetched set.
func AnyOverlap(cs []Commitment, iv Interval) bool {
	for _, c := range cs {
		if c.Interval.Overlaps(iv) {
			return true
		}
	}
	return false
}

// Pairwise reports the first overlapping pair inside ivs, if any.
func Pairwise(ivs []Interval) (int, int, bool) {
	for i := 0; i < len(ivs); i++ {
		for j := i + 1; j < len(ivs); j++ {
			if ivs[i].Overlaps(ivs[j]) {
				return i, j, true
			}
		}
	}
	return 0, 0, false
}
