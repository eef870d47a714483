package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/interval"
)

var (
	ErrAppointmentNotFound = fmt.Errorf("%w: appointment", apperror.ErrNotFound)
	ErrBlockNotFound       = fmt.Errorf("%w: calendar block", apperror.ErrNotFound)

	// ErrSlotTaken means the interval overlaps a blocking commitment at
	// write time.
	ErrSlotTaken = fmt.Errorf("%w: slot already taken", apperror.ErrConflict)
	// ErrHoldRace means a concurrent caller committed the same slot first.
	ErrHoldRace = fmt.Errorf("%w: slot was taken by a concurrent request, pick another", apperror.ErrConflict)
	// ErrStaleWrite means the row changed between read and conditional write.
	ErrStaleWrite = fmt.Errorf("%w: appointment changed concurrently, retry", apperror.ErrConflict)
	// ErrBlockConflict is wrapped with the number of colliding appointments.
	ErrBlockConflict = fmt.Errorf("%w: block overlaps existing appointments", apperror.ErrConflict)
	ErrBlockOverlap  = fmt.Errorf("%w: block overlaps another block", apperror.ErrConflict)
)

// Repository contains all DB interactions needed by the service.
//
// Methods that create or move a blocking interval check for conflicts and
// write in one transaction, failing with ErrSlotTaken or ErrHoldRace.
type Repository interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error)
	ListConfirmedUpcoming(ctx context.Context, now time.Time) ([]Appointment, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a Appointment, now time.Time) (*Appointment, error)
	// CreateHolds inserts the whole batch or nothing. After inserting it
	// re-checks every row for an exact twin committed by another caller.
	CreateHolds(ctx context.Context, holds []Appointment, now time.Time) ([]Appointment, error)
	// UpdateAppointmentStatus moves a row that is still in from to to and
	// clears its hold. A blocking target status is conflict-checked.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) (*Appointment, error)
	// UpdateInterval moves a row whose start is still oldStart and clears
	// its hold.
	UpdateInterval(ctx context.Context, id uuid.UUID, oldStart time.Time, iv interval.Interval, now time.Time) (*Appointment, error)
	SetMeeting(ctx context.Context, id uuid.UUID, ref, joinURL string) error
	DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// DeleteExpiredHolds removes pending rows whose hold ran out, except
	// keep (uuid.Nil keeps none).
	DeleteExpiredHolds(ctx context.Context, now time.Time, keep uuid.UUID) ([]Appointment, error)

	// Calendar blocks
	CreateBlock(ctx context.Context, b Block, now time.Time) (*Block, error)
	GetBlock(ctx context.Context, id uuid.UUID) (*Block, error)
	ListBlocks(ctx context.Context, doctorID uuid.UUID, window *interval.Interval) ([]Block, error)
	DeleteBlock(ctx context.Context, id uuid.UUID) error

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
