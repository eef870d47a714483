// Package reminder fires one notification per confirmed appointment at a
// fixed lead time before it starts, and rebuilds its timers from storage
// after a restart.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/appointment"
)

const jobPrefix = "appt_reminder:"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusExecuted  Status = "executed"
	StatusCanceled  Status = "canceled"
	StatusMissed    Status = "missed"
	StatusError     Status = "error"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusScheduled, StatusExecuted, StatusCanceled, StatusMissed, StatusError:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown job status %q", apperror.ErrValidation, s)
	}
}

// Terminal reports whether no further transition leaves s.
func (s Status) Terminal() bool {
	switch s {
	case StatusScheduled:
		return false
	case StatusExecuted, StatusCanceled, StatusMissed, StatusError:
		return true
	}
	panic(fmt.Sprintf("reminder: unhandled status %q", string(s)))
}

var (
	ErrJobNotFound     = fmt.Errorf("%w: reminder job", apperror.ErrNotFound)
	ErrJobNotScheduled = fmt.Errorf("%w: reminder job is not scheduled", apperror.ErrConflict)
	ErrTooLate         = fmt.Errorf("%w: appointment starts too soon for a reminder", apperror.ErrSchedulingTooLate)
)

// JobID is the deterministic job id of an appointment's reminder.
func JobID(appointmentID uuid.UUID) string {
	return jobPrefix + appointmentID.String()
}

// AppointmentIDFromJob reverses JobID.
func AppointmentIDFromJob(jobID string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(jobID, jobPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("%w: malformed job id %q", apperror.ErrValidation, jobID)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: malformed job id %q", apperror.ErrValidation, jobID)
	}
	return id, nil
}

type Job struct {
	ID            string     `json:"id"`
	AppointmentID uuid.UUID  `json:"appointment_id"`
	RunAt         time.Time  `json:"run_at"`
	Status        Status     `json:"status"`
	ExecutedAt    *time.Time `json:"executed_at,omitempty"`
	LastError     *string    `json:"last_error,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Store persists reminder jobs.
type Store interface {
	GetJob(ctx context.Context, id string) (*Job, error)
	// UpsertJob writes a fresh scheduled job, replacing any previous row
	// for the same id regardless of its status.
	UpsertJob(ctx context.Context, job Job) (*Job, error)
	// TransitionJob moves a job still in from to to. It reports false when
	// the job was not in from.
	TransitionJob(ctx context.Context, id string, from, to Status, executedAt *time.Time, lastErr *string) (bool, error)
	// ListJobs returns jobs ordered by run_at, all of them when status is nil.
	ListJobs(ctx context.Context, status *Status) ([]Job, error)
}

// Appointments is the read side of the appointment store.
type Appointments interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListConfirmedUpcoming(ctx context.Context, now time.Time) ([]appointment.Appointment, error)
}

// Sender delivers the reminder itself.
type Sender interface {
	NotifyReminder(ctx context.Context, appt appointment.Appointment) error
}
