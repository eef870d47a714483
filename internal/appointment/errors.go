package appointment

import (
	"errors"
	"fmt"

	"github.com/hackgods/clinic-booking/internal/apperror"
)

var (
	ErrInvalidRange            = fmt.Errorf("%w: end must be after start", apperror.ErrInvalidInterval)
	ErrSlotInPast              = fmt.Errorf("%w: slot starts in the past", apperror.ErrInvalidInterval)
	ErrBlockInPast             = fmt.Errorf("%w: block ends in the past", apperror.ErrInvalidInterval)
	ErrRescheduleTooLate       = fmt.Errorf("%w: too close to the appointment to reschedule", apperror.ErrInvalidInterval)
	ErrBatchOverlap            = fmt.Errorf("%w: requested slots overlap each other", apperror.ErrConflict)
	ErrCalendarBusy            = fmt.Errorf("%w: calendar is being changed, retry", apperror.ErrConflict)
	ErrInvalidStatusTransition = fmt.Errorf("%w: invalid status transition", apperror.ErrConflict)
	ErrEmptyBatch              = fmt.Errorf("%w: at least one slot is required", apperror.ErrValidation)
	ErrBatchTooLarge           = fmt.Errorf("%w: too many slots in one request", apperror.ErrValidation)
	ErrHoldTTLOutOfRange       = fmt.Errorf("%w: hold minutes out of range", apperror.ErrValidation)
	ErrPatientRequired         = fmt.Errorf("%w: a confirmed appointment needs a patient", apperror.ErrValidation)
	ErrInvalidBookStatus       = fmt.Errorf("%w: bookings are free or confirmed", apperror.ErrValidation)
	ErrNotAllowed              = fmt.Errorf("%w: not allowed", apperror.ErrForbidden)
)

// Code returns a stable machine-readable name for err, or "" when err is not
// one of this package's errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAppointmentNotFound):
		return "appointment_not_found"
	case errors.Is(err, ErrBlockNotFound):
		return "block_not_found"
	case errors.Is(err, ErrSlotTaken):
		return "slot_taken"
	case errors.Is(err, ErrHoldRace):
		return "hold_race_lost"
	case errors.Is(err, ErrStaleWrite):
		return "stale_write"
	case errors.Is(err, ErrBlockConflict):
		return "block_conflict"
	case errors.Is(err, ErrBlockOverlap):
		return "block_overlap"
	case errors.Is(err, ErrInvalidRange):
		return "invalid_range"
	case errors.Is(err, ErrSlotInPast):
		return "slot_in_past"
	case errors.Is(err, ErrBlockInPast):
		return "block_in_past"
	case errors.Is(err, ErrRescheduleTooLate):
		return "reschedule_too_late"
	case errors.Is(err, ErrBatchOverlap):
		return "batch_overlap"
	case errors.Is(err, ErrCalendarBusy):
		return "calendar_busy"
	case errors.Is(err, ErrInvalidStatusTransition):
		return "invalid_status"
	case errors.Is(err, ErrEmptyBatch):
		return "empty_batch"
	case errors.Is(err, ErrBatchTooLarge):
		return "batch_too_large"
	case errors.Is(err, ErrHoldTTLOutOfRange):
		return "hold_minutes_out_of_range"
	case errors.Is(err, ErrPatientRequired):
		return "patient_required"
	case errors.Is(err, ErrInvalidBookStatus):
		return "invalid_booking_status"
	case errors.Is(err, ErrNotAllowed):
		return "forbidden"
	}
	return ""
}
