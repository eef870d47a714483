// Package apperror holds the error kinds shared by every domain package.
// Domain packages wrap these so callers can match either the precise
// sentinel or the broader kind with errors.Is.
package apperror

import "errors"

var (
	ErrInvalidInterval     = errors.New("invalid interval")
	ErrValidation          = errors.New("validation failed")
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrForbidden           = errors.New("forbidden")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrSchedulingTooLate   = errors.New("scheduling too late")
)

// Kind returns the first shared kind err matches, or nil.
func Kind(err error) error {
	for _, k := range []error{
		ErrInvalidInterval,
		ErrValidation,
		ErrConflict,
		ErrNotFound,
		ErrForbidden,
		ErrUpstreamUnavailable,
		ErrSchedulingTooLate,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
