package appointment

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/interval"
)

type Status string

const (
	StatusFree      Status = "free"
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusFree, StatusPending, StatusConfirmed, StatusCancelled:
		return st, nil
	default:
		return "", fmt.Errorf("%w: unknown appointment status %q", apperror.ErrValidation, s)
	}
}

// Blocking reports whether an appointment in status s with the given hold
// expiry occupies the doctor's time at now.
func (s Status) Blocking(holdUntil *time.Time, now time.Time) bool {
	switch s {
	case StatusConfirmed:
		return true
	case StatusPending:
		return holdUntil == nil || holdUntil.After(now)
	case StatusFree, StatusCancelled:
		return false
	}
	panic(fmt.Sprintf("appointment: unhandled status %q", string(s)))
}

// Confirmable reports whether confirm may start from s.
func (s Status) Confirmable() bool {
	switch s {
	case StatusPending, StatusFree:
		return true
	case StatusConfirmed, StatusCancelled:
		return false
	}
	panic(fmt.Sprintf("appointment: unhandled status %q", string(s)))
}

// Reschedulable reports whether the interval of an appointment in s may move.
func (s Status) Reschedulable() bool {
	switch s {
	case StatusPending, StatusConfirmed:
		return true
	case StatusFree, StatusCancelled:
		return false
	}
	panic(fmt.Sprintf("appointment: unhandled status %q", string(s)))
}

// PaymentMethod decides who may confirm a hold.
type PaymentMethod string

const (
	PaymentNone     PaymentMethod = ""
	PaymentGateway  PaymentMethod = "gateway"  // patient pays online and confirms
	PaymentTransfer PaymentMethod = "transfer" // doctor checks the transfer and confirms
)

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch m := PaymentMethod(s); m {
	case PaymentNone, PaymentGateway, PaymentTransfer:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown payment method %q", apperror.ErrValidation, s)
	}
}

type Role string

const (
	RoleDoctor  Role = "doctor"
	RolePatient Role = "patient"
	RoleSystem  Role = "system"
)

type Actor struct {
	UserID uuid.UUID
	Role   Role
}

// SystemActor is used for payment application and maintenance.
func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

func (a Actor) IsDoctor(doctorID uuid.UUID) bool {
	return a.Role == RoleDoctor && a.UserID == doctorID
}

func (a Actor) IsPatient(patientID *uuid.UUID) bool {
	return a.Role == RolePatient && patientID != nil && *patientID == a.UserID
}

type Appointment struct {
	ID            uuid.UUID
	DoctorID      uuid.UUID
	PatientID     *uuid.UUID
	StartAt       time.Time
	EndAt         time.Time
	Status        Status
	HoldUntil     *time.Time
	PaymentMethod PaymentMethod
	MeetingRef    *string
	MeetingURL    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (a Appointment) Interval() interval.Interval {
	return interval.Interval{Start: a.StartAt.UTC(), End: a.EndAt.UTC()}
}

func (a Appointment) IsBlocking(now time.Time) bool {
	return a.Status.Blocking(a.HoldUntil, now)
}

// HoldExpired is true for a pending appointment whose lease has run out.
func (a Appointment) HoldExpired(now time.Time) bool {
	return a.Status == StatusPending && a.HoldUntil != nil && !a.HoldUntil.After(now)
}

// Block is doctor time taken out of the calendar without an appointment.
type Block struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	StartAt   time.Time
	EndAt     time.Time
	AllDay    bool
	Reason    *string
	CreatedBy uuid.UUID
	CreatedAt time.Time
}

func (b Block) Interval() interval.Interval {
	return interval.Interval{Start: b.StartAt.UTC(), End: b.EndAt.UTC()}
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       json.RawMessage
	CreatedAt     time.Time
}

type ListFilter struct {
	DoctorID  *uuid.UUID
	PatientID *uuid.UUID
	Status    *Status
	From      *time.Time
	To        *time.Time
	Limit     int
	Offset    int
}
