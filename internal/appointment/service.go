package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
	"github.com/hackgods/clinic-booking/internal/outbox"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
	"github.com/hackgods/clinic-booking/internal/tz"
)

const (
	EventAppointmentHeld        = "APPOINTMENT_HELD"
	EventAppointmentBooked      = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed   = "APPOINTMENT_CONFIRMED"
	EventAppointmentRescheduled = "APPOINTMENT_RESCHEDULED"
	EventAppointmentDeleted     = "APPOINTMENT_DELETED"
	EventHoldExpired            = "HOLD_EXPIRED"
)

const (
	MaxHoldBatch     = 20
	DefaultListLimit = 50
	MaxListLimit     = 500
)

var tracer = otel.Tracer("github.com/hackgods/clinic-booking/internal/appointment")

// ReminderScheduler owns the reminder timer of confirmed appointments.
type ReminderScheduler interface {
	Schedule(ctx context.Context, appt Appointment) error
	Cancel(ctx context.Context, appointmentID uuid.UUID) error
}

// TaskQueue accepts side effects to run after a transition commits.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks ...outbox.Task) error
}

type Deps struct {
	Repo      Repository
	Checker   interval.Checker
	Locker    redisclient.Locker
	Reminders ReminderScheduler
	Tasks     TaskQueue
	Clock     clock.Clock
	Zone      tz.Zone
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

type Service struct {
	repo      Repository
	checker   interval.Checker
	locker    redisclient.Locker
	reminders ReminderScheduler
	tasks     TaskQueue
	clock     clock.Clock
	zone      tz.Zone
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       config.Config
}

func NewService(d Deps, cfg config.Config) *Service {
	s := &Service{
		repo:      d.Repo,
		checker:   d.Checker,
		locker:    d.Locker,
		reminders: d.Reminders,
		tasks:     d.Tasks,
		clock:     d.Clock,
		zone:      d.Zone,
		metrics:   d.Metrics,
		logger:    d.Logger,
		cfg:       cfg,
	}
	if s.locker == nil {
		s.locker = redisclient.NoopLocker{}
	}
	if s.clock == nil {
		s.clock = clock.Real{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.cfg.HoldTTL <= 0 {
		s.cfg.HoldTTL = 15 * time.Minute
	}
	if s.cfg.MaxHoldTTL <= 0 {
		s.cfg.MaxHoldTTL = time.Hour
	}
	return s
}

// SetReminders wires the reminder scheduler, which is built on top of the
// same repository.
func (s *Service) SetReminders(r ReminderScheduler) {
	s.reminders = r
}

type HoldRequest struct {
	DoctorID      uuid.UUID
	Slots         []interval.Interval
	HoldMinutes   int // 0 uses the configured default
	PaymentMethod PaymentMethod
}

// Hold reserves every slot of the request for the patient, or none of them.
func (s *Service) Hold(ctx context.Context, actor Actor, req HoldRequest) (created []Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Hold", trace.WithAttributes(
		attribute.String("doctor_id", req.DoctorID.String()),
		attribute.Int("slots", len(req.Slots)),
	))
	defer func() { endSpan(span, err) }()
	defer func() { s.metrics.HoldRequest(resultLabel(err)) }()

	if actor.Role != RolePatient {
		return nil, ErrNotAllowed
	}
	if len(req.Slots) == 0 {
		return nil, ErrEmptyBatch
	}
	if len(req.Slots) > MaxHoldBatch {
		return nil, fmt.Errorf("%w: at most %d", ErrBatchTooLarge, MaxHoldBatch)
	}

	ttl := s.cfg.HoldTTL
	if req.HoldMinutes != 0 {
		ttl = time.Duration(req.HoldMinutes) * time.Minute
		if ttl < time.Minute || ttl > s.cfg.MaxHoldTTL {
			return nil, fmt.Errorf("%w: between 1 and %d", ErrHoldTTLOutOfRange, int(s.cfg.MaxHoldTTL/time.Minute))
		}
	}

	now := s.clock.Now()
	for i, slot := range req.Slots {
		if err := slot.Validate(); err != nil {
			return nil, fmt.Errorf("%w: slot %d", ErrInvalidRange, i)
		}
		if !slot.Start.After(now) {
			return nil, fmt.Errorf("%w: slot %d", ErrSlotInPast, i)
		}
	}
	if i, j, ok := interval.Pairwise(req.Slots); ok {
		return nil, fmt.Errorf("%w: slots %d and %d", ErrBatchOverlap, i, j)
	}

	s.sweep(ctx, uuid.Nil)

	patientID := actor.UserID
	holdUntil := now.Add(ttl)

	err = s.withDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		for i, slot := range req.Slots {
			taken, err := s.checker.FindConflicts(lockCtx, req.DoctorID, slot, now, uuid.Nil)
			if err != nil {
				return fmt.Errorf("check conflicts: %w", err)
			}
			if taken {
				return fmt.Errorf("%w: slot %d", ErrSlotTaken, i)
			}
		}

		holds := make([]Appointment, 0, len(req.Slots))
		for _, slot := range req.Slots {
			holds = append(holds, Appointment{
				DoctorID:      req.DoctorID,
				PatientID:     &patientID,
				StartAt:       slot.Start,
				EndAt:         slot.End,
				Status:        StatusPending,
				HoldUntil:     &holdUntil,
				PaymentMethod: req.PaymentMethod,
			})
		}

		var err error
		created, err = s.repo.CreateHolds(lockCtx, holds, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	for _, a := range created {
		s.logEvent(ctx, a.ID, EventAppointmentHeld, map[string]any{
			"doctor_id":  a.DoctorID.String(),
			"patient_id": patientID.String(),
			"start_at":   a.StartAt,
			"end_at":     a.EndAt,
			"hold_until": holdUntil,
		})
	}
	s.logger.Info("holds created",
		zap.String("doctor_id", req.DoctorID.String()),
		zap.String("patient_id", patientID.String()),
		zap.Int("count", len(created)),
		zap.Time("hold_until", holdUntil),
	)
	return created, nil
}

type BookRequest struct {
	DoctorID      uuid.UUID
	PatientID     *uuid.UUID
	Start         time.Time
	End           time.Time
	Status        Status
	PaymentMethod PaymentMethod
}

// Book lets a doctor publish a free slot or book a known patient directly.
func (s *Service) Book(ctx context.Context, actor Actor, req BookRequest) (*Appointment, error) {
	if !actor.IsDoctor(req.DoctorID) {
		return nil, ErrNotAllowed
	}
	switch req.Status {
	case StatusFree:
	case StatusConfirmed:
		if req.PatientID == nil {
			return nil, ErrPatientRequired
		}
	case StatusPending, StatusCancelled:
		return nil, ErrInvalidBookStatus
	default:
		return nil, ErrInvalidBookStatus
	}

	iv := interval.Interval{Start: req.Start.UTC(), End: req.End.UTC()}
	if err := iv.Validate(); err != nil {
		return nil, ErrInvalidRange
	}
	now := s.clock.Now()
	if !iv.Start.After(now) {
		return nil, ErrSlotInPast
	}

	s.sweep(ctx, uuid.Nil)

	appt := Appointment{
		DoctorID:      req.DoctorID,
		PatientID:     req.PatientID,
		StartAt:       iv.Start,
		EndAt:         iv.End,
		Status:        req.Status,
		PaymentMethod: req.PaymentMethod,
	}

	var created *Appointment
	err := s.withDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		if appt.IsBlocking(now) {
			taken, err := s.checker.FindConflicts(lockCtx, req.DoctorID, iv, now, uuid.Nil)
			if err != nil {
				return fmt.Errorf("check conflicts: %w", err)
			}
			if taken {
				return ErrSlotTaken
			}
		}
		var err error
		created, err = s.repo.CreateAppointment(lockCtx, appt, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, created.ID, EventAppointmentBooked, map[string]any{
		"status":   string(created.Status),
		"start_at": created.StartAt,
		"end_at":   created.EndAt,
	})
	if created.Status == StatusConfirmed {
		s.afterConfirm(ctx, *created)
	}
	return created, nil
}

// Confirm turns a hold (or a free slot) into a confirmed appointment.
func (s *Service) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (confirmed *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Confirm", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()
	defer func() { s.metrics.Confirmation(resultLabel(err)) }()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !s.canConfirm(actor, appt) {
		return nil, ErrNotAllowed
	}
	if !appt.Status.Confirmable() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidStatusTransition, appt.Status)
	}
	if appt.PatientID == nil {
		return nil, ErrPatientRequired
	}
	if err := appt.Interval().Validate(); err != nil {
		return nil, ErrInvalidRange
	}

	s.sweep(ctx, appt.ID)

	now := s.clock.Now()
	expired := appt.HoldExpired(now)

	var updated *Appointment
	err = s.withDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		taken, err := s.checker.FindConflicts(lockCtx, appt.DoctorID, appt.Interval(), now, appt.ID)
		if err != nil {
			return fmt.Errorf("check conflicts: %w", err)
		}
		if taken {
			if expired {
				return fmt.Errorf("%w: hold expired and the slot was booked meanwhile, pick another", ErrSlotTaken)
			}
			return ErrSlotTaken
		}
		updated, err = s.repo.UpdateAppointmentStatus(lockCtx, appt.ID, appt.Status, StatusConfirmed, now)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrStaleWrite) {
			return nil, fmt.Errorf("%w: appointment changed while confirming", ErrInvalidStatusTransition)
		}
		return nil, err
	}

	s.logEvent(ctx, updated.ID, EventAppointmentConfirmed, map[string]any{
		"from":         string(appt.Status),
		"hold_expired": expired,
		"actor_role":   string(actor.Role),
	})
	s.afterConfirm(ctx, *updated)
	return updated, nil
}

func (s *Service) canConfirm(actor Actor, appt *Appointment) bool {
	switch actor.Role {
	case RoleSystem:
		return true
	case RoleDoctor:
		return actor.IsDoctor(appt.DoctorID)
	case RolePatient:
		return actor.IsPatient(appt.PatientID) && appt.PaymentMethod == PaymentGateway
	}
	return false
}

// afterConfirm queues the confirmation side effects and schedules the
// reminder. Failures are logged; the confirmation stands.
func (s *Service) afterConfirm(ctx context.Context, appt Appointment) {
	s.enqueue(ctx, appt.ID,
		taskSpec{kind: TaskMeetingProvision},
		taskSpec{kind: TaskNotifyConfirmed},
	)
	s.scheduleReminder(ctx, appt)
}

// Reschedule moves an appointment to a new interval.
func (s *Service) Reschedule(ctx context.Context, actor Actor, id uuid.UUID, newStart, newEnd time.Time) (moved *Appointment, err error) {
	ctx, span := tracer.Start(ctx, "appointment.Reschedule", trace.WithAttributes(
		attribute.String("appointment_id", id.String()),
	))
	defer func() { endSpan(span, err) }()

	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !actor.IsDoctor(appt.DoctorID) && !actor.IsPatient(appt.PatientID) {
		return nil, ErrNotAllowed
	}
	if !appt.Status.Reschedulable() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidStatusTransition, appt.Status)
	}

	iv := interval.Interval{Start: newStart.UTC(), End: newEnd.UTC()}
	if err := iv.Validate(); err != nil {
		return nil, ErrInvalidRange
	}
	now := s.clock.Now()
	if !iv.Start.After(now) {
		return nil, ErrSlotInPast
	}
	if appt.StartAt.Sub(now) < s.cfg.RescheduleMinLead {
		return nil, fmt.Errorf("%w: at least %s before the current start", ErrRescheduleTooLate, s.cfg.RescheduleMinLead)
	}

	s.sweep(ctx, appt.ID)

	err = s.withDoctorLock(ctx, appt.DoctorID, func(lockCtx context.Context) error {
		taken, err := s.checker.FindConflicts(lockCtx, appt.DoctorID, iv, now, appt.ID)
		if err != nil {
			return fmt.Errorf("check conflicts: %w", err)
		}
		if taken {
			return ErrSlotTaken
		}
		moved, err = s.repo.UpdateInterval(lockCtx, appt.ID, appt.StartAt, iv, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logEvent(ctx, moved.ID, EventAppointmentRescheduled, map[string]any{
		"old_start": appt.StartAt,
		"old_end":   appt.EndAt,
		"new_start": moved.StartAt,
		"new_end":   moved.EndAt,
	})

	if moved.Status == StatusConfirmed {
		if s.reminders != nil {
			if err := s.reminders.Cancel(ctx, moved.ID); err != nil {
				s.logger.Warn("cancel reminder before reschedule failed",
					zap.String("appointment_id", moved.ID.String()), zap.Error(err))
			}
		}
		s.scheduleReminder(ctx, *moved)
		s.enqueue(ctx, moved.ID,
			taskSpec{kind: TaskMeetingProvision},
			taskSpec{kind: TaskNotifyRescheduled, payload: RescheduledPayload{OldStart: appt.StartAt, OldEnd: appt.EndAt}},
		)
	}
	return moved, nil
}

// Delete removes an appointment and cancels its reminder.
func (s *Service) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return fmt.Errorf("load appointment: %w", err)
	}
	if actor.Role != RoleSystem && !actor.IsDoctor(appt.DoctorID) && !actor.IsPatient(appt.PatientID) {
		return ErrNotAllowed
	}

	if _, err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return fmt.Errorf("delete appointment: %w", err)
	}

	if s.reminders != nil {
		if err := s.reminders.Cancel(ctx, id); err != nil {
			s.logger.Warn("cancel reminder after delete failed",
				zap.String("appointment_id", id.String()), zap.Error(err))
		}
	}
	s.logEvent(ctx, id, EventAppointmentDeleted, map[string]any{
		"status":     string(appt.Status),
		"actor_role": string(actor.Role),
	})
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]Appointment, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	s.sweep(ctx, uuid.Nil)

	appts, err := s.repo.ListAppointments(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return appts, nil
}

// SweepExpiredHolds deletes every pending appointment whose hold has run out.
// It is idempotent and safe to call from any request path.
func (s *Service) SweepExpiredHolds(ctx context.Context) (int64, error) {
	return s.sweepExcept(ctx, uuid.Nil)
}

func (s *Service) sweepExcept(ctx context.Context, keep uuid.UUID) (int64, error) {
	expired, err := s.repo.DeleteExpiredHolds(ctx, s.clock.Now(), keep)
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}
	for _, a := range expired {
		s.logEvent(ctx, a.ID, EventHoldExpired, map[string]any{
			"doctor_id":  a.DoctorID.String(),
			"start_at":   a.StartAt,
			"hold_until": a.HoldUntil,
		})
	}
	s.metrics.HoldsSwept(len(expired))
	if len(expired) > 0 {
		s.logger.Info("expired holds swept", zap.Int("count", len(expired)))
	}
	return int64(len(expired)), nil
}

// sweep is the opportunistic form: failures never block the caller.
func (s *Service) sweep(ctx context.Context, keep uuid.UUID) {
	if _, err := s.sweepExcept(ctx, keep); err != nil {
		s.logger.Warn("opportunistic hold sweep failed", zap.Error(err))
	}
}

func (s *Service) withDoctorLock(ctx context.Context, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	err := s.locker.WithDoctorLock(ctx, doctorID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrCalendarBusy
	}
	return err
}

func (s *Service) scheduleReminder(ctx context.Context, appt Appointment) {
	if s.reminders == nil {
		return
	}
	err := s.reminders.Schedule(ctx, appt)
	switch {
	case err == nil:
	case errors.Is(err, apperror.ErrSchedulingTooLate):
		s.logger.Info("reminder skipped, appointment too close",
			zap.String("appointment_id", appt.ID.String()), zap.Time("start_at", appt.StartAt))
	default:
		s.logger.Error("schedule reminder failed",
			zap.String("appointment_id", appt.ID.String()), zap.Error(err))
	}
}

func (s *Service) logEvent(ctx context.Context, appointmentID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.clock.Now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to insert event log",
			zap.String("event", eventType),
			zap.String("appointment_id", appointmentID.String()),
			zap.Error(err),
		)
	}
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, apperror.ErrConflict):
		return "conflict"
	case errors.Is(err, apperror.ErrInvalidInterval), errors.Is(err, apperror.ErrValidation):
		return "invalid"
	case errors.Is(err, apperror.ErrForbidden):
		return "forbidden"
	case errors.Is(err, apperror.ErrNotFound):
		return "not_found"
	}
	return "error"
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
