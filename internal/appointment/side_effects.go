package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/meeting"
	"github.com/hackgods/clinic-booking/internal/outbox"
)

const (
	TaskMeetingProvision  = "meeting.provision"
	TaskNotifyConfirmed   = "notify.confirmed"
	TaskNotifyRescheduled = "notify.rescheduled"
)

type RescheduledPayload struct {
	OldStart time.Time `json:"old_start"`
	OldEnd   time.Time `json:"old_end"`
}

// Notifier sends appointment notifications to the people involved.
type Notifier interface {
	NotifyConfirmed(ctx context.Context, appt Appointment) error
	NotifyRescheduled(ctx context.Context, appt Appointment, oldStart, oldEnd time.Time) error
}

type taskSpec struct {
	kind    string
	payload any
}

// enqueue hands side effects to the task queue. The transition they follow
// has already committed, so failures are only logged.
func (s *Service) enqueue(ctx context.Context, appointmentID uuid.UUID, specs ...taskSpec) {
	if s.tasks == nil {
		return
	}
	tasks := make([]outbox.Task, 0, len(specs))
	for _, spec := range specs {
		t, err := outbox.NewTask(appointmentID, spec.kind, spec.payload)
		if err != nil {
			s.logger.Error("build side effect task failed",
				zap.String("appointment_id", appointmentID.String()),
				zap.String("kind", spec.kind),
				zap.Error(err),
			)
			continue
		}
		tasks = append(tasks, t)
	}
	if len(tasks) == 0 {
		return
	}
	if err := s.tasks.Enqueue(ctx, tasks...); err != nil {
		s.logger.Error("enqueue side effects failed",
			zap.String("appointment_id", appointmentID.String()),
			zap.Int("tasks", len(tasks)),
			zap.Error(err),
		)
	}
}

// SideEffects holds the outbox handlers for appointment tasks.
type SideEffects struct {
	repo     Repository
	meetings meeting.Client
	notifier Notifier
	logger   *zap.Logger
}

func NewSideEffects(repo Repository, meetings meeting.Client, notifier Notifier, logger *zap.Logger) *SideEffects {
	if meetings == nil {
		meetings = meeting.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SideEffects{repo: repo, meetings: meetings, notifier: notifier, logger: logger}
}

func (e *SideEffects) Register(d *outbox.Dispatcher) {
	d.Handle(TaskMeetingProvision, e.ProvisionMeeting)
	d.Handle(TaskNotifyConfirmed, e.NotifyConfirmed)
	d.Handle(TaskNotifyRescheduled, e.NotifyRescheduled)
}

// confirmed reloads the task's appointment. Gone or unconfirmed rows make
// the task a no-op.
func (e *SideEffects) confirmed(ctx context.Context, task outbox.Task) (*Appointment, error) {
	appt, err := e.repo.GetAppointmentByID(ctx, task.AppointmentID)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, outbox.ErrSkip
	}
	if err != nil {
		return nil, fmt.Errorf("reload appointment: %w", err)
	}
	if appt.Status != StatusConfirmed {
		return nil, outbox.ErrSkip
	}
	return appt, nil
}

// ProvisionMeeting creates or updates the appointment's meeting link.
func (e *SideEffects) ProvisionMeeting(ctx context.Context, task outbox.Task) error {
	appt, err := e.confirmed(ctx, task)
	if err != nil {
		return err
	}

	var ref, joinURL string
	if appt.MeetingRef != nil {
		ref = *appt.MeetingRef
	}
	if appt.MeetingURL != nil {
		joinURL = *appt.MeetingURL
	}

	m, created, err := meeting.Ensure(ctx, e.meetings, ref, joinURL, meeting.Request{
		DoctorID: appt.DoctorID,
		Start:    appt.StartAt,
		End:      appt.EndAt,
		Topic:    "Consultation",
	})
	if err != nil {
		return err
	}
	if !created {
		return nil
	}

	if err := e.repo.SetMeeting(ctx, appt.ID, m.ExternalID, m.JoinURL); err != nil {
		return fmt.Errorf("save meeting ref: %w", err)
	}
	e.logger.Info("meeting provisioned",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("meeting_ref", m.ExternalID),
	)
	return nil
}

func (e *SideEffects) NotifyConfirmed(ctx context.Context, task outbox.Task) error {
	if e.notifier == nil {
		return outbox.ErrSkip
	}
	appt, err := e.confirmed(ctx, task)
	if err != nil {
		return err
	}
	return e.notifier.NotifyConfirmed(ctx, *appt)
}

func (e *SideEffects) NotifyRescheduled(ctx context.Context, task outbox.Task) error {
	if e.notifier == nil {
		return outbox.ErrSkip
	}
	appt, err := e.confirmed(ctx, task)
	if err != nil {
		return err
	}
	var p RescheduledPayload
	if len(task.Payload) > 0 {
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			e.logger.Warn("bad reschedule payload, skipping",
				zap.String("task_id", task.ID.String()), zap.Error(err))
			return outbox.ErrSkip
		}
	}
	return e.notifier.NotifyRescheduled(ctx, *appt, p.OldStart, p.OldEnd)
}
