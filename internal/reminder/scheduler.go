package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/observability/metrics"
)

type Config struct {
	LeadTime     time.Duration // reminder fires this long before start
	SafetyMargin time.Duration // below this much time to start, skip the reminder
	SoonDelay    time.Duration // delay for reminders whose run time already passed
}

func (c Config) withDefaults() Config {
	if c.LeadTime <= 0 {
		c.LeadTime = 10 * time.Minute
	}
	if c.SafetyMargin <= 0 {
		c.SafetyMargin = 2 * time.Minute
	}
	if c.SoonDelay <= 0 {
		c.SoonDelay = time.Minute
	}
	return c
}

// Scheduler keeps one timer per scheduled job. Storage is the source of
// truth; the timer map is rebuilt from it by Recover.
type Scheduler struct {
	store   Store
	appts   Appointments
	sender  Sender
	clock   clock.Clock
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	timers map[string]armed
	gen    uint64
}

type armed struct {
	timer clock.Timer
	gen   uint64
	runAt time.Time
}

func NewScheduler(store Store, appts Appointments, sender Sender, clk clock.Clock, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:   store,
		appts:   appts,
		sender:  sender,
		clock:   clk,
		cfg:     cfg.withDefaults(),
		metrics: m,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		timers:  make(map[string]armed),
	}
}

// Schedule writes a fresh scheduled job for a confirmed appointment and
// arms its timer, replacing any previous job. Other statuses are a no-op.
// It returns ErrTooLate, after cancelling any previous job, when the
// appointment starts within the safety margin.
func (s *Scheduler) Schedule(ctx context.Context, appt appointment.Appointment) error {
	if appt.Status != appointment.StatusConfirmed {
		return nil
	}

	now := s.clock.Now()
	runAt, ok := s.runAt(appt, now)
	if !ok {
		if err := s.Cancel(ctx, appt.ID); err != nil {
			return err
		}
		return fmt.Errorf("%w: starts at %s", ErrTooLate, appt.StartAt.Format(time.RFC3339))
	}

	id := JobID(appt.ID)
	if _, err := s.store.UpsertJob(ctx, Job{
		ID:            id,
		AppointmentID: appt.ID,
		RunAt:         runAt,
		Status:        StatusScheduled,
	}); err != nil {
		return fmt.Errorf("persist reminder job: %w", err)
	}
	s.arm(id, runAt)

	s.logger.Info("reminder scheduled",
		zap.String("job_id", id),
		zap.String("appointment_id", appt.ID.String()),
		zap.Time("run_at", runAt),
	)
	return nil
}

// runAt is start minus the lead time, or now plus the soon delay when that
// already passed and the safety margin still holds.
func (s *Scheduler) runAt(appt appointment.Appointment, now time.Time) (time.Time, bool) {
	runAt := appt.StartAt.Add(-s.cfg.LeadTime)
	if runAt.After(now) {
		return runAt, true
	}
	if appt.StartAt.Sub(now) >= s.cfg.SafetyMargin {
		return now.Add(s.cfg.SoonDelay), true
	}
	return time.Time{}, false
}

// Cancel disarms the appointment's timer and cancels its job if it is still
// scheduled. A missing job is not an error.
func (s *Scheduler) Cancel(ctx context.Context, appointmentID uuid.UUID) error {
	_, err := s.CancelJob(ctx, JobID(appointmentID))
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	return err
}

// CancelJob reports whether a scheduled job was canceled.
func (s *Scheduler) CancelJob(ctx context.Context, jobID string) (bool, error) {
	s.disarm(jobID)
	ok, err := s.store.TransitionJob(ctx, jobID, StatusScheduled, StatusCanceled, nil, nil)
	if err != nil {
		return false, fmt.Errorf("cancel reminder job: %w", err)
	}
	if ok {
		s.metrics.ReminderOutcome(string(StatusCanceled))
	}
	return ok, nil
}

// RunNow fires a scheduled job immediately.
func (s *Scheduler) RunNow(ctx context.Context, jobID string) (*Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != StatusScheduled {
		return nil, fmt.Errorf("%w: %s", ErrJobNotScheduled, job.Status)
	}
	s.disarm(jobID)
	if err := s.Fire(ctx, jobID); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, jobID)
}

func (s *Scheduler) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.store.GetJob(ctx, jobID)
}

func (s *Scheduler) ListJobs(ctx context.Context, status *Status) ([]Job, error) {
	jobs, err := s.store.ListJobs(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list reminder jobs: %w", err)
	}
	return jobs, nil
}

// Rebuild schedules the appointment's reminder again from current state.
func (s *Scheduler) Rebuild(ctx context.Context, appointmentID uuid.UUID) (*Job, error) {
	appt, err := s.appts.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if appt.Status != appointment.StatusConfirmed {
		return nil, fmt.Errorf("%w: appointment is %s", ErrJobNotScheduled, appt.Status)
	}
	if err := s.Schedule(ctx, *appt); err != nil {
		return nil, err
	}
	return s.store.GetJob(ctx, JobID(appointmentID))
}

// Fire runs the handler of a job. Jobs that are no longer scheduled are
// left alone. The job is claimed as executed before the reminder is sent,
// so a crash after the claim loses the reminder rather than sending it
// twice.
func (s *Scheduler) Fire(ctx context.Context, jobID string) error {
	log := s.logger.With(zap.String("job_id", jobID))

	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, ErrJobNotFound) {
		return nil
	}
	if err != nil {
		log.Error("load reminder job failed", zap.Error(err))
		return err
	}
	if job.Status != StatusScheduled {
		return nil
	}

	appt, err := s.appts.GetAppointmentByID(ctx, job.AppointmentID)
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		return s.finish(ctx, log, jobID, StatusCanceled, nil, nil)
	case err != nil:
		log.Error("load appointment for reminder failed", zap.Error(err))
		return err
	case appt.Status != appointment.StatusConfirmed:
		return s.finish(ctx, log, jobID, StatusCanceled, nil, nil)
	}

	now := s.clock.Now()
	if !appt.StartAt.After(now) {
		return s.finish(ctx, log, jobID, StatusMissed, nil, nil)
	}

	claimed, err := s.store.TransitionJob(ctx, jobID, StatusScheduled, StatusExecuted, &now, nil)
	if err != nil {
		log.Error("claim reminder job failed", zap.Error(err))
		return err
	}
	if !claimed {
		return nil
	}

	if err := s.sender.NotifyReminder(ctx, *appt); err != nil {
		msg := err.Error()
		log.Warn("reminder delivery failed", zap.Error(err))
		if _, terr := s.store.TransitionJob(ctx, jobID, StatusExecuted, StatusError, nil, &msg); terr != nil {
			log.Error("record reminder failure failed", zap.Error(terr))
		}
		s.metrics.ReminderOutcome(string(StatusError))
		return nil
	}

	s.metrics.ReminderOutcome(string(StatusExecuted))
	log.Info("reminder sent", zap.String("appointment_id", appt.ID.String()))
	return nil
}

func (s *Scheduler) finish(ctx context.Context, log *zap.Logger, jobID string, to Status, executedAt *time.Time, lastErr *string) error {
	ok, err := s.store.TransitionJob(ctx, jobID, StatusScheduled, to, executedAt, lastErr)
	if err != nil {
		log.Error("update reminder job failed", zap.String("to", string(to)), zap.Error(err))
		return err
	}
	if ok {
		s.metrics.ReminderOutcome(string(to))
		log.Info("reminder not sent", zap.String("status", string(to)))
	}
	return nil
}

type RecoveryReport struct {
	Armed    int `json:"armed"`
	Clamped  int `json:"clamped"`
	Canceled int `json:"canceled"`
	Missed   int `json:"missed"`
	Created  int `json:"created"`
	Rearmed  int `json:"rearmed"`
}

// Recover rebuilds the timers from storage. Scheduled jobs of appointments
// that are gone or unconfirmed are canceled. Past-due jobs are moved to
// run soon when the safety margin still holds, and marked missed otherwise.
// Confirmed upcoming appointments without a job, or whose job was
// canceled, are scheduled again.
func (s *Scheduler) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	scheduled := StatusScheduled
	jobs, err := s.store.ListJobs(ctx, &scheduled)
	if err != nil {
		return rep, fmt.Errorf("list scheduled jobs: %w", err)
	}

	now := s.clock.Now()
	for _, job := range jobs {
		appt, err := s.appts.GetAppointmentByID(ctx, job.AppointmentID)
		if err != nil && !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return rep, fmt.Errorf("load appointment %s: %w", job.AppointmentID, err)
		}
		if err != nil || appt.Status != appointment.StatusConfirmed {
			if _, err := s.CancelJob(ctx, job.ID); err != nil {
				return rep, err
			}
			rep.Canceled++
			continue
		}

		if job.RunAt.After(now) {
			s.arm(job.ID, job.RunAt)
			rep.Armed++
			continue
		}

		if appt.StartAt.Sub(now) < s.cfg.SafetyMargin {
			if _, err := s.store.TransitionJob(ctx, job.ID, StatusScheduled, StatusMissed, nil, nil); err != nil {
				return rep, fmt.Errorf("mark job missed: %w", err)
			}
			s.metrics.ReminderOutcome(string(StatusMissed))
			rep.Missed++
			continue
		}

		runAt := now.Add(s.cfg.SoonDelay)
		job.RunAt = runAt
		if _, err := s.store.UpsertJob(ctx, job); err != nil {
			return rep, fmt.Errorf("reschedule past-due job: %w", err)
		}
		s.arm(job.ID, runAt)
		rep.Clamped++
	}

	upcoming, err := s.appts.ListConfirmedUpcoming(ctx, now)
	if err != nil {
		return rep, fmt.Errorf("list confirmed appointments: %w", err)
	}
	for _, appt := range upcoming {
		job, err := s.store.GetJob(ctx, JobID(appt.ID))
		switch {
		case err == nil && job.Status != StatusCanceled:
			continue
		case err != nil && !errors.Is(err, ErrJobNotFound):
			return rep, fmt.Errorf("load job for %s: %w", appt.ID, err)
		}
		existed := err == nil
		err = s.Schedule(ctx, appt)
		switch {
		case err == nil && existed:
			rep.Rearmed++
		case err == nil:
			rep.Created++
		case errors.Is(err, ErrTooLate):
		default:
			return rep, err
		}
	}

	s.logger.Info("reminder recovery finished",
		zap.Int("armed", rep.Armed),
		zap.Int("clamped", rep.Clamped),
		zap.Int("canceled", rep.Canceled),
		zap.Int("missed", rep.Missed),
		zap.Int("created", rep.Created),
		zap.Int("rearmed", rep.Rearmed),
	)
	return rep, nil
}

// Active reports whether the appointment's reminder timer is armed.
func (s *Scheduler) Active(appointmentID uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[JobID(appointmentID)]
	return ok
}

func (s *Scheduler) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every timer. Jobs stay scheduled in storage for the next
// Recover.
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, id)
	}
}

func (s *Scheduler) arm(jobID string, runAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.timers[jobID]; ok {
		prev.timer.Stop()
	}
	s.gen++
	gen := s.gen

	d := runAt.Sub(s.clock.Now())
	if d < 0 {
		d = 0
	}
	t := s.clock.AfterFunc(d, func() { s.onTimer(jobID, gen) })
	s.timers[jobID] = armed{timer: t, gen: gen, runAt: runAt}
}

func (s *Scheduler) disarm(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[jobID]; ok {
		a.timer.Stop()
		delete(s.timers, jobID)
	}
}

func (s *Scheduler) onTimer(jobID string, gen uint64) {
	s.mu.Lock()
	a, ok := s.timers[jobID]
	if !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, jobID)
	s.mu.Unlock()

	if s.ctx.Err() != nil {
		return
	}

	// A concurrent Schedule may have moved the job later after this timer
	// was taken off the map.
	job, err := s.store.GetJob(s.ctx, jobID)
	if err != nil {
		if !errors.Is(err, ErrJobNotFound) {
			s.logger.Error("load reminder job failed", zap.String("job_id", jobID), zap.Error(err))
		}
		return
	}
	if job.RunAt.After(s.clock.Now()) {
		s.mu.Lock()
		_, rearmed := s.timers[jobID]
		s.mu.Unlock()
		if !rearmed && job.Status == StatusScheduled {
			s.arm(jobID, job.RunAt)
		}
		return
	}
	_ = s.Fire(s.ctx, jobID)
}
