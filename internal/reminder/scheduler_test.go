package reminder_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/apperror"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/memstore"
	"github.com/hackgods/clinic-booking/internal/reminder"
)

var t0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type recordingSender struct {
	mu   sync.Mutex
	sent []uuid.UUID
	err  error
}

func (s *recordingSender) NotifyReminder(_ context.Context, a appointment.Appointment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, a.ID)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fixture struct {
	clock  *clock.Fake
	store  *memstore.Store
	sender *recordingSender
	sched  *reminder.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		clock:  clock.NewFake(t0),
		sender: &recordingSender{},
	}
	f.store = memstore.New(f.clock)
	f.sched = f.newScheduler()
	t.Cleanup(f.sched.Stop)
	return f
}

func (f *fixture) newScheduler() *reminder.Scheduler {
	return reminder.NewScheduler(f.store, f.store, f.sender, f.clock, reminder.Config{
		LeadTime:     10 * time.Minute,
		SafetyMargin: 2 * time.Minute,
		SoonDelay:    time.Minute,
	}, nil, nil)
}

func (f *fixture) confirmed(t *testing.T, startIn time.Duration) appointment.Appointment {
	t.Helper()
	patient := uuid.New()
	a, err := f.store.CreateAppointment(context.Background(), appointment.Appointment{
		DoctorID:  uuid.New(),
		PatientID: &patient,
		StartAt:   f.clock.Now().Add(startIn),
		EndAt:     f.clock.Now().Add(startIn + 50*time.Minute),
		Status:    appointment.StatusConfirmed,
	}, f.clock.Now())
	require.NoError(t, err)
	return *a
}

func intervalAt(start time.Time) interval.Interval {
	return interval.Interval{Start: start, End: start.Add(50 * time.Minute)}
}

func (f *fixture) job(t *testing.T, apptID uuid.UUID) *reminder.Job {
	t.Helper()
	j, err := f.store.GetJob(context.Background(), reminder.JobID(apptID))
	require.NoError(t, err)
	return j
}

func TestJobIDRoundTrip(t *testing.T) {
	id := uuid.New()
	jobID := reminder.JobID(id)
	assert.Equal(t, "appt_reminder:"+id.String(), jobID)

	back, err := reminder.AppointmentIDFromJob(jobID)
	require.NoError(t, err)
	assert.Equal(t, id, back)

	_, err = reminder.AppointmentIDFromJob("other:" + id.String())
	assert.ErrorIs(t, err, apperror.ErrValidation)
}

func TestScheduleFiresAtLeadTime(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)

	require.NoError(t, f.sched.Schedule(context.Background(), a))
	j := f.job(t, a.ID)
	assert.Equal(t, reminder.StatusScheduled, j.Status)
	assert.Equal(t, a.StartAt.Add(-10*time.Minute), j.RunAt)
	assert.True(t, f.sched.Active(a.ID))

	f.clock.Advance(49 * time.Minute)
	assert.Zero(t, f.sender.count())

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.sender.count())

	j = f.job(t, a.ID)
	assert.Equal(t, reminder.StatusExecuted, j.Status)
	require.NotNil(t, j.ExecutedAt)
	assert.Equal(t, t0.Add(50*time.Minute), *j.ExecutedAt)
	assert.False(t, f.sched.Active(a.ID))
}

func TestScheduleTwiceKeepsOneJob(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)

	require.NoError(t, f.sched.Schedule(context.Background(), a))
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	scheduled := reminder.StatusScheduled
	jobs, err := f.sched.ListJobs(context.Background(), &scheduled)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
	assert.Equal(t, 1, f.sched.ActiveCount())
	assert.Equal(t, 1, f.clock.Pending())

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, f.sender.count())
}

func TestScheduleIgnoresUnconfirmed(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	a.Status = appointment.StatusPending

	require.NoError(t, f.sched.Schedule(context.Background(), a))
	_, err := f.store.GetJob(context.Background(), reminder.JobID(a.ID))
	assert.ErrorIs(t, err, reminder.ErrJobNotFound)
}

func TestScheduleClampsPastRunTime(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, 5*time.Minute)

	require.NoError(t, f.sched.Schedule(context.Background(), a))
	assert.Equal(t, t0.Add(time.Minute), f.job(t, a.ID).RunAt)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.sender.count())
}

func TestScheduleSkipsInsideSafetyMargin(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, 90*time.Second)

	err := f.sched.Schedule(context.Background(), a)
	require.ErrorIs(t, err, reminder.ErrTooLate)
	assert.ErrorIs(t, err, apperror.ErrSchedulingTooLate)
	assert.False(t, f.sched.Active(a.ID))
}

func TestFireCancelsWhenAppointmentGone(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	_, err := f.store.DeleteAppointment(context.Background(), a.ID)
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Zero(t, f.sender.count())
	assert.Equal(t, reminder.StatusCanceled, f.job(t, a.ID).Status)
}

func TestFireCancelsWhenNoLongerConfirmed(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	_, err := f.store.UpdateAppointmentStatus(context.Background(), a.ID, appointment.StatusConfirmed, appointment.StatusCancelled, f.clock.Now())
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Zero(t, f.sender.count())
	assert.Equal(t, reminder.StatusCanceled, f.job(t, a.ID).Status)
}

func TestFireMarksMissedAfterStart(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	f.sched.Stop()
	f.clock.Advance(2 * time.Hour)

	require.NoError(t, f.sched.Fire(context.Background(), reminder.JobID(a.ID)))
	assert.Zero(t, f.sender.count())
	assert.Equal(t, reminder.StatusMissed, f.job(t, a.ID).Status)
}

func TestFireRecordsSenderFailure(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	f.clock.Advance(time.Hour)

	j := f.job(t, a.ID)
	assert.Equal(t, reminder.StatusError, j.Status)
	require.NotNil(t, j.LastError)
	assert.Contains(t, *j.LastError, "smtp down")
	assert.Nil(t, j.ExecutedAt)

	// terminal: no automatic retry
	f.clock.Advance(time.Hour)
	assert.Equal(t, reminder.StatusError, f.job(t, a.ID).Status)
}

func TestRescheduleAfterTerminalStartsFresh(t *testing.T) {
	f := newFixture(t)
	f.sender.err = errors.New("smtp down")
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))
	f.clock.Advance(50 * time.Minute)
	require.Equal(t, reminder.StatusError, f.job(t, a.ID).Status)

	f.sender.err = nil
	j, err := f.sched.Rebuild(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusScheduled, j.Status)
	assert.Nil(t, j.LastError)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.sender.count())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	require.NoError(t, f.sched.Cancel(context.Background(), a.ID))
	assert.False(t, f.sched.Active(a.ID))
	assert.Equal(t, reminder.StatusCanceled, f.job(t, a.ID).Status)

	// repeated and unknown cancels are no-ops
	require.NoError(t, f.sched.Cancel(context.Background(), a.ID))
	require.NoError(t, f.sched.Cancel(context.Background(), uuid.New()))

	f.clock.Advance(time.Hour)
	assert.Zero(t, f.sender.count())
}

func TestRunNow(t *testing.T) {
	f := newFixture(t)
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(context.Background(), a))

	j, err := f.sched.RunNow(context.Background(), reminder.JobID(a.ID))
	require.NoError(t, err)
	assert.Equal(t, reminder.StatusExecuted, j.Status)
	assert.Equal(t, 1, f.sender.count())
	assert.Zero(t, f.clock.Pending())

	_, err = f.sched.RunNow(context.Background(), reminder.JobID(a.ID))
	assert.ErrorIs(t, err, reminder.ErrJobNotScheduled)

	_, err = f.sched.RunNow(context.Background(), reminder.JobID(uuid.New()))
	assert.ErrorIs(t, err, reminder.ErrJobNotFound)
}

func TestRecoverRebuildsTimers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	future := f.confirmed(t, 2*time.Hour)
	gone := f.confirmed(t, 3*time.Hour)
	pastDue := f.confirmed(t, 30*time.Minute)
	tooLate := f.confirmed(t, 30*time.Minute)
	orphan := f.confirmed(t, 4*time.Hour)

	for _, a := range []appointment.Appointment{future, gone, pastDue, tooLate} {
		require.NoError(t, f.sched.Schedule(ctx, a))
	}
	f.sched.Stop()

	_, err := f.store.DeleteAppointment(ctx, gone.ID)
	require.NoError(t, err)

	// 25 minutes of downtime: pastDue's run time (start-10m) has passed, and
	// tooLate now starts in less than the safety margin
	f.clock.Set(t0.Add(25 * time.Minute))
	_, err = f.store.UpdateInterval(ctx, tooLate.ID, tooLate.StartAt, intervalAt(t0.Add(26*time.Minute)), f.clock.Now())
	require.NoError(t, err)

	restarted := f.newScheduler()
	t.Cleanup(restarted.Stop)

	rep, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminder.RecoveryReport{Armed: 1, Clamped: 1, Canceled: 1, Missed: 1, Created: 1}, rep)

	assert.True(t, restarted.Active(future.ID))
	assert.True(t, restarted.Active(pastDue.ID))
	assert.True(t, restarted.Active(orphan.ID))
	assert.False(t, restarted.Active(gone.ID))
	assert.False(t, restarted.Active(tooLate.ID))

	assert.Equal(t, reminder.StatusCanceled, f.job(t, gone.ID).Status)
	assert.Equal(t, reminder.StatusMissed, f.job(t, tooLate.ID).Status)
	assert.Equal(t, t0.Add(26*time.Minute), f.job(t, pastDue.ID).RunAt)

	f.clock.Advance(time.Minute)
	assert.Equal(t, 1, f.sender.count())

	// recovery is repeatable
	rep, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Armed)
	assert.Zero(t, rep.Created)
	assert.Equal(t, 2, restarted.ActiveCount())
}

func TestRecoverRearmsCanceledJobOfConfirmedAppointment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.confirmed(t, 2*time.Hour)

	// A reschedule cancels the old job and then fails to persist the new one.
	require.NoError(t, f.sched.Schedule(ctx, a))
	require.NoError(t, f.sched.Cancel(ctx, a.ID))
	f.sched.Stop()

	restarted := f.newScheduler()
	t.Cleanup(restarted.Stop)

	rep, err := restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminder.RecoveryReport{Rearmed: 1}, rep)
	assert.True(t, restarted.Active(a.ID))
	assert.Equal(t, reminder.StatusScheduled, f.job(t, a.ID).Status)

	f.clock.Advance(2 * time.Hour)
	assert.Equal(t, 1, f.sender.count())

	// executed jobs stay executed
	rep, err = restarted.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, reminder.RecoveryReport{}, rep)
}

func TestTimerWaitsForMovedRunTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.confirmed(t, time.Hour)
	require.NoError(t, f.sched.Schedule(ctx, a))

	// The job row moves later while the old timer is still armed.
	later := a.StartAt.Add(-5 * time.Minute)
	_, err := f.store.UpsertJob(ctx, reminder.Job{
		ID:            reminder.JobID(a.ID),
		AppointmentID: a.ID,
		RunAt:         later,
		Status:        reminder.StatusScheduled,
	})
	require.NoError(t, err)

	f.clock.Advance(50 * time.Minute)
	assert.Zero(t, f.sender.count())
	assert.Equal(t, reminder.StatusScheduled, f.job(t, a.ID).Status)
	assert.True(t, f.sched.Active(a.ID))

	f.clock.Advance(5 * time.Minute)
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, reminder.StatusExecuted, f.job(t, a.ID).Status)
}
