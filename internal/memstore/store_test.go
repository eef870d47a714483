package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/notify"
)

var t0 = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func slot(h, m, minutes int) interval.Interval {
	start := time.Date(2025, 6, 2, h, m, 0, 0, time.UTC)
	return interval.Interval{Start: start, End: start.Add(time.Duration(minutes) * time.Minute)}
}

func hold(doctor uuid.UUID, iv interval.Interval, until time.Time) appointment.Appointment {
	return appointment.Appointment{
		DoctorID:  doctor,
		StartAt:   iv.Start,
		EndAt:     iv.End,
		Status:    appointment.StatusPending,
		HoldUntil: &until,
	}
}

func TestCreateHoldsRejectsOverlapWithLiveHold(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(t0))
	doctor := uuid.New()

	_, err := s.CreateHolds(ctx, []appointment.Appointment{hold(doctor, slot(14, 0, 30), t0.Add(10*time.Minute))}, t0)
	require.NoError(t, err)

	// Touching is not overlapping.
	_, err = s.CreateHolds(ctx, []appointment.Appointment{hold(doctor, slot(14, 30, 30), t0.Add(10*time.Minute))}, t0)
	require.NoError(t, err)

	_, err = s.CreateHolds(ctx, []appointment.Appointment{hold(doctor, slot(14, 15, 30), t0.Add(10*time.Minute))}, t0)
	assert.ErrorIs(t, err, appointment.ErrSlotTaken)

	// Other doctors are independent.
	_, err = s.CreateHolds(ctx, []appointment.Appointment{hold(uuid.New(), slot(14, 15, 30), t0.Add(10*time.Minute))}, t0)
	assert.NoError(t, err)
}

func TestCreateHoldsBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(t0))
	doctor := uuid.New()
	until := t0.Add(10 * time.Minute)

	_, err := s.CreateHolds(ctx, []appointment.Appointment{
		hold(doctor, slot(14, 0, 30), until),
		hold(doctor, slot(14, 20, 30), until),
	}, t0)
	assert.ErrorIs(t, err, appointment.ErrBatchOverlap)

	appts, err := s.ListAppointments(ctx, appointment.ListFilter{DoctorID: &doctor})
	require.NoError(t, err)
	assert.Empty(t, appts)
}

func TestExpiredHoldNoLongerBlocks(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(t0))
	doctor := uuid.New()

	_, err := s.CreateHolds(ctx, []appointment.Appointment{hold(doctor, slot(14, 0, 30), t0.Add(time.Minute))}, t0)
	require.NoError(t, err)

	later := t0.Add(time.Minute)
	taken, err := s.FindConflicts(ctx, doctor, slot(14, 0, 30), later, uuid.Nil)
	require.NoError(t, err)
	assert.False(t, taken)

	_, err = s.CreateHolds(ctx, []appointment.Appointment{hold(doctor, slot(14, 0, 30), later.Add(10*time.Minute))}, later)
	require.NoError(t, err)

	removed, err := s.DeleteExpiredHolds(ctx, later, uuid.Nil)
	require.NoError(t, err)
	assert.Len(t, removed, 1)
}

func TestBlockingMergesAppointmentsAndBlocks(t *testing.T) {
	ctx := context.Background()
	s := New(clock.NewFake(t0))
	doctor := uuid.New()
	patient := uuid.New()

	_, err := s.CreateAppointment(ctx, appointment.Appointment{
		DoctorID:  doctor,
		PatientID: &patient,
		StartAt:   slot(15, 0, 30).Start,
		EndAt:     slot(15, 0, 30).End,
		Status:    appointment.StatusConfirmed,
	}, t0)
	require.NoError(t, err)

	iv := slot(13, 0, 60)
	_, err = s.CreateBlock(ctx, appointment.Block{DoctorID: doctor, StartAt: iv.Start, EndAt: iv.End, CreatedBy: doctor}, t0)
	require.NoError(t, err)

	_, err = s.CreateBlock(ctx, appointment.Block{DoctorID: doctor, StartAt: slot(15, 15, 30).Start, EndAt: slot(15, 15, 30).End, CreatedBy: doctor}, t0)
	assert.ErrorIs(t, err, appointment.ErrBlockConflict)

	_, err = s.CreateBlock(ctx, appointment.Block{DoctorID: doctor, StartAt: slot(13, 30, 60).Start, EndAt: slot(13, 30, 60).End, CreatedBy: doctor}, t0)
	assert.ErrorIs(t, err, appointment.ErrBlockOverlap)

	commitments, err := s.Blocking(ctx, doctor, interval.Interval{Start: t0, End: t0.Add(6 * time.Hour)}, t0)
	require.NoError(t, err)
	require.Len(t, commitments, 2)
	assert.Equal(t, interval.KindBlock, commitments[0].Kind)
	assert.Equal(t, interval.KindConfirmed, commitments[1].Kind)
}

func TestContactFor(t *testing.T) {
	s := New(nil)
	id := uuid.New()

	_, err := s.ContactFor(context.Background(), id)
	assert.ErrorIs(t, err, notify.ErrContactNotFound)

	s.AddContact(id, notify.Contact{Email: "ana@clinic.test", Name: "Ana"})
	c, err := s.ContactFor(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Ana", c.Name)
}
