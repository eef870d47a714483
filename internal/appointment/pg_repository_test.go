package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var appointmentColumnNames = []string{
	"id", "doctor_id", "patient_id", "start_at", "end_at", "status", "hold_until",
	"payment_method", "meeting_ref", "meeting_url", "created_at", "updated_at",
}

var (
	pgNow   = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	pgStart = time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC)
	pgEnd   = time.Date(2025, 6, 2, 14, 50, 0, 0, time.UTC)
)

func appointmentRow(a Appointment) *pgxmock.Rows {
	return pgxmock.NewRows(appointmentColumnNames).AddRow(
		a.ID, a.DoctorID, a.PatientID, a.StartAt, a.EndAt, string(a.Status), a.HoldUntil,
		string(a.PaymentMethod), (*string)(nil), (*string)(nil), pgNow, pgNow,
	)
}

func pendingHold(doctor, patient uuid.UUID) Appointment {
	until := pgNow.Add(15 * time.Minute)
	return Appointment{
		ID:        uuid.New(),
		DoctorID:  doctor,
		PatientID: &patient,
		StartAt:   pgStart,
		EndAt:     pgEnd,
		Status:    StatusPending,
		HoldUntil: &until,
	}
}

func expectHoldInsert(mock pgxmock.PgxPoolIface, h Appointment) {
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(h.ID, h.DoctorID, pgxmock.AnyArg(), h.StartAt, h.EndAt, "pending", pgxmock.AnyArg(), "").
		WillReturnRows(appointmentRow(h))
}

func TestPgRepositoryCreateHoldsCommits(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	expectHoldInsert(mock, h)
	mock.ExpectQuery(`start_at = \$2 AND end_at = \$3`).
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, h.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit()
	mock.ExpectRollback()

	created, err := NewPgRepository(mock).CreateHolds(context.Background(), []Appointment{h}, pgNow)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, h.ID, created[0].ID)
	assert.Equal(t, StatusPending, created[0].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateHoldsRollsBackOnExactTwin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	expectHoldInsert(mock, h)
	mock.ExpectQuery(`start_at = \$2 AND end_at = \$3`).
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, h.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	created, err := NewPgRepository(mock).CreateHolds(context.Background(), []Appointment{h}, pgNow)
	assert.ErrorIs(t, err, ErrHoldRace)
	assert.Nil(t, created)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateHoldsStopsAtTakenSlot(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, uuid.Nil).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).CreateHolds(context.Background(), []Appointment{h}, pgNow)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositorySerializationFailureIsHoldRace(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	expectHoldInsert(mock, h)
	mock.ExpectQuery(`start_at = \$2 AND end_at = \$3`).
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, h.ID).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectCommit().WillReturnError(&pgconn.PgError{Code: "40001", Message: "could not serialize access"})
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).CreateHolds(context.Background(), []Appointment{h}, pgNow)
	assert.ErrorIs(t, err, ErrHoldRace)
	assert.Equal(t, "hold_race_lost", Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryConfirmExclusionViolationIsSlotTaken(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("FOR UPDATE").
		WithArgs(h.ID).
		WillReturnRows(appointmentRow(h))
	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, h.ID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("UPDATE appointments").
		WithArgs(h.ID, "confirmed", "pending").
		WillReturnError(&pgconn.PgError{Code: "23P01", Message: "conflicting key value violates exclusion constraint"})
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).UpdateAppointmentStatus(context.Background(), h.ID, StatusPending, StatusConfirmed, pgNow)
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.Equal(t, "slot_taken", Code(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryUpdateStatusGuardsFromStatus(t *testing.T) {
	t.Run("row changed before lock", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		h := pendingHold(uuid.New(), uuid.New())
		h.Status = StatusConfirmed

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
		mock.ExpectQuery("FOR UPDATE").WithArgs(h.ID).WillReturnRows(appointmentRow(h))
		mock.ExpectRollback()

		_, err = NewPgRepository(mock).UpdateAppointmentStatus(context.Background(), h.ID, StatusPending, StatusConfirmed, pgNow)
		assert.ErrorIs(t, err, ErrStaleWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("update matches no row", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()

		h := pendingHold(uuid.New(), uuid.New())

		mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
		mock.ExpectQuery("FOR UPDATE").WithArgs(h.ID).WillReturnRows(appointmentRow(h))
		mock.ExpectQuery("SELECT EXISTS").
			WithArgs(h.DoctorID, h.StartAt, h.EndAt, pgNow, h.ID).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectQuery(`AND status = \$3`).
			WithArgs(h.ID, "confirmed", "pending").
			WillReturnError(pgx.ErrNoRows)
		mock.ExpectRollback()

		_, err = NewPgRepository(mock).UpdateAppointmentStatus(context.Background(), h.ID, StatusPending, StatusConfirmed, pgNow)
		assert.ErrorIs(t, err, ErrStaleWrite)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPgRepositoryUpdateIntervalRejectsMovedRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	h := pendingHold(uuid.New(), uuid.New())

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("FOR UPDATE").WithArgs(h.ID).WillReturnRows(appointmentRow(h))
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).UpdateInterval(context.Background(), h.ID, pgStart.Add(-time.Hour),
		h.Interval(), pgNow)
	assert.ErrorIs(t, err, ErrStaleWrite)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryDeleteExpiredHoldsKeepsTarget(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	keep := uuid.New()
	expired := pendingHold(uuid.New(), uuid.New())
	past := pgNow.Add(-time.Minute)
	expired.HoldUntil = &past

	mock.ExpectQuery("DELETE FROM appointments").
		WithArgs(pgNow, keep).
		WillReturnRows(appointmentRow(expired))

	swept, err := NewPgRepository(mock).DeleteExpiredHolds(context.Background(), pgNow, keep)
	require.NoError(t, err)
	require.Len(t, swept, 1)
	assert.Equal(t, expired.ID, swept[0].ID)
	assert.True(t, swept[0].HoldExpired(pgNow))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPgRepositoryCreateBlockCountsCollisions(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	doctor := uuid.New()
	b := Block{DoctorID: doctor, StartAt: pgStart, EndAt: pgEnd, CreatedBy: doctor}

	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.Serializable})
	mock.ExpectQuery("SELECT count").
		WithArgs(doctor, pgStart, pgEnd, pgNow).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(2))
	mock.ExpectRollback()

	_, err = NewPgRepository(mock).CreateBlock(context.Background(), b, pgNow)
	assert.ErrorIs(t, err, ErrBlockConflict)
	assert.Contains(t, err.Error(), "2 appointment(s)")
	assert.NoError(t, mock.ExpectationsWereMet())
}
