package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/interval"
)

type PgRepository struct {
	db        db.DB
	intervals *interval.PgStore
}

func NewPgRepository(conn db.DB) *PgRepository {
	return &PgRepository{db: conn, intervals: interval.NewPgStore(conn)}
}

// Intervals exposes the conflict checker over the same connection.
func (r *PgRepository) Intervals() *interval.PgStore {
	return r.intervals
}

const appointmentColumns = `id, doctor_id, patient_id, start_at, end_at, status, hold_until,
	payment_method, meeting_ref, meeting_url, created_at, updated_at`

const blockColumns = `id, doctor_id, start_at, end_at, all_day, reason, created_by, created_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var status, method string

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.PatientID,
		&a.StartAt,
		&a.EndAt,
		&status,
		&a.HoldUntil,
		&method,
		&a.MeetingRef,
		&a.MeetingURL,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if a.PaymentMethod, err = ParsePaymentMethod(method); err != nil {
		return nil, err
	}
	a.StartAt, a.EndAt = a.StartAt.UTC(), a.EndAt.UTC()
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanBlock(row pgx.Row) (*Block, error) {
	var b Block
	err := row.Scan(&b.ID, &b.DoctorID, &b.StartAt, &b.EndAt, &b.AllDay, &b.Reason, &b.CreatedBy, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlockNotFound
		}
		return nil, err
	}
	b.StartAt, b.EndAt = b.StartAt.UTC(), b.EndAt.UTC()
	return &b, nil
}

// raceError maps concurrency failures reported by Postgres onto conflicts.
func raceError(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsSerializationFailure(err):
		return fmt.Errorf("%w (%v)", ErrHoldRace, err)
	case db.IsExclusionViolation(err):
		return fmt.Errorf("%w (%v)", ErrSlotTaken, err)
	}
	return err
}

// Interface methods

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.PatientID != nil {
		add("patient_id = $%d", *f.PatientID)
	}
	if f.Status != nil {
		add("status = $%d", string(*f.Status))
	}
	if f.From != nil {
		add("end_at > $%d", *f.From)
	}
	if f.To != nil {
		add("start_at < $%d", *f.To)
	}

	query := `SELECT ` + appointmentColumns + ` FROM appointments`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` ORDER BY start_at LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ListConfirmedUpcoming(ctx context.Context, now time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed' AND start_at > $1
		ORDER BY start_at
	`, now)
	if err != nil {
		return nil, fmt.Errorf("list upcoming confirmed appointments: %w", err)
	}
	return scanAppointments(rows)
}

func insertAppointment(ctx context.Context, tx pgx.Tx, a Appointment) (*Appointment, error) {
	id := a.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO appointments (id, doctor_id, patient_id, start_at, end_at, status, hold_until, payment_method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING `+appointmentColumns,
		id, a.DoctorID, a.PatientID, a.StartAt, a.EndAt, string(a.Status), a.HoldUntil, string(a.PaymentMethod))
	return scanAppointment(row)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment, now time.Time) (*Appointment, error) {
	var created *Appointment
	err := db.InTx(ctx, r.db, pgx.Serializable, func(tx pgx.Tx) error {
		if a.IsBlocking(now) {
			taken, err := r.intervals.WithQuerier(tx).FindConflicts(ctx, a.DoctorID, a.Interval(), now, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return ErrSlotTaken
			}
		}
		var err error
		created, err = insertAppointment(ctx, tx, a)
		if err != nil {
			return fmt.Errorf("insert appointment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, raceError(err)
	}
	return created, nil
}

func (r *PgRepository) CreateHolds(ctx context.Context, holds []Appointment, now time.Time) ([]Appointment, error) {
	var created []Appointment
	err := db.InTx(ctx, r.db, pgx.Serializable, func(tx pgx.Tx) error {
		checker := r.intervals.WithQuerier(tx)
		created = created[:0]
		for _, h := range holds {
			taken, err := checker.FindConflicts(ctx, h.DoctorID, h.Interval(), now, uuid.Nil)
			if err != nil {
				return err
			}
			if taken {
				return ErrSlotTaken
			}
			a, err := insertAppointment(ctx, tx, h)
			if err != nil {
				return fmt.Errorf("insert hold: %w", err)
			}
			created = append(created, *a)
		}

		for _, a := range created {
			var twins int
			err := tx.QueryRow(ctx, `
				SELECT count(*)
				FROM appointments
				WHERE doctor_id = $1
				  AND start_at = $2 AND end_at = $3
				  AND id <> $5
				  AND `+interval.BlockingPredicate("$4"),
				a.DoctorID, a.StartAt, a.EndAt, now, a.ID).Scan(&twins)
			if err != nil {
				return fmt.Errorf("recheck hold: %w", err)
			}
			if twins > 0 {
				return ErrHoldRace
			}
		}
		return nil
	})
	if err != nil {
		return nil, raceError(err)
	}
	return created, nil
}

func lockAppointment(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*Appointment, error) {
	row := tx.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status, now time.Time) (*Appointment, error) {
	var updated *Appointment
	err := db.InTx(ctx, r.db, pgx.Serializable, func(tx pgx.Tx) error {
		current, err := lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		if current.Status != from {
			return ErrStaleWrite
		}
		if to.Blocking(nil, now) {
			taken, err := r.intervals.WithQuerier(tx).FindConflicts(ctx, current.DoctorID, current.Interval(), now, id)
			if err != nil {
				return err
			}
			if taken {
				return ErrSlotTaken
			}
		}
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET status = $2,
			    hold_until = NULL,
			    updated_at = now()
			WHERE id = $1
			  AND status = $3
			RETURNING `+appointmentColumns,
			id, string(to), string(from))
		updated, err = scanAppointment(row)
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrStaleWrite
		}
		return err
	})
	if err != nil {
		return nil, raceError(err)
	}
	return updated, nil
}

func (r *PgRepository) UpdateInterval(ctx context.Context, id uuid.UUID, oldStart time.Time, iv interval.Interval, now time.Time) (*Appointment, error) {
	var updated *Appointment
	err := db.InTx(ctx, r.db, pgx.Serializable, func(tx pgx.Tx) error {
		current, err := lockAppointment(ctx, tx, id)
		if err != nil {
			return err
		}
		if !current.StartAt.Equal(oldStart) {
			return ErrStaleWrite
		}
		taken, err := r.intervals.WithQuerier(tx).FindConflicts(ctx, current.DoctorID, iv, now, id)
		if err != nil {
			return err
		}
		if taken {
			return ErrSlotTaken
		}
		row := tx.QueryRow(ctx, `
			UPDATE appointments
			SET start_at = $2,
			    end_at = $3,
			    hold_until = NULL,
			    updated_at = now()
			WHERE id = $1
			  AND start_at = $4
			RETURNING `+appointmentColumns,
			id, iv.Start, iv.End, oldStart)
		updated, err = scanAppointment(row)
		if errors.Is(err, ErrAppointmentNotFound) {
			return ErrStaleWrite
		}
		return err
	})
	if err != nil {
		return nil, raceError(err)
	}
	return updated, nil
}

func (r *PgRepository) SetMeeting(ctx context.Context, id uuid.UUID, ref, joinURL string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET meeting_ref = $2, meeting_url = $3, updated_at = now()
		WHERE id = $1
	`, id, ref, joinURL)
	if err != nil {
		return fmt.Errorf("set meeting: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `DELETE FROM appointments WHERE id = $1 RETURNING `+appointmentColumns, id)
	return scanAppointment(row)
}

func (r *PgRepository) DeleteExpiredHolds(ctx context.Context, now time.Time, keep uuid.UUID) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		DELETE FROM appointments
		WHERE status = 'pending'
		  AND hold_until IS NOT NULL
		  AND hold_until <= $1
		  AND id <> $2
		RETURNING `+appointmentColumns, now, keep)
	if err != nil {
		return nil, fmt.Errorf("delete expired holds: %w", err)
	}
	return scanAppointments(rows)
}

func (r *PgRepository) CreateBlock(ctx context.Context, b Block, now time.Time) (*Block, error) {
	var created *Block
	err := db.InTx(ctx, r.db, pgx.Serializable, func(tx pgx.Tx) error {
		var n int
		err := tx.QueryRow(ctx, `
			SELECT count(*)
			FROM appointments
			WHERE doctor_id = $1
			  AND start_at < $3 AND end_at > $2
			  AND `+interval.BlockingPredicate("$4"),
			b.DoctorID, b.StartAt, b.EndAt, now).Scan(&n)
		if err != nil {
			return fmt.Errorf("count overlapping appointments: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%w: %d appointment(s) in range", ErrBlockConflict, n)
		}

		var overlap bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM calendar_blocks
				WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2
			)
		`, b.DoctorID, b.StartAt, b.EndAt).Scan(&overlap)
		if err != nil {
			return fmt.Errorf("check overlapping blocks: %w", err)
		}
		if overlap {
			return ErrBlockOverlap
		}

		id := b.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO calendar_blocks (id, doctor_id, start_at, end_at, all_day, reason, created_by, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, now())
			RETURNING `+blockColumns,
			id, b.DoctorID, b.StartAt, b.EndAt, b.AllDay, b.Reason, b.CreatedBy)
		created, err = scanBlock(row)
		return err
	})
	if err != nil {
		return nil, raceError(err)
	}
	return created, nil
}

func (r *PgRepository) GetBlock(ctx context.Context, id uuid.UUID) (*Block, error) {
	row := r.db.QueryRow(ctx, `SELECT `+blockColumns+` FROM calendar_blocks WHERE id = $1`, id)
	return scanBlock(row)
}

func (r *PgRepository) ListBlocks(ctx context.Context, doctorID uuid.UUID, window *interval.Interval) ([]Block, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if window == nil {
		rows, err = r.db.Query(ctx, `
			SELECT `+blockColumns+` FROM calendar_blocks
			WHERE doctor_id = $1
			ORDER BY start_at
		`, doctorID)
	} else {
		rows, err = r.db.Query(ctx, `
			SELECT `+blockColumns+` FROM calendar_blocks
			WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2
			ORDER BY start_at
		`, doctorID, window.Start, window.End)
	}
	if err != nil {
		return nil, fmt.Errorf("list blocks: %w", err)
	}
	defer rows.Close()

	var result []Block
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) DeleteBlock(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM calendar_blocks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete block: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlockNotFound
	}
	return nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, []byte(ev.Payload), nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
