package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

const jobColumns = `id, appointment_id, run_at, status, executed_at, last_error, created_at, updated_at`

type PgStore struct {
	db db.DB
}

func NewPgStore(conn db.DB) *PgStore {
	if conn == nil {
		panic("reminder: db required")
	}
	return &PgStore{db: conn}
}

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	var status string
	if err := row.Scan(&j.ID, &j.AppointmentID, &j.RunAt, &status, &j.ExecutedAt, &j.LastError, &j.CreatedAt, &j.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	j.Status = st
	j.RunAt = j.RunAt.UTC()
	return &j, nil
}

func (s *PgStore) GetJob(ctx context.Context, id string) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM reminder_jobs WHERE id = $1`, id))
	if err != nil && !errors.Is(err, ErrJobNotFound) {
		return nil, fmt.Errorf("get reminder job: %w", err)
	}
	return j, err
}

func (s *PgStore) UpsertJob(ctx context.Context, job Job) (*Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `
		INSERT INTO reminder_jobs (id, appointment_id, run_at, status)
		VALUES ($1, $2, $3, 'scheduled')
		ON CONFLICT (id) DO UPDATE
		SET run_at = EXCLUDED.run_at,
		    status = 'scheduled',
		    executed_at = NULL,
		    last_error = NULL,
		    updated_at = now()
		RETURNING `+jobColumns,
		job.ID, job.AppointmentID, job.RunAt.UTC()))
	if err != nil {
		return nil, fmt.Errorf("upsert reminder job: %w", err)
	}
	return j, nil
}

func (s *PgStore) TransitionJob(ctx context.Context, id string, from, to Status, executedAt *time.Time, lastErr *string) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE reminder_jobs
		SET status = $3, executed_at = $4, last_error = $5, updated_at = now()
		WHERE id = $1 AND status = $2
	`, id, string(from), string(to), executedAt, lastErr)
	if err != nil {
		return false, fmt.Errorf("transition reminder job: %w", err)
	}
	if ct.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM reminder_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check reminder job: %w", err)
	}
	if !exists {
		return false, ErrJobNotFound
	}
	return false, nil
}

func (s *PgStore) ListJobs(ctx context.Context, status *Status) ([]Job, error) {
	query := `SELECT ` + jobColumns + ` FROM reminder_jobs`
	var args []any
	if status != nil {
		query += ` WHERE status = $1`
		args = append(args, string(*status))
	}
	query += ` ORDER BY run_at`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reminder jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reminder job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}
