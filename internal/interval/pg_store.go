package interval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx the store reads through.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgStore struct {
	q Querier
}

func NewPgStore(q Querier) *PgStore {
	return &PgStore{q: q}
}

// WithQuerier returns a store bound to q, typically an open transaction.
func (s *PgStore) WithQuerier(q Querier) *PgStore {
	return &PgStore{q: q}
}

// BlockingPredicate is the SQL condition for an appointments row that
// blocks at the instant bound to placeholder nowArg (for example "$4").
func BlockingPredicate(nowArg string) string {
	return `(status = 'confirmed' OR (status = 'pending' AND (hold_until IS NULL OR hold_until > ` + nowArg + `)))`
}

func (s *PgStore) FindConflicts(ctx context.Context, doctorID uuid.UUID, iv Interval, now time.Time, exclude uuid.UUID) (bool, error) {
	var found bool
	err := s.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM appointments
			WHERE doctor_id = $1
			  AND start_at < $3 AND end_at > $2
			  AND id <> $5
			  AND `+BlockingPredicate("$4")+`
			UNION ALL
			SELECT 1 FROM calendar_blocks
			WHERE doctor_id = $1
			  AND start_at < $3 AND end_at > $2
		)
	`, doctorID, iv.Start, iv.End, now, exclude).Scan(&found)
	if err != nil {
		return false, fmt.Errorf("find conflicts: %w", err)
	}
	return found, nil
}

func (s *PgStore) Blocking(ctx context.Context, doctorID uuid.UUID, window Interval, now time.Time) ([]Commitment, error) {
	rows, err := s.q.Query(ctx, `
		SELECT id, start_at, end_at,
		       CASE WHEN status = 'confirmed' THEN 'confirmed' ELSE 'held' END AS kind
		FROM appointments
		WHERE doctor_id = $1
		  AND start_at < $3 AND end_at > $2
		  AND `+BlockingPredicate("$4")+`
		UNION ALL
		SELECT id, start_at, end_at, 'block' AS kind
		FROM calendar_blocks
		WHERE doctor_id = $1
		  AND start_at < $3 AND end_at > $2
		ORDER BY 2
	`, doctorID, window.Start, window.End, now)
	if err != nil {
		return nil, fmt.Errorf("list blocking commitments: %w", err)
	}
	defer rows.Close()

	var result []Commitment
	for rows.Next() {
		var c Commitment
		var kind string
		if err := rows.Scan(&c.SourceID, &c.Interval.Start, &c.Interval.End, &kind); err != nil {
			return nil, fmt.Errorf("scan commitment: %w", err)
		}
		c.DoctorID = doctorID
		c.Kind = Kind(kind)
		c.Interval.Start = c.Interval.Start.UTC()
		c.Interval.End = c.Interval.End.UTC()
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
