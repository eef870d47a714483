package outbox

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/clinic-booking/internal/db"
)

// DefaultLease is how long a fetched task stays claimed by one dispatcher.
const DefaultLease = 5 * time.Minute

type PgStore struct {
	db    db.DB
	lease time.Duration
}

func NewPgStore(conn db.DB) *PgStore {
	if conn == nil {
		panic("outbox: db required")
	}
	return &PgStore{db: conn, lease: DefaultLease}
}

// WithLease sets the claim duration. A dispatcher that dies mid-batch
// releases its tasks when the lease runs out.
func (s *PgStore) WithLease(d time.Duration) *PgStore {
	if d > 0 {
		s.lease = d
	}
	return s
}

func (s *PgStore) Enqueue(ctx context.Context, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	return db.InTx(ctx, s.db, pgx.ReadCommitted, func(tx pgx.Tx) error {
		for _, t := range tasks {
			id := t.ID
			if id == uuid.Nil {
				id = uuid.New()
			}
			_, err := tx.Exec(ctx, `
				INSERT INTO side_effect_tasks (id, appointment_id, kind, payload)
				VALUES ($1, $2, $3, $4)
			`, id, t.AppointmentID, t.Kind, []byte(t.Payload))
			if err != nil {
				return fmt.Errorf("outbox: enqueue %s: %w", t.Kind, err)
			}
		}
		return nil
	})
}

// FetchPending claims up to limit due tasks for this dispatcher. Rows
// locked or leased by another replica are skipped, so concurrent
// dispatchers never deliver the same task.
func (s *PgStore) FetchPending(ctx context.Context, limit, maxAttempts int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE side_effect_tasks
		SET claimed_until = now() + make_interval(secs => $3)
		WHERE id IN (
			SELECT id
			FROM side_effect_tasks
			WHERE delivered_at IS NULL
			  AND attempts < $2
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, appointment_id, kind, payload, attempts, last_error, created_at, delivered_at
	`, limit, maxAttempts, s.lease.Seconds())
	if err != nil {
		return nil, fmt.Errorf("outbox: fetch pending: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var payload []byte
		if err := rows.Scan(&t.ID, &t.AppointmentID, &t.Kind, &payload, &t.Attempts, &t.LastError, &t.CreatedAt, &t.DeliveredAt); err != nil {
			return nil, fmt.Errorf("outbox: scan task: %w", err)
		}
		t.Payload = append([]byte(nil), payload...)
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING has no order.
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	return tasks, nil
}

func (s *PgStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	ct, err := s.db.Exec(ctx, `
		UPDATE side_effect_tasks
		SET delivered_at = now(), attempts = attempts + 1, last_error = NULL, claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`, id)
	if err != nil {
		return false, fmt.Errorf("outbox: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *PgStore) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE side_effect_tasks
		SET attempts = attempts + 1, last_error = $2, claimed_until = NULL
		WHERE id = $1 AND delivered_at IS NULL
	`, id, reason)
	if err != nil {
		return fmt.Errorf("outbox: mark failed: %w", err)
	}
	return nil
}
