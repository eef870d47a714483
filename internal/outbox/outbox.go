// Package outbox queues side effects that must run after a booking
// transition commits, and delivers them with bounded retries.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is one side effect keyed by the appointment it belongs to.
type Task struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Kind          string
	Payload       json.RawMessage
	Attempts      int
	LastError     *string
	CreatedAt     time.Time
	DeliveredAt   *time.Time
}

func NewTask(appointmentID uuid.UUID, kind string, payload any) (Task, error) {
	t := Task{ID: uuid.New(), AppointmentID: appointmentID, Kind: kind}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Task{}, fmt.Errorf("outbox: marshal %s payload: %w", kind, err)
		}
		t.Payload = data
	}
	return t, nil
}

// Store persists tasks.
type Store interface {
	Enqueue(ctx context.Context, tasks ...Task) error
	// FetchPending returns undelivered tasks with fewer than maxAttempts
	// attempts, oldest first.
	FetchPending(ctx context.Context, limit, maxAttempts int) ([]Task, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
}
