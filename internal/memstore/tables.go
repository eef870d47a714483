package memstore

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/outbox"
	"github.com/hackgods/clinic-booking/internal/reminder"
)

// weekly rules and settings

func (s *Store) ListRules(_ context.Context, doctorID uuid.UUID) ([]availability.WeeklyRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []availability.WeeklyRule
	for _, r := range s.rules[doctorID] {
		r.Ranges = append([]availability.Range(nil), r.Ranges...)
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Weekday < out[j].Weekday })
	return out, nil
}

func (s *Store) UpsertRules(_ context.Context, doctorID uuid.UUID, rules []availability.WeeklyRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byDay, ok := s.rules[doctorID]
	if !ok {
		byDay = make(map[time.Weekday]availability.WeeklyRule)
		s.rules[doctorID] = byDay
	}
	now := s.clock.Now()
	for _, r := range rules {
		r.DoctorID = doctorID
		r.Ranges = append([]availability.Range(nil), r.Ranges...)
		r.UpdatedAt = now
		byDay[r.Weekday] = r
	}
	return nil
}

func (s *Store) DeleteRules(_ context.Context, doctorID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := int64(len(s.rules[doctorID]))
	delete(s.rules, doctorID)
	return n, nil
}

func (s *Store) GetSettings(_ context.Context, doctorID uuid.UUID) (*availability.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.settings[doctorID]
	if !ok {
		return nil, availability.ErrSettingsNotFound
	}
	return &st, nil
}

func (s *Store) UpsertSettings(_ context.Context, st availability.Settings) (*availability.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.UpdatedAt = s.clock.Now()
	s.settings[st.DoctorID] = st
	return &st, nil
}

// reminder jobs

func (s *Store) GetJob(_ context.Context, id string) (*reminder.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, reminder.ErrJobNotFound
	}
	return &j, nil
}

func (s *Store) UpsertJob(_ context.Context, job reminder.Job) (*reminder.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	if prev, ok := s.jobs[job.ID]; ok {
		job.CreatedAt = prev.CreatedAt
	} else {
		job.CreatedAt = now
	}
	job.RunAt = job.RunAt.UTC()
	job.Status = reminder.StatusScheduled
	job.ExecutedAt = nil
	job.LastError = nil
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return &job, nil
}

func (s *Store) TransitionJob(_ context.Context, id string, from, to reminder.Status, executedAt *time.Time, lastErr *string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return false, reminder.ErrJobNotFound
	}
	if j.Status != from {
		return false, nil
	}
	j.Status = to
	j.ExecutedAt = executedAt
	j.LastError = lastErr
	j.UpdatedAt = s.clock.Now()
	s.jobs[id] = j
	return true, nil
}

func (s *Store) ListJobs(_ context.Context, status *reminder.Status) ([]reminder.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []reminder.Job
	for _, j := range s.jobs {
		if status != nil && j.Status != *status {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].RunAt.Equal(out[k].RunAt) {
			return out[i].ID < out[k].ID
		}
		return out[i].RunAt.Before(out[k].RunAt)
	})
	return out, nil
}

// outbox tasks

func (s *Store) Enqueue(_ context.Context, tasks ...outbox.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	for _, t := range tasks {
		if t.ID == uuid.Nil {
			t.ID = uuid.New()
		}
		t.CreatedAt = now
		s.tasks = append(s.tasks, t)
	}
	return nil
}

func (s *Store) FetchPending(_ context.Context, limit, maxAttempts int) ([]outbox.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []outbox.Task
	for _, t := range s.tasks {
		if t.DeliveredAt != nil || t.Attempts >= maxAttempts {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID != id || t.DeliveredAt != nil {
			continue
		}
		now := s.clock.Now()
		t.DeliveredAt = &now
		t.Attempts++
		t.LastError = nil
		return true, nil
	}
	return false, nil
}

func (s *Store) MarkFailed(_ context.Context, id uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.tasks {
		t := &s.tasks[i]
		if t.ID == id && t.DeliveredAt == nil {
			t.Attempts++
			t.LastError = &reason
		}
	}
	return nil
}

// Tasks returns a copy of every queued task, delivered or not.
func (s *Store) Tasks() []outbox.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]outbox.Task(nil), s.tasks...)
}

// contacts

func (s *Store) ContactFor(_ context.Context, userID uuid.UUID) (notify.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[userID]
	if !ok {
		return notify.Contact{}, notify.ErrContactNotFound
	}
	return c, nil
}

func sortBlocks(blocks []appointment.Block) {
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].StartAt.Before(blocks[j].StartAt) })
}

func sortCommitments(cs []interval.Commitment) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Interval.Start.Before(cs[j].Interval.Start) })
}
