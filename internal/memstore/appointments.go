package memstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/interval"
)

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) ListAppointments(_ context.Context, f appointment.ListFilter) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []appointment.Appointment
	for _, a := range s.appts {
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.PatientID != nil && (a.PatientID == nil || *a.PatientID != *f.PatientID) {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.From != nil && !a.EndAt.After(*f.From) {
			continue
		}
		if f.To != nil && !a.StartAt.Before(*f.To) {
			continue
		}
		out = append(out, a)
	}
	sortByStart(out)

	if f.Offset >= len(out) {
		return nil, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) ListConfirmedUpcoming(_ context.Context, now time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for _, a := range s.appts {
		if a.Status == appointment.StatusConfirmed && a.StartAt.After(now) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) CreateAppointment(_ context.Context, a appointment.Appointment, now time.Time) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.IsBlocking(now) && s.conflictsLocked(a.DoctorID, a.Interval(), now, uuid.Nil) {
		return nil, appointment.ErrSlotTaken
	}
	created := s.insertLocked(a, now)
	return &created, nil
}

// CreateHolds checks and inserts the batch under the store lock, so a
// concurrent batch for the same slot sees this one and fails.
func (s *Store) CreateHolds(_ context.Context, holds []appointment.Appointment, now time.Time) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, h := range holds {
		if s.conflictsLocked(h.DoctorID, h.Interval(), now, uuid.Nil) {
			return nil, appointment.ErrSlotTaken
		}
	}
	for i := range holds {
		for j := i + 1; j < len(holds); j++ {
			if holds[i].DoctorID == holds[j].DoctorID && holds[i].Interval().Overlaps(holds[j].Interval()) {
				return nil, appointment.ErrBatchOverlap
			}
		}
	}

	created := make([]appointment.Appointment, 0, len(holds))
	for _, h := range holds {
		created = append(created, s.insertLocked(h, now))
	}
	return created, nil
}

func (s *Store) insertLocked(a appointment.Appointment, now time.Time) appointment.Appointment {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	a.StartAt = a.StartAt.UTC()
	a.EndAt = a.EndAt.UTC()
	a.CreatedAt = now
	a.UpdatedAt = now
	s.appts[a.ID] = a
	return a
}

func (s *Store) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to appointment.Status, now time.Time) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, appointment.ErrStaleWrite
	}
	if to.Blocking(nil, now) && s.conflictsLocked(a.DoctorID, a.Interval(), now, id) {
		return nil, appointment.ErrSlotTaken
	}
	a.Status = to
	a.HoldUntil = nil
	a.UpdatedAt = now
	s.appts[id] = a
	return &a, nil
}

func (s *Store) UpdateInterval(_ context.Context, id uuid.UUID, oldStart time.Time, iv interval.Interval, now time.Time) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	if !a.StartAt.Equal(oldStart) {
		return nil, appointment.ErrStaleWrite
	}
	if s.conflictsLocked(a.DoctorID, iv, now, id) {
		return nil, appointment.ErrSlotTaken
	}
	a.StartAt = iv.Start.UTC()
	a.EndAt = iv.End.UTC()
	a.HoldUntil = nil
	a.UpdatedAt = now
	s.appts[id] = a
	return &a, nil
}

func (s *Store) SetMeeting(_ context.Context, id uuid.UUID, ref, joinURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return appointment.ErrAppointmentNotFound
	}
	a.MeetingRef = &ref
	a.MeetingURL = &joinURL
	a.UpdatedAt = s.clock.Now()
	s.appts[id] = a
	return nil
}

func (s *Store) DeleteAppointment(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	delete(s.appts, id)
	return &a, nil
}

func (s *Store) DeleteExpiredHolds(_ context.Context, now time.Time, keep uuid.UUID) ([]appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Appointment
	for id, a := range s.appts {
		if id == keep || !a.HoldExpired(now) {
			continue
		}
		delete(s.appts, id)
		out = append(out, a)
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) CreateBlock(_ context.Context, b appointment.Block, now time.Time) (*appointment.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	iv := b.Interval()
	n := 0
	for _, a := range s.appts {
		if a.DoctorID == b.DoctorID && a.IsBlocking(now) && a.Interval().Overlaps(iv) {
			n++
		}
	}
	if n > 0 {
		return nil, fmt.Errorf("%w: %d appointment(s) in range", appointment.ErrBlockConflict, n)
	}
	for _, other := range s.blocks {
		if other.DoctorID == b.DoctorID && other.Interval().Overlaps(iv) {
			return nil, appointment.ErrBlockOverlap
		}
	}

	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.StartAt = iv.Start
	b.EndAt = iv.End
	b.CreatedAt = now
	s.blocks[b.ID] = b
	return &b, nil
}

func (s *Store) GetBlock(_ context.Context, id uuid.UUID) (*appointment.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[id]
	if !ok {
		return nil, appointment.ErrBlockNotFound
	}
	return &b, nil
}

func (s *Store) ListBlocks(_ context.Context, doctorID uuid.UUID, window *interval.Interval) ([]appointment.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []appointment.Block
	for _, b := range s.blocks {
		if b.DoctorID != doctorID {
			continue
		}
		if window != nil && !b.Interval().Overlaps(*window) {
			continue
		}
		out = append(out, b)
	}
	sortBlocks(out)
	return out, nil
}

func (s *Store) DeleteBlock(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[id]; !ok {
		return appointment.ErrBlockNotFound
	}
	delete(s.blocks, id)
	return nil
}

func (s *Store) InsertEvent(_ context.Context, ev appointment.EventLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	ev.ID = s.nextID
	s.events = append(s.events, ev)
	return nil
}

// FindConflicts implements interval.Checker over the in-memory tables.
func (s *Store) FindConflicts(_ context.Context, doctorID uuid.UUID, iv interval.Interval, now time.Time, exclude uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conflictsLocked(doctorID, iv, now, exclude), nil
}

func (s *Store) Blocking(_ context.Context, doctorID uuid.UUID, window interval.Interval, now time.Time) ([]interval.Commitment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []interval.Commitment
	for _, a := range s.appts {
		if a.DoctorID != doctorID || !a.IsBlocking(now) || !a.Interval().Overlaps(window) {
			continue
		}
		kind := interval.KindHeld
		if a.Status == appointment.StatusConfirmed {
			kind = interval.KindConfirmed
		}
		out = append(out, interval.Commitment{DoctorID: doctorID, Interval: a.Interval(), Kind: kind, SourceID: a.ID})
	}
	for _, b := range s.blocks {
		if b.DoctorID != doctorID || !b.Interval().Overlaps(window) {
			continue
		}
		out = append(out, interval.Commitment{DoctorID: doctorID, Interval: b.Interval(), Kind: interval.KindBlock, SourceID: b.ID})
	}
	sortCommitments(out)
	return out, nil
}

func (s *Store) conflictsLocked(doctorID uuid.UUID, iv interval.Interval, now time.Time, exclude uuid.UUID) bool {
	for id, a := range s.appts {
		if id == exclude || a.DoctorID != doctorID {
			continue
		}
		if a.IsBlocking(now) && a.Interval().Overlaps(iv) {
			return true
		}
	}
	for _, b := range s.blocks {
		if b.DoctorID == doctorID && b.Interval().Overlaps(iv) {
			return true
		}
	}
	return false
}
