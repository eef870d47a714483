// Package memstore keeps every booking table in memory behind one mutex.
// It backs STORAGE_DRIVER=memory and the engine tests.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/availability"
	"github.com/hackgods/clinic-booking/internal/clock"
	"github.com/hackgods/clinic-booking/internal/interval"
	"github.com/hackgods/clinic-booking/internal/notify"
	"github.com/hackgods/clinic-booking/internal/outbox"
	"github.com/hackgods/clinic-booking/internal/reminder"
)

var (
	_ appointment.Repository  = (*Store)(nil)
	_ interval.Checker        = (*Store)(nil)
	_ availability.Repository = (*Store)(nil)
	_ reminder.Store          = (*Store)(nil)
	_ reminder.Appointments   = (*Store)(nil)
	_ outbox.Store            = (*Store)(nil)
	_ notify.Directory        = (*Store)(nil)
)

type Store struct {
	clock clock.Clock

	mu       sync.Mutex
	appts    map[uuid.UUID]appointment.Appointment
	blocks   map[uuid.UUID]appointment.Block
	rules    map[uuid.UUID]map[time.Weekday]availability.WeeklyRule
	settings map[uuid.UUID]availability.Settings
	jobs     map[string]reminder.Job
	tasks    []outbox.Task
	events   []appointment.EventLog
	contacts map[uuid.UUID]notify.Contact
	nextID   int64
}

func New(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Store{
		clock:    clk,
		appts:    make(map[uuid.UUID]appointment.Appointment),
		blocks:   make(map[uuid.UUID]appointment.Block),
		rules:    make(map[uuid.UUID]map[time.Weekday]availability.WeeklyRule),
		settings: make(map[uuid.UUID]availability.Settings),
		jobs:     make(map[string]reminder.Job),
		contacts: make(map[uuid.UUID]notify.Contact),
	}
}

// Events returns a copy of the event log.
func (s *Store) Events() []appointment.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]appointment.EventLog(nil), s.events...)
}

// AddContact registers a user for notifications.
func (s *Store) AddContact(userID uuid.UUID, c notify.Contact) {
	s.mu.Lock()
	s.contacts[userID] = c
	s.mu.Unlock()
}

func sortByStart(appts []appointment.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].StartAt.Equal(appts[j].StartAt) {
			return appts[i].ID.String() < appts[j].ID.String()
		}
		return appts[i].StartAt.Before(appts[j].StartAt)
	})
}
