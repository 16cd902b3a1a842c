// Package memory is an in-process store used for local development and tests.
// It mirrors the Postgres guarantees: one lock per provider around calendar
// transactions, writes staged until commit, and the no-overlap constraint.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type Store struct {
	locks *keyedMutex

	mu           sync.RWMutex
	appointments map[uuid.UUID]domain.Appointment
	hours        map[string][]domain.WeeklyHours
	blocks       map[uuid.UUID]domain.Block
	connections  map[string]domain.CalendarConnection
	outbox       []domain.OutboxEvent
	nextEventID  int64

	publishMu sync.Mutex
}

func New() *Store {
	return &Store{
		locks:        newKeyedMutex(),
		appointments: make(map[uuid.UUID]domain.Appointment),
		hours:        make(map[string][]domain.WeeklyHours),
		blocks:       make(map[uuid.UUID]domain.Block),
		connections:  make(map[string]domain.CalendarConnection),
	}
}

func (s *Store) Appointments() *AppointmentRepo { return &AppointmentRepo{s: s} }
func (s *Store) Schedules() *ScheduleRepo       { return &ScheduleRepo{s: s} }
func (s *Store) Blocks() *BlockRepo             { return &BlockRepo{s: s} }
func (s *Store) Connections() *ConnectionRepo   { return &ConnectionRepo{s: s} }
func (s *Store) Outbox() *OutboxRepo            { return &OutboxRepo{s: s} }

// keyedMutex hands out one mutex per key and drops it once nobody holds or
// waits on it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*refMutex)}
}

func (k *keyedMutex) Lock(key string) (unlock func()) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
