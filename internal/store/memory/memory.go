// Package memory is an in-process store.Store used by tests and local runs.
package memory

import (
	"context"
	"sync"

	"tripflow/internal/domain/driver"
	"tripflow/internal/domain/trip"
	"tripflow/internal/store"
)

// Store keeps trips and drivers in maps guarded by a single RWMutex.
// Values are copied on the way in and out, so callers never share entity
// pointers with the store.
type Store struct {
	mu      sync.RWMutex
	trips   map[string]trip.Trip
	drivers map[string]driver.Driver
}

var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		trips:   make(map[string]trip.Trip),
		drivers: make(map[string]driver.Driver),
	}
}

// SaveTrip upserts a trip by id.
func (s *Store) SaveTrip(_ context.Context, t *trip.Trip) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trips[t.ID] = *t
	return nil
}

// LoadTrip fetches a trip copy by id.
func (s *Store) LoadTrip(_ context.Context, id string) (*trip.Trip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trips[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := t
	return &out, nil
}

// SaveDriver upserts a driver by id.
func (s *Store) SaveDriver(_ context.Context, d *driver.Driver) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drivers[d.ID] = *d
	return nil
}

// LoadDriver fetches a driver copy by id.
func (s *Store) LoadDriver(_ context.Context, id string) (*driver.Driver, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drivers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := d
	return &out, nil
}
