// Package store defines the persistence collaborator contract the core
// depends on. Implementations are assumed durable and strongly consistent
// for a single id.
package store

import (
	"context"
	"errors"

	"tripflow/internal/domain/driver"
	"tripflow/internal/domain/trip"
)

// ErrNotFound is returned when the requested id has no record.
var ErrNotFound = errors.New("record not found")

// TripStore persists trips.
type TripStore interface {
	SaveTrip(ctx context.Context, t *trip.Trip) error
	LoadTrip(ctx context.Context, id string) (*trip.Trip, error)
}

// DriverStore persists drivers.
type DriverStore interface {
	SaveDriver(ctx context.Context, d *driver.Driver) error
	LoadDriver(ctx context.Context, id string) (*driver.Driver, error)
}

// Store bundles both collaborators.
type Store interface {
	TripStore
	DriverStore
}
