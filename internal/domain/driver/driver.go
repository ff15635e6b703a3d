package driver

import (
	"errors"
	"strings"
	"time"

	"tripflow/internal/domain/geo"
)

// Driver is the domain entity corresponding to the `drivers` table.
//
// Invariant: ActiveTripID is set if and only if Available is false. The
// Assign/Release methods are the only way to touch either field, which keeps
// the bijection intact across assignment, completion and cancellation.
type Driver struct {
	// Identity & audit
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	Name     string
	Location geo.Point
	Rating   float64

	// Operational state
	Available    bool
	ActiveTripID *string
}

var (
	ErrDriverIDRequired = errors.New("driver id is required")
	ErrInvalidRating    = errors.New("rating must be between 0.0 and 5.0")
	ErrDriverBusy       = errors.New("driver already has an active trip")
	ErrNoActiveTrip     = errors.New("driver has no active trip")
)

// NewDriver creates a new Driver entity, offline until marked available.
func NewDriver(id, name string, location geo.Point, rating float64) (*Driver, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, ErrDriverIDRequired
	}
	if rating < 0 || rating > 5 {
		return nil, ErrInvalidRating
	}
	if err := location.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Driver{
		ID:        id,
		CreatedAt: now,
		UpdatedAt: now,
		Name:      strings.TrimSpace(name),
		Location:  location,
		Rating:    rating,
	}, nil
}

// Assign binds the driver to a trip and drops availability.
func (d *Driver) Assign(tripID string) error {
	if tripID = strings.TrimSpace(tripID); tripID == "" {
		return ErrNoActiveTrip
	}
	if d.ActiveTripID != nil {
		return ErrDriverBusy
	}
	d.ActiveTripID = &tripID
	d.Available = false
	d.touch()
	return nil
}

// Release clears the active trip and restores availability.
func (d *Driver) Release() error {
	if d.ActiveTripID == nil {
		return ErrNoActiveTrip
	}
	d.ActiveTripID = nil
	d.Available = true
	d.touch()
	return nil
}

// GoOnline marks the driver available at the given location.
func (d *Driver) GoOnline(location geo.Point) error {
	if err := location.Validate(); err != nil {
		return err
	}
	if d.ActiveTripID != nil {
		return ErrDriverBusy
	}
	d.Location = location
	d.Available = true
	d.touch()
	return nil
}

// GoOffline withdraws the driver from matching. A driver mid-trip keeps the
// trip; only the availability flag changes once the trip is released.
func (d *Driver) GoOffline() {
	d.Available = false
	d.touch()
}

// UpdateLocation moves the driver without touching availability.
func (d *Driver) UpdateLocation(location geo.Point) error {
	if err := location.Validate(); err != nil {
		return err
	}
	d.Location = location
	d.touch()
	return nil
}

func (d *Driver) touch() {
	d.UpdatedAt = time.Now().UTC()
}
