package trip

import (
	"errors"
	"strings"
	"time"

	"tripflow/internal/domain/geo"
)

// Trip is the domain entity corresponding to the `trips` table.
type Trip struct {
	// Identity & audit
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Actors
	RiderID  string
	DriverID *string // nil until assigned

	// Route
	Origin      geo.Point
	Destination geo.Point

	// Core state
	Status Status

	// Pricing (currency minor units)
	QuotedPrice *int64
	FinalPrice  *int64

	// Terminal bookkeeping
	UnmatchedReason    *string
	CancellationReason *string
}

var (
	ErrTripIDRequired          = errors.New("trip id is required")
	ErrRiderRequired           = errors.New("rider id is required")
	ErrDriverRequired          = errors.New("driver id is required")
	ErrAlreadyAssigned         = errors.New("driver already assigned")
	ErrNoDriverAssigned        = errors.New("no driver assigned")
	ErrNegativePrice           = errors.New("price cannot be negative")
	ErrInvalidStatusTransition = errors.New("invalid trip status transition")
)

// NewTrip creates a new trip in REQUESTED state.
func NewTrip(id, riderID string, origin, destination geo.Point) (*Trip, error) {
	if id = strings.TrimSpace(id); id == "" {
		return nil, ErrTripIDRequired
	}
	if riderID = strings.TrimSpace(riderID); riderID == "" {
		return nil, ErrRiderRequired
	}
	if err := origin.Validate(); err != nil {
		return nil, err
	}
	if err := destination.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &Trip{
		ID:          id,
		CreatedAt:   now,
		UpdatedAt:   now,
		RiderID:     riderID,
		Origin:      origin,
		Destination: destination,
		Status:      StatusRequested,
	}, nil
}

// StartMatching transitions REQUESTED -> MATCHING.
func (t *Trip) StartMatching() error {
	if !t.Status.CanTransitionTo(StatusMatching) {
		return ErrInvalidStatusTransition
	}
	t.setStatus(StatusMatching)
	return nil
}

// AssignDriver sets the driver and moves MATCHING -> ASSIGNED.
func (t *Trip) AssignDriver(driverID string) error {
	if driverID = strings.TrimSpace(driverID); driverID == "" {
		return ErrDriverRequired
	}
	if t.DriverID != nil && *t.DriverID != "" {
		return ErrAlreadyAssigned
	}
	if !t.Status.CanTransitionTo(StatusAssigned) {
		return ErrInvalidStatusTransition
	}
	t.DriverID = &driverID
	t.setStatus(StatusAssigned)
	return nil
}

// MarkUnmatched transitions MATCHING -> UNMATCHED (terminal, no driver found).
func (t *Trip) MarkUnmatched(reason string) error {
	if !t.Status.CanTransitionTo(StatusUnmatched) {
		return ErrInvalidStatusTransition
	}
	if rs := strings.TrimSpace(reason); rs != "" {
		t.UnmatchedReason = &rs
	}
	t.setStatus(StatusUnmatched)
	return nil
}

// SetQuote stores the quoted price and moves ASSIGNED -> PRICED.
func (t *Trip) SetQuote(price int64) error {
	if price < 0 {
		return ErrNegativePrice
	}
	if !t.Status.CanTransitionTo(StatusPriced) {
		return ErrInvalidStatusTransition
	}
	t.QuotedPrice = &price
	t.setStatus(StatusPriced)
	return nil
}

// Start transitions PRICED -> IN_PROGRESS.
func (t *Trip) Start() error {
	if t.DriverID == nil || *t.DriverID == "" {
		return ErrNoDriverAssigned
	}
	if !t.Status.CanTransitionTo(StatusInProgress) {
		return ErrInvalidStatusTransition
	}
	t.setStatus(StatusInProgress)
	return nil
}

// Complete transitions IN_PROGRESS -> COMPLETED and records the final price.
func (t *Trip) Complete(finalPrice int64) error {
	if finalPrice < 0 {
		return ErrNegativePrice
	}
	if !t.Status.CanTransitionTo(StatusCompleted) {
		return ErrInvalidStatusTransition
	}
	t.FinalPrice = &finalPrice
	t.setStatus(StatusCompleted)
	return nil
}

// Cancel transitions any pre-ride status to CANCELLED.
func (t *Trip) Cancel(reason string) error {
	if !t.Status.CanTransitionTo(StatusCancelled) {
		return ErrInvalidStatusTransition
	}
	if rs := strings.TrimSpace(reason); rs != "" {
		t.CancellationReason = &rs
	}
	t.setStatus(StatusCancelled)
	return nil
}

// ----- internal helpers -----

func (t *Trip) setStatus(status Status) {
	t.Status = status
	t.touch()
}

func (t *Trip) touch() {
	t.UpdatedAt = time.Now().UTC()
}
