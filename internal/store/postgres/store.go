// Package postgres persists trips and drivers with pgx and plain SQL.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tripflow/internal/domain/driver"
	"tripflow/internal/domain/trip"
	"tripflow/internal/store"
)

// Store implements store.Store on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// New wraps a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// SaveTrip upserts the trip row. The orchestrator is the single writer per
// trip id, so last-write-wins upsert semantics are safe here.
func (s *Store) SaveTrip(ctx context.Context, t *trip.Trip) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO trips (
			id, rider_id, driver_id,
			origin_lat, origin_lng, destination_lat, destination_lng,
			status, quoted_price, final_price,
			unmatched_reason, cancellation_reason,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			driver_id           = EXCLUDED.driver_id,
			status              = EXCLUDED.status,
			quoted_price        = EXCLUDED.quoted_price,
			final_price         = EXCLUDED.final_price,
			unmatched_reason    = EXCLUDED.unmatched_reason,
			cancellation_reason = EXCLUDED.cancellation_reason,
			updated_at          = EXCLUDED.updated_at
	`,
		t.ID, t.RiderID, t.DriverID,
		t.Origin.Lat, t.Origin.Lng, t.Destination.Lat, t.Destination.Lng,
		t.Status.String(), t.QuotedPrice, t.FinalPrice,
		t.UnmatchedReason, t.CancellationReason,
		t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save trip %s: %w", t.ID, err)
	}
	return nil
}

// LoadTrip fetches a trip by primary key.
func (s *Store) LoadTrip(ctx context.Context, id string) (*trip.Trip, error) {
	var (
		t      trip.Trip
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, rider_id, driver_id,
		       origin_lat, origin_lng, destination_lat, destination_lng,
		       status, quoted_price, final_price,
		       unmatched_reason, cancellation_reason,
		       created_at, updated_at
		FROM trips
		WHERE id = $1
	`, id).Scan(
		&t.ID, &t.RiderID, &t.DriverID,
		&t.Origin.Lat, &t.Origin.Lng, &t.Destination.Lat, &t.Destination.Lng,
		&status, &t.QuotedPrice, &t.FinalPrice,
		&t.UnmatchedReason, &t.CancellationReason,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load trip %s: %w", id, err)
	}

	parsed, err := trip.ParseStatus(status)
	if err != nil {
		return nil, fmt.Errorf("load trip %s: %w", id, err)
	}
	t.Status = parsed
	return &t, nil
}

// SaveDriver upserts the driver row.
func (s *Store) SaveDriver(ctx context.Context, d *driver.Driver) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO drivers (
			id, name, lat, lng, rating, available, active_trip_id,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			name           = EXCLUDED.name,
			lat            = EXCLUDED.lat,
			lng            = EXCLUDED.lng,
			rating         = EXCLUDED.rating,
			available      = EXCLUDED.available,
			active_trip_id = EXCLUDED.active_trip_id,
			updated_at     = EXCLUDED.updated_at
	`,
		d.ID, d.Name, d.Location.Lat, d.Location.Lng, d.Rating,
		d.Available, d.ActiveTripID, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save driver %s: %w", d.ID, err)
	}
	return nil
}

// LoadDriver fetches a driver by primary key.
func (s *Store) LoadDriver(ctx context.Context, id string) (*driver.Driver, error) {
	var d driver.Driver
	err := s.pool.QueryRow(ctx, `
		SELECT id, name, lat, lng, rating, available, active_trip_id,
		       created_at, updated_at
		FROM drivers
		WHERE id = $1
	`, id).Scan(
		&d.ID, &d.Name, &d.Location.Lat, &d.Location.Lng, &d.Rating,
		&d.Available, &d.ActiveTripID, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load driver %s: %w", id, err)
	}
	return &d, nil
}
