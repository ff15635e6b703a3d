package orchestrator

import (
	"context"
	"errors"

	"tripflow/internal/contracts"
	"tripflow/internal/domain/trip"
	"tripflow/internal/eventbus"
	"tripflow/internal/logger"
	"tripflow/internal/store"
)

// onPricingQuoted stores the quote and moves ASSIGNED -> PRICED. A quote for
// a trip in any other status (including a second quote while already PRICED)
// is a protocol violation.
func (o *Orchestrator) onPricingQuoted(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.PricingQuotedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	ctx = logger.WithTripID(ctx, p.TripID)

	unlock := o.locks.Lock(p.TripID)
	defer unlock()

	t, err := o.loadForEvent(ctx, env, p.TripID)
	if err != nil || t == nil {
		return err
	}

	if err := t.SetQuote(p.Price); err != nil {
		if errors.Is(err, trip.ErrInvalidStatusTransition) {
			return o.protocolViolation(ctx, env, p.TripID, "quote in status "+t.Status.String())
		}
		return o.protocolViolation(ctx, env, p.TripID, err.Error())
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return err
	}

	o.logger.Info(ctx, "trip_priced", "Quote stored for trip",
		map[string]any{"price": p.Price})
	return nil
}

// onTripStarted moves PRICED -> IN_PROGRESS on the driver-app trigger.
func (o *Orchestrator) onTripStarted(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.TripStartedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	ctx = logger.WithTripID(ctx, p.TripID)

	unlock := o.locks.Lock(p.TripID)
	defer unlock()

	t, err := o.loadForEvent(ctx, env, p.TripID)
	if err != nil || t == nil {
		return err
	}

	if err := t.Start(); err != nil {
		return o.protocolViolation(ctx, env, p.TripID, "start in status "+t.Status.String())
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return err
	}

	o.logger.Info(ctx, "trip_started", "Trip is in progress", nil)
	return nil
}

// onTripCompleted moves IN_PROGRESS -> COMPLETED, releases the driver back
// into the pool and emits the enriched completion event for the payment and
// notification collaborators.
func (o *Orchestrator) onTripCompleted(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.TripCompletedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	ctx = logger.WithTripID(ctx, p.TripID)

	unlock := o.locks.Lock(p.TripID)
	defer unlock()

	t, err := o.loadForEvent(ctx, env, p.TripID)
	if err != nil || t == nil {
		return err
	}

	if err := t.Complete(p.FinalPrice); err != nil {
		return o.protocolViolation(ctx, env, p.TripID, "complete in status "+t.Status.String())
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return err
	}

	if t.DriverID != nil {
		if err := o.releaseDriver(ctx, *t.DriverID); err != nil {
			return err
		}
	}

	o.metrics.TripsCompleted.Add(1)
	o.logger.Info(ctx, "trip_completed", "Trip completed",
		map[string]any{"final_price": p.FinalPrice})
	return o.emit(ctx, contracts.TripCompleted, contracts.TripCompletedPayload{
		TripID:     t.ID,
		FinalPrice: p.FinalPrice,
	}, env.CorrelationID)
}

// loadForEvent fetches the trip for an inbound event. An unknown trip id is
// a protocol violation (dropped), signalled by a nil trip with nil error.
func (o *Orchestrator) loadForEvent(ctx context.Context, env eventbus.Envelope, tripID string) (*trip.Trip, error) {
	t, err := o.store.LoadTrip(ctx, tripID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, o.protocolViolation(ctx, env, tripID, "unknown trip")
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// releaseDriver clears the driver's active trip, restores availability and
// returns them to the matching pool at their last known location.
func (o *Orchestrator) releaseDriver(ctx context.Context, driverID string) error {
	d, err := o.store.LoadDriver(ctx, driverID)
	if errors.Is(err, store.ErrNotFound) {
		o.tracker.MarkUnavailable(driverID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := d.Release(); err != nil {
		// already released; tracker state is authoritative for the pool
		return nil
	}
	if err := o.store.SaveDriver(ctx, d); err != nil {
		return err
	}

	// drop the reservation entry left over from the assignment, then rejoin
	// with a fresh idle clock
	o.tracker.MarkUnavailable(d.ID)
	o.tracker.MarkAvailable(d.ID, d.Location, d.Rating)
	return nil
}
