package orchestrator

import (
	"context"

	"tripflow/internal/contracts"
	"tripflow/internal/eventbus"
	"tripflow/internal/logger"
)

// onCancelRequested moves any pre-ride trip to CANCELLED, releases an
// assigned driver and emits trip.cancelled. Cancelling a terminal or
// in-progress trip is a protocol violation.
//
// Taking the trip lock here is also what preempts an in-flight matching
// attempt: once the cancellation is persisted, the matcher's commit-time
// status re-check sees CANCELLED and releases its tentative reservation.
func (o *Orchestrator) onCancelRequested(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.TripCancelRequestedPayload
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

	if err := t.Cancel("cancelled_by_" + string(p.Initiator)); err != nil {
		return o.protocolViolation(ctx, env, p.TripID, "cancel in status "+t.Status.String())
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return err
	}

	if t.DriverID != nil {
		if err := o.releaseDriver(ctx, *t.DriverID); err != nil {
			return err
		}
	}

	o.metrics.TripsCancelled.Add(1)
	o.logger.Info(ctx, "trip_cancelled", "Trip cancelled",
		map[string]any{"initiator": string(p.Initiator)})
	return o.emit(ctx, contracts.TripCancelled, contracts.TripCancelledPayload{
		TripID: t.ID,
	}, env.CorrelationID)
}
