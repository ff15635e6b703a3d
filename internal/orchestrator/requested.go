package orchestrator

import (
	"context"
	"errors"

	"tripflow/internal/availability"
	"tripflow/internal/contracts"
	"tripflow/internal/domain/trip"
	"tripflow/internal/eventbus"
	"tripflow/internal/logger"
	"tripflow/internal/store"
)

// ReasonNoCandidates is reported on trip.unmatched when the candidate pool
// was empty.
const ReasonNoCandidates = "no_candidates"

// onTripRequested persists a new trip, moves it to MATCHING and runs the
// matching flow. At-least-once delivery may replay the request after a partial
// failure, so a known trip id still in REQUESTED or MATCHING resumes where the
// failed delivery stopped; a trip that already progressed past matching is a
// protocol violation and the replay is dropped.
func (o *Orchestrator) onTripRequested(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.TripRequestedPayload
	if err := env.Decode(&p); err != nil {
		return err
	}
	ctx = logger.WithTripID(ctx, p.TripID)

	t, err := o.createTrip(ctx, env, p)
	if err != nil || t == nil {
		return err
	}

	return o.matchAndAssign(ctx, t, env.CorrelationID)
}

// createTrip persists the trip in REQUESTED and immediately advances it to
// MATCHING under the trip lock. A redelivered request for a trip still ahead
// of assignment resumes it instead of creating it again. A nil trip with nil
// error means the event was dropped.
func (o *Orchestrator) createTrip(ctx context.Context, env eventbus.Envelope, p contracts.TripRequestedPayload) (*trip.Trip, error) {
	unlock := o.locks.Lock(p.TripID)
	defer unlock()

	existing, err := o.store.LoadTrip(ctx, p.TripID)
	if err == nil {
		switch existing.Status {
		case trip.StatusRequested:
			// the earlier delivery died before the MATCHING save made it out
			if err := existing.StartMatching(); err != nil {
				return nil, err
			}
			if err := o.store.SaveTrip(ctx, existing); err != nil {
				return nil, err
			}
			o.logger.Info(ctx, "trip_resumed", "Resuming interrupted trip request", nil)
			return existing, nil
		case trip.StatusMatching:
			o.logger.Info(ctx, "trip_resumed", "Resuming interrupted matching", nil)
			return existing, nil
		default:
			return nil, o.protocolViolation(ctx, env, p.TripID,
				"trip already exists in status "+existing.Status.String())
		}
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	t, err := trip.NewTrip(p.TripID, p.RiderID, p.Origin, p.Destination)
	if err != nil {
		// invalid request payloads are dropped, not retried
		return nil, o.protocolViolation(ctx, env, p.TripID, err.Error())
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return nil, err
	}

	if err := t.StartMatching(); err != nil {
		return nil, err
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return nil, err
	}

	o.logger.Info(ctx, "trip_matching", "Trip accepted, searching for a driver",
		map[string]any{"rider_id": p.RiderID})
	return t, nil
}

// matchAndAssign runs up to two matching attempts (the second only after a
// stale-snapshot reservation failure) and commits the assignment or declares
// the trip unmatched. Scoring happens outside the trip lock so an inbound
// cancellation can preempt an in-flight attempt; the status re-check before
// the commit is what makes the preemption safe.
func (o *Orchestrator) matchAndAssign(ctx context.Context, t *trip.Trip, correlationID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		pool := o.tracker.Nearby(t.Origin, o.opts.SearchRadiusKM, o.opts.PoolLimit)
		driverID, ok := o.engine.Match(t, pool)
		if !ok {
			break
		}

		if err := o.tracker.Reserve(driverID, t.ID); err != nil {
			if errors.Is(err, availability.ErrDriverNoLongerAvailable) {
				// snapshot went stale between scoring and commit: one
				// re-match against a fresh snapshot, then give up
				o.metrics.MatchRetries.Add(1)
				o.logger.Info(ctx, "match_retry", "Selected driver left the pool, retrying once",
					map[string]any{"driver_id": driverID})
				continue
			}
			return err
		}

		committed, err := o.commitAssignment(ctx, t, driverID, correlationID)
		if err != nil {
			o.tracker.Release(driverID)
			return err
		}
		if !committed {
			// trip was cancelled while we were matching
			o.tracker.Release(driverID)
			return nil
		}

		o.metrics.TripsMatched.Add(1)
		return o.emit(ctx, contracts.TripAssigned, contracts.TripAssignedPayload{
			TripID:   t.ID,
			DriverID: driverID,
		}, correlationID)
	}

	return o.declareUnmatched(ctx, t, correlationID)
}

// commitAssignment finalizes the match under the trip lock. It reports
// committed=false when the trip is no longer in MATCHING, which happens when
// a cancellation preempted this attempt.
func (o *Orchestrator) commitAssignment(ctx context.Context, t *trip.Trip, driverID, correlationID string) (bool, error) {
	unlock := o.locks.Lock(t.ID)
	defer unlock()

	fresh, err := o.store.LoadTrip(ctx, t.ID)
	if err != nil {
		return false, err
	}
	if fresh.Status != trip.StatusMatching {
		o.logger.Info(ctx, "match_preempted", "Trip left MATCHING before assignment commit",
			map[string]any{"status": fresh.Status.String(), "driver_id": driverID})
		return false, nil
	}

	d, err := o.store.LoadDriver(ctx, driverID)
	if err != nil {
		return false, err
	}
	if err := d.Assign(t.ID); err != nil {
		return false, err
	}
	if err := o.store.SaveDriver(ctx, d); err != nil {
		return false, err
	}

	if err := t.AssignDriver(driverID); err != nil {
		return false, err
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return false, err
	}

	o.logger.Info(ctx, "trip_assigned", "Driver assigned to trip",
		map[string]any{"driver_id": driverID})
	return true, nil
}

// declareUnmatched is the terminal no-driver outcome. It is not retried:
// rerunning blind matching without new driver data cannot change the result.
func (o *Orchestrator) declareUnmatched(ctx context.Context, t *trip.Trip, correlationID string) error {
	unlock := o.locks.Lock(t.ID)
	defer unlock()

	fresh, err := o.store.LoadTrip(ctx, t.ID)
	if err != nil {
		return err
	}
	if fresh.Status != trip.StatusMatching {
		return nil
	}

	if err := t.MarkUnmatched(ReasonNoCandidates); err != nil {
		return err
	}
	if err := o.store.SaveTrip(ctx, t); err != nil {
		return err
	}

	o.metrics.TripsUnmatched.Add(1)
	o.logger.Info(ctx, "trip_unmatched", "No eligible driver found", nil)
	return o.emit(ctx, contracts.TripUnmatched, contracts.TripUnmatchedPayload{
		TripID: t.ID,
		Reason: ReasonNoCandidates,
	}, correlationID)
}
