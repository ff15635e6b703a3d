package orchestrator

import (
	"context"
	"errors"

	"tripflow/internal/contracts"
	"tripflow/internal/domain/driver"
	"tripflow/internal/eventbus"
	"tripflow/internal/store"
)

// onDriverOnline adds (or refreshes) a driver in the candidate pool.
func (o *Orchestrator) onDriverOnline(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.DriverOnlinePayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	d, err := o.store.LoadDriver(ctx, p.DriverID)
	if errors.Is(err, store.ErrNotFound) {
		d, err = driver.NewDriver(p.DriverID, "", p.Location, p.Rating)
		if err != nil {
			return o.protocolViolation(ctx, env, "", err.Error())
		}
	} else if err != nil {
		return err
	}

	d.Rating = p.Rating
	if err := d.GoOnline(p.Location); err != nil {
		if errors.Is(err, driver.ErrDriverBusy) {
			// mid-trip drivers rejoin the pool when their trip releases them
			return o.protocolViolation(ctx, env, "", "driver has an active trip")
		}
		return o.protocolViolation(ctx, env, "", err.Error())
	}
	if err := o.store.SaveDriver(ctx, d); err != nil {
		return err
	}

	o.tracker.MarkAvailable(d.ID, d.Location, d.Rating)
	o.logger.Debug(ctx, "driver_online", "Driver joined the candidate pool",
		map[string]any{"driver_id": d.ID})
	return nil
}

// onDriverOffline withdraws a driver from the candidate pool.
func (o *Orchestrator) onDriverOffline(ctx context.Context, env eventbus.Envelope) error {
	var p contracts.DriverOfflinePayload
	if err := env.Decode(&p); err != nil {
		return err
	}

	d, err := o.store.LoadDriver(ctx, p.DriverID)
	if err == nil {
		d.GoOffline()
		if err := o.store.SaveDriver(ctx, d); err != nil {
			return err
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	o.tracker.MarkUnavailable(p.DriverID)
	o.logger.Debug(ctx, "driver_offline", "Driver left the candidate pool",
		map[string]any{"driver_id": p.DriverID})
	return nil
}
