// Package orchestrator owns the trip state machine. It reacts to inbound
// events, persists every transition (single-writer per trip id) and emits the
// downstream events other services consume.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"tripflow/internal/availability"
	"tripflow/internal/contracts"
	"tripflow/internal/eventbus"
	"tripflow/internal/logger"
	"tripflow/internal/matching"
	"tripflow/internal/store"
)

// Options tunes the orchestrator.
type Options struct {
	// Group is the consumer-group name and the producer stamp on emitted
	// envelopes. Inbound envelopes carrying this producer are acked and
	// ignored, so our own emissions never re-enter the state machine.
	Group string

	// SearchRadiusKM bounds the candidate pool around the trip origin.
	SearchRadiusKM float64

	// PoolLimit caps how many candidates one matching attempt considers.
	PoolLimit int
}

func (o *Options) applyDefaults() {
	if o.Group == "" {
		o.Group = "orchestrator"
	}
	if o.SearchRadiusKM <= 0 {
		o.SearchRadiusKM = 10
	}
	if o.PoolLimit <= 0 {
		o.PoolLimit = 25
	}
}

// Orchestrator wires the matching engine, availability tracker, persistence
// collaborator and event bus into the trip lifecycle state machine.
type Orchestrator struct {
	logger  *logger.Logger
	bus     eventbus.Bus
	store   store.Store
	tracker *availability.Tracker
	engine  *matching.Engine
	opts    Options

	locks   keyedMutex
	metrics Metrics
}

// New constructs an orchestrator.
func New(log *logger.Logger, bus eventbus.Bus, st store.Store, tracker *availability.Tracker, engine *matching.Engine, opts Options) *Orchestrator {
	opts.applyDefaults()
	return &Orchestrator{
		logger:  log,
		bus:     bus,
		store:   st,
		tracker: tracker,
		engine:  engine,
		opts:    opts,
	}
}

// Metrics exposes the orchestrator counters.
func (o *Orchestrator) Metrics() *Metrics { return &o.metrics }

// Run registers every subscription. Handlers run until ctx is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	subs := []struct {
		kind    contracts.EventKind
		handler eventbus.Handler
	}{
		{contracts.TripRequested, o.onTripRequested},
		{contracts.PricingQuoted, o.onPricingQuoted},
		{contracts.TripStarted, o.onTripStarted},
		{contracts.TripCompleted, o.onTripCompleted},
		{contracts.TripCancelRequest, o.onCancelRequested},
		{contracts.DriverOnline, o.onDriverOnline},
		{contracts.DriverOffline, o.onDriverOffline},
	}
	for _, s := range subs {
		if err := o.bus.Subscribe(ctx, s.kind, o.opts.Group, o.skipOwn(s.handler)); err != nil {
			return err
		}
	}
	return nil
}

// skipOwn acks envelopes this service produced without running the handler.
func (o *Orchestrator) skipOwn(h eventbus.Handler) eventbus.Handler {
	return func(ctx context.Context, env eventbus.Envelope) error {
		if env.Producer == o.opts.Group {
			return nil
		}
		return h(ctx, env)
	}
}

// emit publishes with bounded retries for retriable failures, per the bus
// contract: the bus never resends on its own, the caller does.
func (o *Orchestrator) emit(ctx context.Context, kind contracts.EventKind, payload any, correlationID string) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = o.bus.Publish(ctx, kind, payload, correlationID)
		if err == nil {
			return nil
		}
		var perr *eventbus.PublishError
		if errors.As(err, &perr) && !perr.Retriable() {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return err
		}
		backoff *= 2
	}
	return err
}

// protocolViolation records and drops an out-of-order event. Dropping means
// returning nil: retrying an event that is invalid for the current status
// cannot make it valid, so it must not be requeued.
func (o *Orchestrator) protocolViolation(ctx context.Context, env eventbus.Envelope, tripID, detail string) error {
	o.metrics.ProtocolViolations.Add(1)
	o.logger.Info(ctx, "protocol_violation",
		"Dropping out-of-order event",
		map[string]any{
			"event":    env.Name.String(),
			"event_id": env.EventID,
			"trip_id":  tripID,
			"detail":   detail,
		})
	return nil
}
