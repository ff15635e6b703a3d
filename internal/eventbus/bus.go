package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"tripflow/internal/contracts"
)

var errBusClosed = errors.New("event bus is closed")

// Handler processes one delivered, validated envelope. Returning an error
// signals failure: the envelope is requeued once with backoff, then
// dead-lettered on a second failure.
type Handler func(ctx context.Context, env Envelope) error

// Bus is the at-least-once, schema-validated publish/subscribe abstraction
// every component talks through. Implementations guarantee per-event-name
// publish-order delivery and one in-flight delivery per subscription.
type Bus interface {
	// Publish validates the payload, sends it durably and blocks until the
	// broker acknowledges receipt or the configured timeout elapses.
	// Failures are *PublishError; the bus never resends on its own.
	Publish(ctx context.Context, kind contracts.EventKind, payload any, correlationID string) error

	// Subscribe registers a handler for one event kind under a consumer
	// group. Handler completion acknowledges the message.
	Subscribe(ctx context.Context, kind contracts.EventKind, group string, handler Handler) error

	// Close releases broker resources.
	Close()
}

// PublishErrorKind classifies publish failures.
type PublishErrorKind string

const (
	PublishTimeout        PublishErrorKind = "timeout"
	PublishConnectionLost PublishErrorKind = "connection_lost"
	PublishSchemaInvalid  PublishErrorKind = "schema_invalid"
)

// PublishError is the failure surface of Bus.Publish.
type PublishError struct {
	Kind PublishErrorKind
	Err  error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s: %v", e.Kind, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// Retriable reports whether the caller may retry the publish. Schema failures
// are permanent; timeouts and lost connections are worth another attempt.
func (e *PublishError) Retriable() bool {
	return e.Kind != PublishSchemaInvalid
}

// Counters tracks bus outcomes for observability. Every dropped or requeued
// envelope is counted; nothing is silently swallowed.
type Counters struct {
	Published      atomic.Int64
	Delivered      atomic.Int64
	Requeued       atomic.Int64
	DeadLettered   atomic.Int64
	SchemaFailures atomic.Int64
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() map[string]int64 {
	return map[string]int64{
		"published":       c.Published.Load(),
		"delivered":       c.Delivered.Load(),
		"requeued":        c.Requeued.Load(),
		"dead_lettered":   c.DeadLettered.Load(),
		"schema_failures": c.SchemaFailures.Load(),
	}
}
