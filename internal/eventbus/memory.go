package eventbus

import (
	"context"
	"sync"
	"time"

	"tripflow/internal/contracts"
)

// MemoryBus is an in-process Bus with the same delivery contract as the
// RabbitMQ client: per-event-name FIFO, one in-flight delivery per
// subscription, requeue-once with backoff, dead-letter on the second failure.
// It backs tests and local single-process runs.
type MemoryBus struct {
	producer string
	backoff  time.Duration

	mu   sync.Mutex
	subs map[contracts.EventKind][]*memorySub

	logMu  sync.Mutex
	outbox []Envelope
	dead   []Envelope

	counters  Counters
	closeOnce sync.Once
	closed    chan struct{}
}

type memorySub struct {
	group   string
	handler Handler
	ch      chan memoryDelivery
}

type memoryDelivery struct {
	env     Envelope
	attempt int
}

// NewMemoryBus creates an in-process bus. backoff is the requeue delay for a
// first handler failure.
func NewMemoryBus(producer string, backoff time.Duration) *MemoryBus {
	if backoff <= 0 {
		backoff = time.Second
	}
	return &MemoryBus{
		producer: producer,
		backoff:  backoff,
		subs:     make(map[contracts.EventKind][]*memorySub),
		closed:   make(chan struct{}),
	}
}

var _ Bus = (*MemoryBus)(nil)

// Publish validates and fans the envelope out to every subscription for the
// kind, preserving publish order per event name.
func (b *MemoryBus) Publish(_ context.Context, kind contracts.EventKind, payload any, correlationID string) error {
	select {
	case <-b.closed:
		return &PublishError{Kind: PublishConnectionLost, Err: errBusClosed}
	default:
	}

	env, err := NewEnvelope(kind, b.producer, payload, correlationID)
	if err != nil {
		b.counters.SchemaFailures.Add(1)
		return &PublishError{Kind: PublishSchemaInvalid, Err: err}
	}
	b.counters.Published.Add(1)

	b.logMu.Lock()
	b.outbox = append(b.outbox, env)
	b.logMu.Unlock()

	b.mu.Lock()
	subs := b.subs[kind]
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- memoryDelivery{env: env}:
		case <-b.closed:
			return &PublishError{Kind: PublishConnectionLost, Err: errBusClosed}
		}
	}
	return nil
}

// Subscribe registers a handler and starts its delivery loop. Each
// subscription has its own queue, so every subscriber sees every envelope.
func (b *MemoryBus) Subscribe(ctx context.Context, kind contracts.EventKind, group string, handler Handler) error {
	if !kind.Valid() {
		return contracts.ErrInvalidEventKind
	}
	sub := &memorySub{group: group, handler: handler, ch: make(chan memoryDelivery, 1024)}

	b.mu.Lock()
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	go b.deliverLoop(ctx, sub)
	return nil
}

func (b *MemoryBus) deliverLoop(ctx context.Context, sub *memorySub) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.closed:
			return
		case d := <-sub.ch:
			if err := sub.handler(ctx, d.env); err != nil {
				b.dispose(sub, d)
				continue
			}
			b.counters.Delivered.Add(1)
		}
	}
}

// dispose applies the retry policy to a failed delivery: one requeue with
// backoff, then the dead-letter store.
func (b *MemoryBus) dispose(sub *memorySub, d memoryDelivery) {
	if d.attempt == 0 {
		b.counters.Requeued.Add(1)
		go func() {
			timer := time.NewTimer(b.backoff)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-b.closed:
				return
			}
			select {
			case sub.ch <- memoryDelivery{env: d.env, attempt: 1}:
			case <-b.closed:
			}
		}()
		return
	}

	b.counters.DeadLettered.Add(1)
	b.logMu.Lock()
	b.dead = append(b.dead, d.env)
	b.logMu.Unlock()
}

// Close stops all delivery loops.
func (b *MemoryBus) Close() {
	b.closeOnce.Do(func() { close(b.closed) })
}

// Counters exposes the bus counters.
func (b *MemoryBus) Counters() *Counters { return &b.counters }

// DeadLetters returns a copy of every dead-lettered envelope.
func (b *MemoryBus) DeadLetters() []Envelope {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	out := make([]Envelope, len(b.dead))
	copy(out, b.dead)
	return out
}

// Emitted returns every published envelope of the given kind, in publish
// order. Zero kind returns the whole outbox.
func (b *MemoryBus) Emitted(kind contracts.EventKind) []Envelope {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	var out []Envelope
	for _, env := range b.outbox {
		if kind == "" || env.Name == kind {
			out = append(out, env)
		}
	}
	return out
}
