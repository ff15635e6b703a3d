package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"tripflow/internal/contracts"
	"tripflow/internal/logger"
)

const headerAttempt = "x-attempt"

// RabbitOptions tunes the RabbitMQ bus.
type RabbitOptions struct {
	URL            string
	Producer       string
	PublishTimeout time.Duration
	HandlerTimeout time.Duration
	RequeueBackoff time.Duration
	Prefetch       int
}

func (o *RabbitOptions) applyDefaults() {
	if o.PublishTimeout <= 0 {
		o.PublishTimeout = 5 * time.Second
	}
	if o.HandlerTimeout <= 0 {
		o.HandlerTimeout = 30 * time.Second
	}
	if o.RequeueBackoff <= 0 {
		o.RequeueBackoff = time.Second
	}
	if o.Prefetch <= 0 {
		o.Prefetch = 1
	}
}

// RabbitBus is a resilient RabbitMQ Bus with auto-reconnect, publisher
// confirms and a retry/dead-letter topology per subscription.
type RabbitBus struct {
	opts   RabbitOptions
	logger *logger.Logger
	logCtx context.Context // context for logging (without cancel)

	mu      sync.RWMutex
	conn    *amqp.Connection
	pubChan *amqp.Channel

	pubMu       sync.Mutex
	pubConfirms chan amqp.Confirmation

	counters Counters

	closeOnce sync.Once
	closed    chan struct{}
	reconnect chan struct{}
}

var _ Bus = (*RabbitBus)(nil)

// ConnectRabbit establishes the connection and starts a background watcher
// that reconnects with exponential backoff on failures.
func ConnectRabbit(ctx context.Context, opts RabbitOptions, log *logger.Logger) (*RabbitBus, error) {
	opts.applyDefaults()
	bus := &RabbitBus{
		opts:      opts,
		logger:    log,
		logCtx:    context.WithoutCancel(ctx), // avoid ctx cancel on reconnects
		closed:    make(chan struct{}),
		reconnect: make(chan struct{}, 1),
	}

	// initial connect (single attempt; further retries happen in the watcher)
	if err := bus.connectOnce(); err != nil {
		return nil, err
	}

	go bus.watch()
	return bus, nil
}

// Close gracefully stops the watcher and closes AMQP resources.
func (bus *RabbitBus) Close() {
	bus.closeOnce.Do(func() { close(bus.closed) })

	bus.mu.Lock()
	if bus.pubChan != nil {
		_ = bus.pubChan.Close()
		bus.pubChan = nil
	}
	if bus.conn != nil {
		_ = bus.conn.Close()
		bus.conn = nil
	}
	bus.mu.Unlock()

	// the amqp library closes the confirm stream when the channel shuts down,
	// which releases any waiter inside Publish
	bus.pubMu.Lock()
	bus.pubConfirms = nil
	bus.pubMu.Unlock()
}

// Counters exposes the bus counters.
func (bus *RabbitBus) Counters() *Counters { return &bus.counters }

// Publish validates the envelope, sends it durably on the confirm-mode
// channel and waits for the broker acknowledgment.
func (bus *RabbitBus) Publish(ctx context.Context, kind contracts.EventKind, payload any, correlationID string) error {
	env, err := NewEnvelope(kind, bus.opts.Producer, payload, correlationID)
	if err != nil {
		bus.counters.SchemaFailures.Add(1)
		return &PublishError{Kind: PublishSchemaInvalid, Err: err}
	}
	body, err := env.Encode()
	if err != nil {
		return &PublishError{Kind: PublishSchemaInvalid, Err: err}
	}

	bus.mu.RLock()
	conn := bus.conn
	ch := bus.pubChan
	bus.mu.RUnlock()

	// quick fail if no channel
	if conn == nil || conn.IsClosed() {
		return &PublishError{Kind: PublishConnectionLost, Err: errors.New("connection is not open")}
	}
	if ch == nil || ch.IsClosed() {
		return &PublishError{Kind: PublishConnectionLost, Err: errors.New("publish channel is not open")}
	}

	// serialize publishes so broker confirms stay aligned with sends; this
	// also gives per-process publish ordering.
	bus.pubMu.Lock()
	defer bus.pubMu.Unlock()
	confirms := bus.pubConfirms
	if confirms == nil {
		return &PublishError{Kind: PublishConnectionLost, Err: errBusClosed}
	}

	pubCtx, cancel := context.WithTimeout(ctx, bus.opts.PublishTimeout)
	defer cancel()

	err = ch.PublishWithContext(pubCtx, contracts.ExchangeEvents, kind.String(), true /* mandatory */, false, /* immediate */
		amqp.Publishing{
			DeliveryMode:  amqp.Persistent,
			ContentType:   "application/json",
			MessageId:     env.EventID,
			CorrelationId: env.CorrelationID,
			Timestamp:     env.Timestamp,
			Body:          body,
		},
	)
	if err != nil {
		return &PublishError{Kind: PublishConnectionLost, Err: err}
	}

	select {
	case c, ok := <-confirms:
		if !ok {
			return &PublishError{Kind: PublishConnectionLost, Err: errors.New("confirm stream closed")}
		}
		if !c.Ack {
			return &PublishError{Kind: PublishConnectionLost, Err: errors.New("publish not acknowledged")}
		}
	case <-pubCtx.Done():
		// keep the confirm stream aligned: consume exactly one confirm even
		// though we surface a timeout to the caller
		select {
		case <-confirms:
		case <-time.After(2 * time.Second):
		}
		return &PublishError{Kind: PublishTimeout, Err: pubCtx.Err()}
	}

	bus.counters.Published.Add(1)
	return nil
}

// Subscribe declares the queue trio for (group, kind), binds the main queue
// to the events exchange and runs the consume loop until ctx is cancelled.
// The loop survives channel-level failures by reopening after a backoff.
func (bus *RabbitBus) Subscribe(ctx context.Context, kind contracts.EventKind, group string, handler Handler) error {
	if !kind.Valid() {
		return contracts.ErrInvalidEventKind
	}
	queue := contracts.SubscriptionQueue(group, kind)
	if err := bus.declareSubscription(queue, kind); err != nil {
		return err
	}

	go func() {
		backoff := time.Second
		for {
			select {
			case <-ctx.Done():
				return
			case <-bus.closed:
				return
			default:
			}

			err := bus.consume(ctx, queue, kind, handler)
			if err == nil || errors.Is(err, context.Canceled) {
				return
			}
			bus.logger.Error(bus.logCtx, "consume_interrupted",
				"Consumer stopped, retrying after backoff", err,
				map[string]any{"queue": queue, "backoff": backoff.String()})

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-bus.closed:
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
			}
		}
	}()
	return nil
}

// declareSubscription sets up the main, retry and dead-letter queues for one
// subscription. The retry queue dead-letters expired messages straight back
// to the main queue via the default exchange.
func (bus *RabbitBus) declareSubscription(queue string, kind contracts.EventKind) error {
	bus.mu.RLock()
	conn := bus.conn
	bus.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if _, err := ch.QueueDeclare(queue+contracts.QueueSuffixRetry, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": queue,
	}); err != nil {
		return fmt.Errorf("declare retry queue for %s: %w", queue, err)
	}
	if _, err := ch.QueueDeclare(queue+contracts.QueueSuffixDeadLetter, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare dead-letter queue for %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, kind.String(), contracts.ExchangeEvents, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// consume runs one consumer session over a fresh channel with prefetch.
func (bus *RabbitBus) consume(ctx context.Context, queue string, kind contracts.EventKind, handler Handler) error {
	bus.mu.RLock()
	conn := bus.conn
	bus.mu.RUnlock()
	if conn == nil || conn.IsClosed() {
		return errors.New("rabbitmq: connection is not ready")
	}

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(bus.opts.Prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq: set QoS: %w", err)
	}

	deliveries, err := ch.Consume(
		queue,
		"", // server-generated consumer tag
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("rabbitmq: consume(%s): %w", queue, err)
	}

	chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))

	for {
		select {
		case <-ctx.Done():
			return context.Canceled

		case <-bus.closed:
			return nil

		case cerr := <-chClosed:
			if cerr != nil {
				return fmt.Errorf("rabbitmq: channel closed while consuming %s: %w", queue, cerr)
			}
			return errors.New("rabbitmq: channel closed")

		case d, ok := <-deliveries:
			if !ok {
				return errors.New("rabbitmq: delivery stream ended")
			}
			bus.handleDelivery(ctx, ch, queue, kind, handler, d)
		}
	}
}

// handleDelivery validates, runs the handler under a deadline and applies the
// retry policy. The incoming delivery is always acked; retries and dead
// letters travel as fresh publishes so broker-level requeue loops cannot form.
func (bus *RabbitBus) handleDelivery(ctx context.Context, ch *amqp.Channel, queue string, kind contracts.EventKind, handler Handler, d amqp.Delivery) {
	env, err := DecodeEnvelope(d.Body)
	if err != nil {
		// malformed payloads cannot become valid by retrying: straight to DLQ
		bus.counters.SchemaFailures.Add(1)
		bus.logger.Error(bus.logCtx, "envelope_rejected",
			"Dropping malformed envelope to dead-letter queue", err,
			map[string]any{"queue": queue, "size": len(d.Body)})
		bus.routeTo(ch, queue+contracts.QueueSuffixDeadLetter, d, deliveryAttempt(d))
		_ = d.Ack(false)
		return
	}

	hCtx, cancel := context.WithTimeout(ctx, bus.opts.HandlerTimeout)
	hCtx = logger.WithCorrelationID(hCtx, env.CorrelationID)
	err = handler(hCtx, env)
	cancel()

	if err == nil {
		bus.counters.Delivered.Add(1)
		_ = d.Ack(false)
		return
	}

	attempt := deliveryAttempt(d)
	if attempt == 0 {
		bus.counters.Requeued.Add(1)
		bus.logger.Info(bus.logCtx, "envelope_requeued",
			"Handler failed, requeueing once with backoff",
			map[string]any{"queue": queue, "event": kind.String(), "event_id": env.EventID, "error": err.Error()})
		bus.routeTo(ch, queue+contracts.QueueSuffixRetry, d, attempt+1)
	} else {
		bus.counters.DeadLettered.Add(1)
		bus.logger.Error(bus.logCtx, "envelope_dead_lettered",
			"Handler failed twice, routing to dead-letter queue", err,
			map[string]any{"queue": queue, "event": kind.String(), "event_id": env.EventID})
		bus.routeTo(ch, queue+contracts.QueueSuffixDeadLetter, d, attempt)
	}
	_ = d.Ack(false)
}

// routeTo republishes a delivery body to a sibling queue via the default
// exchange, carrying the attempt counter. Retry messages get a per-message
// TTL, which is what produces the exponential backoff on redelivery.
func (bus *RabbitBus) routeTo(ch *amqp.Channel, target string, d amqp.Delivery, attempt int) {
	headers := amqp.Table{headerAttempt: int32(attempt)}
	pub := amqp.Publishing{
		DeliveryMode:  amqp.Persistent,
		ContentType:   d.ContentType,
		MessageId:     d.MessageId,
		CorrelationId: d.CorrelationId,
		Timestamp:     d.Timestamp,
		Headers:       headers,
		Body:          d.Body,
	}
	if attempt > 0 && isRetryQueue(target) {
		ttl := bus.opts.RequeueBackoff
		for i := 1; i < attempt; i++ {
			ttl *= 2
		}
		pub.Expiration = strconv.FormatInt(ttl.Milliseconds(), 10)
	}

	pubCtx, cancel := context.WithTimeout(context.Background(), bus.opts.PublishTimeout)
	defer cancel()
	if err := ch.PublishWithContext(pubCtx, "", target, false, false, pub); err != nil {
		bus.logger.Error(bus.logCtx, "reroute_failed",
			"Failed to route delivery to sibling queue", err,
			map[string]any{"target": target})
	}
}

func isRetryQueue(name string) bool {
	n := len(contracts.QueueSuffixRetry)
	return len(name) > n && name[len(name)-n:] == contracts.QueueSuffixRetry
}

// deliveryAttempt reads the attempt counter header, defaulting to zero.
func deliveryAttempt(d amqp.Delivery) int {
	if d.Headers == nil {
		return 0
	}
	switch v := d.Headers[headerAttempt].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// --- connection lifecycle ---

// connectOnce tries to connect and set up the publish channel once.
func (bus *RabbitBus) connectOnce() error {
	conn, err := amqp.DialConfig(bus.opts.URL, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(30 * time.Second),
	})
	if err != nil {
		bus.logger.Error(bus.logCtx, "rabbitmq_dial_failed", "Failed to dial RabbitMQ", err, nil)
		return fmt.Errorf("rabbitmq dial failed: %w", err)
	}

	defer func() {
		if err != nil && conn != nil {
			_ = conn.Close()
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		bus.logger.Error(bus.logCtx, "rabbitmq_open_channel_failed", "Failed to open RabbitMQ channel", err, nil)
		return fmt.Errorf("rabbitmq: failed to open channel: %w", err)
	}

	defer func() {
		if err != nil && ch != nil {
			_ = ch.Close()
		}
	}()

	// a single durable topic exchange carries every event kind
	if err = ch.ExchangeDeclare(contracts.ExchangeEvents, "topic", true, false, false, false, nil); err != nil {
		bus.logger.Error(bus.logCtx, "rabbitmq_declare_exchange_failed", "Failed to declare events exchange", err, nil)
		return fmt.Errorf("rabbitmq: declare exchange %s: %w", contracts.ExchangeEvents, err)
	}

	// enable publisher confirms on the publishing channel
	if err = ch.Confirm(false); err != nil {
		bus.logger.Error(bus.logCtx, "rabbitmq_enable_confirms_failed", "Failed to enable publisher confirms", err, nil)
		return fmt.Errorf("rabbitmq: failed to enable confirms: %w", err)
	}

	// swap in the new confirm stream; the old one is closed by the library
	// when its channel goes away
	bus.pubMu.Lock()
	bus.pubConfirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	bus.pubMu.Unlock()

	// log unroutable messages (publish uses mandatory=true)
	returns := ch.NotifyReturn(make(chan amqp.Return, 1))
	go func() {
		for r := range returns {
			bus.logger.Error(bus.logCtx, "rabbitmq_returned",
				"Message was returned (unroutable)",
				fmt.Errorf("code=%d text=%s", r.ReplyCode, r.ReplyText),
				map[string]any{"routingKey": r.RoutingKey, "size": len(r.Body)},
			)
		}
	}()

	// atomically install the new connection + publishing channel
	bus.mu.Lock()
	if bus.pubChan != nil && !bus.pubChan.IsClosed() {
		_ = bus.pubChan.Close()
	}
	bus.conn = conn
	bus.pubChan = ch
	bus.mu.Unlock()

	// watch for connection/channel closures and trigger reconnect
	go func(conn *amqp.Connection, ch *amqp.Channel) {
		connClosed := conn.NotifyClose(make(chan *amqp.Error, 1))
		chClosed := ch.NotifyClose(make(chan *amqp.Error, 1))
		select {
		case <-bus.closed:
			return
		case <-connClosed:
		case <-chClosed:
		}

		select {
		case bus.reconnect <- struct{}{}:
		default:
			// already enqueued
		}
	}(conn, ch)

	bus.logger.Info(bus.logCtx, "rabbitmq_connected", "RabbitMQ connection established successfully", nil)
	return nil
}

// watch runs in background and attempts reconnects with exponential backoff
// (1s -> 2s -> 4s ... capped at 30s).
func (bus *RabbitBus) watch() {
	backoff := time.Second
	for {
		select {
		case <-bus.closed:
			return
		case <-bus.reconnect:
			for {
				select {
				case <-bus.closed:
					return
				default:
				}

				if err := bus.connectOnce(); err == nil {
					backoff = time.Second
					bus.logger.Info(bus.logCtx, "rabbitmq_reconnected", "Reconnected to RabbitMQ", nil)
					break
				} else {
					bus.logger.Error(bus.logCtx, "retry_attempted", "Failed to reconnect to RabbitMQ", err, nil)
				}

				time.Sleep(backoff)
				if backoff < 30*time.Second {
					backoff *= 2
					if backoff > 30*time.Second {
						backoff = 30 * time.Second
					}
				}
			}
		}
	}
}
