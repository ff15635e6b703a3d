package contracts

// Broker topology constants. A single durable topic exchange carries every
// event; routing key equals the event name. Each subscription owns a durable
// queue plus a retry queue (backoff via per-message TTL) and a dead-letter
// queue for envelopes that failed twice.
const (
	ExchangeEvents = "events"

	QueueSuffixRetry      = ".retry"
	QueueSuffixDeadLetter = ".dlq"
)

// SubscriptionQueue names the durable queue for a consumer group and kind,
// e.g. "orchestrator.trip.requested".
func SubscriptionQueue(group string, kind EventKind) string {
	return group + "." + kind.String()
}
