package eventbus

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tripflow/internal/contracts"
)

// Envelope is the validated, timestamped wrapper around an event payload.
// Envelopes are immutable once constructed; mutate the source payload and
// build a new one instead.
type Envelope struct {
	Name          contracts.EventKind `json:"name"`
	EventID       string              `json:"event_id"`
	CorrelationID string              `json:"correlation_id"`
	Producer      string              `json:"producer"`
	Timestamp     time.Time           `json:"timestamp"`
	Payload       json.RawMessage     `json:"payload"`
}

// NewEnvelope marshals and validates the payload, then wraps it. The
// correlation id is generated when the caller does not supply one, so every
// event chain starts traceable.
func NewEnvelope(kind contracts.EventKind, producer string, payload any, correlationID string) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal payload for %s: %w", kind, err)
	}
	if err := Validate(kind, raw); err != nil {
		return Envelope{}, err
	}
	if strings.TrimSpace(correlationID) == "" {
		correlationID = uuid.NewString()
	}
	return Envelope{
		Name:          kind,
		EventID:       uuid.NewString(),
		CorrelationID: correlationID,
		Producer:      strings.TrimSpace(producer),
		Timestamp:     time.Now().UTC(),
		Payload:       raw,
	}, nil
}

// DecodeEnvelope parses a wire message and re-validates its payload, so
// business logic never sees a malformed event.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if err := Validate(env.Name, env.Payload); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Name, err)
	}
	return nil
}

// Encode renders the envelope to its wire form.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}
