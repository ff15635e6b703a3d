package contracts

import (
	"errors"
	"strings"
)

// EventKind is the closed set of event names carried on the bus. Names follow
// the `<domain>.<action>` dotted convention and double as routing keys.
type EventKind string

const (
	TripRequested      EventKind = "trip.requested"
	TripAssigned       EventKind = "trip.assigned"
	TripUnmatched      EventKind = "trip.unmatched"
	PricingQuoted      EventKind = "pricing.quoted"
	TripStarted        EventKind = "trip.started"
	TripCompleted      EventKind = "trip.completed"
	TripCancelRequest  EventKind = "trip.cancel_requested"
	TripCancelled      EventKind = "trip.cancelled"
	DriverOnline       EventKind = "driver.online"
	DriverOffline      EventKind = "driver.offline"
)

var ErrInvalidEventKind = errors.New("invalid event kind")

// AllEventKinds lists every known kind; the schema registry and the broker
// topology are both derived from this table.
func AllEventKinds() []EventKind {
	return []EventKind{
		TripRequested,
		TripAssigned,
		TripUnmatched,
		PricingQuoted,
		TripStarted,
		TripCompleted,
		TripCancelRequest,
		TripCancelled,
		DriverOnline,
		DriverOffline,
	}
}

// ParseEventKind normalizes and validates an event name string.
func ParseEventKind(in string) (EventKind, error) {
	kind := EventKind(strings.ToLower(strings.TrimSpace(in)))
	if kind.Valid() {
		return kind, nil
	}
	return "", ErrInvalidEventKind
}

// Valid reports whether the kind is one of the registered event kinds.
func (kind EventKind) Valid() bool {
	switch kind {
	case TripRequested, TripAssigned, TripUnmatched, PricingQuoted,
		TripStarted, TripCompleted, TripCancelRequest, TripCancelled,
		DriverOnline, DriverOffline:
		return true
	default:
		return false
	}
}

// String returns the wire name of the event kind.
func (kind EventKind) String() string {
	return string(kind)
}
