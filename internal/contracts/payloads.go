package contracts

import "tripflow/internal/domain/geo"

// Payload structs for every event kind. Field names on the wire are
// snake_case; each struct maps 1:1 to the schema registered for its kind.

// TripRequestedPayload is emitted by the request collaborator.
type TripRequestedPayload struct {
	TripID      string    `json:"trip_id"`
	RiderID     string    `json:"rider_id"`
	Origin      geo.Point `json:"origin"`
	Destination geo.Point `json:"destination"`
}

// TripAssignedPayload is emitted by the orchestrator after a successful match.
type TripAssignedPayload struct {
	TripID   string `json:"trip_id"`
	DriverID string `json:"driver_id"`
}

// TripUnmatchedPayload is emitted when no eligible driver was found.
type TripUnmatchedPayload struct {
	TripID string `json:"trip_id"`
	Reason string `json:"reason"`
}

// PricingQuotedPayload comes from the pricing collaborator. Price is in
// currency minor units.
type PricingQuotedPayload struct {
	TripID string `json:"trip_id"`
	Price  int64  `json:"price"`
}

// TripStartedPayload comes from the driver-app collaborator.
type TripStartedPayload struct {
	TripID string `json:"trip_id"`
}

// TripCompletedPayload carries the final price in currency minor units.
type TripCompletedPayload struct {
	TripID     string `json:"trip_id"`
	FinalPrice int64  `json:"final_price"`
}

// CancelInitiator identifies who asked for the cancellation.
type CancelInitiator string

const (
	InitiatorRider  CancelInitiator = "rider"
	InitiatorOps    CancelInitiator = "ops"
	InitiatorSystem CancelInitiator = "system"
)

// TripCancelRequestedPayload comes from the rider or ops collaborator.
type TripCancelRequestedPayload struct {
	TripID    string          `json:"trip_id"`
	Initiator CancelInitiator `json:"initiator"`
}

// TripCancelledPayload is emitted by the orchestrator once a trip is cancelled.
type TripCancelledPayload struct {
	TripID string `json:"trip_id"`
}

// DriverOnlinePayload announces a driver joining the candidate pool.
type DriverOnlinePayload struct {
	DriverID string    `json:"driver_id"`
	Location geo.Point `json:"location"`
	Rating   float64   `json:"rating"`
}

// DriverOfflinePayload withdraws a driver from the candidate pool.
type DriverOfflinePayload struct {
	DriverID string `json:"driver_id"`
}
