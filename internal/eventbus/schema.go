package eventbus

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"tripflow/internal/contracts"
)

// FieldType names the structural types the validator understands.
type FieldType string

const (
	TypeString  FieldType = "string"
	TypeNumber  FieldType = "number"
	TypeInteger FieldType = "integer"
	TypePoint   FieldType = "point" // {lat,lng} object with range checks
)

// Field is one structural requirement inside a schema.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Enum     []string // non-empty restricts a string field to these values
}

// Schema is the set of fields registered for one event kind.
type Schema struct {
	Fields []Field
}

// ErrUnknownEventKind is returned for event names with no registered schema.
var ErrUnknownEventKind = errors.New("unknown event kind")

// SchemaError reports a structural validation failure for a single field.
type SchemaError struct {
	Kind   contracts.EventKind
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema %s: field %q %s", e.Kind, e.Field, e.Reason)
}

// registry holds one schema per known event kind, fixed at process start.
// Adding an event kind without registering it here is caught by TestRegistryCoversAllKinds.
var registry = map[contracts.EventKind]Schema{
	contracts.TripRequested: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "rider_id", Type: TypeString, Required: true},
		{Name: "origin", Type: TypePoint, Required: true},
		{Name: "destination", Type: TypePoint, Required: true},
	}},
	contracts.TripAssigned: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "driver_id", Type: TypeString, Required: true},
	}},
	contracts.TripUnmatched: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "reason", Type: TypeString, Required: true},
	}},
	contracts.PricingQuoted: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "price", Type: TypeInteger, Required: true},
	}},
	contracts.TripStarted: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
	}},
	contracts.TripCompleted: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "final_price", Type: TypeInteger, Required: true},
	}},
	contracts.TripCancelRequest: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
		{Name: "initiator", Type: TypeString, Required: true, Enum: []string{"rider", "ops", "system"}},
	}},
	contracts.TripCancelled: {Fields: []Field{
		{Name: "trip_id", Type: TypeString, Required: true},
	}},
	contracts.DriverOnline: {Fields: []Field{
		{Name: "driver_id", Type: TypeString, Required: true},
		{Name: "location", Type: TypePoint, Required: true},
		{Name: "rating", Type: TypeNumber, Required: true},
	}},
	contracts.DriverOffline: {Fields: []Field{
		{Name: "driver_id", Type: TypeString, Required: true},
	}},
}

// Validate checks a raw payload against the schema registered for kind.
// It is pure: no side effects, safe on both the publish and subscribe paths.
func Validate(kind contracts.EventKind, raw json.RawMessage) error {
	schema, ok := registry[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return &SchemaError{Kind: kind, Field: "", Reason: "payload is not a JSON object"}
	}

	for _, f := range schema.Fields {
		value, present := payload[f.Name]
		if !present || value == nil {
			if f.Required {
				return &SchemaError{Kind: kind, Field: f.Name, Reason: "is required"}
			}
			continue
		}
		if err := checkField(kind, f, value); err != nil {
			return err
		}
	}
	return nil
}

func checkField(kind contracts.EventKind, f Field, value any) error {
	switch f.Type {
	case TypeString:
		s, ok := value.(string)
		if !ok {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "must be a string"}
		}
		if len(f.Enum) > 0 && !contains(f.Enum, s) {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: fmt.Sprintf("must be one of %v", f.Enum)}
		}

	case TypeNumber:
		if _, ok := value.(float64); !ok {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "must be a number"}
		}

	case TypeInteger:
		n, ok := value.(float64)
		if !ok || n != math.Trunc(n) {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "must be an integer"}
		}

	case TypePoint:
		obj, ok := value.(map[string]any)
		if !ok {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "must be a {lat,lng} object"}
		}
		lat, latOK := obj["lat"].(float64)
		lng, lngOK := obj["lng"].(float64)
		if !latOK || !lngOK {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "must carry numeric lat and lng"}
		}
		if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
			return &SchemaError{Kind: kind, Field: f.Name, Reason: "lat/lng out of range"}
		}

	default:
		return &SchemaError{Kind: kind, Field: f.Name, Reason: "has unknown schema type"}
	}
	return nil
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}

// RegisteredKinds lists every kind with a schema, for topology setup.
func RegisteredKinds() []contracts.EventKind {
	kinds := make([]contracts.EventKind, 0, len(registry))
	for k := range registry {
		kinds = append(kinds, k)
	}
	return kinds
}
