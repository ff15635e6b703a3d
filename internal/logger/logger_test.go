package logger

import (
	"context"
	"testing"
)

func TestContextCarriesIdentifiers(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationID(ctx); got != "" {
		t.Errorf("empty context correlation id = %q", got)
	}

	ctx = WithCorrelationID(ctx, "corr-1")
	ctx = WithTripID(ctx, "trip-1")
	if got := CorrelationID(ctx); got != "corr-1" {
		t.Errorf("correlation id = %q, want corr-1", got)
	}
	if got := TripID(ctx); got != "trip-1" {
		t.Errorf("trip id = %q, want trip-1", got)
	}
}

func TestContextIgnoresBlankIdentifiers(t *testing.T) {
	base := context.Background()
	if ctx := WithCorrelationID(base, "  "); ctx != base {
		t.Error("blank correlation id created a new context")
	}
	if ctx := WithTripID(base, ""); ctx != base {
		t.Error("blank trip id created a new context")
	}
}

func TestEntryPullsFromContext(t *testing.T) {
	l := New("test-service")
	ctx := WithTripID(WithCorrelationID(context.Background(), "corr-1"), "trip-1")

	e := l.entry(ctx, "INFO", "  trip_assigned  ", "  Driver assigned  ", nil, nil)
	if e.Service != "test-service" {
		t.Errorf("service = %q", e.Service)
	}
	if e.Action != "trip_assigned" {
		t.Errorf("action = %q", e.Action)
	}
	if e.Message != "Driver assigned" {
		t.Errorf("message = %q", e.Message)
	}
	if e.CorrelationID != "corr-1" || e.TripID != "trip-1" {
		t.Errorf("ids = %q/%q", e.CorrelationID, e.TripID)
	}
	if e.Timestamp == "" || e.Hostname == "" {
		t.Errorf("entry missing timestamp or hostname: %+v", e)
	}
}

func TestEntryDefaultsAction(t *testing.T) {
	l := New("")
	e := l.entry(context.Background(), "INFO", "", "msg", nil, nil)
	if e.Action != "unspecified" {
		t.Errorf("action = %q, want unspecified", e.Action)
	}
	if e.Service != "unknown-service" {
		t.Errorf("service = %q, want unknown-service", e.Service)
	}
}
