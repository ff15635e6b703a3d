package driver

import (
	"errors"
	"testing"

	"tripflow/internal/domain/geo"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := NewDriver("driver-1", "Alice", geo.Point{Lat: 10, Lng: 20}, 4.5)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	return d
}

func TestNewDriverValidation(t *testing.T) {
	loc := geo.Point{Lat: 0, Lng: 0}

	if _, err := NewDriver("", "Alice", loc, 4.5); !errors.Is(err, ErrDriverIDRequired) {
		t.Errorf("empty id: got %v, want ErrDriverIDRequired", err)
	}
	if _, err := NewDriver("driver-1", "Alice", loc, 5.1); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("rating 5.1: got %v, want ErrInvalidRating", err)
	}
	if _, err := NewDriver("driver-1", "Alice", loc, -0.1); !errors.Is(err, ErrInvalidRating) {
		t.Errorf("rating -0.1: got %v, want ErrInvalidRating", err)
	}
	if _, err := NewDriver("driver-1", "Alice", geo.Point{Lat: 0, Lng: 181}, 4.5); err == nil {
		t.Error("out-of-range longitude accepted")
	}

	d := newTestDriver(t)
	if d.Available {
		t.Error("new driver should start offline")
	}
	if d.ActiveTripID != nil {
		t.Error("new driver should have no active trip")
	}
}

func TestDriverAssignRelease(t *testing.T) {
	d := newTestDriver(t)
	if err := d.GoOnline(d.Location); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}

	if err := d.Assign("trip-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if d.Available {
		t.Error("assigned driver should not be available")
	}
	if d.ActiveTripID == nil || *d.ActiveTripID != "trip-1" {
		t.Fatalf("ActiveTripID = %v, want trip-1", d.ActiveTripID)
	}

	if err := d.Assign("trip-2"); !errors.Is(err, ErrDriverBusy) {
		t.Errorf("double assign: got %v, want ErrDriverBusy", err)
	}

	if err := d.Release(); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !d.Available {
		t.Error("released driver should be available")
	}
	if d.ActiveTripID != nil {
		t.Error("released driver should have no active trip")
	}

	if err := d.Release(); !errors.Is(err, ErrNoActiveTrip) {
		t.Errorf("double release: got %v, want ErrNoActiveTrip", err)
	}
}

func TestDriverGoOnlineWhileBusy(t *testing.T) {
	d := newTestDriver(t)
	if err := d.Assign("trip-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	if err := d.GoOnline(geo.Point{Lat: 1, Lng: 1}); !errors.Is(err, ErrDriverBusy) {
		t.Errorf("GoOnline while busy: got %v, want ErrDriverBusy", err)
	}
}

func TestDriverGoOfflineKeepsTrip(t *testing.T) {
	d := newTestDriver(t)
	if err := d.Assign("trip-1"); err != nil {
		t.Fatalf("Assign: %v", err)
	}
	d.GoOffline()
	if d.ActiveTripID == nil || *d.ActiveTripID != "trip-1" {
		t.Errorf("GoOffline dropped the active trip: %v", d.ActiveTripID)
	}
}

func TestDriverUpdateLocation(t *testing.T) {
	d := newTestDriver(t)
	if err := d.GoOnline(d.Location); err != nil {
		t.Fatalf("GoOnline: %v", err)
	}
	next := geo.Point{Lat: 11, Lng: 21}
	if err := d.UpdateLocation(next); err != nil {
		t.Fatalf("UpdateLocation: %v", err)
	}
	if d.Location != next {
		t.Errorf("Location = %v, want %v", d.Location, next)
	}
	if !d.Available {
		t.Error("UpdateLocation must not change availability")
	}
	if err := d.UpdateLocation(geo.Point{Lat: -91, Lng: 0}); err == nil {
		t.Error("out-of-range latitude accepted")
	}
}
