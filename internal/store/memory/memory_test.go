package memory

import (
	"context"
	"errors"
	"testing"

	"tripflow/internal/domain/driver"
	"tripflow/internal/domain/geo"
	"tripflow/internal/domain/trip"
	"tripflow/internal/store"
)

func TestTripRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.LoadTrip(ctx, "t1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing trip: got %v, want ErrNotFound", err)
	}

	tr, err := trip.NewTrip("t1", "rider-1", geo.Point{Lat: 0, Lng: 0}, geo.Point{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatalf("NewTrip: %v", err)
	}
	if err := s.SaveTrip(ctx, tr); err != nil {
		t.Fatalf("SaveTrip: %v", err)
	}

	got, err := s.LoadTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTrip: %v", err)
	}
	if got.RiderID != "rider-1" || got.Status != trip.StatusRequested {
		t.Errorf("loaded trip = %+v", got)
	}

	// The store hands out copies; mutating one must not leak into the other.
	if err := got.StartMatching(); err != nil {
		t.Fatalf("StartMatching: %v", err)
	}
	again, err := s.LoadTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTrip: %v", err)
	}
	if again.Status != trip.StatusRequested {
		t.Errorf("store copy mutated through a loaded pointer: %s", again.Status)
	}
}

func TestTripUpsert(t *testing.T) {
	s := New()
	ctx := context.Background()

	tr, err := trip.NewTrip("t1", "rider-1", geo.Point{Lat: 0, Lng: 0}, geo.Point{Lat: 1, Lng: 1})
	if err != nil {
		t.Fatalf("NewTrip: %v", err)
	}
	if err := s.SaveTrip(ctx, tr); err != nil {
		t.Fatalf("SaveTrip: %v", err)
	}
	if err := tr.StartMatching(); err != nil {
		t.Fatalf("StartMatching: %v", err)
	}
	if err := s.SaveTrip(ctx, tr); err != nil {
		t.Fatalf("SaveTrip again: %v", err)
	}

	got, err := s.LoadTrip(ctx, "t1")
	if err != nil {
		t.Fatalf("LoadTrip: %v", err)
	}
	if got.Status != trip.StatusMatching {
		t.Errorf("status = %s, want %s", got.Status, trip.StatusMatching)
	}
}

func TestDriverRoundTrip(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.LoadDriver(ctx, "d1"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("missing driver: got %v, want ErrNotFound", err)
	}

	d, err := driver.NewDriver("d1", "Alice", geo.Point{Lat: 10, Lng: 20}, 4.5)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if err := s.SaveDriver(ctx, d); err != nil {
		t.Fatalf("SaveDriver: %v", err)
	}

	got, err := s.LoadDriver(ctx, "d1")
	if err != nil {
		t.Fatalf("LoadDriver: %v", err)
	}
	if got.Name != "Alice" || got.Rating != 4.5 {
		t.Errorf("loaded driver = %+v", got)
	}
}
