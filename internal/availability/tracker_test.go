package availability

import (
	"errors"
	"testing"
	"time"

	"tripflow/internal/domain/geo"
)

func TestTrackerSnapshot(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d2", geo.Point{Lat: 1, Lng: 1}, 4.0)
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)
	tr.MarkAvailable("d3", geo.Point{Lat: 2, Lng: 2}, 3.5)
	tr.MarkUnavailable("d3")

	snap := tr.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap[0].DriverID != "d1" || snap[1].DriverID != "d2" {
		t.Errorf("snapshot order = %s, %s", snap[0].DriverID, snap[1].DriverID)
	}
	for _, c := range snap {
		if !c.Available {
			t.Errorf("snapshot candidate %s not marked available", c.DriverID)
		}
	}
	if tr.Count() != 2 {
		t.Errorf("Count = %d, want 2", tr.Count())
	}
}

func TestTrackerMarkAvailablePreservesIdleClock(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)
	first := tr.Snapshot()[0].IdleSince

	time.Sleep(5 * time.Millisecond)
	tr.MarkAvailable("d1", geo.Point{Lat: 0.1, Lng: 0.1}, 4.7)

	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snap))
	}
	if !snap[0].IdleSince.Equal(first) {
		t.Errorf("idle clock reset on location refresh: %v -> %v", first, snap[0].IdleSince)
	}
	if snap[0].Location.Lat != 0.1 || snap[0].Rating != 4.7 {
		t.Errorf("location/rating not refreshed: %+v", snap[0])
	}
}

func TestTrackerNearby(t *testing.T) {
	tr := NewTracker()
	origin := geo.Point{Lat: 0, Lng: 0}

	tr.MarkAvailable("near", geo.Point{Lat: 0, Lng: 0.01}, 4.0) // ~1.1 km
	tr.MarkAvailable("mid", geo.Point{Lat: 0.03, Lng: 0}, 4.0)  // ~3.3 km
	tr.MarkAvailable("far", geo.Point{Lat: 0.5, Lng: 0.5}, 4.0) // ~78 km
	tr.MarkAvailable("edge", geo.Point{Lat: 0, Lng: -0.04}, 4.0) // ~4.5 km

	got := tr.Nearby(origin, 5, 0)
	if len(got) != 3 {
		t.Fatalf("Nearby(5km) = %d candidates, want 3", len(got))
	}
	if got[0].DriverID != "near" || got[1].DriverID != "mid" || got[2].DriverID != "edge" {
		t.Errorf("order = %s, %s, %s", got[0].DriverID, got[1].DriverID, got[2].DriverID)
	}

	limited := tr.Nearby(origin, 5, 2)
	if len(limited) != 2 || limited[0].DriverID != "near" {
		t.Errorf("limit 2: got %d candidates", len(limited))
	}

	if got := tr.Nearby(geo.Point{Lat: 45, Lng: 45}, 5, 0); len(got) != 0 {
		t.Errorf("empty region returned %d candidates", len(got))
	}
}

func TestTrackerNearbyAtHighLatitude(t *testing.T) {
	tr := NewTracker()
	origin := geo.Point{Lat: 60, Lng: 0}

	// At 60N a degree of longitude spans ~55 km, so 0.12 degrees is only
	// ~6.7 km; the prefilter box must not cut it off.
	tr.MarkAvailable("east", geo.Point{Lat: 60, Lng: 0.12}, 4.0)
	tr.MarkAvailable("beyond", geo.Point{Lat: 60, Lng: 0.4}, 4.0) // ~22 km

	got := tr.Nearby(origin, 10, 0)
	if len(got) != 1 {
		t.Fatalf("Nearby(10km) = %d candidates, want 1", len(got))
	}
	if got[0].DriverID != "east" {
		t.Errorf("got %s, want east", got[0].DriverID)
	}
}

func TestTrackerReserveIsCompareAndSwap(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)

	if err := tr.Reserve("d1", "trip-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if tr.Count() != 0 {
		t.Errorf("reserved driver still counted available")
	}
	if len(tr.Nearby(geo.Point{Lat: 0, Lng: 0}, 5, 0)) != 0 {
		t.Error("reserved driver still returned by Nearby")
	}

	// Second reservation against the same stale snapshot must fail.
	if err := tr.Reserve("d1", "trip-2"); !errors.Is(err, ErrDriverNoLongerAvailable) {
		t.Errorf("double reserve: got %v, want ErrDriverNoLongerAvailable", err)
	}
	if err := tr.Reserve("ghost", "trip-3"); !errors.Is(err, ErrDriverNoLongerAvailable) {
		t.Errorf("unknown driver: got %v, want ErrDriverNoLongerAvailable", err)
	}
}

func TestTrackerReleaseRestoresDriver(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)
	if err := tr.Reserve("d1", "trip-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	tr.Release("d1")
	if tr.Count() != 1 {
		t.Fatalf("Count after release = %d, want 1", tr.Count())
	}
	got := tr.Nearby(geo.Point{Lat: 0, Lng: 0}, 5, 0)
	if len(got) != 1 || got[0].DriverID != "d1" {
		t.Errorf("released driver not findable: %v", got)
	}

	// Releasing an already-available or unknown driver is a no-op.
	tr.Release("d1")
	tr.Release("ghost")
	if tr.Count() != 1 {
		t.Errorf("Count after redundant releases = %d, want 1", tr.Count())
	}
}

func TestTrackerMarkAvailableWhileReservedIgnored(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)
	if err := tr.Reserve("d1", "trip-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// An availability announcement racing the assignment commit must not
	// recreate the entry and hand the driver to a second trip.
	tr.MarkAvailable("d1", geo.Point{Lat: 1, Lng: 1}, 5.0)
	if tr.Count() != 0 {
		t.Fatal("reserved driver re-entered the pool")
	}
	if err := tr.Reserve("d1", "trip-2"); !errors.Is(err, ErrDriverNoLongerAvailable) {
		t.Errorf("second reserve: got %v, want ErrDriverNoLongerAvailable", err)
	}

	tr.Release("d1")
	snap := tr.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("snapshot size after release = %d, want 1", len(snap))
	}
	if snap[0].Location != (geo.Point{Lat: 0, Lng: 0}) {
		t.Errorf("release restored wrong location: %+v", snap[0].Location)
	}
}

func TestTrackerMarkUnavailableWhileReserved(t *testing.T) {
	tr := NewTracker()
	tr.MarkAvailable("d1", geo.Point{Lat: 0, Lng: 0}, 4.5)
	if err := tr.Reserve("d1", "trip-1"); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	tr.MarkUnavailable("d1")
	tr.Release("d1")
	if tr.Count() != 0 {
		t.Errorf("removed driver reappeared after Release")
	}
}
