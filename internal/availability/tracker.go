// Package availability maintains the set of drivers eligible for matching.
//
// The tracker is the exclusive owner of the availability flag. Matching reads
// consistent snapshots; assignment is finalized through Reserve, which is the
// compare-and-swap that catches drivers who went away after the snapshot.
package availability

import (
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dhconnelly/rtreego"

	"tripflow/internal/domain/geo"
)

// ErrDriverNoLongerAvailable is returned by Reserve when the driver left the
// pool between snapshot and assignment commit.
var ErrDriverNoLongerAvailable = errors.New("driver no longer available")

// Candidate is one eligible driver as seen by the matching engine. The
// engine re-checks Available before scoring; tracker snapshots always set it.
type Candidate struct {
	DriverID  string
	Location  geo.Point
	Rating    float64
	IdleSince time.Time
	Available bool
}

// kmPerDegree approximates one degree of latitude; good enough for the
// bounding-box prefilter, exact distances are recomputed with haversine.
const kmPerDegree = 111.0

type entry struct {
	cand       Candidate
	available  bool
	reservedBy string // trip id while an assignment is in flight
	rect       rtreego.Rect
}

// Bounds implements rtreego.Spatial. The rect is frozen at insert time so
// deletions find the same box the tree indexed.
func (e *entry) Bounds() rtreego.Rect { return e.rect }

// Tracker is a concurrency-safe driver pool with a spatial index.
type Tracker struct {
	mu      sync.RWMutex
	drivers map[string]*entry
	tree    *rtreego.Rtree
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		drivers: make(map[string]*entry),
		tree:    rtreego.NewTree(2, 25, 50),
	}
}

// MarkAvailable puts a driver into the candidate pool at the given location.
// A driver already in the pool keeps their original idle clock; only the
// location and rating refresh. While a reservation is in flight the call is
// ignored: the reserving side owns the driver's next pool state, and letting
// an availability announcement recreate the entry would hand the same driver
// to two trips.
func (t *Tracker) MarkAvailable(driverID string, loc geo.Point, rating float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	idleSince := time.Now().UTC()
	if prev, ok := t.drivers[driverID]; ok {
		if prev.reservedBy != "" {
			return
		}
		if prev.available {
			idleSince = prev.cand.IdleSince
			t.tree.Delete(prev)
		}
		delete(t.drivers, driverID)
	}

	e := &entry{
		cand: Candidate{
			DriverID:  driverID,
			Location:  loc,
			Rating:    rating,
			IdleSince: idleSince,
			Available: true,
		},
		available: true,
		rect:      pointRect(loc),
	}
	t.drivers[driverID] = e
	t.tree.Insert(e)
}

// MarkUnavailable removes a driver from the pool entirely.
func (t *Tracker) MarkUnavailable(driverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.drivers[driverID]
	if !ok {
		return
	}
	if e.available {
		t.tree.Delete(e)
	}
	delete(t.drivers, driverID)
}

// Snapshot returns every available driver. The slice is consistent for one
// matching attempt; later writes do not retroactively change it.
func (t *Tracker) Snapshot() []Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Candidate, 0, len(t.drivers))
	for _, e := range t.drivers {
		if e.available {
			out = append(out, e.cand)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out
}

// Nearby returns up to limit available drivers within radiusKm of origin,
// closest first. The r-tree prefilters by bounding box; exact distance uses
// haversine.
func (t *Tracker) Nearby(origin geo.Point, radiusKm float64, limit int) []Candidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	searchBox := pointBox(origin, radiusKm)
	hits := t.tree.SearchIntersect(searchBox)

	out := make([]Candidate, 0, len(hits))
	for _, hit := range hits {
		e, ok := hit.(*entry)
		if !ok || !e.available {
			continue
		}
		if geo.HaversineKM(origin, e.cand.Location) <= radiusKm {
			out = append(out, e.cand)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		di := geo.HaversineKM(origin, out[i].Location)
		dj := geo.HaversineKM(origin, out[j].Location)
		if di != dj {
			return di < dj
		}
		return out[i].DriverID < out[j].DriverID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Reserve is the assignment-commit check: it atomically takes the driver out
// of the pool for the given trip, or reports that the snapshot is stale.
func (t *Tracker) Reserve(driverID, tripID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.drivers[driverID]
	if !ok || !e.available {
		return ErrDriverNoLongerAvailable
	}
	e.available = false
	e.reservedBy = tripID
	t.tree.Delete(e)
	return nil
}

// Release undoes a tentative reservation and returns the driver to the pool.
func (t *Tracker) Release(driverID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.drivers[driverID]
	if !ok || e.available {
		return
	}
	e.available = true
	e.reservedBy = ""
	e.rect = pointRect(e.cand.Location)
	t.tree.Insert(e)
}

// Count reports how many drivers are currently available.
func (t *Tracker) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.drivers {
		if e.available {
			n++
		}
	}
	return n
}

func pointRect(p geo.Point) rtreego.Rect {
	return rtreego.Point{p.Lng, p.Lat}.ToRect(0.0001)
}

// pointBox spans radiusKm in both dimensions around p. A degree of longitude
// covers only 111*cos(lat) km, so the longitude tolerance widens with latitude
// or drivers inside the radius would fall outside the prefilter box.
func pointBox(p geo.Point, radiusKm float64) rtreego.Rect {
	latTol := radiusKm / kmPerDegree
	if latTol <= 0 {
		return pointRect(p)
	}
	cosLat := math.Cos(p.Lat * math.Pi / 180)
	if cosLat < 0.01 {
		cosLat = 0.01 // near the poles a degree of longitude vanishes
	}
	lngTol := latTol / cosLat

	rect, err := rtreego.NewRect(
		rtreego.Point{p.Lng - lngTol, p.Lat - latTol},
		[]float64{2 * lngTol, 2 * latTol},
	)
	if err != nil {
		return rtreego.Point{p.Lng, p.Lat}.ToRect(latTol)
	}
	return rect
}
