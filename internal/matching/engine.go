// Package matching selects a driver for a trip from a candidate pool.
package matching

import (
	"sort"
	"time"

	"tripflow/internal/availability"
	"tripflow/internal/domain/geo"
	"tripflow/internal/domain/trip"
)

// Engine scores candidates against a trip request. It never mutates trip or
// driver state; it only picks.
type Engine struct{}

// NewEngine creates a matching engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Match returns the best driver for the trip, or ok=false when the filtered
// pool is empty (NoMatch: a valid terminal result, not an error).
//
// Ranking: distance to the trip origin ascending, then rating descending,
// then idle time descending (drivers waiting longest go first), then driver
// id ascending so the result is deterministic for identical inputs.
func (e *Engine) Match(t *trip.Trip, pool []availability.Candidate) (string, bool) {
	scored := make([]scoredCandidate, 0, len(pool))
	now := time.Now().UTC()
	for _, c := range pool {
		if !c.Available {
			continue
		}
		scored = append(scored, scoredCandidate{
			id:       c.DriverID,
			distance: geo.HaversineKM(c.Location, t.Origin),
			rating:   c.Rating,
			idle:     now.Sub(c.IdleSince),
		})
	}
	if len(scored) == 0 {
		return "", false
	}

	sort.Slice(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		if a.rating != b.rating {
			return a.rating > b.rating
		}
		if a.idle != b.idle {
			return a.idle > b.idle
		}
		return a.id < b.id
	})
	return scored[0].id, true
}

type scoredCandidate struct {
	id       string
	distance float64
	rating   float64
	idle     time.Duration
}
