package orchestrator

import "sync/atomic"

// Metrics counts lifecycle outcomes. Protocol violations are dropped events;
// counting them is what keeps the drop observable.
type Metrics struct {
	ProtocolViolations atomic.Int64
	TripsMatched       atomic.Int64
	TripsUnmatched     atomic.Int64
	TripsCompleted     atomic.Int64
	TripsCancelled     atomic.Int64
	MatchRetries       atomic.Int64
}

// Snapshot returns the current counter values.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"protocol_violations": m.ProtocolViolations.Load(),
		"trips_matched":       m.TripsMatched.Load(),
		"trips_unmatched":     m.TripsUnmatched.Load(),
		"trips_completed":     m.TripsCompleted.Load(),
		"trips_cancelled":     m.TripsCancelled.Load(),
		"match_retries":       m.MatchRetries.Load(),
	}
}
