// Package divergence persists the divergence events raised when the filter
// and the fallback disagree, so they can be reviewed after the fact.
package divergence

import (
	"context"
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// Query defines filters for retrieving events. Zero fields match all.
type Query struct {
	Start     time.Time
	End       time.Time
	VehicleID string
	Group     string
	Limit     int
}

// Match reports whether ev satisfies q, ignoring Limit.
func (q Query) Match(ev model.DivergenceEvent) bool {
	if !q.Start.IsZero() && ev.Timestamp.Before(q.Start) {
		return false
	}
	if !q.End.IsZero() && ev.Timestamp.After(q.End) {
		return false
	}
	if q.VehicleID != "" && ev.VehicleID != q.VehicleID {
		return false
	}
	if q.Group != "" && ev.Segment.Group != q.Group {
		return false
	}
	return true
}

// Store persists divergence events and supports querying.
type Store interface {
	Append(ctx context.Context, ev model.DivergenceEvent) error
	Query(ctx context.Context, q Query) ([]model.DivergenceEvent, error)
	Close() error
}
