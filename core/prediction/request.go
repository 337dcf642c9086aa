package prediction

import (
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// Request describes a vehicle about to travel the stop path ending at
// StopPathIndex, from FromStopID to StopID.
type Request struct {
	VehicleID        string
	TripID           string
	RouteID          string
	DirectionID      string
	FromStopID       string
	StopID           string
	StopPathIndex    int
	TripStartSeconds int
	FreqStartTime    *time.Time
	// Time is the time of the vehicle's last position report.
	Time time.Time
	// Group pools the filter error of several trips when set. The trip id
	// is used otherwise.
	Group string
	// SegmentLength and DistanceAlong are in meters. DistanceAlong is
	// non-zero when the vehicle is already partway along the stop path.
	SegmentLength float64
	DistanceAlong float64
	// Schedule based estimates supplied by the caller, used by fallbacks.
	ScheduledTravelTime time.Duration
	ScheduledDwell      time.Duration
}

// Segment returns the key the filter error of this request is stored under.
func (r Request) Segment() model.SegmentKey {
	return model.SegmentKey{Group: r.group(r.TripID), StopPathIndex: r.StopPathIndex}
}

func (r Request) group(tripID string) string {
	if r.Group != "" {
		return r.Group
	}
	return tripID
}

// DwellSegment returns the key the dwell model of this stop is stored under.
// Samples are derived from events, which carry no group, so the trip id is
// used even when Group pools the filter error.
func (r Request) DwellSegment() model.SegmentKey {
	return model.SegmentFor(r.event())
}

// Partial reports whether the vehicle is partway along the stop path.
func (r Request) Partial() bool {
	return r.SegmentLength > 0 && r.DistanceAlong > 0 && r.DistanceAlong < r.SegmentLength
}

// RemainingRatio is the share of the stop path still to travel.
func (r Request) RemainingRatio() float64 {
	if !r.Partial() {
		return 1
	}
	return (r.SegmentLength - r.DistanceAlong) / r.SegmentLength
}

// event returns the request as an event so trip keys can be derived the same
// way they are for stored events.
func (r Request) event() model.ArrivalDeparture {
	return model.ArrivalDeparture{
		VehicleID:        r.VehicleID,
		TripID:           r.TripID,
		RouteID:          r.RouteID,
		DirectionID:      r.DirectionID,
		StopID:           r.StopID,
		StopPathIndex:    r.StopPathIndex,
		Time:             r.Time,
		TripStartSeconds: r.TripStartSeconds,
		FreqStartTime:    r.FreqStartTime,
	}
}
