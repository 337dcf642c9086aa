package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned by Validate for events that cannot be cached.
var ErrInvalidEvent = errors.New("invalid arrival/departure event")

// ArrivalDeparture records a vehicle passing a stop. Events are created once
// per vehicle-stop pass and never mutated afterwards.
type ArrivalDeparture struct {
	VehicleID     string    `json:"vehicle_id" yaml:"vehicle_id"`
	TripID        string    `json:"trip_id" yaml:"trip_id"`
	RouteID       string    `json:"route_id" yaml:"route_id"`
	DirectionID   string    `json:"direction_id" yaml:"direction_id"`
	BlockID       string    `json:"block_id,omitempty" yaml:"block_id"`
	ServiceID     string    `json:"service_id,omitempty" yaml:"service_id"`
	StopID        string    `json:"stop_id" yaml:"stop_id"`
	StopPathIndex int       `json:"stop_path_index" yaml:"stop_path_index"`
	TripIndex     int       `json:"trip_index" yaml:"trip_index"` // index of the trip within its block
	IsArrival     bool      `json:"is_arrival" yaml:"is_arrival"`
	Time          time.Time `json:"time" yaml:"time"`
	ScheduledTime time.Time `json:"scheduled_time,omitempty" yaml:"scheduled_time"`
	// TripStartSeconds is the scheduled start of the trip in seconds after
	// midnight of the service day.
	TripStartSeconds int `json:"trip_start_seconds" yaml:"trip_start_seconds"`
	// FreqStartTime is set for frequency based service only.
	FreqStartTime *time.Time `json:"freq_start_time,omitempty" yaml:"freq_start_time"`
	ConfigRev     int        `json:"config_rev,omitempty" yaml:"config_rev"`
}

// IsDeparture reports whether the event is a departure.
func (e ArrivalDeparture) IsDeparture() bool { return !e.IsArrival }

// IsFrequencyBased reports whether the trip runs on a frequency schedule.
func (e ArrivalDeparture) IsFrequencyBased() bool { return e.FreqStartTime != nil }

// SameFreqStart reports whether both events belong to the same frequency
// instance of a trip. Schedule based events always match each other.
func (e ArrivalDeparture) SameFreqStart(o ArrivalDeparture) bool {
	if e.FreqStartTime == nil || o.FreqStartTime == nil {
		return e.FreqStartTime == nil && o.FreqStartTime == nil
	}
	return e.FreqStartTime.Equal(*o.FreqStartTime)
}

// Identity returns a string identifying the pass. Two events with the same
// identity describe the same observation.
func (e ArrivalDeparture) Identity() string {
	kind := "D"
	if e.IsArrival {
		kind = "A"
	}
	return fmt.Sprintf("%s|%s|%d|%s|%d", e.VehicleID, e.TripID, e.StopPathIndex, kind, e.Time.UnixMilli())
}

// Same reports whether o describes the same observation as e, that is
// whether both share one Identity.
func (e ArrivalDeparture) Same(o ArrivalDeparture) bool {
	return e.VehicleID == o.VehicleID && e.TripID == o.TripID &&
		e.StopPathIndex == o.StopPathIndex && e.IsArrival == o.IsArrival &&
		e.Time.UnixMilli() == o.Time.UnixMilli()
}

// Validate checks the fields required to index the event.
func (e ArrivalDeparture) Validate() error {
	switch {
	case e.VehicleID == "":
		return fmt.Errorf("%w: vehicle id missing", ErrInvalidEvent)
	case e.TripID == "":
		return fmt.Errorf("%w: trip id missing", ErrInvalidEvent)
	case e.StopID == "":
		return fmt.Errorf("%w: stop id missing", ErrInvalidEvent)
	case e.StopPathIndex < 0:
		return fmt.Errorf("%w: negative stop path index %d", ErrInvalidEvent, e.StopPathIndex)
	case e.Time.IsZero():
		return fmt.Errorf("%w: time missing", ErrInvalidEvent)
	}
	return nil
}

// Less orders events by trip index, stop path index, arrival before
// departure and finally by time.
func Less(a, b ArrivalDeparture) bool {
	if a.TripIndex != b.TripIndex {
		return a.TripIndex < b.TripIndex
	}
	if a.StopPathIndex != b.StopPathIndex {
		return a.StopPathIndex < b.StopPathIndex
	}
	if a.IsArrival != b.IsArrival {
		return a.IsArrival
	}
	return a.Time.Before(b.Time)
}
