package model

import (
	"fmt"
	"time"
)

// Namespace separates the two families of filter error state.
type Namespace int

const (
	NamespaceTravelTime Namespace = iota
	NamespaceDwell
)

// String returns a human-readable representation of the namespace.
func (n Namespace) String() string {
	switch n {
	case NamespaceTravelTime:
		return "travel_time"
	case NamespaceDwell:
		return "dwell"
	default:
		return "unknown"
	}
}

// ServiceDay returns midnight of the day containing t in loc.
func ServiceDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
}

// TripKey groups the events of one scheduled trip instance on a service day
// so the same instance can be compared across days.
type TripKey struct {
	RouteID     string
	DirectionID string
	ServiceDay  int64 // unix seconds of the service day midnight
	StartTime   int   // seconds after midnight, bucketed for frequency service
}

// Day returns the service day of the key as a time in loc.
func (k TripKey) Day(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(k.ServiceDay, 0).In(loc)
}

// DaysBefore returns the key of the same trip instance n days earlier.
func (k TripKey) DaysBefore(n int, loc *time.Location) TripKey {
	day := k.Day(loc)
	k.ServiceDay = time.Date(day.Year(), day.Month(), day.Day()-n, 0, 0, 0, 0, day.Location()).Unix()
	return k
}

func (k TripKey) String() string {
	return fmt.Sprintf("%s/%s@%d+%ds", k.RouteID, k.DirectionID, k.ServiceDay, k.StartTime)
}

// StopKey indexes every event observed at a stop on a service day.
type StopKey struct {
	StopID     string
	ServiceDay int64
}

// Day returns the service day of the key as a time in loc.
func (k StopKey) Day(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Unix(k.ServiceDay, 0).In(loc)
}

func (k StopKey) String() string {
	return fmt.Sprintf("%s@%d", k.StopID, k.ServiceDay)
}

// SegmentKey identifies the stop path ending at StopPathIndex for a trip or
// a group of trips.
type SegmentKey struct {
	Group         string `json:"group"`
	StopPathIndex int    `json:"stop_path_index"`
}

func (k SegmentKey) String() string {
	return fmt.Sprintf("%s#%d", k.Group, k.StopPathIndex)
}

// SegmentFor returns the segment key of the stop path an event closes.
func SegmentFor(e ArrivalDeparture) SegmentKey {
	return SegmentKey{Group: e.TripID, StopPathIndex: e.StopPathIndex}
}
