package history

import (
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// FindPreviousArrivalEvent returns the arrival of the same vehicle and trip
// at the stop current departs from. events must be ordered by model.Less.
func FindPreviousArrivalEvent(events []model.ArrivalDeparture, current model.ArrivalDeparture) (model.ArrivalDeparture, bool) {
	if current.IsArrival {
		return model.ArrivalDeparture{}, false
	}
	return findPrevious(events, current, func(e model.ArrivalDeparture) bool {
		return e.IsArrival && e.StopID == current.StopID && e.StopPathIndex == current.StopPathIndex
	})
}

// FindPreviousDepartureEvent returns the departure of the same vehicle and
// trip from the stop before the one current arrives at.
func FindPreviousDepartureEvent(events []model.ArrivalDeparture, current model.ArrivalDeparture) (model.ArrivalDeparture, bool) {
	if !current.IsArrival {
		return model.ArrivalDeparture{}, false
	}
	return findPrevious(events, current, func(e model.ArrivalDeparture) bool {
		return e.IsDeparture() && e.StopPathIndex == current.StopPathIndex-1
	})
}

// findPrevious scans backwards for the closest event ordered before current
// that belongs to the same vehicle pass and satisfies match.
func findPrevious(events []model.ArrivalDeparture, current model.ArrivalDeparture, match func(model.ArrivalDeparture) bool) (model.ArrivalDeparture, bool) {
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if !model.Less(e, current) {
			continue
		}
		if e.TripID != current.TripID || e.VehicleID != current.VehicleID || !e.SameFreqStart(current) {
			continue
		}
		if match(e) {
			return e, true
		}
	}
	return model.ArrivalDeparture{}, false
}

// LastVehicleQuery identifies the segment a vehicle is about to travel.
type LastVehicleQuery struct {
	VehicleID   string
	RouteID     string
	DirectionID string
	FromStopID  string
	ToStopID    string
	At          time.Time
}

// LastVehicleTravelTime returns the travel time of the most recent other
// vehicle that departed FromStopID and has already arrived at ToStopID on
// the service day of At. A non-positive travel time ends the search.
func (c *Cache) LastVehicleTravelTime(q LastVehicleQuery) (model.TravelTime, bool) {
	from := c.StopHistory(c.StopKeyAt(q.FromStopID, q.At))
	if len(from) == 0 {
		return model.TravelTime{}, false
	}
	to := c.StopHistory(c.StopKeyAt(q.ToStopID, q.At))
	if len(to) == 0 {
		return model.TravelTime{}, false
	}
	for _, dep := range from {
		if dep.IsArrival || dep.VehicleID == q.VehicleID || dep.Time.After(q.At) {
			continue
		}
		if q.DirectionID != "" && dep.DirectionID != q.DirectionID {
			continue
		}
		if q.RouteID != "" && dep.RouteID != q.RouteID {
			continue
		}
		arr, ok := matchArrival(to, dep)
		if !ok || arr.Time.After(q.At) {
			continue
		}
		tt := model.TravelTime{From: dep, To: arr}
		if tt.Duration() <= 0 {
			return model.TravelTime{}, false
		}
		return tt, true
	}
	return model.TravelTime{}, false
}

func matchArrival(events []model.ArrivalDeparture, dep model.ArrivalDeparture) (model.ArrivalDeparture, bool) {
	for _, e := range events {
		if e.IsArrival && e.VehicleID == dep.VehicleID && e.TripID == dep.TripID && e.SameFreqStart(dep) {
			return e, true
		}
	}
	return model.ArrivalDeparture{}, false
}

// LastVehicleDwell returns the dwell of the most recent other vehicle of
// the same route and direction at stopID on the service day of at. Empty
// routeID or directionID match any.
func (c *Cache) LastVehicleDwell(vehicleID, routeID, directionID, stopID string, at time.Time) (model.TravelTime, bool) {
	events := c.StopHistory(c.StopKeyAt(stopID, at))
	for _, dep := range events {
		if dep.IsArrival || dep.VehicleID == vehicleID || dep.Time.After(at) {
			continue
		}
		if directionID != "" && dep.DirectionID != directionID {
			continue
		}
		if routeID != "" && dep.RouteID != routeID {
			continue
		}
		arr, ok := matchArrival(events, dep)
		if !ok {
			continue
		}
		tt := model.TravelTime{From: arr, To: dep}
		if tt.Duration() < 0 {
			return model.TravelTime{}, false
		}
		return tt, true
	}
	return model.TravelTime{}, false
}

// PreviousVehicleArrival returns the nearest arrival strictly before arrival
// at the same stop by a different vehicle on a different trip, or on the same
// trip with a different frequency start. Arrivals on the same service day
// always qualify; arrivals on the day before only within maxGap.
func (c *Cache) PreviousVehicleArrival(arrival model.ArrivalDeparture, maxGap time.Duration) (model.ArrivalDeparture, bool) {
	day := model.ServiceDay(arrival.Time, c.cfg.Location)
	for _, d := range []time.Time{day, day.AddDate(0, 0, -1)} {
		events := c.StopHistory(model.StopKey{StopID: arrival.StopID, ServiceDay: d.Unix()})
		for _, e := range events {
			if !e.IsArrival || !e.Time.Before(arrival.Time) || e.VehicleID == arrival.VehicleID {
				continue
			}
			if e.TripID == arrival.TripID && e.SameFreqStart(arrival) {
				continue
			}
			if !d.Equal(day) && arrival.Time.Sub(e.Time) > maxGap {
				return model.ArrivalDeparture{}, false
			}
			return e, true
		}
	}
	return model.ArrivalDeparture{}, false
}

// HistoricalQuery selects a segment of a trip instance on previous days.
type HistoricalQuery struct {
	Trip            model.TripKey
	TripID          string // optional, restricts matches to one trip id
	StopPathIndex   int
	MaxDays         int
	MaxDaysToSearch int
}

// HistoricalTravelTimes collects up to MaxDays travel times of the stop path
// ending at StopPathIndex, searching the days before q.Trip. The result is
// ordered with the most recent day last.
func (c *Cache) HistoricalTravelTimes(q HistoricalQuery) ([]model.TravelTime, error) {
	return c.historical(q, func(events []model.ArrivalDeparture) (model.TravelTime, bool) {
		arr, ok := firstAt(events, q.StopPathIndex, q.TripID, true)
		if !ok {
			return model.TravelTime{}, false
		}
		dep, ok := FindPreviousDepartureEvent(events, arr)
		if !ok {
			return model.TravelTime{}, false
		}
		return model.TravelTime{From: dep, To: arr}, true
	})
}

// HistoricalDwellTimes collects up to MaxDays dwell times at the stop of
// StopPathIndex on previous days, most recent day last.
func (c *Cache) HistoricalDwellTimes(q HistoricalQuery) ([]model.TravelTime, error) {
	return c.historical(q, func(events []model.ArrivalDeparture) (model.TravelTime, bool) {
		dep, ok := firstAt(events, q.StopPathIndex, q.TripID, false)
		if !ok {
			return model.TravelTime{}, false
		}
		arr, ok := FindPreviousArrivalEvent(events, dep)
		if !ok {
			return model.TravelTime{}, false
		}
		return model.TravelTime{From: arr, To: dep}, true
	})
}

func (c *Cache) historical(q HistoricalQuery, extract func([]model.ArrivalDeparture) (model.TravelTime, bool)) ([]model.TravelTime, error) {
	var found []model.TravelTime
	for i := 1; i <= q.MaxDaysToSearch && len(found) < q.MaxDays; i++ {
		events, err := c.tripSnapshot(q.Trip.DaysBefore(i, c.cfg.Location))
		if err != nil {
			return nil, err
		}
		if len(events) == 0 {
			continue
		}
		tt, ok := extract(events)
		if !ok || tt.Duration() < 0 {
			continue
		}
		found = append(found, tt)
	}
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found, nil
}

func firstAt(events []model.ArrivalDeparture, stopPathIndex int, tripID string, arrival bool) (model.ArrivalDeparture, bool) {
	for _, e := range events {
		if e.StopPathIndex != stopPathIndex || e.IsArrival != arrival {
			continue
		}
		if tripID != "" && e.TripID != tripID {
			continue
		}
		return e, true
	}
	return model.ArrivalDeparture{}, false
}
