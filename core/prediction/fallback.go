package prediction

import (
	"time"

	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/model"
)

// Fallback provides the estimate used when the filter cannot run and the
// reference the filter output is compared against.
type Fallback interface {
	// TravelTime estimates the full stop path.
	TravelTime(req Request) time.Duration
	// RemainingTravelTime estimates the part of the stop path still ahead.
	RemainingTravelTime(req Request) time.Duration
	DwellTime(req Request) time.Duration
}

// StaticFallback returns configured durations per segment, then the
// schedule carried by the request, then the defaults.
type StaticFallback struct {
	Travel        map[model.SegmentKey]time.Duration
	Dwell         map[model.SegmentKey]time.Duration
	DefaultTravel time.Duration
	DefaultDwell  time.Duration
}

// TravelTime returns the configured travel time of the segment.
func (s StaticFallback) TravelTime(req Request) time.Duration {
	if d, ok := s.Travel[req.Segment()]; ok {
		return d
	}
	if req.ScheduledTravelTime > 0 {
		return req.ScheduledTravelTime
	}
	return s.DefaultTravel
}

// RemainingTravelTime scales TravelTime by the share of the path ahead.
func (s StaticFallback) RemainingTravelTime(req Request) time.Duration {
	return scale(s.TravelTime(req), req.RemainingRatio())
}

// DwellTime returns the configured dwell time of the segment.
func (s StaticFallback) DwellTime(req Request) time.Duration {
	if d, ok := s.Dwell[req.Segment()]; ok {
		return d
	}
	if req.ScheduledDwell > 0 {
		return req.ScheduledDwell
	}
	return s.DefaultDwell
}

// AverageFallback averages the segment over the previous days found in the
// cache and defers to Next when no day has data.
type AverageFallback struct {
	Cache           *history.Cache
	MaxDays         int
	MaxDaysToSearch int
	Next            Fallback
}

// TravelTime averages the historical travel times of the segment.
func (a AverageFallback) TravelTime(req Request) time.Duration {
	tts, err := a.Cache.HistoricalTravelTimes(a.query(req))
	if err != nil || len(tts) == 0 {
		return a.Next.TravelTime(req)
	}
	return average(tts)
}

// RemainingTravelTime scales TravelTime by the share of the path ahead.
func (a AverageFallback) RemainingTravelTime(req Request) time.Duration {
	return scale(a.TravelTime(req), req.RemainingRatio())
}

// DwellTime averages the historical dwell times at the stop.
func (a AverageFallback) DwellTime(req Request) time.Duration {
	tts, err := a.Cache.HistoricalDwellTimes(a.query(req))
	if err != nil || len(tts) == 0 {
		return a.Next.DwellTime(req)
	}
	return average(tts)
}

func (a AverageFallback) query(req Request) history.HistoricalQuery {
	return history.HistoricalQuery{
		Trip:            a.Cache.TripKeyFor(req.event()),
		StopPathIndex:   req.StopPathIndex,
		MaxDays:         a.MaxDays,
		MaxDaysToSearch: a.MaxDaysToSearch,
	}
}

func average(tts []model.TravelTime) time.Duration {
	var sum time.Duration
	for _, tt := range tts {
		sum += tt.Duration()
	}
	return sum / time.Duration(len(tts))
}

func scale(d time.Duration, ratio float64) time.Duration {
	return time.Duration(float64(d) * ratio)
}
