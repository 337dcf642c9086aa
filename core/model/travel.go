package model

import "time"

// TravelTime is the elapsed time between two events of the same vehicle.
type TravelTime struct {
	From ArrivalDeparture
	To   ArrivalDeparture
}

// Duration returns To.Time minus From.Time.
func (t TravelTime) Duration() time.Duration {
	return t.To.Time.Sub(t.From.Time)
}

// Millis returns the duration in milliseconds as a float for filtering.
func (t TravelTime) Millis() float64 {
	return float64(t.Duration().Milliseconds())
}

// Tier names the estimator that produced a prediction.
type Tier string

const (
	TierKalman   Tier = "kalman"
	TierRLS      Tier = "rls"
	TierFallback Tier = "fallback"
)

// Prediction is the answer returned for a segment request. Duration is never
// negative.
type Prediction struct {
	Duration time.Duration `json:"duration"`
	Tier     Tier          `json:"tier"`
	Reason   string        `json:"reason,omitempty"`
}

// DivergenceEvent is emitted when the filter estimate and the fallback
// estimate disagree beyond the configured threshold.
type DivergenceEvent struct {
	ID        string        `json:"id"`
	Segment   SegmentKey    `json:"segment"`
	VehicleID string        `json:"vehicle_id"`
	StopID    string        `json:"stop_id"`
	Kalman    time.Duration `json:"kalman"`
	Fallback  time.Duration `json:"fallback"`
	Percent   float64       `json:"percent"`
	Timestamp time.Time     `json:"timestamp"`
}
