// Package kalman implements the scalar filter that blends the travel time of
// the last vehicle on a segment with the same segment on previous days.
package kalman

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"
)

var (
	// ErrNoHistory is returned when the filter is called without any
	// historical duration. Callers must guarantee at least one entry.
	ErrNoHistory = errors.New("kalman: no historical durations")
	// ErrNegativeError is returned for a negative previous error.
	ErrNegativeError = errors.New("kalman: negative previous error")
)

// Result holds the output of a filter step and its intermediate terms.
type Result struct {
	Predicted   float64
	FilterError float64
	Average     float64
	Variance    float64
	Gain        float64
	LoopGain    float64
}

// Predict runs one filter step. historical is ordered with the most recent
// day last. When useLast is true the most recent historical duration is used
// in place of the average.
func Predict(last float64, historical []float64, previousError float64, useLast bool) (Result, error) {
	if len(historical) == 0 {
		return Result{}, ErrNoHistory
	}
	if previousError < 0 {
		return Result{}, fmt.Errorf("%w: %f", ErrNegativeError, previousError)
	}
	average, variance := stat.PopMeanVariance(historical, nil)
	if variance < 0 {
		variance = 0
	}

	gain := 1.0
	if den := previousError + 2*variance; den > 0 {
		gain = (previousError + variance) / den
	}
	loopGain := 1 - gain

	estimate := average
	if useLast {
		estimate = historical[len(historical)-1]
	}
	return Result{
		Predicted:   loopGain*last + gain*estimate,
		FilterError: variance * loopGain,
		Average:     average,
		Variance:    variance,
		Gain:        gain,
		LoopGain:    loopGain,
	}, nil
}
