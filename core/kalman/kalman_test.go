package kalman

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPredictReferenceFixture(t *testing.T) {
	res, err := Predict(300, []float64{380, 420, 400}, 72.40, false)
	require.NoError(t, err)

	assert.InDelta(t, 400, res.Average, 1e-9)
	assert.InDelta(t, 266.67, res.Variance, 0.01)
	assert.InDelta(t, 0.560, res.Gain, 0.001)
	assert.InDelta(t, 0.440, res.LoopGain, 0.001)
	assert.InDelta(t, 355.96, res.Predicted, 0.05)
	assert.InDelta(t, 117.39, res.FilterError, 0.01)
	assert.InDelta(t, res.Variance*res.LoopGain, res.FilterError, 1e-12)
}

func TestPredictIsDeterministic(t *testing.T) {
	a, err := Predict(300, []float64{380, 420, 400}, 72.40, false)
	require.NoError(t, err)
	b, err := Predict(300, []float64{380, 420, 400}, 72.40, false)
	require.NoError(t, err)
	if a != b {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
}

func TestPredictUsesLastHistorical(t *testing.T) {
	res, err := Predict(300, []float64{380, 420, 400}, 72.40, true)
	require.NoError(t, err)
	want := res.LoopGain*300 + res.Gain*400
	assert.InDelta(t, want, res.Predicted, 1e-9)

	res, err = Predict(300, []float64{380, 400, 420}, 72.40, true)
	require.NoError(t, err)
	assert.InDelta(t, res.LoopGain*300+res.Gain*420, res.Predicted, 1e-9)
}

func TestPredictEmptyHistory(t *testing.T) {
	_, err := Predict(300, nil, 10, false)
	if !errors.Is(err, ErrNoHistory) {
		t.Fatalf("expected ErrNoHistory, got %v", err)
	}
}

func TestPredictNegativeError(t *testing.T) {
	_, err := Predict(300, []float64{1}, -1, false)
	if !errors.Is(err, ErrNegativeError) {
		t.Fatalf("expected ErrNegativeError, got %v", err)
	}
}

func TestPredictGainBounds(t *testing.T) {
	cases := [][]float64{
		{10, 20},
		{1, 1, 1, 2},
		{500, 100, 900, 300, 250},
		{42},
	}
	for _, prevErr := range []float64{0, 0.5, 100, 1e6} {
		for _, hist := range cases {
			res, err := Predict(120, hist, prevErr, false)
			require.NoError(t, err)
			if res.Variance < 0 {
				t.Fatalf("negative variance for %v", hist)
			}
			if res.Variance > 0 && (res.Gain <= 0 || res.Gain >= 1) {
				t.Fatalf("gain %f out of (0,1) for %v prevErr %f", res.Gain, hist, prevErr)
			}
			if math.IsNaN(res.Predicted) {
				t.Fatalf("NaN prediction for %v prevErr %f", hist, prevErr)
			}
		}
	}
}

func TestPredictZeroVarianceZeroError(t *testing.T) {
	res, err := Predict(100, []float64{200, 200}, 0, false)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Gain)
	assert.Equal(t, 200.0, res.Predicted)
	assert.Equal(t, 0.0, res.FilterError)
}
