package config

import (
	"fmt"
	"time"

	"github.com/kilianp07/arrivalcast/core/dwell"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/prediction"
)

// PredictionConfig tunes the orchestrator and its fallback. Zero counts and
// percentages select the defaults. The minimum day count and the initial
// errors are pointers so an explicit zero is rejected rather than replaced.
type PredictionConfig struct {
	MinKalmanDays          *int     `json:"min_kalman_days" validate:"omitempty,gt=0"`
	MaxKalmanDays          int      `json:"max_kalman_days" validate:"gte=0"`
	MaxKalmanDaysToSearch  int      `json:"max_kalman_days_to_search" validate:"gte=0"`
	InitialErrorValue      *float64 `json:"initial_error_value" validate:"omitempty,gt=0"`
	DwellInitialErrorValue *float64 `json:"dwell_initial_error_value" validate:"omitempty,gt=0"`
	// UseLastHistorical blends with the previous day instead of the average.
	UseLastHistorical bool `json:"use_last_historical"`
	// UseKalmanForPartialStopPaths defaults to true when unset.
	UseKalmanForPartialStopPaths   *bool          `json:"use_kalman_for_partial_stop_paths"`
	DivergencePercent              float64        `json:"divergence_percent" validate:"gte=0"`
	DivergenceMinDifferenceSeconds int            `json:"divergence_min_difference_seconds" validate:"gte=0"`
	Fallback                       FallbackConfig `json:"fallback"`
}

// FallbackConfig configures the historical average fallback and the static
// defaults it degrades to.
type FallbackConfig struct {
	// Type selects the fallback: "average" (default) or "static".
	Type                 string `json:"type" validate:"omitempty,oneof=average static"`
	MaxDays              int    `json:"max_days" validate:"gte=0"`
	MaxDaysToSearch      int    `json:"max_days_to_search" validate:"gte=0"`
	DefaultTravelSeconds int    `json:"default_travel_seconds" validate:"gte=0"`
	DefaultDwellSeconds  int    `json:"default_dwell_seconds" validate:"gte=0"`
}

func (c *PredictionConfig) SetDefaults() {
	if c.UseKalmanForPartialStopPaths == nil {
		v := true
		c.UseKalmanForPartialStopPaths = &v
	}
	if c.Fallback.Type == "" {
		c.Fallback.Type = "average"
	}
	if c.Fallback.MaxDays == 0 {
		c.Fallback.MaxDays = 7
	}
	if c.Fallback.MaxDaysToSearch == 0 {
		c.Fallback.MaxDaysToSearch = 30
	}
	if c.Fallback.DefaultTravelSeconds == 0 {
		c.Fallback.DefaultTravelSeconds = 120
	}
	if c.Fallback.DefaultDwellSeconds == 0 {
		c.Fallback.DefaultDwellSeconds = 20
	}
}

// Validate rejects inconsistent windows.
func (c PredictionConfig) Validate() error {
	if c.MinKalmanDays != nil && c.MaxKalmanDays > 0 && *c.MinKalmanDays > c.MaxKalmanDays {
		return fmt.Errorf("min_kalman_days %d exceeds max_kalman_days %d", *c.MinKalmanDays, c.MaxKalmanDays)
	}
	if c.MaxKalmanDaysToSearch > 0 && c.MaxKalmanDays > c.MaxKalmanDaysToSearch {
		return fmt.Errorf("max_kalman_days %d exceeds max_kalman_days_to_search %d", c.MaxKalmanDays, c.MaxKalmanDaysToSearch)
	}
	return nil
}

// Core converts the section into the orchestrator configuration.
func (c PredictionConfig) Core() prediction.Config {
	cfg := prediction.Config{
		MaxKalmanDays:           c.MaxKalmanDays,
		MaxKalmanDaysToSearch:   c.MaxKalmanDaysToSearch,
		UseLastHistorical:       c.UseLastHistorical,
		DivergencePercent:       c.DivergencePercent,
		DivergenceMinDifference: time.Duration(c.DivergenceMinDifferenceSeconds) * time.Second,
	}
	if c.MinKalmanDays != nil {
		cfg.MinKalmanDays = *c.MinKalmanDays
	}
	if c.InitialErrorValue != nil {
		cfg.InitialErrorValue = *c.InitialErrorValue
	}
	if c.DwellInitialErrorValue != nil {
		cfg.DwellInitialErrorValue = *c.DwellInitialErrorValue
	}
	if c.UseKalmanForPartialStopPaths != nil {
		cfg.UseKalmanForPartialStopPaths = *c.UseKalmanForPartialStopPaths
	}
	cfg.SetDefaults()
	return cfg
}

// HistoryConfig configures the arrival/departure cache.
type HistoryConfig struct {
	DaysBack               int    `json:"days_back" validate:"gte=0"`
	MaxAgeDays             int    `json:"max_age_days" validate:"gte=0"`
	FrequencyBucketSeconds int    `json:"frequency_bucket_seconds" validate:"gte=0"`
	Timezone               string `json:"timezone"`
	SweepIntervalSeconds   int    `json:"sweep_interval_seconds" validate:"gte=0"`
}

func (c *HistoryConfig) SetDefaults() {
	if c.Timezone == "" {
		c.Timezone = "UTC"
	}
	if c.SweepIntervalSeconds == 0 {
		c.SweepIntervalSeconds = 3600
	}
}

// SweepInterval returns SweepIntervalSeconds as a duration.
func (c HistoryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Core converts the section into the cache configuration.
func (c HistoryConfig) Core() (history.Config, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return history.Config{}, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return history.Config{
		DaysBack:        c.DaysBack,
		MaxAge:          time.Duration(c.MaxAgeDays) * 24 * time.Hour,
		FrequencyBucket: time.Duration(c.FrequencyBucketSeconds) * time.Second,
		Location:        loc,
	}, nil
}

// DwellConfig bounds the samples fed to the dwell model.
type DwellConfig struct {
	MinDwellMS        int     `json:"min_dwell_ms" validate:"gte=0"`
	MaxDwellMS        int     `json:"max_dwell_ms" validate:"gte=0"`
	MinHeadwaySeconds int     `json:"min_headway_seconds" validate:"gte=0"`
	MaxHeadwaySeconds int     `json:"max_headway_seconds" validate:"gte=0"`
	Lambda            float64 `json:"lambda" validate:"gte=0,lte=1"`
}

// Core converts the section into the model configuration.
func (c DwellConfig) Core() dwell.Config {
	return dwell.Config{
		MinDwell:   time.Duration(c.MinDwellMS) * time.Millisecond,
		MaxDwell:   time.Duration(c.MaxDwellMS) * time.Millisecond,
		MinHeadway: time.Duration(c.MinHeadwaySeconds) * time.Second,
		MaxHeadway: time.Duration(c.MaxHeadwaySeconds) * time.Second,
		Lambda:     c.Lambda,
	}
}
