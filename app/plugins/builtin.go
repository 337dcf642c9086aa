package plugins

import (
	"time"

	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/prediction"
)

func init() {
	RegisterDivergenceStore("jsonl", func(c config.DivergenceLogConfig) (divergence.Store, error) {
		return divergence.NewJSONLStore(c.Path)
	})
	RegisterDivergenceStore("rotating", func(c config.DivergenceLogConfig) (divergence.Store, error) {
		return divergence.NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	})
	RegisterDivergenceStore("sqlite", func(c config.DivergenceLogConfig) (divergence.Store, error) {
		return divergence.NewSQLiteStore(c.Path)
	})

	RegisterFallback("static", func(c config.FallbackConfig, _ *history.Cache) (prediction.Fallback, error) {
		return staticFallback(c), nil
	})
	RegisterFallback("average", func(c config.FallbackConfig, cache *history.Cache) (prediction.Fallback, error) {
		return prediction.AverageFallback{
			Cache:           cache,
			MaxDays:         c.MaxDays,
			MaxDaysToSearch: c.MaxDaysToSearch,
			Next:            staticFallback(c),
		}, nil
	})
}

func staticFallback(c config.FallbackConfig) prediction.StaticFallback {
	return prediction.StaticFallback{
		DefaultTravel: time.Duration(c.DefaultTravelSeconds) * time.Second,
		DefaultDwell:  time.Duration(c.DefaultDwellSeconds) * time.Second,
	}
}
