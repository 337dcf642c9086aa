package plugins

import (
	"fmt"

	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/prediction"
)

// DivergenceStoreFactory builds a divergence log store from its section.
type DivergenceStoreFactory func(cfg config.DivergenceLogConfig) (divergence.Store, error)

// FallbackFactory builds a prediction fallback reading from cache.
type FallbackFactory func(cfg config.FallbackConfig, cache *history.Cache) (prediction.Fallback, error)

var (
	DivergenceStores = map[string]DivergenceStoreFactory{}
	Fallbacks        = map[string]FallbackFactory{}
)

func RegisterDivergenceStore(name string, f DivergenceStoreFactory) { DivergenceStores[name] = f }
func RegisterFallback(name string, f FallbackFactory)               { Fallbacks[name] = f }

// NewDivergenceStore builds the store named by cfg.Backend.
func NewDivergenceStore(cfg config.DivergenceLogConfig) (divergence.Store, error) {
	f, ok := DivergenceStores[cfg.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown divergence store %q", cfg.Backend)
	}
	return f(cfg)
}

// NewFallback builds the fallback named by cfg.Type.
func NewFallback(cfg config.FallbackConfig, cache *history.Cache) (prediction.Fallback, error) {
	f, ok := Fallbacks[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown fallback %q", cfg.Type)
	}
	return f(cfg, cache)
}
