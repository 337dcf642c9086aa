package plugins

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/prediction"
)

func TestNewDivergenceStore(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{"jsonl", "rotating", "sqlite"} {
		st, err := NewDivergenceStore(config.DivergenceLogConfig{Backend: backend, Path: filepath.Join(dir, backend+".log"), MaxSizeMB: 1})
		if err != nil {
			t.Fatalf("%s: %v", backend, err)
		}
		if err := st.Close(); err != nil {
			t.Fatalf("%s close: %v", backend, err)
		}
	}
	if _, err := NewDivergenceStore(config.DivergenceLogConfig{Backend: "kafka"}); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	if _, ok := DivergenceStores["rotating"]; !ok {
		t.Fatalf("rotating backend not registered")
	}
	var _ divergence.Store = (*divergence.SQLiteStore)(nil)
}

func TestNewFallback(t *testing.T) {
	cache := history.New(history.Config{}, nil, nil)
	cfg := config.FallbackConfig{Type: "static", DefaultTravelSeconds: 90, DefaultDwellSeconds: 15}
	fb, err := NewFallback(cfg, cache)
	if err != nil {
		t.Fatalf("static: %v", err)
	}
	if got := fb.TravelTime(prediction.Request{}); got != 90*time.Second {
		t.Fatalf("travel = %v", got)
	}

	cfg.Type = "average"
	fb, err = NewFallback(cfg, cache)
	if err != nil {
		t.Fatalf("average: %v", err)
	}
	req := prediction.Request{TripID: "t1", RouteID: "r1", StopID: "s2", StopPathIndex: 2, Time: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)}
	if got := fb.DwellTime(req); got != 15*time.Second {
		t.Fatalf("empty cache should defer to defaults, got %v", got)
	}

	if _, err := NewFallback(config.FallbackConfig{Type: "oracle"}, cache); err == nil {
		t.Fatalf("expected error for unknown fallback")
	}
}
