package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/arrivalcast/config"
)

func TestSummaryShowsEffectiveDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.HTTP.Addr = "127.0.0.1:9090"

	s := summary(cfg)
	assert.Contains(t, s, "addr=127.0.0.1:9090")
	assert.Contains(t, s, "kalman_days=3..3 search=30")
	assert.Contains(t, s, "divergence=50%/1m0s")
	assert.Contains(t, s, "fallback=average")
	assert.Contains(t, s, "days_back=1 max_age=360h0m0s tz=UTC")
	assert.Contains(t, s, "store=none")

	cfg.Store.DSN = "file:events.db"
	assert.Contains(t, summary(cfg), "store=sqlite")
}

func TestAddrFlagRegistered(t *testing.T) {
	f := rootCmd.Flags().Lookup("addr")
	require.NotNil(t, f)
	assert.Empty(t, f.DefValue)
}
