package config

import "time"

// StoreConfig selects the event store used for warm starts and error
// snapshots. An empty DSN disables persistence.
type StoreConfig struct {
	Driver string `json:"driver" validate:"oneof=sqlite pgx"`
	DSN    string `json:"dsn"`
	// WarmStartDays is the number of days of events replayed into the
	// cache at startup.
	WarmStartDays int `json:"warm_start_days" validate:"gte=0"`
	// ErrorFlushSeconds is the interval between filter error snapshots.
	ErrorFlushSeconds int `json:"error_flush_seconds" validate:"gte=0"`
}

func (c *StoreConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "sqlite"
	}
	if c.WarmStartDays == 0 {
		c.WarmStartDays = 15
	}
	if c.ErrorFlushSeconds == 0 {
		c.ErrorFlushSeconds = 60
	}
}

// ErrorFlushInterval returns ErrorFlushSeconds as a duration.
func (c StoreConfig) ErrorFlushInterval() time.Duration {
	return time.Duration(c.ErrorFlushSeconds) * time.Second
}

// HTTPConfig configures the admin API.
type HTTPConfig struct {
	Addr string `json:"addr" validate:"omitempty,hostname_port"`
	// Token protects the /api routes with a bearer check when set.
	Token          string   `json:"token"`
	AllowedOrigins []string `json:"allowed_origins"`
}

func (c *HTTPConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}
