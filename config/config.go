package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/infra/mqtt"
	"github.com/kilianp07/arrivalcast/infra/nats"
)

// EnvPrefix prefixes environment overrides. Nested keys are separated by a
// double underscore, e.g. AC_STORE__DSN.
const EnvPrefix = "AC_"

type Config struct {
	Logging       LogConfig           `json:"logging"`
	DivergenceLog DivergenceLogConfig `json:"divergence_log"`
	Prediction    PredictionConfig    `json:"prediction"`
	History       HistoryConfig       `json:"history"`
	Dwell         DwellConfig         `json:"dwell"`
	Metrics       metrics.Config      `json:"metrics"`
	MQTT          mqtt.Config         `json:"mqtt"`
	NATS          nats.Config         `json:"nats"`
	Store         StoreConfig         `json:"store"`
	HTTP          HTTPConfig          `json:"http"`
	Sentry        SentryConfig        `json:"sentry"`
}

// Load reads the file at path, applies .env and environment overrides and
// validates the result. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	k := koanf.New(".")
	if path != "" {
		var parser koanf.Parser
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// SetDefaults fills every section.
func (c *Config) SetDefaults() {
	c.Logging.SetDefaults()
	c.DivergenceLog.SetDefaults()
	c.Prediction.SetDefaults()
	c.History.SetDefaults()
	c.Store.SetDefaults()
	c.HTTP.SetDefaults()
}

// Validate runs the struct tag rules and the per section checks.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.DivergenceLog.Validate(); err != nil {
		return fmt.Errorf("divergence_log: %w", err)
	}
	if err := c.Prediction.Validate(); err != nil {
		return fmt.Errorf("prediction: %w", err)
	}
	if _, err := c.History.Core(); err != nil {
		return fmt.Errorf("history: %w", err)
	}
	return nil
}
