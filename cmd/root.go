package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/arrivalcast/app"
	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

var (
	cfgPath   string
	serveAddr string
)

var rootCmd = &cobra.Command{
	Use:   "arrivalcast",
	Short: "Adaptive travel and dwell time prediction service",
	Long: `Serves travel and dwell time predictions. Events are ingested from
MQTT or NATS, history is warm started from the event store and the admin
API is exposed on --addr.`,
	RunE: run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "configuration file (yaml or json)")
	rootCmd.Flags().StringVar(&serveAddr, "addr", "", "admin API listen address, overrides http.addr")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if serveAddr != "" {
		cfg.HTTP.Addr = serveAddr
	}
	log := logger.New("serve")
	log.Infof("starting: %s", summary(cfg))
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			log.Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}

// summary describes the effective tuning logged on start.
func summary(cfg *config.Config) string {
	pc := cfg.Prediction.Core()
	hc, err := cfg.History.Core()
	if err != nil {
		return err.Error()
	}
	hc.SetDefaults()
	return fmt.Sprintf("addr=%s kalman_days=%d..%d search=%d divergence=%.0f%%/%s fallback=%s days_back=%d max_age=%s tz=%s store=%s",
		cfg.HTTP.Addr, pc.MinKalmanDays, pc.MaxKalmanDays, pc.MaxKalmanDaysToSearch,
		pc.DivergencePercent, pc.DivergenceMinDifference, cfg.Prediction.Fallback.Type,
		hc.DaysBack, hc.MaxAge, hc.Location, storeLabel(cfg.Store))
}

func storeLabel(s config.StoreConfig) string {
	if s.DSN == "" {
		return "none"
	}
	return s.Driver
}
