package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/arrivalcast/app/plugins"
	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/pkg/export"
)

var divergenceFlags struct {
	format    string
	since     time.Duration
	vehicleID string
	group     string
	limit     int
}

var divergencesCmd = &cobra.Command{
	Use:   "divergences",
	Short: "Export logged divergence events",
	RunE:  runDivergences,
}

func init() {
	f := divergencesCmd.Flags()
	f.StringVar(&divergenceFlags.format, "format", "csv", "output format: csv or json")
	f.DurationVar(&divergenceFlags.since, "since", 24*time.Hour, "only export events newer than this")
	f.StringVar(&divergenceFlags.vehicleID, "vehicle", "", "filter by vehicle id")
	f.StringVar(&divergenceFlags.group, "group", "", "filter by segment group")
	f.IntVar(&divergenceFlags.limit, "limit", 0, "maximum number of events")
	rootCmd.AddCommand(divergencesCmd)
}

func runDivergences(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := plugins.NewDivergenceStore(cfg.DivergenceLog)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	q := divergence.Query{
		VehicleID: divergenceFlags.vehicleID,
		Group:     divergenceFlags.group,
		Limit:     divergenceFlags.limit,
	}
	if divergenceFlags.since > 0 {
		q.Start = time.Now().Add(-divergenceFlags.since)
	}
	events, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	switch divergenceFlags.format {
	case "csv":
		return export.WriteCSV(cmd.OutOrStdout(), events)
	case "json":
		return export.WriteJSON(cmd.OutOrStdout(), events)
	default:
		return fmt.Errorf("unknown format %q", divergenceFlags.format)
	}
}
