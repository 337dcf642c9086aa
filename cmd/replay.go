package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kilianp07/arrivalcast/app"
	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/model"
	coremon "github.com/kilianp07/arrivalcast/core/monitoring"
	"github.com/kilianp07/arrivalcast/core/prediction"
)

var replayCmd = &cobra.Command{
	Use:   "replay <fixture.yaml>",
	Short: "Replay recorded events and print the predictions for a set of requests",
	Args:  cobra.ExactArgs(1),
	RunE:  runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

// fixture is the replay input: events are ingested in order, then every
// request is answered at its own time.
type fixture struct {
	Events   []model.ArrivalDeparture `yaml:"events"`
	Requests []replayRequest          `yaml:"requests"`
}

type replayRequest struct {
	Kind             string    `yaml:"kind"`
	VehicleID        string    `yaml:"vehicle_id"`
	TripID           string    `yaml:"trip_id"`
	RouteID          string    `yaml:"route_id"`
	DirectionID      string    `yaml:"direction_id"`
	FromStopID       string    `yaml:"from_stop_id"`
	StopID           string    `yaml:"stop_id"`
	StopPathIndex    int       `yaml:"stop_path_index"`
	TripStartSeconds int       `yaml:"trip_start_seconds"`
	Time             time.Time `yaml:"time"`
	Group            string    `yaml:"group"`
	SegmentLength    float64   `yaml:"segment_length"`
	DistanceAlong    float64   `yaml:"distance_along"`
	HeadwaySeconds   float64   `yaml:"headway_seconds"`
}

func (r replayRequest) request() prediction.Request {
	return prediction.Request{
		VehicleID:        r.VehicleID,
		TripID:           r.TripID,
		RouteID:          r.RouteID,
		DirectionID:      r.DirectionID,
		FromStopID:       r.FromStopID,
		StopID:           r.StopID,
		StopPathIndex:    r.StopPathIndex,
		TripStartSeconds: r.TripStartSeconds,
		Time:             r.Time,
		Group:            r.Group,
		SegmentLength:    r.SegmentLength,
		DistanceAlong:    r.DistanceAlong,
	}
}

type replayResult struct {
	Index      int        `json:"index"`
	Kind       string     `json:"kind"`
	VehicleID  string     `json:"vehicle_id"`
	StopID     string     `json:"stop_id"`
	DurationMS int64      `json:"duration_ms"`
	Tier       model.Tier `json:"tier"`
	Reason     string     `json:"reason,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	var fx fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return fmt.Errorf("parse fixture: %w", err)
	}
	return replay(cmd.Context(), cfg, fx, cmd.OutOrStdout())
}

// replay answers the fixture requests with an engine that has no transports
// or event store. Divergences are printed inline.
func replay(ctx context.Context, cfg *config.Config, fx fixture, w io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg.Store.DSN = ""
	cfg.MQTT.Broker = ""
	cfg.NATS.URL = ""

	var now time.Time
	rec := &coremon.Recorder{}
	enc := json.NewEncoder(w)
	divergences := 0
	onDivergence := func(ev model.DivergenceEvent) {
		divergences++
		_ = enc.Encode(map[string]any{"divergence": ev})
	}
	svc, err := app.New(cfg,
		app.WithMonitor(rec),
		app.WithClock(func() time.Time { return now }),
		app.WithDivergenceHandler(onDivergence),
	)
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()

	rejected := 0
	for _, ev := range fx.Events {
		if ev.Time.After(now) {
			now = ev.Time
		}
		if err := svc.Ingestor.Handle(ctx, "replay", ev); err != nil {
			rejected++
		}
	}

	for i, r := range fx.Requests {
		now = r.Time
		req := r.request()
		var p model.Prediction
		switch r.Kind {
		case "", "travel":
			p = svc.Predictor.PredictTravelTime(req)
		case "dwell":
			p = svc.Predictor.PredictDwellTime(req, time.Duration(r.HeadwaySeconds*float64(time.Second)))
		default:
			return fmt.Errorf("request %d: unknown kind %q", i, r.Kind)
		}
		kind := r.Kind
		if kind == "" {
			kind = "travel"
		}
		if err := enc.Encode(replayResult{
			Index:      i,
			Kind:       kind,
			VehicleID:  r.VehicleID,
			StopID:     r.StopID,
			DurationMS: p.Duration.Milliseconds(),
			Tier:       p.Tier,
			Reason:     p.Reason,
		}); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "# %d events (%d rejected), %d requests, %d divergences, %d errors\n", len(fx.Events), rejected, len(fx.Requests), divergences, len(rec.Errors())); err != nil {
		return err
	}
	return nil
}
