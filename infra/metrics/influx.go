package metrics

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

// InfluxSink writes prediction events to an InfluxDB instance using the
// official client. Cache lookups are not written.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordPrediction writes one prediction point.
func (s *InfluxSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	p := write.NewPointWithMeasurement("prediction").
		AddTag("kind", ev.Kind).
		AddTag("tier", string(ev.Tier)).
		AddTag("route_id", ev.RouteID)
	if ev.Reason != "" {
		p = p.AddTag("reason", ev.Reason)
	}
	p = p.AddField("segment", ev.Segment.String()).
		AddField("predicted_ms", ev.Predicted.Milliseconds()).
		AddField("fallback_ms", ev.Fallback.Milliseconds()).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordDivergence writes a divergence point.
func (s *InfluxSink) RecordDivergence(ev model.DivergenceEvent) error {
	p := write.NewPointWithMeasurement("divergence").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("stop_id", ev.StopID).
		AddTag("divergence_id", ev.ID).
		AddField("segment", ev.Segment.String()).
		AddField("kalman_ms", ev.Kalman.Milliseconds()).
		AddField("fallback_ms", ev.Fallback.Milliseconds()).
		AddField("percent", round3(ev.Percent)).
		SetTime(ev.Timestamp)
	return s.write(p)
}

// RecordDwellSample writes a dwell sample point.
func (s *InfluxSink) RecordDwellSample(ev coremetrics.DwellSampleEvent) error {
	p := write.NewPointWithMeasurement("dwell_sample").
		AddTag("accepted", strconv.FormatBool(ev.Accepted))
	if ev.Reason != "" {
		p = p.AddTag("reason", ev.Reason)
	}
	p = p.AddField("segment", ev.Segment.String()).
		AddField("headway_s", round3(ev.Headway.Seconds())).
		AddField("dwell_s", round3(ev.Dwell.Seconds())).
		SetTime(ev.Time)
	return s.write(p)
}

// RecordIngest writes an ingestion point.
func (s *InfluxSink) RecordIngest(ev coremetrics.IngestEvent) error {
	p := write.NewPointWithMeasurement("ingest").
		AddTag("source", ev.Source).
		AddTag("accepted", strconv.FormatBool(ev.Accepted)).
		AddField("count", 1).
		SetTime(ev.Time)
	return s.write(p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }

func round3(f float64) float64 {
	return math.Round(f*1000) / 1000
}
