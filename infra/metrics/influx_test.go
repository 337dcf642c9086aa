package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
)

type lineRecorder struct {
	mu     sync.Mutex
	bodies []string
}

func (l *lineRecorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		l.mu.Lock()
		l.bodies = append(l.bodies, strings.TrimSpace(string(b)))
		l.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordPrediction(t *testing.T) {
	rec := &lineRecorder{}
	sink := NewInfluxSink(rec.server(t).URL, "token", "org", "bucket")
	now := time.Now()
	seg := model.SegmentKey{Group: "t1", StopPathIndex: 3}
	ev := coremetrics.PredictionEvent{
		Kind:      coremetrics.KindTravel,
		Segment:   seg,
		RouteID:   "r1",
		Tier:      model.TierFallback,
		Reason:    "no_last_vehicle",
		Predicted: 90 * time.Second,
		Fallback:  90 * time.Second,
		Time:      now,
	}
	if err := sink.RecordPrediction(ev); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("prediction").
		AddTag("kind", "travel").
		AddTag("tier", "fallback").
		AddTag("route_id", "r1").
		AddTag("reason", "no_last_vehicle").
		AddField("segment", seg.String()).
		AddField("predicted_ms", int64(90000)).
		AddField("fallback_ms", int64(90000)).
		SetTime(now)
	if len(rec.bodies) != 1 || rec.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_RecordDivergence(t *testing.T) {
	rec := &lineRecorder{}
	sink := NewInfluxSink(rec.server(t).URL, "token", "org", "bucket")
	now := time.Now()
	ev := model.DivergenceEvent{
		ID:        "d1",
		Segment:   model.SegmentKey{Group: "t1", StopPathIndex: 3},
		VehicleID: "v1",
		StopID:    "s3",
		Kalman:    5 * time.Minute,
		Fallback:  2 * time.Minute,
		Percent:   150,
		Timestamp: now,
	}
	if err := sink.RecordDivergence(ev); err != nil {
		t.Fatalf("record: %v", err)
	}
	p := write.NewPointWithMeasurement("divergence").
		AddTag("vehicle_id", "v1").
		AddTag("stop_id", "s3").
		AddTag("divergence_id", "d1").
		AddField("segment", ev.Segment.String()).
		AddField("kalman_ms", int64(300000)).
		AddField("fallback_ms", int64(120000)).
		AddField("percent", 150.0).
		SetTime(now)
	if len(rec.bodies) != 1 || rec.bodies[0] != line(p) {
		t.Errorf("bodies: %#v", rec.bodies)
	}
}

func TestInfluxSink_RecordDwellSampleAndIngest(t *testing.T) {
	rec := &lineRecorder{}
	sink := NewInfluxSink(rec.server(t).URL, "token", "org", "bucket")
	now := time.Now()
	seg := model.SegmentKey{Group: "t1", StopPathIndex: 3}
	if err := sink.RecordDwellSample(coremetrics.DwellSampleEvent{Segment: seg, Accepted: true, Headway: 5 * time.Minute, Dwell: 25 * time.Second, Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := sink.RecordIngest(coremetrics.IngestEvent{Source: "mqtt", Accepted: false, Time: now}); err != nil {
		t.Fatalf("record: %v", err)
	}
	p1 := write.NewPointWithMeasurement("dwell_sample").
		AddTag("accepted", "true").
		AddField("segment", seg.String()).
		AddField("headway_s", 300.0).
		AddField("dwell_s", 25.0).
		SetTime(now)
	p2 := write.NewPointWithMeasurement("ingest").
		AddTag("source", "mqtt").
		AddTag("accepted", "false").
		AddField("count", 1).
		SetTime(now)
	if len(rec.bodies) != 2 || rec.bodies[0] != line(p1) || rec.bodies[1] != line(p2) {
		t.Errorf("bodies: %#v", rec.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
