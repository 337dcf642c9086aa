package metrics

import (
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
)

// Prediction kinds.
const (
	KindTravel = "travel"
	KindDwell  = "dwell"
)

// PredictionEvent describes one answered prediction request.
type PredictionEvent struct {
	Kind      string
	Segment   model.SegmentKey
	RouteID   string
	Tier      model.Tier
	Reason    string
	Predicted time.Duration
	Fallback  time.Duration
	Time      time.Time
}

// MetricsSink records predictions for observability purposes.
type MetricsSink interface {
	RecordPrediction(ev PredictionEvent) error
}

// DivergenceRecorder records filter/fallback disagreements.
type DivergenceRecorder interface {
	RecordDivergence(ev model.DivergenceEvent) error
}

// DwellSampleEvent captures a sample offered to the dwell model.
type DwellSampleEvent struct {
	Segment  model.SegmentKey
	Accepted bool
	Reason   string
	Headway  time.Duration
	Dwell    time.Duration
	Time     time.Time
}

// DwellSampleRecorder records dwell samples and their rejection reason.
type DwellSampleRecorder interface {
	RecordDwellSample(ev DwellSampleEvent) error
}

// CacheLookupEvent records a hit or miss on one of the history indices.
type CacheLookupEvent struct {
	Cache string
	Hit   bool
}

// CacheLookupRecorder records cache hits and misses.
type CacheLookupRecorder interface {
	RecordCacheLookup(ev CacheLookupEvent) error
}

// CacheSizeRecorder records the number of live buckets per index.
type CacheSizeRecorder interface {
	RecordCacheSize(cache string, buckets int) error
}

// IngestEvent records an inbound arrival/departure event.
type IngestEvent struct {
	Source   string
	Accepted bool
	Time     time.Time
}

// IngestRecorder records ingestion outcomes.
type IngestRecorder interface {
	RecordIngest(ev IngestEvent) error
}

// NopSink implements MetricsSink with no-op methods.
type NopSink struct{}

func (NopSink) RecordPrediction(PredictionEvent) error       { return nil }
func (NopSink) RecordDivergence(model.DivergenceEvent) error { return nil }
func (NopSink) RecordDwellSample(DwellSampleEvent) error     { return nil }
func (NopSink) RecordCacheLookup(CacheLookupEvent) error     { return nil }
func (NopSink) RecordCacheSize(string, int) error            { return nil }
func (NopSink) RecordIngest(IngestEvent) error               { return nil }
