package metrics

import (
	"errors"

	"github.com/kilianp07/arrivalcast/core/model"
)

// MultiSink fans out records to multiple sinks. Optional recorder interfaces
// are forwarded only to the sinks implementing them.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordPrediction forwards the record to all sinks and joins their errors.
func (m *MultiSink) RecordPrediction(ev PredictionEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordPrediction(ev))
	}
	return errors.Join(errs...)
}

// RecordDivergence forwards divergence events.
func (m *MultiSink) RecordDivergence(ev model.DivergenceEvent) error {
	return each[DivergenceRecorder](m.Sinks, func(r DivergenceRecorder) error { return r.RecordDivergence(ev) })
}

// RecordDwellSample forwards dwell samples.
func (m *MultiSink) RecordDwellSample(ev DwellSampleEvent) error {
	return each[DwellSampleRecorder](m.Sinks, func(r DwellSampleRecorder) error { return r.RecordDwellSample(ev) })
}

// RecordCacheLookup forwards cache lookups.
func (m *MultiSink) RecordCacheLookup(ev CacheLookupEvent) error {
	return each[CacheLookupRecorder](m.Sinks, func(r CacheLookupRecorder) error { return r.RecordCacheLookup(ev) })
}

// RecordCacheSize forwards cache sizes.
func (m *MultiSink) RecordCacheSize(cache string, buckets int) error {
	return each[CacheSizeRecorder](m.Sinks, func(r CacheSizeRecorder) error { return r.RecordCacheSize(cache, buckets) })
}

// RecordIngest forwards ingestion outcomes.
func (m *MultiSink) RecordIngest(ev IngestEvent) error {
	return each[IngestRecorder](m.Sinks, func(r IngestRecorder) error { return r.RecordIngest(ev) })
}

func each[R any](sinks []MetricsSink, fn func(R) error) error {
	var errs []error
	for _, s := range sinks {
		if r, ok := s.(R); ok {
			errs = append(errs, fn(r))
		}
	}
	return errors.Join(errs...)
}
