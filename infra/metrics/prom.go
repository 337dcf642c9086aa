package metrics

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
)

// PromSink records prediction engine activity in Prometheus metrics.
type PromSink struct {
	predictions *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	divergences prometheus.Counter
	dwell       *prometheus.CounterVec
	lookups     *prometheus.CounterVec
	buckets     *prometheus.GaugeVec
	ingest      *prometheus.CounterVec
}

// NewPromSink registers metrics on the default Prometheus registerer. The
// metrics are served by the admin HTTP server.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{}
	var err error
	if s.predictions, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arrivalcast_predictions_total",
		Help: "Predictions answered by kind, tier and degradation reason",
	}, []string{"kind", "tier", "reason"})); err != nil {
		return nil, err
	}
	if s.latency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "arrivalcast_predicted_seconds",
		Help:    "Distribution of predicted durations",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"kind", "tier"})); err != nil {
		return nil, err
	}
	if s.divergences, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arrivalcast_divergences_total",
		Help: "Kalman estimates that diverged from the fallback",
	})); err != nil {
		return nil, err
	}
	if s.dwell, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arrivalcast_dwell_samples_total",
		Help: "Samples offered to the dwell model",
	}, []string{"accepted", "reason"})); err != nil {
		return nil, err
	}
	if s.lookups, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arrivalcast_cache_lookups_total",
		Help: "History cache lookups by index and outcome",
	}, []string{"cache", "hit"})); err != nil {
		return nil, err
	}
	if s.buckets, err = register(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "arrivalcast_cache_buckets",
		Help: "Live buckets per history index",
	}, []string{"cache"})); err != nil {
		return nil, err
	}
	if s.ingest, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arrivalcast_ingested_events_total",
		Help: "Arrival/departure events received by source",
	}, []string{"source", "accepted"})); err != nil {
		return nil, err
	}
	return s, nil
}

// register reuses an already registered collector of the same shape.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordPrediction counts the prediction and observes its duration.
func (s *PromSink) RecordPrediction(ev coremetrics.PredictionEvent) error {
	s.predictions.WithLabelValues(ev.Kind, string(ev.Tier), ev.Reason).Inc()
	s.latency.WithLabelValues(ev.Kind, string(ev.Tier)).Observe(ev.Predicted.Seconds())
	return nil
}

// RecordDivergence counts a divergence. Segment and vehicle are left out to
// bound cardinality.
func (s *PromSink) RecordDivergence(model.DivergenceEvent) error {
	s.divergences.Inc()
	return nil
}

// RecordDwellSample counts a dwell sample by outcome.
func (s *PromSink) RecordDwellSample(ev coremetrics.DwellSampleEvent) error {
	s.dwell.WithLabelValues(strconv.FormatBool(ev.Accepted), ev.Reason).Inc()
	return nil
}

// RecordCacheLookup counts a cache hit or miss.
func (s *PromSink) RecordCacheLookup(ev coremetrics.CacheLookupEvent) error {
	s.lookups.WithLabelValues(ev.Cache, strconv.FormatBool(ev.Hit)).Inc()
	return nil
}

// RecordCacheSize sets the bucket gauge of the given index.
func (s *PromSink) RecordCacheSize(cache string, buckets int) error {
	s.buckets.WithLabelValues(cache).Set(float64(buckets))
	return nil
}

// RecordIngest counts an inbound event.
func (s *PromSink) RecordIngest(ev coremetrics.IngestEvent) error {
	s.ingest.WithLabelValues(ev.Source, strconv.FormatBool(ev.Accepted)).Inc()
	return nil
}
