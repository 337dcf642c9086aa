// Package dwell predicts how long a vehicle stays at a stop from the headway
// to the vehicle ahead of it. One recursive least squares model is kept per
// segment, fitted in log10 space.
package dwell

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/logger"
	"github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
)

// Rejection reasons reported to metrics.
const (
	ReasonDwellBounds   = "dwell_out_of_bounds"
	ReasonHeadwayBounds = "headway_out_of_bounds"
	ReasonNoArrival     = "no_arrival"
	ReasonNoHeadway     = "no_previous_vehicle"
	ReasonNegativeDwell = "negative_dwell"
)

// Config bounds the samples accepted by the model.
type Config struct {
	MinDwell   time.Duration
	MaxDwell   time.Duration
	MinHeadway time.Duration
	MaxHeadway time.Duration
	// Lambda is the forgetting factor in (0,1].
	Lambda float64
}

func (c *Config) setDefaults() {
	if c.MinDwell <= 0 {
		c.MinDwell = time.Second
	}
	if c.MaxDwell <= 0 {
		c.MaxDwell = 2 * time.Minute
	}
	if c.MinHeadway <= 0 {
		c.MinHeadway = time.Second
	}
	if c.MaxHeadway <= 0 {
		c.MaxHeadway = time.Hour
	}
	if c.Lambda <= 0 || c.Lambda > 1 {
		c.Lambda = 0.75
	}
}

type entry struct {
	mu  sync.Mutex
	rls *rls
}

// Model holds the per-segment regressions. Updates of one segment are
// serialised by a per-segment mutex; segments never contend with each other.
type Model struct {
	cfg     Config
	cache   *history.Cache
	models  sync.Map // model.SegmentKey -> *entry
	log     logger.Logger
	metrics metrics.MetricsSink
	now     func() time.Time
}

// New creates a Model. cache is only needed by AddDepartureSample.
func New(cfg Config, cache *history.Cache, log logger.Logger, sink metrics.MetricsSink) *Model {
	cfg.setDefaults()
	if log == nil {
		log = logger.Nop{}
	}
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Model{cfg: cfg, cache: cache, log: log, metrics: sink, now: time.Now}
}

// Config returns the effective configuration.
func (m *Model) Config() Config { return m.cfg }

func features(headway time.Duration) []float64 {
	return []float64{1, headway.Seconds()}
}

// AddSample feeds one (headway, dwell) observation to the model of seg.
// Samples outside the configured bounds are dropped and false is returned.
func (m *Model) AddSample(seg model.SegmentKey, headway, dwell time.Duration) bool {
	if dwell < m.cfg.MinDwell || dwell > m.cfg.MaxDwell {
		m.record(seg, false, ReasonDwellBounds, headway, dwell)
		return false
	}
	if headway < m.cfg.MinHeadway || headway > m.cfg.MaxHeadway {
		m.record(seg, false, ReasonHeadwayBounds, headway, dwell)
		return false
	}
	v, _ := m.models.LoadOrStore(seg, &entry{})
	e := v.(*entry)
	e.mu.Lock()
	if e.rls == nil {
		e.rls = newRLS(2, m.cfg.Lambda)
	}
	e.rls.add(features(headway), math.Log10(float64(dwell.Milliseconds())))
	e.mu.Unlock()
	m.record(seg, true, "", headway, dwell)
	return true
}

// AddDepartureSample derives a sample from a departure already stored in the
// cache: the dwell is measured from the same vehicle's arrival at the stop
// and the headway from the arrival of the vehicle ahead.
func (m *Model) AddDepartureSample(dep model.ArrivalDeparture) bool {
	if m.cache == nil || dep.IsArrival {
		return false
	}
	seg := model.SegmentFor(dep)
	arr, ok := m.arrivalFor(dep)
	if !ok {
		m.record(seg, false, ReasonNoArrival, 0, 0)
		return false
	}
	prev, ok := m.cache.PreviousVehicleArrival(arr, m.cfg.MaxHeadway)
	if !ok {
		m.record(seg, false, ReasonNoHeadway, 0, 0)
		return false
	}
	dwell := dep.Time.Sub(arr.Time)
	headway := arr.Time.Sub(prev.Time)
	if dwell < 0 {
		m.record(seg, false, ReasonNegativeDwell, headway, dwell)
		return false
	}
	return m.AddSample(seg, headway, dwell)
}

func (m *Model) arrivalFor(dep model.ArrivalDeparture) (model.ArrivalDeparture, bool) {
	for _, e := range m.cache.StopHistory(m.cache.StopKeyFor(dep)) {
		if e.IsArrival && e.VehicleID == dep.VehicleID && e.TripID == dep.TripID &&
			e.StopPathIndex == dep.StopPathIndex && e.SameFreqStart(dep) && !e.Time.After(dep.Time) {
			return e, true
		}
	}
	return model.ArrivalDeparture{}, false
}

// PredictDwellTime returns the dwell predicted for headway, or false when the
// segment has no model yet. A prediction above MaxDwell discards the model of
// the segment and reports false.
func (m *Model) PredictDwellTime(seg model.SegmentKey, headway time.Duration) (time.Duration, bool) {
	v, ok := m.models.Load(seg)
	if !ok {
		return 0, false
	}
	e := v.(*entry)
	e.mu.Lock()
	if e.rls == nil {
		e.mu.Unlock()
		return 0, false
	}
	ms := math.Pow(10, e.rls.predict(features(headway)))
	e.mu.Unlock()

	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms > float64(m.cfg.MaxDwell.Milliseconds()) {
		m.models.CompareAndDelete(seg, e)
		m.log.Warnf("dwell model for %s reset after prediction of %.0fms", seg, ms)
		return 0, false
	}
	return time.Duration(ms * float64(time.Millisecond)), true
}

// Len returns the number of segments with a model.
func (m *Model) Len() int {
	n := 0
	m.models.Range(func(any, any) bool {
		n++
		return true
	})
	return n
}

// PopulateFromDB replays stored departures in time order. The cache must
// already hold the same events.
func (m *Model) PopulateFromDB(events []model.ArrivalDeparture) int {
	deps := make([]model.ArrivalDeparture, 0, len(events)/2)
	for _, e := range events {
		if e.IsDeparture() {
			deps = append(deps, e)
		}
	}
	sort.SliceStable(deps, func(i, j int) bool { return deps[i].Time.Before(deps[j].Time) })
	n := 0
	for _, d := range deps {
		if m.AddDepartureSample(d) {
			n++
		}
	}
	m.log.Infof("dwell warm start accepted %d of %d departures", n, len(deps))
	return n
}

func (m *Model) record(seg model.SegmentKey, accepted bool, reason string, headway, dwell time.Duration) {
	if !accepted {
		m.log.Debugw("dwell sample dropped", map[string]any{"segment": seg.String(), "reason": reason, "headway": headway.String(), "dwell": dwell.String()})
	}
	if rec, ok := m.metrics.(metrics.DwellSampleRecorder); ok {
		_ = rec.RecordDwellSample(metrics.DwellSampleEvent{
			Segment:  seg,
			Accepted: accepted,
			Reason:   reason,
			Headway:  headway,
			Dwell:    dwell,
			Time:     m.now(),
		})
	}
}
