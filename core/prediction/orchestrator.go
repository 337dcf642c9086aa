package prediction

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/arrivalcast/core/dwell"
	"github.com/kilianp07/arrivalcast/core/errorstate"
	"github.com/kilianp07/arrivalcast/core/history"
	"github.com/kilianp07/arrivalcast/core/kalman"
	"github.com/kilianp07/arrivalcast/core/logger"
	"github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
	"github.com/kilianp07/arrivalcast/core/monitoring"
)

// ErrInsufficientData marks requests answered by the fallback because the
// cache does not hold enough data. It never leaves the package.
var ErrInsufficientData = errors.New("insufficient data")

// Reasons attached to fallback predictions.
const (
	ReasonNoLastVehicle       = "no_last_vehicle"
	ReasonInsufficientHistory = "insufficient_history"
	ReasonComputationError    = "computation_error"
	ReasonPartialStopPath     = "partial_stop_path"
)

type insufficient string

func (e insufficient) Error() string        { return "insufficient data: " + string(e) }
func (e insufficient) Is(target error) bool { return target == ErrInsufficientData }

// FilterFunc runs one Kalman filter step.
type FilterFunc func(last float64, historical []float64, previousError float64, useLast bool) (kalman.Result, error)

// Config holds the prediction tuning.
type Config struct {
	MinKalmanDays          int
	MaxKalmanDays          int
	MaxKalmanDaysToSearch  int
	InitialErrorValue      float64
	DwellInitialErrorValue float64
	// UseLastHistorical blends with the most recent previous day instead
	// of the average of previous days.
	UseLastHistorical            bool
	UseKalmanForPartialStopPaths bool
	// A divergence is reported when the filter and the fallback differ by
	// more than DivergencePercent of the fallback and by more than
	// DivergenceMinDifference.
	DivergencePercent       float64
	DivergenceMinDifference time.Duration
}

// SetDefaults replaces non-positive values with the defaults.
func (c *Config) SetDefaults() {
	if c.MinKalmanDays <= 0 {
		c.MinKalmanDays = 3
	}
	if c.MaxKalmanDays <= 0 {
		c.MaxKalmanDays = 3
	}
	if c.MaxKalmanDays < c.MinKalmanDays {
		c.MaxKalmanDays = c.MinKalmanDays
	}
	if c.MaxKalmanDaysToSearch <= 0 {
		c.MaxKalmanDaysToSearch = 30
	}
	if c.InitialErrorValue <= 0 {
		c.InitialErrorValue = 100
	}
	if c.DwellInitialErrorValue <= 0 {
		c.DwellInitialErrorValue = 100
	}
	if c.DivergencePercent <= 0 {
		c.DivergencePercent = 50
	}
	if c.DivergenceMinDifference <= 0 {
		c.DivergenceMinDifference = time.Minute
	}
}

// Deps are the collaborators of an Orchestrator. Dwell, Logger, Metrics and
// Monitor are optional.
type Deps struct {
	Cache    *history.Cache
	Errors   *errorstate.Store
	Dwell    *dwell.Model
	Fallback Fallback
	Logger   logger.Logger
	Metrics  metrics.MetricsSink
	Monitor  monitoring.Monitor
}

// DivergenceHandler receives divergence events synchronously. Handlers must
// not block.
type DivergenceHandler func(model.DivergenceEvent)

// Option customises an Orchestrator.
type Option func(*Orchestrator)

// WithFilter replaces the filter implementation.
func WithFilter(f FilterFunc) Option { return func(o *Orchestrator) { o.filter = f } }

// WithDivergenceHandler adds a divergence handler.
func WithDivergenceHandler(h DivergenceHandler) Option {
	return func(o *Orchestrator) { o.onDivergence = append(o.onDivergence, h) }
}

// WithClock sets the clock stamped on events.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// Orchestrator picks the best available estimator for each request.
type Orchestrator struct {
	cfg          Config
	cache        *history.Cache
	errors       *errorstate.Store
	dwell        *dwell.Model
	fallback     Fallback
	filter       FilterFunc
	log          logger.Logger
	metrics      metrics.MetricsSink
	monitor      monitoring.Monitor
	onDivergence []DivergenceHandler
	now          func() time.Time
}

// New validates deps and returns an Orchestrator.
func New(cfg Config, deps Deps, opts ...Option) (*Orchestrator, error) {
	if deps.Cache == nil || deps.Errors == nil || deps.Fallback == nil {
		return nil, fmt.Errorf("prediction: cache, error store and fallback are required")
	}
	cfg.SetDefaults()
	o := &Orchestrator{
		cfg:      cfg,
		cache:    deps.Cache,
		errors:   deps.Errors,
		dwell:    deps.Dwell,
		fallback: deps.Fallback,
		filter:   kalman.Predict,
		log:      deps.Logger,
		metrics:  deps.Metrics,
		monitor:  deps.Monitor,
		now:      time.Now,
	}
	if o.log == nil {
		o.log = logger.Nop{}
	}
	if o.metrics == nil {
		o.metrics = metrics.NopSink{}
	}
	if o.monitor == nil {
		o.monitor = monitoring.NopMonitor{}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// PredictTravelTime estimates the time for the vehicle of req to reach
// req.StopID.
func (o *Orchestrator) PredictTravelTime(req Request) model.Prediction {
	if req.Partial() && !o.cfg.UseKalmanForPartialStopPaths {
		p := model.Prediction{Duration: nonNegative(o.fallback.RemainingTravelTime(req)), Tier: model.TierFallback, Reason: ReasonPartialStopPath}
		o.record(metrics.KindTravel, req, p, p.Duration)
		return p
	}

	fb := nonNegative(o.fallback.TravelTime(req))
	p := model.Prediction{Duration: fb, Tier: model.TierFallback}
	est, err := o.kalmanTravelTime(req)
	switch {
	case err == nil:
		o.checkDivergence(req, est, fb)
		p = model.Prediction{Duration: est, Tier: model.TierKalman}
	case errors.Is(err, ErrInsufficientData):
		p.Reason = reason(err)
	default:
		o.computationFailed(req, err)
		p.Reason = ReasonComputationError
	}

	if req.Partial() {
		if p.Tier == model.TierKalman {
			p.Duration = scale(p.Duration, req.RemainingRatio())
		} else {
			p.Duration = nonNegative(o.fallback.RemainingTravelTime(req))
		}
	}
	o.record(metrics.KindTravel, req, p, fb)
	return p
}

func (o *Orchestrator) kalmanTravelTime(req Request) (time.Duration, error) {
	last, ok := o.cache.LastVehicleTravelTime(history.LastVehicleQuery{
		VehicleID:   req.VehicleID,
		RouteID:     req.RouteID,
		DirectionID: req.DirectionID,
		FromStopID:  req.FromStopID,
		ToStopID:    req.StopID,
		At:          req.Time,
	})
	if !ok {
		return 0, insufficient(ReasonNoLastVehicle)
	}
	hist, err := o.cache.HistoricalTravelTimes(o.historicalQuery(req))
	if err != nil {
		return 0, err
	}
	return o.runFilter(req, model.NamespaceTravelTime, o.cfg.InitialErrorValue, last, hist)
}

// runFilter reads the previous error under the segment of the last vehicle
// and stores the new one under the segment of the request.
func (o *Orchestrator) runFilter(req Request, ns model.Namespace, initial float64, last model.TravelTime, hist []model.TravelTime) (time.Duration, error) {
	if len(hist) < o.cfg.MinKalmanDays {
		return 0, insufficient(ReasonInsufficientHistory)
	}
	values := make([]float64, len(hist))
	for i, tt := range hist {
		values[i] = tt.Millis()
	}
	prevKey := model.SegmentKey{Group: req.group(last.To.TripID), StopPathIndex: last.To.StopPathIndex}
	prevErr := o.errors.Get(prevKey, ns, initial)

	res, err := o.filter(last.Millis(), values, prevErr, o.cfg.UseLastHistorical)
	if err != nil {
		return 0, fmt.Errorf("%s filter for %s: %w", ns, req.Segment(), err)
	}
	if math.IsNaN(res.Predicted) || math.IsNaN(res.FilterError) {
		return 0, fmt.Errorf("%s filter for %s: not a number", ns, req.Segment())
	}
	o.errors.Put(req.Segment(), ns, res.FilterError)
	o.log.Debugw("kalman prediction", map[string]any{
		"segment":   req.Segment().String(),
		"namespace": ns.String(),
		"last_ms":   last.Millis(),
		"days":      len(values),
		"gain":      res.Gain,
		"predicted": res.Predicted,
		"error":     res.FilterError,
	})
	return nonNegative(time.Duration(res.Predicted * float64(time.Millisecond))), nil
}

// PredictDwellTime estimates how long the vehicle of req stays at
// req.StopID given the headway to the vehicle ahead.
func (o *Orchestrator) PredictDwellTime(req Request, headway time.Duration) model.Prediction {
	fb := nonNegative(o.fallback.DwellTime(req))
	if o.dwell != nil && headway > 0 {
		if d, ok := o.dwell.PredictDwellTime(req.DwellSegment(), headway); ok {
			p := model.Prediction{Duration: d, Tier: model.TierRLS}
			o.record(metrics.KindDwell, req, p, fb)
			return p
		}
	}

	p := model.Prediction{Duration: fb, Tier: model.TierFallback}
	est, err := o.kalmanDwellTime(req)
	switch {
	case err == nil:
		p = model.Prediction{Duration: est, Tier: model.TierKalman}
	case errors.Is(err, ErrInsufficientData):
		p.Reason = reason(err)
	default:
		o.computationFailed(req, err)
		p.Reason = ReasonComputationError
	}
	o.record(metrics.KindDwell, req, p, fb)
	return p
}

func (o *Orchestrator) kalmanDwellTime(req Request) (time.Duration, error) {
	last, ok := o.cache.LastVehicleDwell(req.VehicleID, req.RouteID, req.DirectionID, req.StopID, req.Time)
	if !ok {
		return 0, insufficient(ReasonNoLastVehicle)
	}
	hist, err := o.cache.HistoricalDwellTimes(o.historicalQuery(req))
	if err != nil {
		return 0, err
	}
	return o.runFilter(req, model.NamespaceDwell, o.cfg.DwellInitialErrorValue, last, hist)
}

func (o *Orchestrator) historicalQuery(req Request) history.HistoricalQuery {
	return history.HistoricalQuery{
		Trip:            o.cache.TripKeyFor(req.event()),
		StopPathIndex:   req.StopPathIndex,
		MaxDays:         o.cfg.MaxKalmanDays,
		MaxDaysToSearch: o.cfg.MaxKalmanDaysToSearch,
	}
}

func (o *Orchestrator) checkDivergence(req Request, est, fb time.Duration) {
	if fb <= 0 {
		return
	}
	diff := est - fb
	if diff < 0 {
		diff = -diff
	}
	pct := float64(diff) / float64(fb) * 100
	if pct <= o.cfg.DivergencePercent || diff <= o.cfg.DivergenceMinDifference {
		return
	}
	ev := model.DivergenceEvent{
		ID:        uuid.NewString(),
		Segment:   req.Segment(),
		VehicleID: req.VehicleID,
		StopID:    req.StopID,
		Kalman:    est,
		Fallback:  fb,
		Percent:   pct,
		Timestamp: o.now(),
	}
	o.log.Warnf("kalman estimate %s diverges %.1f%% from fallback %s on %s for vehicle %s", est, pct, fb, ev.Segment, req.VehicleID)
	if rec, ok := o.metrics.(metrics.DivergenceRecorder); ok {
		if err := rec.RecordDivergence(ev); err != nil {
			o.log.Errorf("record divergence: %v", err)
		}
	}
	for _, h := range o.onDivergence {
		h(ev)
	}
}

func (o *Orchestrator) computationFailed(req Request, err error) {
	o.log.Errorf("prediction for vehicle %s on %s failed: %v", req.VehicleID, req.Segment(), err)
	o.monitor.CaptureException(err, map[string]string{
		"vehicle_id": req.VehicleID,
		"segment":    req.Segment().String(),
	})
}

func (o *Orchestrator) record(kind string, req Request, p model.Prediction, fb time.Duration) {
	if err := o.metrics.RecordPrediction(metrics.PredictionEvent{
		Kind:      kind,
		Segment:   req.Segment(),
		RouteID:   req.RouteID,
		Tier:      p.Tier,
		Reason:    p.Reason,
		Predicted: p.Duration,
		Fallback:  fb,
		Time:      o.now(),
	}); err != nil {
		o.log.Warnf("record prediction: %v", err)
	}
}

func reason(err error) string {
	var in insufficient
	if errors.As(err, &in) {
		return string(in)
	}
	return ""
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
