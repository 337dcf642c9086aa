package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kilianp07/arrivalcast/app/plugins"
	"github.com/kilianp07/arrivalcast/config"
	"github.com/kilianp07/arrivalcast/core/divergence"
	"github.com/kilianp07/arrivalcast/core/dwell"
	"github.com/kilianp07/arrivalcast/core/errorstate"
	"github.com/kilianp07/arrivalcast/core/history"
	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
	coremon "github.com/kilianp07/arrivalcast/core/monitoring"
	coremqtt "github.com/kilianp07/arrivalcast/core/mqtt"
	"github.com/kilianp07/arrivalcast/core/prediction"
	"github.com/kilianp07/arrivalcast/infra/httpapi"
	"github.com/kilianp07/arrivalcast/infra/logger"
	"github.com/kilianp07/arrivalcast/infra/metrics"
	"github.com/kilianp07/arrivalcast/infra/monitoring"
	"github.com/kilianp07/arrivalcast/infra/mqtt"
	"github.com/kilianp07/arrivalcast/infra/nats"
	"github.com/kilianp07/arrivalcast/infra/store"
	"github.com/kilianp07/arrivalcast/internal/eventbus"
)

const sizeInterval = time.Minute

// Service wires the prediction engine to its event sources, stores and
// admin API.
type Service struct {
	Cache     *history.Cache
	Errors    *errorstate.Store
	Dwell     *dwell.Model
	Predictor *prediction.Orchestrator
	Ingestor  *Ingestor

	cfg         *config.Config
	store       *store.EventStore
	divergences divergence.Store
	publisher   coremqtt.Publisher
	mqtt        *mqtt.PahoClient
	nats        *nats.Subscriber
	bus         *eventbus.TypedBus[model.DivergenceEvent]
	sink        coremetrics.MetricsSink
	monitor     coremon.Monitor
	log         logger.Logger
	now         func() time.Time
	promEnabled bool
	onDiverge   []prediction.DivergenceHandler
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher replaces the MQTT divergence publisher.
func WithPublisher(p coremqtt.Publisher) Option { return func(s *Service) { s.publisher = p } }

// WithMonitor replaces the Sentry monitor.
func WithMonitor(m coremon.Monitor) Option { return func(s *Service) { s.monitor = m } }

// WithDivergenceHandler adds a synchronous divergence handler next to the
// divergence log and MQTT.
func WithDivergenceHandler(h prediction.DivergenceHandler) Option {
	return func(s *Service) { s.onDiverge = append(s.onDiverge, h) }
}

// WithClock sets the clock used for eviction, warm starts and event
// timestamps.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// New creates a Service from the configuration. Transports and the event
// store are only opened when configured.
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	logger.SetLevel(cfg.Logging.Level)
	s := &Service{cfg: cfg, log: logger.New("service"), now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.monitor == nil {
		mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
		if err != nil {
			return nil, fmt.Errorf("sentry: %w", err)
		}
		s.monitor = mon
	}
	sink, err := coremetrics.NewMetricsSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	s.sink = sink
	for _, m := range cfg.Metrics.Sinks {
		if m.Type == "prometheus" {
			s.promEnabled = true
		}
	}

	hc, err := cfg.History.Core()
	if err != nil {
		return nil, fmt.Errorf("history: %w", err)
	}
	s.Cache = history.New(hc, logger.New("history"), sink, history.WithClock(s.now))
	s.Errors = errorstate.New()
	s.Dwell = dwell.New(cfg.Dwell.Core(), s.Cache, logger.New("dwell"), sink)
	fb, err := plugins.NewFallback(cfg.Prediction.Fallback, s.Cache)
	if err != nil {
		return nil, err
	}
	s.bus = eventbus.NewTypedWithBuffer[model.DivergenceEvent](64)
	popts := []prediction.Option{prediction.WithDivergenceHandler(s.bus.Publish), prediction.WithClock(s.now)}
	for _, h := range s.onDiverge {
		popts = append(popts, prediction.WithDivergenceHandler(h))
	}
	s.Predictor, err = prediction.New(cfg.Prediction.Core(), prediction.Deps{
		Cache:    s.Cache,
		Errors:   s.Errors,
		Dwell:    s.Dwell,
		Fallback: fb,
		Logger:   logger.New("prediction"),
		Metrics:  sink,
		Monitor:  s.monitor,
	}, popts...)
	if err != nil {
		return nil, err
	}

	s.divergences, err = plugins.NewDivergenceStore(cfg.DivergenceLog)
	if err != nil {
		return nil, fmt.Errorf("divergence log: %w", err)
	}
	if cfg.Store.DSN != "" {
		s.store, err = store.Open(cfg.Store.Driver, cfg.Store.DSN)
		if err != nil {
			return s.fail(fmt.Errorf("event store: %w", err))
		}
	}
	s.Ingestor = &Ingestor{
		cache:   s.Cache,
		dwell:   s.Dwell,
		sink:    sink,
		monitor: s.monitor,
		log:     logger.New("ingest"),
		now:     s.now,
	}
	if s.store != nil {
		s.Ingestor.store = s.store
	}

	if cfg.MQTT.Broker != "" {
		s.mqtt, err = mqtt.NewPahoClient(cfg.MQTT, s.Ingestor.Handler("mqtt"), mqtt.WithMonitor(s.monitor))
		if err != nil {
			return s.fail(fmt.Errorf("mqtt client: %w", err))
		}
		if s.publisher == nil {
			s.publisher = s.mqtt
		}
	}
	if cfg.NATS.URL != "" {
		s.nats, err = nats.NewSubscriber(cfg.NATS, s.Ingestor.Handler("nats"), nats.WithMonitor(s.monitor))
		if err != nil {
			return s.fail(fmt.Errorf("nats subscriber: %w", err))
		}
	}
	return s, nil
}

func (s *Service) fail(err error) (*Service, error) {
	if cerr := s.Close(); cerr != nil {
		s.log.Warnf("cleanup after failed start: %v", cerr)
	}
	return nil, err
}

// Run warms the cache, starts the background loops and serves the admin API
// until the context is canceled.
func (s *Service) Run(ctx context.Context) error {
	if s.store != nil {
		if err := s.warmStart(ctx); err != nil {
			s.log.Errorf("warm start: %v", err)
			s.monitor.CaptureException(err, map[string]string{"module": "store"})
		}
	}
	metrics.StartDivergenceCollector(ctx, s.bus, s.onDivergence)
	metrics.StartSizeCollector(ctx, s, s.sink, sizeInterval)
	go every(ctx, s.cfg.History.SweepInterval(), s.sweep)
	if s.store != nil {
		go every(ctx, s.cfg.Store.ErrorFlushInterval(), s.flushErrors)
	}

	deps := httpapi.Deps{
		Stats:          s,
		Divergences:    s.divergences,
		Token:          s.cfg.HTTP.Token,
		AllowedOrigins: s.cfg.HTTP.AllowedOrigins,
	}
	if s.store != nil {
		deps.Store = s.store
	}
	if s.promEnabled {
		deps.Metrics = promhttp.Handler()
	}
	err := httpapi.NewServer(s.cfg.HTTP.Addr, httpapi.NewRouter(deps), logger.New("httpapi")).Run(ctx)

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.flushErrors(flushCtx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// onDivergence logs ev and forwards it to MQTT.
func (s *Service) onDivergence(ev model.DivergenceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.divergences.Append(ctx, ev); err != nil {
		s.log.Errorf("log divergence %s: %v", ev.ID, err)
		s.monitor.CaptureException(err, map[string]string{"module": "divergence", "vehicle_id": ev.VehicleID})
	}
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishDivergence(ev); err != nil {
		s.log.Errorf("publish divergence %s: %v", ev.ID, err)
	}
}

// Sizes reports bucket counts per cache index.
func (s *Service) Sizes() map[string]int {
	st := s.Cache.Stats()
	return map[string]int{history.CacheTrip: st.TripBuckets, history.CacheStop: st.StopBuckets}
}

// Stats implements httpapi.StatsSource.
func (s *Service) Stats() httpapi.Stats {
	return httpapi.Stats{
		Cache:              s.Cache.Stats(),
		ErrorValues:        s.Errors.Len(),
		DwellModels:        s.Dwell.Len(),
		DroppedDivergences: s.bus.Dropped(),
	}
}

// Close releases transports and stores.
func (s *Service) Close() error {
	if s.nats != nil {
		s.nats.Close()
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	var errs []error
	if s.divergences != nil {
		errs = append(errs, s.divergences.Close())
	}
	if s.store != nil {
		errs = append(errs, s.store.Close())
	}
	if s.monitor != nil {
		s.monitor.Flush(2 * time.Second)
	}
	return errors.Join(errs...)
}
