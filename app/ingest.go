package app

import (
	"context"
	"time"

	"github.com/kilianp07/arrivalcast/core/dwell"
	"github.com/kilianp07/arrivalcast/core/history"
	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
	coremon "github.com/kilianp07/arrivalcast/core/monitoring"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

// EventAppender persists inbound events.
type EventAppender interface {
	Append(ctx context.Context, evs ...model.ArrivalDeparture) error
}

// Ingestor feeds inbound events to the cache, the dwell model and the event
// store.
type Ingestor struct {
	cache   *history.Cache
	dwell   *dwell.Model
	store   EventAppender
	sink    coremetrics.MetricsSink
	monitor coremon.Monitor
	log     logger.Logger
	now     func() time.Time
}

// Handle validates and indexes ev. Persistence failures are logged and
// reported but do not reject the event.
func (i *Ingestor) Handle(ctx context.Context, source string, ev model.ArrivalDeparture) error {
	if err := ev.Validate(); err != nil {
		i.record(source, false)
		return err
	}
	if err := i.cache.Put(ev); err != nil {
		i.record(source, false)
		return err
	}
	if ev.IsDeparture() && i.dwell != nil {
		i.dwell.AddDepartureSample(ev)
	}
	if i.store != nil {
		if err := i.store.Append(ctx, ev); err != nil {
			i.log.Errorf("persist %s: %v", ev.Identity(), err)
			i.monitor.CaptureException(err, map[string]string{"module": "ingest", "vehicle_id": ev.VehicleID})
		}
	}
	i.record(source, true)
	return nil
}

// Handler binds Handle to source for use by a transport.
func (i *Ingestor) Handler(source string) model.EventHandler {
	return func(ctx context.Context, ev model.ArrivalDeparture) error {
		return i.Handle(ctx, source, ev)
	}
}

func (i *Ingestor) record(source string, accepted bool) {
	rec, ok := i.sink.(coremetrics.IngestRecorder)
	if !ok {
		return
	}
	if err := rec.RecordIngest(coremetrics.IngestEvent{Source: source, Accepted: accepted, Time: i.now()}); err != nil {
		i.log.Errorf("record ingest: %v", err)
	}
}
