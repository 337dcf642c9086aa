package metrics

import (
	"context"
	"time"

	coremetrics "github.com/kilianp07/arrivalcast/core/metrics"
	"github.com/kilianp07/arrivalcast/core/model"
	"github.com/kilianp07/arrivalcast/internal/eventbus"
)

// StartDivergenceCollector subscribes to the bus and forwards divergence
// events to every handler. It stops when the context is canceled or the bus
// is closed.
func StartDivergenceCollector(ctx context.Context, bus *eventbus.TypedBus[model.DivergenceEvent], handlers ...func(model.DivergenceEvent)) {
	if bus == nil || len(handlers) == 0 {
		return
	}
	sub := bus.Subscribe()
	go func() {
		defer bus.Unsubscribe(sub)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub:
				if !ok {
					return
				}
				for _, h := range handlers {
					h(ev)
				}
			}
		}
	}()
}

// SizeSource reports bucket counts per cache index.
type SizeSource interface {
	Sizes() map[string]int
}

// StartSizeCollector records the sizes of src every interval until ctx is
// canceled.
func StartSizeCollector(ctx context.Context, src SizeSource, sink coremetrics.MetricsSink, interval time.Duration) {
	rec, ok := sink.(coremetrics.CacheSizeRecorder)
	if src == nil || !ok || interval <= 0 {
		return
	}
	collect := func() {
		for name, n := range src.Sizes() {
			_ = rec.RecordCacheSize(name, n)
		}
	}
	go func() {
		collect()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				collect()
			}
		}
	}()
}
