package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/arrivalcast/core/model"
	"github.com/kilianp07/arrivalcast/internal/eventbus"
)

type sizes map[string]int

func (s sizes) Sizes() map[string]int { return s }

func TestStartDivergenceCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bus := eventbus.NewTyped[model.DivergenceEvent]()
	got := make(chan string, 2)
	StartDivergenceCollector(ctx, bus, func(ev model.DivergenceEvent) { got <- ev.ID }, func(ev model.DivergenceEvent) { got <- ev.ID + "-b" })

	// subscription is registered synchronously
	bus.Publish(model.DivergenceEvent{ID: "d1"})
	for _, want := range []string{"d1", "d1-b"} {
		select {
		case id := <-got:
			if id != want {
				t.Fatalf("got %s want %s", id, want)
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for divergence")
		}
	}
	bus.Close()
}

func TestStartSizeCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink, err := NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("sink: %v", err)
	}
	StartSizeCollector(ctx, sizes{"trip": 4, "stop": 2}, sink, time.Hour)
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(sink.buckets.WithLabelValues("trip")) == 4 &&
			testutil.ToFloat64(sink.buckets.WithLabelValues("stop")) == 2 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("sizes not collected")
}
