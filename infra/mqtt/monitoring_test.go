package mqtt

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kilianp07/arrivalcast/core/model"
	coremqtt "github.com/kilianp07/arrivalcast/core/mqtt"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

type recordMonitor struct {
	err  error
	tags map[string]string
}

func (r *recordMonitor) CaptureException(err error, tags map[string]string) {
	r.err = err
	r.tags = tags
}
func (r *recordMonitor) Recover()            {}
func (r *recordMonitor) Flush(time.Duration) {}

func TestPublishDivergenceErrorCaptured(t *testing.T) {
	mc := &mockClient{publishErrs: []error{fmt.Errorf("net fail"), fmt.Errorf("net fail"), fmt.Errorf("net fail"), fmt.Errorf("net fail")}}
	useMock(t, mc)
	mon := &recordMonitor{}
	cfg := Config{Broker: "tcp://localhost:1883", ClientID: "id", DivergenceTopic: "div", MaxRetries: 1, BackoffMS: 1}
	cli, err := NewPahoClient(cfg, nil, WithMonitor(mon), WithLogger(logger.NopLogger{}))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	err = cli.PublishDivergence(model.DivergenceEvent{ID: "d1", VehicleID: "veh1"})
	if !errors.Is(err, coremqtt.ErrPublishFailed) {
		t.Fatalf("expected publish failure, got %v", err)
	}
	if len(mc.published) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(mc.published))
	}
	if mon.err == nil {
		t.Fatalf("error not captured")
	}
	if mon.tags["vehicle_id"] != "veh1" || mon.tags["module"] != "mqtt" {
		t.Fatalf("tags not set")
	}
}

func TestDecodeErrorCaptured(t *testing.T) {
	mc := &mockClient{}
	useMock(t, mc)
	mon := &recordMonitor{}
	_, err := NewPahoClient(Config{Broker: "tcp://localhost:1883", EventTopic: "arrivals"}, func(_ context.Context, _ model.ArrivalDeparture) error { return nil }, WithMonitor(mon), WithLogger(logger.NopLogger{}))
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	mc.deliver(mockMessage{[]byte("{")})
	if mon.err == nil || mon.tags["module"] != "mqtt" {
		t.Fatalf("decode error not captured")
	}
}
