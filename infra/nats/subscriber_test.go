package nats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/arrivalcast/core/model"
	"github.com/kilianp07/arrivalcast/infra/logger"
)

type captured struct{ tags map[string]string }

func (c *captured) CaptureException(_ error, tags map[string]string) { c.tags = tags }
func (c *captured) Recover()                                         {}
func (c *captured) Flush(time.Duration)                              {}

func TestNewSubscriber_Validation(t *testing.T) {
	_, err := NewSubscriber(Config{URL: "nats://127.0.0.1:1"}, func(context.Context, model.ArrivalDeparture) error { return nil })
	assert.Error(t, err)
	_, err = NewSubscriber(Config{URL: "nats://127.0.0.1:1", Subject: "arrivals"}, nil)
	assert.Error(t, err)
}

func TestSubscriber_Dispatch(t *testing.T) {
	var got []string
	mon := &captured{}
	s := &Subscriber{
		handler: func(_ context.Context, ev model.ArrivalDeparture) error {
			got = append(got, ev.VehicleID)
			if ev.VehicleID == "bad" {
				return errors.New("rejected")
			}
			return nil
		},
		log:     logger.NopLogger{},
		monitor: mon,
	}
	s.dispatch("arrivals.r1", []byte(`[{"vehicle_id":"v1"},{"vehicle_id":"bad"}]`))
	s.dispatch("arrivals.r1", []byte(`{"vehicle_id":"v2"}`))
	s.dispatch("arrivals.r1", []byte(`garbage`))

	assert.Equal(t, []string{"v1", "bad", "v2"}, got)
	assert.Equal(t, int64(3), s.Received())
	assert.Equal(t, int64(2), s.Rejected())
	require.NotNil(t, mon.tags)
	assert.Equal(t, "nats", mon.tags["module"])
	assert.Equal(t, "arrivals.r1", mon.tags["subject"])
}

func TestSubscriber_CloseWithoutConnection(t *testing.T) {
	s := &Subscriber{log: logger.NopLogger{}}
	s.Close()
}
