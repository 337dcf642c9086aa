package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// EventHandler consumes decoded arrival/departure events.
type EventHandler func(ctx context.Context, ev ArrivalDeparture) error

// DecodeEvents parses a JSON payload holding either a single event or an
// array of events.
func DecodeEvents(payload []byte) ([]ArrivalDeparture, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidEvent)
	}
	if trimmed[0] == '[' {
		var evs []ArrivalDeparture
		if err := json.Unmarshal(trimmed, &evs); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return evs, nil
	}
	var ev ArrivalDeparture
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []ArrivalDeparture{ev}, nil
}
