package mqtt

import (
	"fmt"
	"sync"

	"github.com/kilianp07/arrivalcast/core/model"
	coremqtt "github.com/kilianp07/arrivalcast/core/mqtt"
)

// Publisher mirrors the core mqtt.Publisher interface.
type Publisher = coremqtt.Publisher

// MockPublisher is a simple publisher used in tests.
type MockPublisher struct {
	Messages []model.DivergenceEvent
	FailIDs  map[string]bool
	mu       sync.Mutex
}

// NewMockPublisher creates a new MockPublisher.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{FailIDs: make(map[string]bool)}
}

// PublishDivergence records the event or fails for vehicles in FailIDs.
func (m *MockPublisher) PublishDivergence(ev model.DivergenceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailIDs[ev.VehicleID] {
		return fmt.Errorf("publish failed")
	}
	m.Messages = append(m.Messages, ev)
	return nil
}

// Published returns a copy of the recorded events.
func (m *MockPublisher) Published() []model.DivergenceEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.DivergenceEvent(nil), m.Messages...)
}
