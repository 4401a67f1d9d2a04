package nats

import (
	"context"
	"sync"
)

// MockPublisher is a mock implementation of Publisher for testing.
type MockPublisher struct {
	mu              sync.RWMutex
	publishedEvents []*BridgeEvent
	publishError    error
	closed          bool
}

// NewMockPublisher creates a new mock publisher for testing.
func NewMockPublisher() *MockPublisher {
	return &MockPublisher{}
}

// PublishBridgeEvent records the event and returns any configured error.
func (m *MockPublisher) PublishBridgeEvent(ctx context.Context, event *BridgeEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	return nil
}

// Close marks the publisher as closed.
func (m *MockPublisher) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns a copy of all published events.
func (m *MockPublisher) GetPublishedEvents() []*BridgeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*BridgeEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetEventsByOutcome returns events published with the given outcome.
func (m *MockPublisher) GetEventsByOutcome(outcome Outcome) []*BridgeEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var events []*BridgeEvent
	for _, event := range m.publishedEvents {
		if event.Outcome == outcome {
			events = append(events, event)
		}
	}
	return events
}

// SetPublishError configures the mock to return an error on PublishBridgeEvent.
func (m *MockPublisher) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockPublisher) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = nil
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the publisher has been closed.
func (m *MockPublisher) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
