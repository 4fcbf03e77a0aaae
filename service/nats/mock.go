package nats

import (
	"context"
	"sync"
)

// MockBroker is an in-memory Publisher and Subscriber for testing.
// Published events are recorded and fanned out to live subscribers of the matching session.
type MockBroker struct {
	mu              sync.RWMutex
	publishedEvents []*NotificationEvent
	publishError    error
	subscribers     map[*mockSubscription]struct{}
	closed          bool
}

type mockSubscription struct {
	sessionID string
	ch        chan *NotificationEvent
}

// NewMockBroker creates a new mock broker for testing.
func NewMockBroker() *MockBroker {
	return &MockBroker{
		publishedEvents: make([]*NotificationEvent, 0),
		subscribers:     make(map[*mockSubscription]struct{}),
	}
}

// PublishNotification records the event, delivers it to subscribers and returns any
// configured error. Subscribers that are not keeping up miss the event.
func (m *MockBroker) PublishNotification(ctx context.Context, event *NotificationEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.publishError != nil {
		return m.publishError
	}

	m.publishedEvents = append(m.publishedEvents, event)
	for sub := range m.subscribers {
		if sub.sessionID != "" && sub.sessionID != event.SessionID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
	return nil
}

// Subscribe registers a subscriber until ctx is done.
func (m *MockBroker) Subscribe(ctx context.Context, sessionID string) (<-chan *NotificationEvent, error) {
	sub := &mockSubscription{
		sessionID: sessionID,
		ch:        make(chan *NotificationEvent, 16),
	}

	m.mu.Lock()
	m.subscribers[sub] = struct{}{}
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subscribers, sub)
		close(sub.ch)
		m.mu.Unlock()
	}()

	return sub.ch, nil
}

// Close marks the broker as closed.
func (m *MockBroker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// GetPublishedEvents returns all published events (for testing).
func (m *MockBroker) GetPublishedEvents() []*NotificationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*NotificationEvent, len(m.publishedEvents))
	copy(events, m.publishedEvents)
	return events
}

// GetPublishedEventsForSession returns events published for a specific session.
func (m *MockBroker) GetPublishedEventsForSession(sessionID string) []*NotificationEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]*NotificationEvent, 0)
	for _, event := range m.publishedEvents {
		if event.SessionID == sessionID {
			events = append(events, event)
		}
	}
	return events
}

// SubscriberCount returns the number of live subscriptions.
func (m *MockBroker) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// SetPublishError configures the mock to return an error on PublishNotification.
func (m *MockBroker) SetPublishError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishError = err
}

// Reset clears all published events and errors.
func (m *MockBroker) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedEvents = make([]*NotificationEvent, 0)
	m.publishError = nil
	m.closed = false
}

// IsClosed returns whether the broker has been closed.
func (m *MockBroker) IsClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
