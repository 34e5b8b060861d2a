package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventSignalAccepted  EventType = "SIGNAL_ACCEPTED"
	EventSignalRejected  EventType = "SIGNAL_REJECTED"
	EventPositionOpened  EventType = "POSITION_OPENED"
	EventPositionPartial EventType = "POSITION_PARTIAL"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventUniverseUpdated EventType = "UNIVERSE_UPDATED"
	EventClusterRebuilt  EventType = "CLUSTER_REBUILT"
	EventEngineStarted   EventType = "ENGINE_STARTED"
	EventEngineStopped   EventType = "ENGINE_STOPPED"
	EventError           EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// Bus manages event publishing and subscriptions
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (b *Bus) Subscribe(eventType EventType, subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (b *Bus) SubscribeAll(subscriber Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.allSubs = append(b.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := b.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range b.allSubs {
		go sub(event)
	}
}

// PublishSignal publishes a signal verdict event
func (b *Bus) PublishSignal(symbol, direction string, score float64, accepted bool, rejectReason string) {
	eventType := EventSignalAccepted
	if !accepted {
		eventType = EventSignalRejected
	}
	b.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"symbol":        symbol,
			"direction":     direction,
			"score":         score,
			"reject_reason": rejectReason,
		},
	})
}

// PublishPositionOpened publishes a position opened event
func (b *Bus) PublishPositionOpened(symbol, direction, clusterID string, entry, stop float64) {
	b.Publish(Event{
		Type: EventPositionOpened,
		Data: map[string]interface{}{
			"symbol":    symbol,
			"direction": direction,
			"cluster":   clusterID,
			"entry":     entry,
			"stop":      stop,
		},
	})
}

// PublishPositionPartial publishes a first-target fill event
func (b *Bus) PublishPositionPartial(symbol, direction string, fillPrice, target2 float64) {
	b.Publish(Event{
		Type: EventPositionPartial,
		Data: map[string]interface{}{
			"symbol":     symbol,
			"direction":  direction,
			"fill_price": fillPrice,
			"target2":    target2,
		},
	})
}

// PublishUniverseUpdated publishes the post-refresh pool sizes
func (b *Bus) PublishUniverseUpdated(hot, cold, filtered int) {
	b.Publish(Event{
		Type: EventUniverseUpdated,
		Data: map[string]interface{}{
			"hot":      hot,
			"cold":     cold,
			"filtered": filtered,
		},
	})
}

// PublishClusterRebuilt publishes the post-rebuild table shape
func (b *Bus) PublishClusterRebuilt(clusters, symbols int) {
	b.Publish(Event{
		Type: EventClusterRebuilt,
		Data: map[string]interface{}{
			"clusters": clusters,
			"symbols":  symbols,
		},
	})
}

// PublishPositionClosed publishes a position closed event
func (b *Bus) PublishPositionClosed(symbol, status, reason string, pnlPercent float64, barsHeld int) {
	b.Publish(Event{
		Type: EventPositionClosed,
		Data: map[string]interface{}{
			"symbol":      symbol,
			"status":      status,
			"reason":      reason,
			"pnl_percent": pnlPercent,
			"bars_held":   barsHeld,
		},
	})
}

// PublishError publishes an error event
func (b *Bus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	b.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
