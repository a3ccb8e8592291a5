package events

import (
	"sync"
	"time"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTradeTransition     EventType = "TRADE_TRANSITION"
	EventExecutionTransition EventType = "EXECUTION_TRANSITION"
	EventExecutionCreated    EventType = "EXECUTION_CREATED"
	EventExecutionRejected   EventType = "EXECUTION_REJECTED"
	EventRiskRejected        EventType = "RISK_REJECTED"
	EventCircuitBreakerTrip  EventType = "CIRCUIT_BREAKER_TRIP"
	EventCircuitBreakerClear EventType = "CIRCUIT_BREAKER_CLEAR"
	EventKillSwitchArmed     EventType = "KILL_SWITCH_ARMED"
	EventKillSwitchDisarmed  EventType = "KILL_SWITCH_DISARMED"
	EventReconcileHealed     EventType = "RECONCILE_HEALED"
	EventReconcileAlert      EventType = "RECONCILE_ALERT"
	EventOpsAudit            EventType = "OPS_AUDIT"
	EventError               EventType = "ERROR"
)

// Event represents a system event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber // Subscribers to all events
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
		allSubs:     make([]Subscriber, 0),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	// Set timestamp if not provided
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Notify specific subscribers
	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event) // Run in goroutine to avoid blocking
		}
	}

	// Notify all-event subscribers
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// PublishTransition publishes a state transition event
func (eb *EventBus) PublishTransition(entityType string, entityID int64, from, to, actor string) {
	eventType := EventTradeTransition
	if entityType == "execution" {
		eventType = EventExecutionTransition
	}
	eb.Publish(Event{
		Type: eventType,
		Data: map[string]interface{}{
			"entity_type": entityType,
			"entity_id":   entityID,
			"from_status": from,
			"to_status":   to,
			"actor":       actor,
		},
	})
}

// PublishExecutionCreated publishes an execution created event
func (eb *EventBus) PublishExecutionCreated(executionID, tradeID int64, instrument, mode, idempotencyKey string) {
	eb.Publish(Event{
		Type: EventExecutionCreated,
		Data: map[string]interface{}{
			"execution_id":    executionID,
			"trade_id":        tradeID,
			"instrument":      instrument,
			"mode":            mode,
			"idempotency_key": idempotencyKey,
		},
	})
}

// PublishRiskRejected publishes a risk rejection with its reason codes
func (eb *EventBus) PublishRiskRejected(instrument string, reasons []string) {
	eb.Publish(Event{
		Type: EventRiskRejected,
		Data: map[string]interface{}{
			"instrument": instrument,
			"reasons":    reasons,
		},
	})
}

// PublishError publishes an error event
func (eb *EventBus) PublishError(source, message string, err error) {
	data := map[string]interface{}{
		"source":  source,
		"message": message,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	eb.Publish(Event{
		Type: EventError,
		Data: data,
	})
}
