package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventAgentOnline     EventType = "agent.online"
	EventAgentOffline    EventType = "agent.offline"
	EventAgentSuperseded EventType = "agent.superseded"
	EventPriceChanged    EventType = "agent.price_changed"

	EventOrderQueued   EventType = "order.queued"
	EventOrderRouted   EventType = "order.routed"
	EventOrderRejected EventType = "order.rejected"
	EventOrderSettled  EventType = "order.settled"
	EventOrderExpired  EventType = "order.expired"

	EventSettlementRecorded EventType = "settlement.recorded"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	AgentID   string          `json:"agent_id,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for marketplace events.
// This is in-process plumbing for collaborators of the coordinator (webhook
// notifier, tests); it is distinct from the wire-level subscription index.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
