// Package eventbus provides a pub/sub abstraction used to fan audit events
// out to interested subscribers (the websocket audit stream, external
// integrations) without coupling them to each other. Device events do not
// travel over the bus: they reach the condition engine directly.
package eventbus

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event is a single message published on the bus.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// NewEvent builds an Event with a fresh id and the current timestamp.
func NewEvent(eventType, source string, data map[string]any) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Handler processes a single event delivered to a subscription.
type Handler func(ctx context.Context, event *Event) error

// Subscription is a live subscription returned by Subscribe/QueueSubscribe.
type Subscription interface {
	Unsubscribe() error
	IsValid() bool
}

// Bus is the pub/sub contract shared by the in-memory and NATS-backed
// implementations.
type Bus interface {
	// Publish delivers event to every subscriber whose subject pattern
	// matches subject.
	Publish(ctx context.Context, subject string, event *Event) error

	// Subscribe delivers every matching event to handler.
	Subscribe(subject string, handler Handler) (Subscription, error)

	// QueueSubscribe joins a named queue group: exactly one member of the
	// group receives each matching event, round-robin.
	QueueSubscribe(subject, queue string, handler Handler) (Subscription, error)

	Close()
	IsConnected() bool
}
