// Package events provides the in-process publish/subscribe bus that
// decouples the independently mounted client surfaces (status bar badge,
// conversation list, chat screen) from the sync engine.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type identifies what happened.
type Type string

const (
	TypeAuthChanged        Type = "auth.changed"
	TypeDirectoryRefreshed Type = "directory.refreshed"
	TypeUnreadChanged      Type = "unread.changed"
	TypeMessagesUpdated    Type = "messages.updated"
	TypeConversationRead   Type = "conversation.read"
	TypeMessageSent        Type = "message.sent"
	TypeSyncDegraded       Type = "sync.degraded"
)

// EntityType identifies what kind of entity an event refers to.
type EntityType string

const (
	EntityConversation EntityType = "conversation"
	EntityUser         EntityType = "user"
	EntitySession      EntityType = "session"
)

// Event is a single broadcast on the session bus.
type Event struct {
	ID         string
	Type       Type
	EntityType EntityType
	EntityID   string
	Payload    any
	Time       time.Time
}

// New builds an event with a fresh id and timestamp.
func New(t Type, entityType EntityType, entityID string, payload any) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       t,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Time:       time.Now().UTC(),
	}
}

// Handler is a callback invoked for each event matching a subscription.
type Handler func(event *Event)

// Filter defines criteria for matching events.
type Filter struct {
	// Types filters by event type (nil = all types).
	Types []Type

	// EntityTypes filters by entity type (nil = all entities).
	EntityTypes []EntityType

	// EntityID filters to a specific entity id (empty = all).
	EntityID string
}

// Matches returns true if the event matches the filter criteria.
func (f *Filter) Matches(event *Event) bool {
	if event == nil {
		return false
	}

	if len(f.Types) > 0 {
		matched := false
		for _, t := range f.Types {
			if event.Type == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(f.EntityTypes) > 0 {
		matched := false
		for _, t := range f.EntityTypes {
			if event.EntityType == t {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if f.EntityID != "" && event.EntityID != f.EntityID {
		return false
	}

	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Bus is the interface for session-scoped event broadcast.
type Bus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event *Event)

	// Subscribe registers a handler to receive events matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by id.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryBus implements Bus using in-process pub/sub. Lifetime equals the
// application session; nothing is persisted.
type InMemoryBus struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryBus creates a new session bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends an event to all matching subscribers.
func (b *InMemoryBus) Publish(ctx context.Context, event *Event) {
	if event == nil {
		return
	}

	// Collect matching handlers under read lock
	b.mu.RLock()
	var handlers []Handler
	for _, sub := range b.subscriptions {
		if sub.filter.Matches(event) {
			handlers = append(handlers, sub.handler)
		}
	}
	b.mu.RUnlock()

	// Invoke handlers outside the lock to avoid deadlocks when a handler
	// publishes or subscribes in turn.
	for _, handler := range handlers {
		handler(event)
	}
}

// Subscribe registers a handler to receive events matching the filter.
func (b *InMemoryBus) Subscribe(id string, filter Filter, handler Handler) error {
	if id == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}

	b.subscriptions[id] = &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
	}

	return nil
}

// Unsubscribe removes a subscription by id.
func (b *InMemoryBus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}

	delete(b.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (b *InMemoryBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}

// Close removes all subscriptions.
func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscriptions = make(map[string]*subscription)
}

// Errors for bus operations.
var (
	ErrInvalidSubscriptionID = &BusError{Message: "subscription id is required"}
	ErrNilHandler            = &BusError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &BusError{Message: "subscription with this id already exists"}
	ErrSubscriptionNotFound  = &BusError{Message: "subscription not found"}
)

// BusError represents an error from bus operations.
type BusError struct {
	Message string
}

func (e *BusError) Error() string {
	return e.Message
}
