// Package unread tracks per-conversation unread counts and the aggregate
// badge shown in the persistent status bar. Server truth arrives with each
// directory refresh; marking a conversation read decrements the aggregate
// optimistically so the badge does not lag behind the user, and the next
// refresh reconciles the transient value.
package unread

import (
	"context"
	"sync"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
)

const subscriptionID = "unread-counter"

// Counter is the single shared unread state object. All surfaces read the
// same instance; mutation is serialized by the mutex so re-entrant calls
// stay clamped at zero and idempotent.
type Counter struct {
	bus events.Bus

	mu       sync.Mutex
	perConv  map[string]int
	total    int
	attached bool
}

// NewCounter creates an unread counter. When a bus is supplied the counter
// publishes unread.changed on every aggregate change and feeds itself from
// directory.refreshed events.
func NewCounter(bus events.Bus) *Counter {
	c := &Counter{
		bus:     bus,
		perConv: make(map[string]int),
	}
	if bus != nil {
		err := bus.Subscribe(subscriptionID, events.Filter{
			Types: []events.Type{events.TypeDirectoryRefreshed},
		}, func(event *events.Event) {
			if snap, ok := event.Payload.([]chat.Conversation); ok {
				c.ApplySummaries(snap)
			}
		})
		c.attached = err == nil
	}
	return c
}

// Detach removes the bus subscription.
func (c *Counter) Detach() {
	c.mu.Lock()
	attached := c.attached
	c.attached = false
	c.mu.Unlock()
	if attached && c.bus != nil {
		_ = c.bus.Unsubscribe(subscriptionID)
	}
}

// ApplySummaries installs server truth: per-conversation counts are
// replaced and the aggregate is recomputed as their sum. Any optimistic
// decrement still in flight is overwritten; that self-healing is intended.
func (c *Counter) ApplySummaries(convs []chat.Conversation) {
	c.mu.Lock()
	perConv := make(map[string]int, len(convs))
	total := 0
	for _, conv := range convs {
		if conv.UnreadCount <= 0 {
			continue
		}
		perConv[conv.ID] = conv.UnreadCount
		total += conv.UnreadCount
	}
	changed := total != c.total
	c.perConv = perConv
	c.total = total
	c.mu.Unlock()

	if changed {
		c.publish(total)
	}
}

// ClearConversation optimistically zeroes one conversation's unread count
// ahead of server confirmation and subtracts it from the aggregate, floored
// at zero. Returns the amount cleared; clearing an already-clear
// conversation is a no-op.
func (c *Counter) ClearConversation(conversationID string) int {
	c.mu.Lock()
	cleared := c.perConv[conversationID]
	if cleared == 0 {
		c.mu.Unlock()
		return 0
	}
	delete(c.perConv, conversationID)
	c.total -= cleared
	if c.total < 0 {
		c.total = 0
	}
	total := c.total
	c.mu.Unlock()

	c.publish(total)
	return cleared
}

// Total returns the aggregate unread count.
func (c *Counter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Conversation returns one conversation's unread count.
func (c *Counter) Conversation(conversationID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.perConv[conversationID]
}

func (c *Counter) publish(total int) {
	if c.bus == nil {
		return
	}
	c.bus.Publish(context.Background(), events.New(events.TypeUnreadChanged, events.EntitySession, "", total))
}
