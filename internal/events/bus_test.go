package events

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
)

func TestFilter_Matches(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		event  *Event
		want   bool
	}{
		{
			name:   "empty filter matches any event",
			filter: Filter{},
			event:  New(TypeUnreadChanged, EntitySession, "s1", nil),
			want:   true,
		},
		{
			name:   "nil event returns false",
			filter: Filter{},
			event:  nil,
			want:   false,
		},
		{
			name:   "type filter matches",
			filter: Filter{Types: []Type{TypeMessagesUpdated}},
			event:  New(TypeMessagesUpdated, EntityConversation, "c1", nil),
			want:   true,
		},
		{
			name:   "type filter rejects non-matching",
			filter: Filter{Types: []Type{TypeMessagesUpdated}},
			event:  New(TypeConversationRead, EntityConversation, "c1", nil),
			want:   false,
		},
		{
			name: "multiple types - matches any",
			filter: Filter{
				Types: []Type{TypeMessageSent, TypeConversationRead},
			},
			event: New(TypeConversationRead, EntityConversation, "c1", nil),
			want:  true,
		},
		{
			name:   "entity type filter rejects",
			filter: Filter{EntityTypes: []EntityType{EntityUser}},
			event:  New(TypeDirectoryRefreshed, EntitySession, "s1", nil),
			want:   false,
		},
		{
			name:   "entity id filter matches",
			filter: Filter{EntityID: "c2"},
			event:  New(TypeMessagesUpdated, EntityConversation, "c2", nil),
			want:   true,
		},
		{
			name:   "entity id filter rejects",
			filter: Filter{EntityID: "c2"},
			event:  New(TypeMessagesUpdated, EntityConversation, "c3", nil),
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter.Matches(tt.event); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestBus_PublishSubscribe(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var got atomic.Int32
	err := bus.Subscribe("badge", Filter{Types: []Type{TypeUnreadChanged}}, func(event *Event) {
		got.Add(1)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(ctx, New(TypeUnreadChanged, EntitySession, "s1", 5))
	bus.Publish(ctx, New(TypeMessageSent, EntityConversation, "c1", nil))

	if got.Load() != 1 {
		t.Fatalf("expected 1 delivery, got %d", got.Load())
	}
}

func TestBus_SubscribeErrors(t *testing.T) {
	bus := NewInMemoryBus()

	if err := bus.Subscribe("", Filter{}, func(*Event) {}); err != ErrInvalidSubscriptionID {
		t.Fatalf("expected ErrInvalidSubscriptionID, got %v", err)
	}
	if err := bus.Subscribe("x", Filter{}, nil); err != ErrNilHandler {
		t.Fatalf("expected ErrNilHandler, got %v", err)
	}
	if err := bus.Subscribe("x", Filter{}, func(*Event) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Subscribe("x", Filter{}, func(*Event) {}); err != ErrSubscriptionExists {
		t.Fatalf("expected ErrSubscriptionExists, got %v", err)
	}
	if err := bus.Unsubscribe("x"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := bus.Unsubscribe("x"); err != ErrSubscriptionNotFound {
		t.Fatalf("expected ErrSubscriptionNotFound, got %v", err)
	}
}

func TestBus_HandlerMaySubscribeDuringPublish(t *testing.T) {
	bus := NewInMemoryBus()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	err := bus.Subscribe("outer", Filter{}, func(event *Event) {
		defer wg.Done()
		// Re-entrant call must not deadlock.
		_ = bus.Subscribe("inner", Filter{}, func(*Event) {})
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	bus.Publish(ctx, New(TypeAuthChanged, EntityUser, "u1", nil))
	wg.Wait()

	if bus.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", bus.SubscriberCount())
	}
}
