package unread

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
)

func TestCounter_ApplySummaries(t *testing.T) {
	c := NewCounter(nil)
	c.ApplySummaries([]chat.Conversation{
		{ID: "c1", UnreadCount: 4},
		{ID: "c2", UnreadCount: 5},
		{ID: "c3", UnreadCount: 0},
	})

	require.Equal(t, 9, c.Total())
	require.Equal(t, 4, c.Conversation("c1"))
	require.Equal(t, 0, c.Conversation("c3"))
}

func TestCounter_OptimisticClear(t *testing.T) {
	// Conversation c1 has 4 unread, aggregate 9. Marking c1 read must
	// immediately show 5 and stay 5 after the confirming refresh.
	c := NewCounter(nil)
	c.ApplySummaries([]chat.Conversation{
		{ID: "c1", UnreadCount: 4},
		{ID: "c2", UnreadCount: 5},
	})

	cleared := c.ClearConversation("c1")
	require.Equal(t, 4, cleared)
	require.Equal(t, 5, c.Total())
	require.Equal(t, 0, c.Conversation("c1"))

	// Clearing again is a no-op.
	require.Equal(t, 0, c.ClearConversation("c1"))
	require.Equal(t, 5, c.Total())

	// Server truth confirms: c1 now zero, aggregate recomputed as 5.
	c.ApplySummaries([]chat.Conversation{
		{ID: "c1", UnreadCount: 0},
		{ID: "c2", UnreadCount: 5},
	})
	require.Equal(t, 5, c.Total())
}

func TestCounter_FlooredAtZero(t *testing.T) {
	c := NewCounter(nil)
	c.ApplySummaries([]chat.Conversation{{ID: "c1", UnreadCount: 3}})

	require.Equal(t, 3, c.ClearConversation("c1"))
	require.Equal(t, 0, c.Total())
	require.Equal(t, 0, c.ClearConversation("c1"))
	require.Equal(t, 0, c.Total())
	require.Equal(t, 0, c.ClearConversation("never-seen"))
	require.Equal(t, 0, c.Total())
}

func TestCounter_RefreshOverwritesOptimisticValue(t *testing.T) {
	// The optimistic value is a display hint; a refresh that disagrees
	// (new messages arrived while marking) wins.
	c := NewCounter(nil)
	c.ApplySummaries([]chat.Conversation{{ID: "c1", UnreadCount: 2}})
	c.ClearConversation("c1")
	require.Equal(t, 0, c.Total())

	c.ApplySummaries([]chat.Conversation{{ID: "c1", UnreadCount: 1}})
	require.Equal(t, 1, c.Total())
	require.Equal(t, 1, c.Conversation("c1"))
}

func TestCounter_FedByDirectoryEvents(t *testing.T) {
	bus := events.NewInMemoryBus()

	changes := make(chan int, 8)
	require.NoError(t, bus.Subscribe("badge", events.Filter{
		Types: []events.Type{events.TypeUnreadChanged},
	}, func(event *events.Event) {
		total, _ := event.Payload.(int)
		changes <- total
	}))

	c := NewCounter(bus)
	defer c.Detach()

	snapshot := []chat.Conversation{
		{ID: "c1", UnreadCount: 4},
		{ID: "c2", UnreadCount: 5},
	}
	bus.Publish(context.Background(), events.New(events.TypeDirectoryRefreshed, events.EntitySession, "", snapshot))

	select {
	case total := <-changes:
		require.Equal(t, 9, total)
	case <-time.After(time.Second):
		t.Fatal("no unread.changed event")
	}
	require.Equal(t, 9, c.Total())

	c.ClearConversation("c1")
	select {
	case total := <-changes:
		require.Equal(t, 5, total)
	case <-time.After(time.Second):
		t.Fatal("no unread.changed event after clear")
	}
}

func TestCounter_NoPublishWhenAggregateUnchanged(t *testing.T) {
	bus := events.NewInMemoryBus()
	count := 0
	require.NoError(t, bus.Subscribe("badge", events.Filter{
		Types: []events.Type{events.TypeUnreadChanged},
	}, func(*events.Event) { count++ }))

	c := NewCounter(bus)
	defer c.Detach()

	c.ApplySummaries([]chat.Conversation{{ID: "c1", UnreadCount: 3}})
	c.ApplySummaries([]chat.Conversation{{ID: "c1", UnreadCount: 3}})

	require.Equal(t, 1, count)
}
