package msgsync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/hub"
)

type fakeService struct {
	hub.Service

	mu     sync.Mutex
	detail func(ctx context.Context, id string) (hub.Detail, error)
	calls  int
}

func (f *fakeService) ConversationDetail(ctx context.Context, id string) (hub.Detail, error) {
	f.mu.Lock()
	f.calls++
	fn := f.detail
	f.mu.Unlock()
	if fn == nil {
		return hub.Detail{}, nil
	}
	return fn(ctx, id)
}

func (f *fakeService) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func detailWith(msgs ...chat.Message) func(context.Context, string) (hub.Detail, error) {
	return func(ctx context.Context, id string) (hub.Detail, error) {
		return hub.Detail{
			Conversation: chat.Conversation{ID: id},
			Messages:     append([]chat.Message(nil), msgs...),
		}, nil
	}
}

func waitMessages(t *testing.T, s *Synchronizer, n int) []chat.Message {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.Messages()) == n
	}, 2*time.Second, 5*time.Millisecond)
	return s.Messages()
}

func TestSynchronizer_PollSortsAscending(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := &fakeService{detail: detailWith(
		chat.Message{ID: "m2", CreatedAt: base.Add(time.Minute)},
		chat.Message{ID: "m1", CreatedAt: base},
	)}

	s := New(svc, nil, Config{PollInterval: time.Hour})
	s.Open("c1")
	defer s.Close()

	msgs := waitMessages(t, s, 2)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)
}

func TestSynchronizer_IdenticalIDSetKeepsListReference(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := &fakeService{detail: detailWith(
		chat.Message{ID: "m1", CreatedAt: base},
		chat.Message{ID: "m2", CreatedAt: base.Add(time.Second)},
	)}

	s := New(svc, nil, Config{PollInterval: 10 * time.Millisecond})
	s.Open("c1")
	defer s.Close()

	first := waitMessages(t, s, 2)

	// Let several more polls complete.
	initial := svc.callCount()
	require.Eventually(t, func() bool {
		return svc.callCount() >= initial+3
	}, 2*time.Second, 5*time.Millisecond)

	second := s.Messages()
	require.Same(t, &first[0], &second[0], "identical poll replaced the list")
}

func TestSynchronizer_ChangedSetReplacesList(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := &fakeService{detail: detailWith(chat.Message{ID: "m1", CreatedAt: base})}

	bus := events.NewInMemoryBus()
	updated := make(chan struct{}, 8)
	require.NoError(t, bus.Subscribe("test", events.Filter{
		Types: []events.Type{events.TypeMessagesUpdated},
	}, func(*events.Event) { updated <- struct{}{} }))

	s := New(svc, bus, Config{PollInterval: time.Hour})
	s.Open("c1")
	defer s.Close()

	waitMessages(t, s, 1)
	<-updated

	svc.mu.Lock()
	svc.detail = detailWith(
		chat.Message{ID: "m1", CreatedAt: base},
		chat.Message{ID: "m2", CreatedAt: base.Add(time.Second)},
	)
	svc.mu.Unlock()

	require.NoError(t, s.PollNow())
	msgs := waitMessages(t, s, 2)
	require.Equal(t, "m2", msgs[1].ID)

	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("no messages.updated event after replace")
	}
}

func TestSynchronizer_EmptyHistoryPublishesOnce(t *testing.T) {
	svc := &fakeService{detail: detailWith()}

	bus := events.NewInMemoryBus()
	updated := make(chan struct{}, 16)
	require.NoError(t, bus.Subscribe("test", events.Filter{
		Types: []events.Type{events.TypeMessagesUpdated},
	}, func(*events.Event) { updated <- struct{}{} }))

	s := New(svc, bus, Config{PollInterval: 5 * time.Millisecond})
	s.Open("c1")
	defer s.Close()

	// The first poll announces the loaded, empty history.
	select {
	case <-updated:
	case <-time.After(time.Second):
		t.Fatal("no messages.updated event for the initial empty poll")
	}

	// Further identical empty polls are repeats and stay silent.
	initial := svc.callCount()
	require.Eventually(t, func() bool {
		return svc.callCount() >= initial+3
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-updated:
		t.Fatal("identical empty poll republished messages.updated")
	default:
	}
}

func TestSynchronizer_FailedPollRetainsList(t *testing.T) {
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := &fakeService{detail: detailWith(chat.Message{ID: "m1", CreatedAt: base})}

	s := New(svc, nil, Config{PollInterval: time.Hour})
	s.Open("c1")
	defer s.Close()

	waitMessages(t, s, 1)

	svc.mu.Lock()
	svc.detail = func(context.Context, string) (hub.Detail, error) {
		return hub.Detail{}, hub.ErrUnavailable
	}
	svc.mu.Unlock()

	require.NoError(t, s.PollNow())
	require.Eventually(t, func() bool {
		return svc.callCount() >= 2
	}, time.Second, 5*time.Millisecond)

	require.Len(t, s.Messages(), 1, "failed poll cleared the list")
}

func TestSynchronizer_DegradedAfterConsecutiveFailures(t *testing.T) {
	svc := &fakeService{detail: func(context.Context, string) (hub.Detail, error) {
		return hub.Detail{}, hub.ErrUnavailable
	}}

	bus := events.NewInMemoryBus()
	degraded := make(chan bool, 8)
	require.NoError(t, bus.Subscribe("test", events.Filter{
		Types: []events.Type{events.TypeSyncDegraded},
	}, func(event *events.Event) {
		state, _ := event.Payload.(bool)
		degraded <- state
	}))

	s := New(svc, bus, Config{PollInterval: 5 * time.Millisecond, FailureThreshold: 3})
	s.Open("c1")
	defer s.Close()

	select {
	case state := <-degraded:
		require.True(t, state)
	case <-time.After(2 * time.Second):
		t.Fatal("degraded indicator never raised")
	}
	require.True(t, s.Degraded())

	// One success clears it.
	svc.mu.Lock()
	svc.detail = detailWith(chat.Message{ID: "m1"})
	svc.mu.Unlock()

	select {
	case state := <-degraded:
		require.False(t, state)
	case <-time.After(2 * time.Second):
		t.Fatal("degraded indicator never cleared")
	}
	require.False(t, s.Degraded())
}

func TestSynchronizer_CloseCancelsPolling(t *testing.T) {
	svc := &fakeService{detail: detailWith()}
	s := New(svc, nil, Config{PollInterval: 5 * time.Millisecond})

	s.Open("c1")
	require.Eventually(t, func() bool {
		return svc.callCount() >= 1
	}, time.Second, time.Millisecond)

	s.Close()
	require.Empty(t, s.ConversationID())
	require.Error(t, s.PollNow())

	settled := svc.callCount()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, settled, svc.callCount(), "polling continued after Close")
}

func TestSynchronizer_ReopenSwitchesConversation(t *testing.T) {
	svc := &fakeService{detail: func(ctx context.Context, id string) (hub.Detail, error) {
		return hub.Detail{Messages: []chat.Message{{ID: "msg-" + id}}}, nil
	}}

	s := New(svc, nil, Config{PollInterval: time.Hour})
	s.Open("c1")
	waitMessages(t, s, 1)
	require.Equal(t, "c1", s.ConversationID())

	s.Open("c2")
	defer s.Close()
	require.Equal(t, "c2", s.ConversationID())
	require.Eventually(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 1 && msgs[0].ID == "msg-c2"
	}, 2*time.Second, 5*time.Millisecond)
}
