// Package msgsync keeps the visible message list for the open conversation
// consistent with the hub by fixed-interval polling. The model is full
// replace, not incremental merge: a poll result either matches the displayed
// id set (and is discarded to avoid churn) or replaces the list wholesale.
package msgsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/logging"
)

const (
	// DefaultPollInterval is the message poll cadence while a conversation
	// is open.
	DefaultPollInterval = 3 * time.Second

	// DefaultFailureThreshold is how many consecutive failed polls flag the
	// connection as degraded.
	DefaultFailureThreshold = 3
)

// ErrNoConversation is returned by PollNow when nothing is open.
var ErrNoConversation = errors.New("no open conversation")

// Config contains configuration for the synchronizer.
type Config struct {
	// PollInterval is how often the open conversation is polled. Default: 3s.
	PollInterval time.Duration

	// FailureThreshold is the consecutive-failure count that raises the
	// degraded indicator. Default: 3.
	FailureThreshold int
}

// Synchronizer polls one conversation at a time. Opening a different
// conversation or closing the screen cancels the running timer immediately
// so no orphaned poll mutates state for a no-longer-visible view.
type Synchronizer struct {
	svc    hub.Service
	bus    events.Bus
	cfg    Config
	logger zerolog.Logger

	mu       sync.Mutex
	convID   string
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	messages []chat.Message
	polled   bool
	failures int
	degraded bool
	pollNow  chan struct{}
}

// New creates a synchronizer.
func New(svc hub.Service, bus events.Bus, cfg Config) *Synchronizer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	return &Synchronizer{
		svc:    svc,
		bus:    bus,
		cfg:    cfg,
		logger: logging.Component("msgsync"),
	}
}

// Open starts polling the given conversation, replacing any previous one.
// The first poll is issued immediately. The poll loop's lifetime is owned
// by the synchronizer, not the caller: it runs until Close or a later Open.
func (s *Synchronizer) Open(conversationID string) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	s.convID = conversationID
	s.cancel = cancel
	s.messages = nil
	s.polled = false
	s.failures = 0
	s.degraded = false
	s.pollNow = make(chan struct{}, 1)
	pollNow := s.pollNow
	s.mu.Unlock()

	s.logger.Debug().Str("conversation_id", conversationID).Msg("synchronizer opened")

	s.wg.Add(1)
	go s.runLoop(loopCtx, conversationID, pollNow)
}

// Close stops polling and clears the open conversation.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.convID = ""
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

// ConversationID returns the currently open conversation, empty when closed.
func (s *Synchronizer) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// PollNow schedules an immediate out-of-band poll, used after a send.
func (s *Synchronizer) PollNow() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return ErrNoConversation
	}
	select {
	case s.pollNow <- struct{}{}:
	default:
		// A poll is already pending.
	}
	return nil
}

// Messages returns the currently displayed list. The slice reference is
// stable across polls that return an identical id set.
func (s *Synchronizer) Messages() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messages
}

// Degraded reports whether consecutive poll failures crossed the threshold.
func (s *Synchronizer) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

func (s *Synchronizer) runLoop(ctx context.Context, conversationID string, pollNow <-chan struct{}) {
	defer s.wg.Done()

	s.poll(ctx, conversationID)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.poll(ctx, conversationID)
		case <-pollNow:
			s.poll(ctx, conversationID)
		}
	}
}

// poll fetches the full history once and applies the diff rule.
func (s *Synchronizer) poll(ctx context.Context, conversationID string) {
	detail, err := s.svc.ConversationDetail(ctx, conversationID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		s.recordFailure(ctx, conversationID, err)
		return
	}

	msgs := append([]chat.Message(nil), detail.Messages...)
	chat.SortMessages(msgs)

	s.mu.Lock()
	if s.convID != conversationID {
		// Conversation changed while the fetch was in flight.
		s.mu.Unlock()
		return
	}
	s.failures = 0
	wasDegraded := s.degraded
	s.degraded = false

	// The polled flag, not a nil check, decides whether a matching id set
	// is a repeat: an empty history is also a valid baseline to hold.
	if s.polled && chat.SameIDSet(s.messages, msgs) {
		s.mu.Unlock()
		if wasDegraded {
			s.publishDegraded(ctx, conversationID, false)
		}
		return
	}
	s.messages = msgs
	s.polled = true
	s.mu.Unlock()

	if wasDegraded {
		s.publishDegraded(ctx, conversationID, false)
	}
	if s.bus != nil {
		s.bus.Publish(ctx, events.New(events.TypeMessagesUpdated, events.EntityConversation, conversationID, len(msgs)))
	}
}

func (s *Synchronizer) recordFailure(ctx context.Context, conversationID string, err error) {
	s.mu.Lock()
	if s.convID != conversationID {
		s.mu.Unlock()
		return
	}
	s.failures++
	crossed := !s.degraded && s.failures >= s.cfg.FailureThreshold
	if crossed {
		s.degraded = true
	}
	failures := s.failures
	s.mu.Unlock()

	s.logger.Warn().Err(err).
		Str("conversation_id", conversationID).
		Int("consecutive_failures", failures).
		Msg("message poll failed")

	if crossed {
		s.publishDegraded(ctx, conversationID, true)
	}
}

func (s *Synchronizer) publishDegraded(ctx context.Context, conversationID string, degraded bool) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, events.New(events.TypeSyncDegraded, events.EntityConversation, conversationID, degraded))
}
