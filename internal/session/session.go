// Package session owns the chat screen's state for one selected
// conversation: which conversation is open, who the counterparty is, the
// pending input text, and the read/send side effects that keep the rest of
// the client consistent.
package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/directory"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/logging"
	"github.com/mattisv/tradetalk/internal/msgsync"
	"github.com/mattisv/tradetalk/internal/unread"
)

// Session coordinates the open conversation. It is owned by the chat
// surface and discarded on logout.
type Session struct {
	svc    hub.Service
	dir    *directory.Cache
	sync   *msgsync.Synchronizer
	unread *unread.Counter
	bus    events.Bus
	userID string
	logger zerolog.Logger

	mu           sync.Mutex
	convID       string
	counterparty counterpartyState
	input        string
}

// New creates a session for the authenticated user.
func New(svc hub.Service, dir *directory.Cache, sync *msgsync.Synchronizer, counter *unread.Counter, bus events.Bus, userID string) *Session {
	return &Session{
		svc:    svc,
		dir:    dir,
		sync:   sync,
		unread: counter,
		bus:    bus,
		userID: userID,
		logger: logging.Component("session").With().Str("user_id", userID).Logger(),
	}
}

// UserID returns the authenticated user id.
func (s *Session) UserID() string {
	return s.userID
}

// ConversationID returns the open conversation id, empty when none.
func (s *Session) ConversationID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.convID
}

// Open selects a conversation: starts the message synchronizer, resolves
// the counterparty, and fires the read marker. Safe to call when switching
// between conversations; the previous poller is cancelled first.
func (s *Session) Open(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	// Switching between conversations discards the previous counterparty
	// and draft. Entering from the zero-conversation state keeps both: the
	// payment-flow stub and prefill are seeded before the id is known.
	if s.convID != "" && s.convID != conversationID {
		s.counterparty = counterpartyState{}
		s.input = ""
	}
	s.convID = conversationID
	s.mu.Unlock()

	// The poller outlives this call; ctx only bounds the synchronous
	// lookups below.
	s.sync.Open(conversationID)

	// Directory summary is the immediate, lowest-precedence source; the
	// detail payload refines it once fetched.
	if conv, ok := s.dir.Conversation(conversationID); ok {
		s.applyCounterparty(sourceDirectory, conv.Counterparty)
	}
	s.resolveFromDetail(ctx, conversationID)

	s.markRead(ctx, conversationID)
	return nil
}

// Close deselects the conversation and stops its poller.
func (s *Session) Close() {
	s.sync.Close()
	s.mu.Lock()
	s.convID = ""
	s.counterparty = counterpartyState{}
	s.input = ""
	s.mu.Unlock()
}

// FocusRegained handles the application window regaining focus: re-fire the
// read marker for the open conversation, and refresh the directory either
// way so both surfaces catch up. The refresh does not depend on the mark
// succeeding; focus regain is a refresh trigger in its own right.
func (s *Session) FocusRegained(ctx context.Context) {
	s.mu.Lock()
	convID := s.convID
	s.mu.Unlock()

	if convID != "" {
		s.markRead(ctx, convID)
	}
	if err := s.dir.Refresh(ctx); err != nil {
		s.logger.Debug().Err(err).Msg("focus refresh failed")
	}
}

// Messages returns the synchronized message list for the open conversation.
func (s *Session) Messages() []chat.Message {
	return s.sync.Messages()
}

// Degraded reports the synchronizer's connection indicator.
func (s *Session) Degraded() bool {
	return s.sync.Degraded()
}

// SetInput stores the pending input text.
func (s *Session) SetInput(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.input = text
}

// Input returns the pending input text.
func (s *Session) Input() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.input
}

func (s *Session) resolveFromDetail(ctx context.Context, conversationID string) {
	detail, err := s.svc.ConversationDetail(ctx, conversationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("counterparty detail fetch failed")
		s.finishResolution()
		return
	}
	s.applyCounterparty(sourceDetail, detail.Counterparty)
	s.finishResolution()
}
