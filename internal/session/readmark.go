package session

import (
	"context"

	"github.com/mattisv/tradetalk/internal/events"
)

// markRead tells the hub the conversation has been seen and applies the
// local unread effect. Fired when a conversation becomes the open one and
// when the window regains focus. Idempotent: marking an already-read
// conversation clears nothing.
//
// On failure it logs and moves on; the next open or focus retries
// naturally, and the UI is never blocked on the acknowledgement.
func (s *Session) markRead(ctx context.Context, conversationID string) {
	if err := s.svc.MarkRead(ctx, conversationID); err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", conversationID).Msg("mark read failed")
		return
	}

	// Optimistic: drop this conversation's last-known unread count from
	// the badge before the next refresh confirms it.
	cleared := s.unread.ClearConversation(conversationID)
	s.logger.Debug().
		Str("conversation_id", conversationID).
		Int("cleared", cleared).
		Msg("conversation marked read")

	if s.bus != nil {
		s.bus.Publish(ctx, events.New(events.TypeConversationRead, events.EntityConversation, conversationID, cleared))
	}
}
