package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
)

// ErrNoOpenConversation is returned by Send when nothing is selected.
var ErrNoOpenConversation = errors.New("no open conversation")

// Send submits the pending input text as a message. On success the input is
// cleared and an immediate re-poll reconciles the visible list with the
// server's authoritative history; there is no optimistic local append. On
// failure the input is retained so the user can retry, and the error is
// surfaced for a toast.
func (s *Session) Send(ctx context.Context) error {
	s.mu.Lock()
	convID := s.convID
	body := s.input
	s.mu.Unlock()

	if convID == "" {
		return ErrNoOpenConversation
	}
	if err := chat.ValidateBody(body); err != nil {
		return err
	}

	messageID, err := s.svc.SendMessage(ctx, convID, s.userID, body)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversation_id", convID).Msg("send failed")
		return fmt.Errorf("sending message: %w", err)
	}

	s.mu.Lock()
	// Only clear if the user has not re-edited mid-flight.
	if s.input == body {
		s.input = ""
	}
	s.mu.Unlock()

	if err := s.sync.PollNow(); err != nil {
		s.logger.Debug().Err(err).Msg("post-send poll skipped")
	}

	s.logger.Debug().
		Str("conversation_id", convID).
		Str("message_id", messageID).
		Msg("message sent")

	if s.bus != nil {
		s.bus.Publish(ctx, events.New(events.TypeMessageSent, events.EntityConversation, convID, messageID))
	}
	return nil
}
