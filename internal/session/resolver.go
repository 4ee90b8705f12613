package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mattisv/tradetalk/internal/chat"
)

// Resolver errors.
var (
	ErrMissingJob      = errors.New("payment entry is missing a job id")
	ErrOwnerUnresolved = errors.New("could not determine the other party for the job")
)

// PaymentEntry carries the navigation parameters supplied when the user
// lands on chat from the payment-success flow: a job but no conversation.
type PaymentEntry struct {
	JobID            string
	CounterpartyName string
	Prefill          string
}

// EnterFromPayment resolves the payment-flow entry to a real conversation
// without creating duplicates: wait for the directory, reuse a cached
// conversation for the job if one exists, otherwise create one. The search
// runs before every create, even across re-entries, because the hub may
// already hold a conversation from a prior attempt.
//
// Returns the selected conversation id. On creation failure the session
// stays in the zero-conversation state and the error is surfaced; there is
// no retry loop.
func (s *Session) EnterFromPayment(ctx context.Context, entry PaymentEntry) (string, error) {
	jobID := strings.TrimSpace(entry.JobID)
	if jobID == "" {
		return "", ErrMissingJob
	}

	// The stub renders immediately while resolution runs; it is only
	// meaningful before a conversation id is known.
	if name := strings.TrimSpace(entry.CounterpartyName); name != "" {
		s.applyCounterparty(sourcePayment, chat.Party{DisplayName: name})
	}

	if err := s.dir.WaitLoaded(ctx); err != nil {
		return "", fmt.Errorf("waiting for conversation directory: %w", err)
	}

	if conv, ok := s.dir.FindByJob(jobID); ok {
		s.logger.Debug().Str("job_id", jobID).Str("conversation_id", conv.ID).Msg("reusing existing conversation")
		if err := s.Open(ctx, conv.ID); err != nil {
			return "", err
		}
		s.seedPrefill(entry.Prefill)
		return conv.ID, nil
	}

	counterpartyID, err := s.svc.JobOwner(ctx, jobID)
	if err != nil {
		return "", fmt.Errorf("resolving job owner: %w", err)
	}
	if counterpartyID == "" || counterpartyID == s.userID {
		return "", ErrOwnerUnresolved
	}

	convID, err := s.svc.CreateConversation(ctx, jobID, s.userID, counterpartyID)
	if err != nil {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("conversation creation failed")
		return "", fmt.Errorf("creating conversation: %w", err)
	}

	s.logger.Info().Str("job_id", jobID).Str("conversation_id", convID).Msg("conversation created")
	if err := s.Open(ctx, convID); err != nil {
		return "", err
	}
	s.seedPrefill(entry.Prefill)
	return convID, nil
}

// seedPrefill installs prefilled message text without clobbering anything
// the user already typed.
func (s *Session) seedPrefill(prefill string) {
	text := strings.TrimSpace(prefill)
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.input == "" {
		s.input = text
	}
}
