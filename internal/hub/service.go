// Package hub defines the remote message service consumed by the tradetalk
// client: conversation summaries, per-conversation history, send, mark-read
// and conversation creation. The transport is a collaborator; everything in
// the sync engine depends on the Service interface, not on the wire client.
package hub

import (
	"context"
	"errors"

	"github.com/mattisv/tradetalk/internal/chat"
)

// Service errors. ErrUnavailable marks transient network/server failures
// that the engine logs and retries on the next natural trigger.
var (
	ErrUnauthorized = errors.New("hub: unauthorized")
	ErrNotFound     = errors.New("hub: not found")
	ErrInvalid      = errors.New("hub: invalid request")
	ErrUnavailable  = errors.New("hub: service unavailable")
)

// Credentials identify an authenticated session.
type Credentials struct {
	UserID string `json:"user_id"`
	Token  string `json:"token"`
}

// Detail is the full payload for one conversation.
type Detail struct {
	Conversation chat.Conversation `json:"conversation"`
	Counterparty chat.Party        `json:"counterparty"`
	Messages     []chat.Message    `json:"messages"`
}

// Service is the remote message service surface.
type Service interface {
	// Login exchanges credentials for a session token.
	Login(ctx context.Context, email, password string) (Credentials, error)

	// ConversationSummaries lists the authenticated user's conversations.
	ConversationSummaries(ctx context.Context) ([]chat.Conversation, error)

	// ConversationDetail fetches one conversation with its full history.
	ConversationDetail(ctx context.Context, conversationID string) (Detail, error)

	// SendMessage posts a message and returns the server-assigned id.
	SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error)

	// MarkRead tells the server the conversation has been seen.
	MarkRead(ctx context.Context, conversationID string) error

	// CreateConversation creates the conversation for a job between two
	// parties, or returns the existing one (at most one conversation per
	// (job, homeowner, trader) exists server-side).
	CreateConversation(ctx context.Context, jobID, partyA, partyB string) (string, error)

	// JobOwner resolves the owning party of a job. Used by the resolver
	// when the creating party is not the job owner.
	JobOwner(ctx context.Context, jobID string) (string, error)
}

// IsTransient reports whether an error should be treated as a transient
// failure: retained state, log-and-retry on the next tick.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
