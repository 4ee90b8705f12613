// Package chat defines the conversation and message model shared by the
// tradetalk client and the hub daemon.
package chat

import (
	"errors"
	"sort"
	"strings"
	"time"
)

const (
	// MaxBodyBytes is the maximum accepted message body size.
	MaxBodyBytes = 64 * 1024
)

// Model errors.
var (
	ErrEmptyBody       = errors.New("message body is empty")
	ErrBodyTooLarge    = errors.New("message body exceeds size limit")
	ErrMissingID       = errors.New("identifier is required")
	ErrMissingSender   = errors.New("sender is required")
	ErrMissingJobID    = errors.New("job id is required")
	ErrUnknownRole     = errors.New("unknown party role")
	ErrNegativeUnread  = errors.New("unread count cannot be negative")
)

// Role identifies which side of a job a party is on.
type Role string

const (
	RoleHomeowner Role = "homeowner"
	RoleTrader    Role = "trader"
)

// Valid reports whether the role is one of the known values.
func (r Role) Valid() bool {
	return r == RoleHomeowner || r == RoleTrader
}

// Party is one participant in a conversation, as seen by the other side.
type Party struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	Role        Role   `json:"role,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

// Empty reports whether the party carries no identity at all.
func (p Party) Empty() bool {
	return strings.TrimSpace(p.ID) == "" && strings.TrimSpace(p.DisplayName) == ""
}

// Conversation is the directory summary of one conversation.
type Conversation struct {
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	Counterparty   Party     `json:"counterparty"`
	UnreadCount    int       `json:"unread_count"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// Validate checks directory invariants on a summary.
func (c Conversation) Validate() error {
	if strings.TrimSpace(c.ID) == "" {
		return ErrMissingID
	}
	if c.UnreadCount < 0 {
		return ErrNegativeUnread
	}
	return nil
}

// Attachment references an uploaded file on a message. Upload mechanics live
// outside this client; only the reference travels on the wire.
type Attachment struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Message is a single chat message. Messages are append-only from the
// client's perspective and are never mutated after creation.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversation_id"`
	SenderID       string       `json:"sender_id"`
	Body           string       `json:"body"`
	CreatedAt      time.Time    `json:"created_at"`
	Attachments    []Attachment `json:"attachments,omitempty"`
}

// Validate checks storage invariants on a message.
func (m Message) Validate() error {
	if strings.TrimSpace(m.ID) == "" || strings.TrimSpace(m.ConversationID) == "" {
		return ErrMissingID
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return ErrMissingSender
	}
	return ValidateBody(m.Body)
}

// ValidateBody checks an outgoing message body.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}
	if len(body) > MaxBodyBytes {
		return ErrBodyTooLarge
	}
	return nil
}

// SortMessages orders messages ascending by creation time, with ties broken
// by id so repeated sorts of the same set are deterministic.
func SortMessages(msgs []Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID < msgs[j].ID
	})
}

// SameIDSet reports whether two message lists contain exactly the same ids,
// regardless of order. Used to decide whether a poll result changes anything.
func SameIDSet(a, b []Message) bool {
	if len(a) != len(b) {
		return false
	}
	ids := make(map[string]int, len(a))
	for _, m := range a {
		ids[m.ID]++
	}
	for _, m := range b {
		if ids[m.ID] == 0 {
			return false
		}
		ids[m.ID]--
	}
	return true
}

// FindByJob returns the first conversation associated with the given job id.
func FindByJob(convs []Conversation, jobID string) (Conversation, bool) {
	for _, c := range convs {
		if c.JobID == jobID {
			return c, true
		}
	}
	return Conversation{}, false
}

// TotalUnread sums the per-conversation unread counts.
func TotalUnread(convs []Conversation) int {
	total := 0
	for _, c := range convs {
		if c.UnreadCount > 0 {
			total += c.UnreadCount
		}
	}
	return total
}
