package hub

import (
	"fmt"
	"strings"

	"github.com/mattisv/tradetalk/internal/chat"
)

// Wire commands understood by the hub protocol.
const (
	CmdLogin              = "login"
	CmdSummaries          = "summaries"
	CmdDetail             = "detail"
	CmdSend               = "send"
	CmdMarkRead           = "mark-read"
	CmdCreateConversation = "create-conversation"
	CmdJobOwner           = "job-owner"
)

// Wire error codes.
const (
	CodeUnauthorized = "unauthorized"
	CodeNotFound     = "not-found"
	CodeInvalid      = "invalid"
	CodeInternal     = "internal"
)

// Request is one newline-delimited JSON request on a hub connection.
type Request struct {
	Cmd   string `json:"cmd"`
	Token string `json:"token,omitempty"`

	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`

	ConversationID string `json:"conversation_id,omitempty"`
	JobID          string `json:"job_id,omitempty"`
	SenderID       string `json:"sender_id,omitempty"`
	Body           string `json:"body,omitempty"`
	PartyA         string `json:"party_a,omitempty"`
	PartyB         string `json:"party_b,omitempty"`
}

// WireError is the error half of a response envelope.
type WireError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// Response is the answer to a single Request. Exactly one payload field is
// populated depending on the command.
type Response struct {
	OK    bool       `json:"ok"`
	Error *WireError `json:"error,omitempty"`

	Credentials    *Credentials        `json:"credentials,omitempty"`
	Conversations  []chat.Conversation `json:"conversations,omitempty"`
	Detail         *Detail             `json:"detail,omitempty"`
	MessageID      string              `json:"message_id,omitempty"`
	ConversationID string              `json:"conversation_id,omitempty"`
	OwnerID        string              `json:"owner_id,omitempty"`
}

// ErrResponse builds a failed response with the given code.
func ErrResponse(code, message string, retryable bool) Response {
	return Response{OK: false, Error: &WireError{Code: code, Message: message, Retryable: retryable}}
}

func formatWireErr(err *WireError) string {
	if err == nil {
		return "unknown error"
	}
	message := strings.TrimSpace(err.Message)
	if message == "" {
		message = strings.TrimSpace(err.Code)
	}
	if message == "" {
		message = "unknown error"
	}
	if strings.TrimSpace(err.Code) == "" || strings.Contains(message, err.Code) {
		return message
	}
	return fmt.Sprintf("%s (%s)", message, err.Code)
}
