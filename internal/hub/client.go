package hub

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/mattisv/tradetalk/internal/chat"
)

const (
	// DefaultAddr is where a locally running hub daemon listens.
	DefaultAddr = "127.0.0.1:7621"

	defaultDialTimeout    = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second

	// maxLineBytes caps a single response line; a detail payload carries at
	// most a full history of size-capped messages.
	maxLineBytes = 8 * 1024 * 1024
)

// ClientConfig configures a hub client.
type ClientConfig struct {
	Addr           string
	DialTimeout    time.Duration
	RequestTimeout time.Duration
}

// Client talks the hub wire protocol over TCP, one dial per request.
// A request/response pair per connection keeps the client free of stream
// state; calls may be issued concurrently from independent pollers.
type Client struct {
	addr           string
	dialTimeout    time.Duration
	requestTimeout time.Duration

	mu    sync.RWMutex
	creds Credentials
}

// NewClient creates a hub client. The client is unauthenticated until
// Login succeeds or SetCredentials is called with a stored token.
func NewClient(cfg ClientConfig) *Client {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = defaultDialTimeout
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = defaultRequestTimeout
	}
	return &Client{
		addr:           addr,
		dialTimeout:    dialTimeout,
		requestTimeout: requestTimeout,
	}
}

// SetCredentials installs a previously obtained session.
func (c *Client) SetCredentials(creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

// Credentials returns the current session credentials.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// UserID returns the authenticated user id, empty when logged out.
func (c *Client) UserID() string {
	return c.Credentials().UserID
}

// Login exchanges credentials for a session token and installs it.
func (c *Client) Login(ctx context.Context, email, password string) (Credentials, error) {
	resp, err := c.do(ctx, Request{Cmd: CmdLogin, Email: email, Password: password})
	if err != nil {
		return Credentials{}, err
	}
	if resp.Credentials == nil {
		return Credentials{}, fmt.Errorf("%w: login response missing credentials", ErrUnavailable)
	}
	c.SetCredentials(*resp.Credentials)
	return *resp.Credentials, nil
}

// ConversationSummaries lists the authenticated user's conversations.
// A payload that violates directory invariants is rejected here rather
// than poisoning the caches downstream.
func (c *Client) ConversationSummaries(ctx context.Context) ([]chat.Conversation, error) {
	resp, err := c.do(ctx, Request{Cmd: CmdSummaries})
	if err != nil {
		return nil, err
	}
	for _, conv := range resp.Conversations {
		if err := conv.Validate(); err != nil {
			return nil, fmt.Errorf("%w: summary %q: %v", ErrUnavailable, conv.ID, err)
		}
	}
	return resp.Conversations, nil
}

// ConversationDetail fetches one conversation with its full history.
func (c *Client) ConversationDetail(ctx context.Context, conversationID string) (Detail, error) {
	resp, err := c.do(ctx, Request{Cmd: CmdDetail, ConversationID: conversationID})
	if err != nil {
		return Detail{}, err
	}
	if resp.Detail == nil {
		return Detail{}, fmt.Errorf("%w: detail response missing payload", ErrUnavailable)
	}
	return *resp.Detail, nil
}

// SendMessage posts a message and returns the server-assigned id.
func (c *Client) SendMessage(ctx context.Context, conversationID, senderID, body string) (string, error) {
	resp, err := c.do(ctx, Request{
		Cmd:            CmdSend,
		ConversationID: conversationID,
		SenderID:       senderID,
		Body:           body,
	})
	if err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

// MarkRead tells the server the conversation has been seen.
func (c *Client) MarkRead(ctx context.Context, conversationID string) error {
	_, err := c.do(ctx, Request{Cmd: CmdMarkRead, ConversationID: conversationID})
	return err
}

// CreateConversation creates or returns the conversation for a job between
// two parties.
func (c *Client) CreateConversation(ctx context.Context, jobID, partyA, partyB string) (string, error) {
	resp, err := c.do(ctx, Request{
		Cmd:    CmdCreateConversation,
		JobID:  jobID,
		PartyA: partyA,
		PartyB: partyB,
	})
	if err != nil {
		return "", err
	}
	return resp.ConversationID, nil
}

// JobOwner resolves the owning party of a job.
func (c *Client) JobOwner(ctx context.Context, jobID string) (string, error) {
	resp, err := c.do(ctx, Request{Cmd: CmdJobOwner, JobID: jobID})
	if err != nil {
		return "", err
	}
	return resp.OwnerID, nil
}

func (c *Client) do(ctx context.Context, req Request) (Response, error) {
	if req.Token == "" && req.Cmd != CmdLogin {
		req.Token = c.Credentials().Token
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	conn, err := c.dial(ctx)
	if err != nil {
		return Response{}, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, c.addr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	writer := bufio.NewWriter(conn)
	if err := writeJSONLine(writer, req); err != nil {
		return Response{}, fmt.Errorf("%w: write: %v", ErrUnavailable, err)
	}

	reader := bufio.NewReader(conn)
	line, err := readLine(reader)
	if err != nil {
		if ctx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
		}
		return Response{}, fmt.Errorf("%w: read: %v", ErrUnavailable, err)
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, fmt.Errorf("%w: invalid hub response: %v", ErrUnavailable, err)
	}
	if !resp.OK {
		return Response{}, wireToErr(resp.Error)
	}
	return resp, nil
}

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.dialTimeout}
	return dialer.DialContext(ctx, "tcp", c.addr)
}

func wireToErr(werr *WireError) error {
	if werr == nil {
		return fmt.Errorf("%w: request rejected", ErrUnavailable)
	}
	msg := formatWireErr(werr)
	switch werr.Code {
	case CodeUnauthorized:
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case CodeInvalid:
		return fmt.Errorf("%w: %s", ErrInvalid, msg)
	default:
		if werr.Retryable {
			return fmt.Errorf("%w: %s", ErrUnavailable, msg)
		}
		return errors.New(msg)
	}
}

func writeJSONLine(writer *bufio.Writer, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	if err := writer.WriteByte('\n'); err != nil {
		return err
	}
	return writer.Flush()
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	line, err := reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, io.EOF) && len(line) > 0 {
			return bytes.TrimSpace(line), nil
		}
		return nil, err
	}
	if len(line) > maxLineBytes {
		return nil, fmt.Errorf("hub line too long")
	}
	return bytes.TrimSpace(line), nil
}

var _ Service = (*Client)(nil)
