// Package hubd implements a development hub daemon speaking the tradetalk
// wire protocol: newline-delimited JSON over TCP, backed by sqlite. It
// exists so the client can be run and integration-tested without the
// production service.
package hubd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/logging"
)

// DefaultPort is the port the daemon binds when none is configured.
const DefaultPort = 7621

const maxRequestBytes = 1 << 20

// Options tune daemon construction.
type Options struct {
	// ListenAddr overrides the configured listen address.
	ListenAddr string

	// DatabasePath overrides the configured database path.
	DatabasePath string

	// Seed populates demo users and jobs on startup.
	Seed bool
}

// Daemon is the hub daemon: a TCP listener, one goroutine per connection,
// all state in the store.
type Daemon struct {
	cfg    *config.Config
	logger zerolog.Logger
	opts   Options
	store  *Store

	mu       sync.Mutex
	listener net.Listener
}

// New constructs a daemon and opens its database.
func New(cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}

	dbPath := opts.DatabasePath
	if dbPath == "" {
		dbPath = cfg.DatabasePath()
	}

	store, err := OpenStore(dbPath, cfg.Daemon.BusyTimeoutMs)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:    cfg,
		logger: logger,
		opts:   opts,
		store:  store,
	}

	if opts.Seed {
		if err := d.seed(context.Background()); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	return d, nil
}

// Store exposes the daemon's store, used by tests and the seed command.
func (d *Daemon) Store() *Store {
	return d.store
}

// Close releases the daemon's resources.
func (d *Daemon) Close() error {
	return d.store.Close()
}

func (d *Daemon) bindAddr() string {
	if d.opts.ListenAddr != "" {
		return d.opts.ListenAddr
	}
	if d.cfg.Daemon.ListenAddr != "" {
		return d.cfg.Daemon.ListenAddr
	}
	return fmt.Sprintf("127.0.0.1:%d", DefaultPort)
}

// Run listens and serves until the context is canceled.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.bindAddr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.bindAddr(), err)
	}

	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	d.logger.Info().Str("addr", listener.Addr().String()).Msg("hub daemon listening")

	var wg sync.WaitGroup
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = listener.Close()
		case <-done:
		}
	}()
	defer close(done)

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				wg.Wait()
				return nil
			}
			d.logger.Warn().Err(err).Msg("accept failed")
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleConn(ctx, conn)
		}()
	}
}

// Addr returns the bound listener address, or empty before Run.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

func (d *Daemon) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()
	defer close(done)

	reader := bufio.NewReader(conn)
	for {
		line, err := readLine(reader)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				d.logger.Debug().Err(err).Msg("connection read failed")
			}
			return
		}
		if len(line) == 0 {
			continue
		}

		var req hub.Request
		if err := json.Unmarshal(line, &req); err != nil {
			// Raw lines can carry passwords and tokens.
			d.logger.Debug().Str("line", logging.Redact(string(line))).Msg("malformed request")
			d.writeResponse(conn, hub.ErrResponse(hub.CodeInvalid, "malformed request", false))
			continue
		}

		d.logger.Debug().Str("cmd", req.Cmd).Msg("request")
		resp := d.dispatch(ctx, req)
		if err := d.writeResponse(conn, resp); err != nil {
			return
		}
	}
}

func (d *Daemon) writeResponse(conn net.Conn, resp hub.Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = conn.Write(data)
	return err
}

func readLine(reader *bufio.Reader) ([]byte, error) {
	var buf []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		if len(buf) > maxRequestBytes {
			return nil, errors.New("request line too long")
		}
		if !isPrefix {
			return buf, nil
		}
	}
}

func (d *Daemon) dispatch(ctx context.Context, req hub.Request) hub.Response {
	if req.Cmd == hub.CmdLogin {
		return d.handleLogin(ctx, req)
	}

	userID, err := d.store.UserIDForToken(ctx, req.Token)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) || errors.Is(err, ErrSessionExpired) {
			return hub.ErrResponse(hub.CodeUnauthorized, "session invalid or expired", false)
		}
		return d.internalError(err)
	}

	switch req.Cmd {
	case hub.CmdSummaries:
		return d.handleSummaries(ctx, userID)
	case hub.CmdDetail:
		return d.handleDetail(ctx, userID, req)
	case hub.CmdSend:
		return d.handleSend(ctx, userID, req)
	case hub.CmdMarkRead:
		return d.handleMarkRead(ctx, userID, req)
	case hub.CmdCreateConversation:
		return d.handleCreateConversation(ctx, userID, req)
	case hub.CmdJobOwner:
		return d.handleJobOwner(ctx, req)
	default:
		return hub.ErrResponse(hub.CodeInvalid, fmt.Sprintf("unknown command %q", req.Cmd), false)
	}
}

func (d *Daemon) handleLogin(ctx context.Context, req hub.Request) hub.Response {
	userID, token, err := d.store.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrBadCredentials) {
			return hub.ErrResponse(hub.CodeUnauthorized, "invalid email or password", false)
		}
		return d.internalError(err)
	}
	return hub.Response{OK: true, Credentials: &hub.Credentials{UserID: userID, Token: token}}
}

func (d *Daemon) handleSummaries(ctx context.Context, userID string) hub.Response {
	summaries, err := d.store.SummariesForUser(ctx, userID)
	if err != nil {
		return d.internalError(err)
	}
	return hub.Response{OK: true, Conversations: summaries}
}

func (d *Daemon) handleDetail(ctx context.Context, userID string, req hub.Request) hub.Response {
	row, err := d.store.conversationByID(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, ErrConvNotFound) {
			return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
		}
		return d.internalError(err)
	}

	otherID, ok := row.counterpartyOf(userID)
	if !ok {
		return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
	}

	other, err := d.store.UserByID(ctx, otherID)
	if err != nil {
		return d.internalError(err)
	}
	messages, err := d.store.MessagesFor(ctx, row.ID)
	if err != nil {
		return d.internalError(err)
	}

	jobTitle := ""
	summaries, err := d.store.SummariesForUser(ctx, userID)
	if err != nil {
		return d.internalError(err)
	}
	detail := hub.Detail{Messages: messages}
	for _, summary := range summaries {
		if summary.ID == row.ID {
			detail.Conversation = summary
			jobTitle = summary.Counterparty.JobTitle
			break
		}
	}

	detail.Counterparty = chat.Party{
		ID:          other.ID,
		DisplayName: other.DisplayName,
		AvatarURL:   other.AvatarURL,
		Role:        other.Role,
		JobTitle:    jobTitle,
		Phone:       other.Phone,
	}
	return hub.Response{OK: true, Detail: &detail}
}

func (d *Daemon) handleSend(ctx context.Context, userID string, req hub.Request) hub.Response {
	if err := chat.ValidateBody(req.Body); err != nil {
		return hub.ErrResponse(hub.CodeInvalid, err.Error(), false)
	}

	row, err := d.store.conversationByID(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, ErrConvNotFound) {
			return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
		}
		return d.internalError(err)
	}
	if _, ok := row.counterpartyOf(userID); !ok {
		return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
	}

	msg := chat.Message{
		ID:             uuid.NewString(),
		ConversationID: row.ID,
		SenderID:       userID,
		Body:           req.Body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := d.store.InsertMessage(ctx, msg); err != nil {
		return d.internalError(err)
	}
	convLog := logging.WithConversation(row.ID)
	convLog.Debug().Str("message_id", msg.ID).Msg("message stored")
	return hub.Response{OK: true, MessageID: msg.ID}
}

func (d *Daemon) handleMarkRead(ctx context.Context, userID string, req hub.Request) hub.Response {
	row, err := d.store.conversationByID(ctx, req.ConversationID)
	if err != nil {
		if errors.Is(err, ErrConvNotFound) {
			return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
		}
		return d.internalError(err)
	}
	if _, ok := row.counterpartyOf(userID); !ok {
		return hub.ErrResponse(hub.CodeNotFound, "conversation not found", false)
	}

	if err := d.store.MarkRead(ctx, row.ID, userID, time.Now()); err != nil {
		return d.internalError(err)
	}
	return hub.Response{OK: true}
}

func (d *Daemon) handleCreateConversation(ctx context.Context, userID string, req hub.Request) hub.Response {
	jobID := strings.TrimSpace(req.JobID)
	if jobID == "" {
		return hub.ErrResponse(hub.CodeInvalid, chat.ErrMissingJobID.Error(), false)
	}

	partyA := strings.TrimSpace(req.PartyA)
	partyB := strings.TrimSpace(req.PartyB)
	if partyA == "" || partyB == "" || partyA == partyB {
		return hub.ErrResponse(hub.CodeInvalid, "two distinct parties are required", false)
	}
	if userID != partyA && userID != partyB {
		return hub.ErrResponse(hub.CodeInvalid, "creator must be a party", false)
	}

	ownerID, err := d.store.JobOwner(ctx, jobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return hub.ErrResponse(hub.CodeNotFound, "job not found", false)
		}
		return d.internalError(err)
	}

	// The job owner is the homeowner side; the other party is the trader.
	var homeownerID, traderID string
	switch ownerID {
	case partyA:
		homeownerID, traderID = partyA, partyB
	case partyB:
		homeownerID, traderID = partyB, partyA
	default:
		return hub.ErrResponse(hub.CodeInvalid, "neither party owns the job", false)
	}

	convID, err := d.store.CreateConversation(ctx, uuid.NewString(), jobID, homeownerID, traderID)
	if err != nil {
		return d.internalError(err)
	}
	jobLog := logging.WithJob(jobID)
	jobLog.Debug().Str("conversation_id", convID).Msg("conversation resolved")
	return hub.Response{OK: true, ConversationID: convID}
}

func (d *Daemon) handleJobOwner(ctx context.Context, req hub.Request) hub.Response {
	ownerID, err := d.store.JobOwner(ctx, req.JobID)
	if err != nil {
		if errors.Is(err, ErrJobNotFound) {
			return hub.ErrResponse(hub.CodeNotFound, "job not found", false)
		}
		return d.internalError(err)
	}
	return hub.Response{OK: true, OwnerID: ownerID}
}

func (d *Daemon) internalError(err error) hub.Response {
	d.logger.Error().Err(err).Msg("request failed")
	return hub.ErrResponse(hub.CodeInternal, "internal error", true)
}
