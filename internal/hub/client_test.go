package hub

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattisv/tradetalk/internal/chat"
)

// stubServer answers each connection with a canned response and records the
// requests it saw.
type stubServer struct {
	listener net.Listener
	respond  func(req Request) Response
	requests chan Request
}

func newStubServer(t *testing.T, respond func(req Request) Response) *stubServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := &stubServer{
		listener: listener,
		respond:  respond,
		requests: make(chan Request, 16),
	}
	go s.serve()
	t.Cleanup(func() { _ = listener.Close() })
	return s
}

func (s *stubServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go func(conn net.Conn) {
			defer conn.Close()
			reader := bufio.NewReader(conn)
			line, err := reader.ReadBytes('\n')
			if err != nil {
				return
			}
			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				return
			}
			s.requests <- req
			resp := s.respond(req)
			data, _ := json.Marshal(resp)
			data = append(data, '\n')
			_, _ = conn.Write(data)
		}(conn)
	}
}

func (s *stubServer) addr() string {
	return s.listener.Addr().String()
}

func TestClient_LoginInstallsCredentials(t *testing.T) {
	server := newStubServer(t, func(req Request) Response {
		if req.Cmd != CmdLogin {
			return ErrResponse(CodeInvalid, "unexpected command", false)
		}
		return Response{OK: true, Credentials: &Credentials{UserID: "u1", Token: "tok-1"}}
	})

	client := NewClient(ClientConfig{Addr: server.addr()})
	creds, err := client.Login(context.Background(), "sarah@example.com", "pw")
	require.NoError(t, err)
	require.Equal(t, "u1", creds.UserID)
	require.Equal(t, "tok-1", client.Credentials().Token)
	require.Equal(t, "u1", client.UserID())
}

func TestClient_RequestsCarrySessionToken(t *testing.T) {
	server := newStubServer(t, func(req Request) Response {
		return Response{OK: true, Conversations: []chat.Conversation{{ID: "c1", JobID: "j1"}}}
	})

	client := NewClient(ClientConfig{Addr: server.addr()})
	client.SetCredentials(Credentials{UserID: "u1", Token: "tok-9"})

	convs, err := client.ConversationSummaries(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	req := <-server.requests
	require.Equal(t, CmdSummaries, req.Cmd)
	require.Equal(t, "tok-9", req.Token)
}

func TestClient_RejectsInvalidSummaryPayload(t *testing.T) {
	server := newStubServer(t, func(req Request) Response {
		return Response{OK: true, Conversations: []chat.Conversation{
			{ID: "c1", JobID: "j1", UnreadCount: -2},
		}}
	})

	client := NewClient(ClientConfig{Addr: server.addr()})
	_, err := client.ConversationSummaries(context.Background())
	require.Error(t, err)
	require.ErrorIs(t, err, ErrUnavailable)
	require.Contains(t, err.Error(), chat.ErrNegativeUnread.Error())
}

func TestClient_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want error
	}{
		{"unauthorized", ErrResponse(CodeUnauthorized, "bad token", false), ErrUnauthorized},
		{"not found", ErrResponse(CodeNotFound, "no such conversation", false), ErrNotFound},
		{"invalid", ErrResponse(CodeInvalid, "missing body", false), ErrInvalid},
		{"retryable internal", ErrResponse(CodeInternal, "db busy", true), ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := newStubServer(t, func(Request) Response { return tt.resp })
			client := NewClient(ClientConfig{Addr: server.addr()})
			_, err := client.ConversationDetail(context.Background(), "c1")
			require.Error(t, err)
			require.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)
		})
	}
}

func TestClient_DialFailureIsTransient(t *testing.T) {
	// Grab a port and close it so nothing is listening.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	client := NewClient(ClientConfig{Addr: addr, DialTimeout: 200 * time.Millisecond})
	_, err = client.ConversationSummaries(context.Background())
	require.Error(t, err)
	require.True(t, IsTransient(err))
}

func TestClient_SendAndMarkRead(t *testing.T) {
	server := newStubServer(t, func(req Request) Response {
		switch req.Cmd {
		case CmdSend:
			return Response{OK: true, MessageID: "m-new"}
		case CmdMarkRead:
			return Response{OK: true}
		default:
			return ErrResponse(CodeInvalid, "unexpected", false)
		}
	})

	client := NewClient(ClientConfig{Addr: server.addr()})
	client.SetCredentials(Credentials{UserID: "u1", Token: "tok"})

	id, err := client.SendMessage(context.Background(), "c1", "u1", "hello")
	require.NoError(t, err)
	require.Equal(t, "m-new", id)

	require.NoError(t, client.MarkRead(context.Background(), "c1"))

	sendReq := <-server.requests
	require.Equal(t, "c1", sendReq.ConversationID)
	require.Equal(t, "u1", sendReq.SenderID)
	require.Equal(t, "hello", sendReq.Body)
}
