package hubd

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/hub"
)

// startDaemon runs a daemon on an ephemeral port and returns a client
// pointed at it.
func startDaemon(t *testing.T) (*Daemon, *hub.Client) {
	t.Helper()

	cfg := config.DefaultConfig()
	daemon, err := New(cfg, zerolog.Nop(), Options{
		ListenAddr:   "127.0.0.1:0",
		DatabasePath: t.TempDir() + "/hub.db",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemon.Run(ctx) }()

	require.Eventually(t, func() bool {
		return daemon.Addr() != ""
	}, 2*time.Second, 5*time.Millisecond)

	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("daemon did not shut down")
		}
		_ = daemon.Close()
	})

	client := hub.NewClient(hub.ClientConfig{Addr: daemon.Addr()})
	return daemon, client
}

func seedDaemon(t *testing.T, daemon *Daemon) {
	t.Helper()
	ctx := context.Background()
	store := daemon.Store()

	hash, err := HashPassword("hunter2")
	require.NoError(t, err)

	require.NoError(t, store.CreateUser(ctx, User{
		ID: "owner", Email: "sarah@example.com", DisplayName: "Sarah",
		Phone: "+44 7700 900123", Role: chat.RoleHomeowner, PasswordHash: hash,
	}))
	require.NoError(t, store.CreateUser(ctx, User{
		ID: "trader", Email: "tom@example.com", DisplayName: "Tom",
		Role: chat.RoleTrader, PasswordHash: hash,
	}))
	require.NoError(t, store.CreateJob(ctx, Job{ID: "J1", OwnerID: "owner", Title: "Bathroom refit"}))
}

func TestDaemon_LoginAndRoundTrip(t *testing.T) {
	daemon, client := startDaemon(t)
	seedDaemon(t, daemon)
	ctx := context.Background()

	creds, err := client.Login(ctx, "tom@example.com", "hunter2")
	require.NoError(t, err)
	require.Equal(t, "trader", creds.UserID)

	ownerID, err := client.JobOwner(ctx, "J1")
	require.NoError(t, err)
	require.Equal(t, "owner", ownerID)

	convID, err := client.CreateConversation(ctx, "J1", "trader", "owner")
	require.NoError(t, err)
	require.NotEmpty(t, convID)

	// Duplicate create over the wire returns the same conversation.
	again, err := client.CreateConversation(ctx, "J1", "trader", "owner")
	require.NoError(t, err)
	require.Equal(t, convID, again)

	msgID, err := client.SendMessage(ctx, convID, "trader", "hi, payment is through")
	require.NoError(t, err)
	require.NotEmpty(t, msgID)

	detail, err := client.ConversationDetail(ctx, convID)
	require.NoError(t, err)
	require.Len(t, detail.Messages, 1)
	require.Equal(t, "hi, payment is through", detail.Messages[0].Body)
	require.Equal(t, "Sarah", detail.Counterparty.DisplayName)
	require.Equal(t, "+44 7700 900123", detail.Counterparty.Phone)

	summaries, err := client.ConversationSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, convID, summaries[0].ID)
	require.Equal(t, 0, summaries[0].UnreadCount, "own message is not unread")

	require.NoError(t, client.MarkRead(ctx, convID))
}

func TestDaemon_UnreadFlowAcrossUsers(t *testing.T) {
	daemon, client := startDaemon(t)
	seedDaemon(t, daemon)
	ctx := context.Background()

	_, err := client.Login(ctx, "tom@example.com", "hunter2")
	require.NoError(t, err)
	convID, err := client.CreateConversation(ctx, "J1", "trader", "owner")
	require.NoError(t, err)
	_, err = client.SendMessage(ctx, convID, "trader", "quote attached")
	require.NoError(t, err)

	ownerClient := hub.NewClient(hub.ClientConfig{Addr: daemon.Addr()})
	_, err = ownerClient.Login(ctx, "sarah@example.com", "hunter2")
	require.NoError(t, err)

	summaries, err := ownerClient.ConversationSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	require.Equal(t, 1, summaries[0].UnreadCount)

	require.NoError(t, ownerClient.MarkRead(ctx, convID))

	summaries, err = ownerClient.ConversationSummaries(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, summaries[0].UnreadCount)
}

func TestDaemon_AuthRequired(t *testing.T) {
	_, client := startDaemon(t)
	ctx := context.Background()

	_, err := client.ConversationSummaries(ctx)
	require.ErrorIs(t, err, hub.ErrUnauthorized)
}

func TestDaemon_BadLogin(t *testing.T) {
	daemon, client := startDaemon(t)
	seedDaemon(t, daemon)

	_, err := client.Login(context.Background(), "tom@example.com", "wrong")
	require.ErrorIs(t, err, hub.ErrUnauthorized)
}

func TestDaemon_DetailChecksParticipant(t *testing.T) {
	daemon, client := startDaemon(t)
	seedDaemon(t, daemon)
	ctx := context.Background()

	_, err := client.Login(ctx, "tom@example.com", "hunter2")
	require.NoError(t, err)
	convID, err := client.CreateConversation(ctx, "J1", "trader", "owner")
	require.NoError(t, err)

	require.NoError(t, daemon.Store().CreateUser(ctx, User{
		ID: "outsider", Email: "eve@example.com", DisplayName: "Eve",
		Role: chat.RoleTrader, PasswordHash: mustHash(t, "hunter2"),
	}))

	outsider := hub.NewClient(hub.ClientConfig{Addr: daemon.Addr()})
	_, err = outsider.Login(ctx, "eve@example.com", "hunter2")
	require.NoError(t, err)

	_, err = outsider.ConversationDetail(ctx, convID)
	require.ErrorIs(t, err, hub.ErrNotFound)
}

func TestDaemon_SeedIsIdempotent(t *testing.T) {
	cfg := config.DefaultConfig()
	dbPath := t.TempDir() + "/seeded.db"

	daemon, err := New(cfg, zerolog.Nop(), Options{DatabasePath: dbPath, Seed: true})
	require.NoError(t, err)
	require.NoError(t, daemon.Close())

	daemon, err = New(cfg, zerolog.Nop(), Options{DatabasePath: dbPath, Seed: true})
	require.NoError(t, err)
	defer daemon.Close()

	user, err := daemon.Store().UserByEmail(context.Background(), "sarah@example.com")
	require.NoError(t, err)
	require.Equal(t, "Sarah Whitfield", user.DisplayName)
}

func mustHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := HashPassword(password)
	require.NoError(t, err)
	return hash
}
