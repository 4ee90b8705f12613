package cli

import (
	"errors"
	"fmt"

	"github.com/mattisv/tradetalk/internal/config"
	"github.com/mattisv/tradetalk/internal/directory"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/msgsync"
	"github.com/mattisv/tradetalk/internal/session"
	"github.com/mattisv/tradetalk/internal/unread"
)

// errNotLoggedIn is returned by commands that need a saved session.
var errNotLoggedIn = errors.New("not logged in; run 'tradetalk login' first")

// engine bundles the client-side machinery a command needs: the hub client
// plus the caches and pollers that sit between it and the UI.
type engine struct {
	client  *hub.Client
	bus     *events.InMemoryBus
	dir     *directory.Cache
	counter *unread.Counter
	sync    *msgsync.Synchronizer
	sess    *session.Session
	userID  string
}

// newHubClient builds a hub client carrying the saved session token, if any.
func newHubClient(cfg *config.Config) (*hub.Client, hub.Credentials, error) {
	client := hub.NewClient(hub.ClientConfig{
		Addr:           cfg.Hub.Addr,
		DialTimeout:    cfg.Hub.DialTimeout,
		RequestTimeout: cfg.Hub.RequestTimeout,
	})

	store := config.DefaultSessionStore()
	saved, err := store.Load()
	if err != nil {
		return nil, hub.Credentials{}, fmt.Errorf("load saved session: %w", err)
	}
	creds := hub.Credentials{UserID: saved.UserID, Token: saved.Token}
	if !saved.IsEmpty() {
		client.SetCredentials(creds)
	}
	return client, creds, nil
}

// newEngine wires the full client engine for an authenticated command.
func newEngine(cfg *config.Config) (*engine, error) {
	client, creds, err := newHubClient(cfg)
	if err != nil {
		return nil, err
	}
	if creds.Token == "" {
		return nil, errNotLoggedIn
	}

	bus := events.NewInMemoryBus()
	dir := directory.NewCache(client, bus, directory.Config{
		RefreshInterval: cfg.Sync.DirectoryRefreshInterval,
	})
	counter := unread.NewCounter(bus)
	sync := msgsync.New(client, bus, msgsync.Config{
		PollInterval:     cfg.Sync.PollInterval,
		FailureThreshold: cfg.Sync.FailureThreshold,
	})
	sess := session.New(client, dir, sync, counter, bus, creds.UserID)

	return &engine{
		client:  client,
		bus:     bus,
		dir:     dir,
		counter: counter,
		sync:    sync,
		sess:    sess,
		userID:  creds.UserID,
	}, nil
}

// shutdown tears the engine down in dependency order.
func (e *engine) shutdown() {
	e.sess.Close()
	_ = e.dir.Stop()
	e.counter.Detach()
	e.bus.Close()
}
