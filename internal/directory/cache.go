// Package directory maintains the client-side cache of the user's
// conversation summaries: the single source of truth for which conversations
// exist, their unread counts and last activity.
package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mattisv/tradetalk/internal/chat"
	"github.com/mattisv/tradetalk/internal/events"
	"github.com/mattisv/tradetalk/internal/hub"
	"github.com/mattisv/tradetalk/internal/logging"
)

const (
	// DefaultRefreshInterval is the fixed directory refresh cadence.
	DefaultRefreshInterval = 30 * time.Second

	subscriptionID = "directory-cache"
)

// Cache errors.
var (
	ErrAlreadyRunning = errors.New("directory cache already running")
	ErrNotRunning     = errors.New("directory cache not running")
)

// Config contains configuration for the directory cache.
type Config struct {
	// RefreshInterval is how often the conversation list is re-fetched.
	// Default: 30s.
	RefreshInterval time.Duration
}

// Cache holds the conversation directory for the current session. Refreshes
// may overlap; each request is tagged with a monotonic sequence number at
// issuance and a completing response is discarded when a later-issued one
// has already been applied, so out-of-order completion cannot roll the
// cache backwards.
type Cache struct {
	svc      hub.Service
	bus      events.Bus
	interval time.Duration
	logger   zerolog.Logger

	mu            sync.Mutex
	running       bool
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
	issued        uint64
	applied       uint64
	loaded        bool
	loadedCh      chan struct{}
	conversations []chat.Conversation
}

// NewCache creates a directory cache. The bus is optional; without it the
// cache still works but publishes nothing.
func NewCache(svc hub.Service, bus events.Bus, cfg Config) *Cache {
	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &Cache{
		svc:      svc,
		bus:      bus,
		interval: interval,
		logger:   logging.Component("directory"),
		loadedCh: make(chan struct{}),
	}
}

// Start begins the refresh loop: one immediate refresh, then the fixed
// interval, plus opportunistic refreshes on send/read/auth events.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.running = true
	c.mu.Unlock()

	if c.bus != nil {
		err := c.bus.Subscribe(subscriptionID, events.Filter{
			Types: []events.Type{
				events.TypeMessageSent,
				events.TypeConversationRead,
				events.TypeAuthChanged,
			},
		}, func(*events.Event) {
			c.refreshAsync()
		})
		if err != nil {
			c.logger.Warn().Err(err).Msg("bus subscription failed")
		}
	}

	c.logger.Info().Dur("interval", c.interval).Msg("directory cache starting")

	c.wg.Add(1)
	go c.runLoop()
	return nil
}

// Stop halts the refresh loop and waits for in-flight work.
func (c *Cache) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return ErrNotRunning
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	if c.bus != nil {
		_ = c.bus.Unsubscribe(subscriptionID)
	}
	c.wg.Wait()
	c.logger.Info().Msg("directory cache stopped")
	return nil
}

func (c *Cache) runLoop() {
	defer c.wg.Done()

	if err := c.Refresh(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Warn().Err(err).Msg("initial directory refresh failed")
	}

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(c.ctx); err != nil && !errors.Is(err, context.Canceled) {
				c.logger.Warn().Err(err).Msg("directory refresh failed")
			}
		}
	}
}

func (c *Cache) refreshAsync() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	ctx := c.ctx
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if err := c.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Debug().Err(err).Msg("opportunistic directory refresh failed")
		}
	}()
}

// Refresh fetches the conversation list once and applies it if no
// later-issued refresh has completed first. On failure the previous cache
// is retained untouched.
func (c *Cache) Refresh(ctx context.Context) error {
	c.mu.Lock()
	c.issued++
	seq := c.issued
	c.mu.Unlock()

	summaries, err := c.svc.ConversationSummaries(ctx)
	if err != nil {
		return err
	}

	applied := c.apply(seq, summaries)
	if !applied {
		c.logger.Debug().Uint64("seq", seq).Msg("discarded stale directory response")
		return nil
	}

	if c.bus != nil {
		snapshot := c.Snapshot()
		c.bus.Publish(ctx, events.New(events.TypeDirectoryRefreshed, events.EntitySession, "", snapshot))
	}
	return nil
}

// apply installs the snapshot for seq unless a later-issued response has
// already been applied. Returns whether the snapshot was installed.
func (c *Cache) apply(seq uint64, summaries []chat.Conversation) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq <= c.applied {
		return false
	}
	c.applied = seq
	c.conversations = append([]chat.Conversation(nil), summaries...)
	if !c.loaded {
		c.loaded = true
		close(c.loadedCh)
	}
	return true
}

// Snapshot returns a copy of the cached conversation list.
func (c *Cache) Snapshot() []chat.Conversation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]chat.Conversation(nil), c.conversations...)
}

// Conversation looks up one cached summary by id.
func (c *Cache) Conversation(id string) (chat.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range c.conversations {
		if conv.ID == id {
			return conv, true
		}
	}
	return chat.Conversation{}, false
}

// FindByJob looks up a cached conversation by associated job id.
func (c *Cache) FindByJob(jobID string) (chat.Conversation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return chat.FindByJob(c.conversations, jobID)
}

// Loaded reports whether at least one refresh has succeeded.
func (c *Cache) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loaded
}

// WaitLoaded blocks until the first successful refresh or ctx cancellation.
func (c *Cache) WaitLoaded(ctx context.Context) error {
	select {
	case <-c.loadedCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
