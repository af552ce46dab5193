// Package sermonsqlite provides the offline-first client for the sermonsync API.
// Series and sermons live in a local SQLite database; the Client pushes local
// edits, pulls remote changes, resolves conflicts and repairs series references.
//
// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Config holds configuration for the sync client
type Config struct {
	UserID            string        // owner of all local records (JWT sub)
	PageSize          int           // records per pull request, e.g. 100
	ConflictWindow    time.Duration // dirty edits closer than this to the remote need a manual decision
	Retry             RetryPolicy   // shared by push, delete and queue processing
	RepairConcurrency int           // parallel remote fetches during the repair pass
	RequestTimeout    time.Duration // per-call timeout set on an *HTTPTransport

	Logger          *slog.Logger
	StageMetrics    StageMetricsRecorder
	LogStageTimings bool
	Now             func() time.Time // clock for local stamps; nil = time.Now
}

// DefaultConfig returns a default configuration for the given user
func DefaultConfig(userID string) *Config {
	return &Config{
		UserID:            userID,
		PageSize:          100,
		ConflictWindow:    DefaultConflictWindow,
		Retry:             DefaultRetryPolicy(),
		RepairConcurrency: 4,
		RequestTimeout:    DefaultRequestTimeout,
	}
}

// Client manages the local database and two-way sync with the remote API
type Client struct {
	DB        *sql.DB
	Store     LocalStore
	State     *SyncState
	Queue     *OperationQueue
	Transport Transport
	Resolver  Resolver
	UserID    string

	config  *Config
	logger  *slog.Logger
	writeMu sync.Mutex // serializes local writes between sync sessions and mutations

	flight     singleflight.Group
	sessions   *semaphore.Weighted // one sync session or queue replay at a time
	inProgress atomic.Bool
	session    atomic.Pointer[Session]
	phase      atomic.Value // Phase
	events     *EventBus

	// Pause switch (atomic): the scheduler skips ticks while paused
	paused int32
}

// NewClient opens the sync client on db, creating tables on first use
func NewClient(db *sql.DB, transport Transport, config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if config.UserID == "" {
		return nil, fmt.Errorf("config.UserID must be provided")
	}
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if config.PageSize <= 0 {
		config.PageSize = 100
	}
	if config.RepairConcurrency <= 0 {
		config.RepairConcurrency = 1
	}
	if config.Retry.MaxAttempts <= 0 {
		config.Retry = DefaultRetryPolicy()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if ht, ok := transport.(*HTTPTransport); ok && config.RequestTimeout > 0 {
		ht.Timeout = config.RequestTimeout
	}

	store := NewSQLiteStore(db)
	state := NewSyncState(db)
	queue := NewOperationQueue(db)
	if err := initializeDatabase(context.Background(), db, store, state, queue); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	c := &Client{
		DB:        db,
		Store:     store,
		State:     state,
		Queue:     queue,
		Transport: transport,
		Resolver:  NewResolver(config.ConflictWindow),
		UserID:    config.UserID,
		config:    config,
		logger:    logger,
		events:    NewEventBus(),
		sessions:  semaphore.NewWeighted(1),
	}
	c.phase.Store(PhaseIdle)
	return c, nil
}

// initializeDatabase enables pragmas and creates record and sync tables
func initializeDatabase(ctx context.Context, db *sql.DB, store *SQLiteStore, state *SyncState, queue *OperationQueue) error {
	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON`); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return err
	}
	if err := state.Migrate(ctx); err != nil {
		return err
	}
	return queue.Migrate(ctx)
}

func (c *Client) now() time.Time {
	return c.config.Now().UTC()
}

// Pause suspends scheduled syncs; explicit SyncAll calls still run
func (c *Client) Pause() { atomic.StoreInt32(&c.paused, 1) }

// Resume re-enables scheduled syncs
func (c *Client) Resume() { atomic.StoreInt32(&c.paused, 0) }

// Paused reports whether scheduled syncs are suspended
func (c *Client) Paused() bool { return atomic.LoadInt32(&c.paused) == 1 }

// InProgress reports whether a sync session is running
func (c *Client) InProgress() bool { return c.inProgress.Load() }

// Phase returns the phase of the running session, or PhaseIdle
func (c *Client) Phase() Phase {
	if p, ok := c.phase.Load().(Phase); ok {
		return p
	}
	return PhaseIdle
}

// Subscribe registers for progress and completion events.
// The returned function unsubscribes and closes the channel.
func (c *Client) Subscribe() (<-chan Event, func()) {
	return c.events.Subscribe(defaultSubscriberBuffer)
}

// Cancel stops the running session after the record being processed. Writes already
// committed stay committed.
func (c *Client) Cancel() {
	if s := c.session.Load(); s != nil {
		s.cancel()
	}
}

// exclusive runs fn once no other sync session or queue replay holds the client
func (c *Client) exclusive(ctx context.Context, fn func() (any, error)) (any, error) {
	if err := c.sessions.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sessions.Release(1)
	return fn()
}

// withWrite runs fn while holding the write lock
func (c *Client) withWrite(fn func() error) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return fn()
}
