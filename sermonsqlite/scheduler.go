// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

// Scheduler runs SyncAll on a cron schedule, e.g. "@every 5m" or "*/10 * * * *".
// A tick is skipped while the client is paused or a session is already running.
type Scheduler struct {
	client   *Client
	spec     string
	cron     *cron.Cron
	entryID  cron.EntryID
	logger   *slog.Logger
	onResult func(*SyncResult, error)

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup // RunNow sessions
}

// NewScheduler validates spec and prepares a stopped scheduler. onResult, if set,
// receives every scheduled session outcome.
func NewScheduler(client *Client, spec string, onResult func(*SyncResult, error)) (*Scheduler, error) {
	if client == nil {
		return nil, fmt.Errorf("client cannot be nil")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return &Scheduler{
		client:   client,
		spec:     spec,
		cron:     cron.New(),
		logger:   client.logger,
		onResult: onResult,
	}, nil
}

// Start begins scheduling; sessions run with a context derived from ctx
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return fmt.Errorf("scheduler already started")
	}
	id, err := s.cron.AddFunc(s.spec, s.Trigger)
	if err != nil {
		return fmt.Errorf("failed to schedule sync: %w", err)
	}
	s.entryID = id
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.logger.Info("Sync scheduler started", "schedule", s.spec)
	return nil
}

// RunNow starts one sync in the background, outside the schedule. Stop waits for it.
func (s *Scheduler) RunNow() {
	s.running.Add(1)
	go func() {
		defer s.running.Done()
		s.Trigger()
	}()
}

// Stop halts scheduling, cancels a running scheduled session and waits for it
func (s *Scheduler) Stop() {
	defer s.running.Wait()
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.cron.Stop().Done()
	s.cron.Remove(s.entryID)
	s.logger.Info("Sync scheduler stopped")
}

// Trigger runs one scheduled sync now, honoring the pause and in-progress checks
func (s *Scheduler) Trigger() {
	if s.client.Paused() {
		s.logger.Debug("Sync paused, skipping scheduled run")
		return
	}
	if s.client.InProgress() {
		s.logger.Info("Sync already running, skipping scheduled run")
		return
	}
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	res, err := s.client.SyncAll(ctx)
	if err != nil {
		s.logger.Error("Scheduled sync failed", "error", err)
	}
	if s.onResult != nil {
		s.onResult(res, err)
	}
}
