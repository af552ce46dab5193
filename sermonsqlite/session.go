// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// KindResult is the per-kind part of a SyncResult
type KindResult struct {
	Pushed    int `json:"pushed"`
	Pulled    int `json:"pulled"`
	Conflicts int `json:"conflicts"`
	Failed    int `json:"failed"`
}

// SyncResult describes a finished sync session. Success is true only when no
// per-record or pipeline error was recorded and the session was not cancelled.
type SyncResult struct {
	SessionID    string        `json:"session_id"`
	Success      bool          `json:"success"`
	Phase        Phase         `json:"phase"`
	Series       KindResult    `json:"series"`
	Sermons      KindResult    `json:"sermons"`
	Repaired     int           `json:"repaired"`
	QueueSent    int           `json:"queue_sent"`
	QueueDropped int           `json:"queue_dropped"`
	Errors       []string      `json:"errors"`
	Cancelled    bool          `json:"cancelled"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at"`
	Duration     time.Duration `json:"duration"`
}

// kind returns the per-kind counters for k
func (r *SyncResult) kind(k Kind) *KindResult {
	if k == KindSeries {
		return &r.Series
	}
	return &r.Sermons
}

// Session is a running sync
type Session struct {
	ID        string
	StartedAt time.Time
	cancel    context.CancelFunc
}

type syncScope int

const (
	scopeAll syncScope = iota
	scopeParent
	scopeChild
)

type syncStep struct {
	phase Phase
	run   func(ctx context.Context, res *SyncResult) (cancelled bool, err error)
}

// SyncAll drains the offline queue, then pushes and pulls series and sermons and
// runs the repair pass. Concurrent SyncAll callers share one session and its result.
func (c *Client) SyncAll(ctx context.Context) (*SyncResult, error) {
	return c.sync(ctx, scopeAll)
}

// SyncParent pushes and pulls series only
func (c *Client) SyncParent(ctx context.Context) (*SyncResult, error) {
	return c.sync(ctx, scopeParent)
}

// SyncChild pushes and pulls sermons, then runs the repair pass
func (c *Client) SyncChild(ctx context.Context) (*SyncResult, error) {
	return c.sync(ctx, scopeChild)
}

func (s syncScope) String() string {
	switch s {
	case scopeParent:
		return "parent"
	case scopeChild:
		return "child"
	default:
		return "all"
	}
}

// sync joins a running session of the same scope. Sessions of different scopes, and
// queue replays, wait for each other.
func (c *Client) sync(ctx context.Context, scope syncScope) (*SyncResult, error) {
	v, err, shared := c.flight.Do("sync:"+scope.String(), func() (any, error) {
		return c.exclusive(ctx, func() (any, error) {
			return c.runSession(ctx, scope)
		})
	})
	if shared {
		c.logger.Debug("Joined running sync session", "scope", scope)
	}
	res, _ := v.(*SyncResult)
	return res, err
}

func (c *Client) steps(scope syncScope) []syncStep {
	var steps []syncStep
	if scope == scopeAll || scope == scopeParent {
		steps = append(steps,
			syncStep{PhaseParentPush, c.pushStep(KindSeries)},
			syncStep{PhaseParentPull, c.pullStep(KindSeries)},
		)
	}
	if scope == scopeAll || scope == scopeChild {
		steps = append(steps,
			syncStep{PhaseChildPush, c.pushStep(KindSermon)},
			syncStep{PhaseChildPull, c.pullStep(KindSermon)},
			syncStep{PhaseRepair, c.repairStep},
		)
	}
	return steps
}

func (c *Client) pushStep(kind Kind) func(context.Context, *SyncResult) (bool, error) {
	return func(ctx context.Context, res *SyncResult) (bool, error) {
		r, err := c.pushKind(ctx, kind)
		kr := res.kind(kind)
		kr.Pushed += r.Pushed
		kr.Failed += r.Failed
		res.Errors = append(res.Errors, r.Errors...)
		return r.Cancelled, err
	}
}

func (c *Client) pullStep(kind Kind) func(context.Context, *SyncResult) (bool, error) {
	return func(ctx context.Context, res *SyncResult) (bool, error) {
		r, err := c.pullKind(ctx, kind)
		kr := res.kind(kind)
		kr.Pulled += r.Pulled
		kr.Conflicts += r.Conflicts
		res.Errors = append(res.Errors, r.Errors...)
		return r.Cancelled, err
	}
}

func (c *Client) repairStep(ctx context.Context, res *SyncResult) (bool, error) {
	r, err := c.repairParents(ctx)
	res.Repaired += r.Repaired
	res.Errors = append(res.Errors, r.Errors...)
	return r.Cancelled, err
}

func (c *Client) runSession(parent context.Context, scope syncScope) (*SyncResult, error) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sess := &Session{ID: uuid.NewString(), StartedAt: c.now(), cancel: cancel}
	c.session.Store(sess)
	c.inProgress.Store(true)
	defer func() {
		c.session.Store(nil)
		c.phase.Store(PhaseIdle)
		c.inProgress.Store(false)
	}()

	start := c.stageStart()
	res := &SyncResult{SessionID: sess.ID, StartedAt: sess.StartedAt}
	logger := c.logger.With("session_id", sess.ID)
	logger.Info("Sync started")

	if scope == scopeAll {
		c.drainQueue(ctx, res, logger)
	}

	steps := c.steps(scope)
	var pipeErr error
	for i, step := range steps {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		c.phase.Store(step.phase)
		c.events.Publish(Event{Progress: &Progress{
			SessionID: sess.ID,
			Phase:     step.phase,
			Current:   i + 1,
			Total:     len(steps),
			Message:   fmt.Sprintf("%s (%d/%d)", step.phase, i+1, len(steps)),
			Timestamp: c.now(),
		}})
		cancelled, err := step.run(ctx, res)
		if err != nil {
			pipeErr = err
			res.Errors = append(res.Errors, err.Error())
			logger.Error("Sync stage failed", "phase", step.phase, "error", err)
			break
		}
		if cancelled {
			res.Cancelled = true
			break
		}
	}
	if !res.Cancelled && pipeErr == nil && ctx.Err() != nil {
		res.Cancelled = true
	}
	if res.Cancelled {
		res.Errors = append(res.Errors, ErrSyncCancelled.Error())
	}

	res.FinishedAt = c.now()
	res.Duration = res.FinishedAt.Sub(res.StartedAt)
	res.Success = len(res.Errors) == 0
	res.Phase = PhaseComplete
	if pipeErr != nil || res.Cancelled {
		res.Phase = PhaseError
	}

	if pipeErr == nil && !res.Cancelled {
		if err := c.State.SetLastSyncTime(ctx, res.FinishedAt); err != nil {
			logger.Warn("Failed to record last sync time", "error", err)
		}
	}
	c.observeStage(ctx, MetricsOpSync, MetricsStageTotal, start,
		res.Series.Pushed+res.Series.Pulled+res.Sermons.Pushed+res.Sermons.Pulled, !res.Success)

	c.events.Publish(Event{Progress: &Progress{
		SessionID: sess.ID,
		Phase:     res.Phase,
		Current:   len(steps),
		Total:     len(steps),
		Message:   string(res.Phase),
		Timestamp: res.FinishedAt,
	}})
	c.events.Publish(Event{Result: res})

	logger.Info("Sync finished",
		"success", res.Success,
		"cancelled", res.Cancelled,
		"series", res.Series,
		"sermons", res.Sermons,
		"repaired", res.Repaired,
		"errors", len(res.Errors),
		"duration", res.Duration,
	)

	switch {
	case pipeErr != nil:
		return res, pipeErr
	case res.Cancelled:
		return res, ErrSyncCancelled
	}
	return res, nil
}

// drainQueue replays queued operations when the remote answers
func (c *Client) drainQueue(ctx context.Context, res *SyncResult, logger *slog.Logger) {
	n, err := c.Queue.Len(ctx)
	if err != nil {
		res.Errors = append(res.Errors, err.Error())
		return
	}
	if n == 0 || c.Transport.Ping(ctx) != nil {
		return
	}
	qr, err := c.processQueue(ctx)
	if qr != nil {
		res.QueueSent += qr.Processed
		res.QueueDropped += qr.Dropped
		res.Errors = append(res.Errors, qr.Errors...)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Queue processing failed", "error", err)
		res.Errors = append(res.Errors, err.Error())
	}
}
