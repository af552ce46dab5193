// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package sermonsqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	MetricsOpPush   = "push"
	MetricsOpPull   = "pull"
	MetricsOpRepair = "repair"
	MetricsOpQueue  = "queue"
	MetricsOpSync   = "sync"

	MetricsStageTotal = "total"
)

// StageTiming is one observation of an engine stage. Stage is the entity kind, or "total".
type StageTiming struct {
	Operation string
	Stage     string
	Duration  time.Duration
	Count     int
	Error     bool
}

type StageMetricsRecorder interface {
	ObserveStage(ctx context.Context, timing StageTiming)
}

type StageMetricsRecorderFunc func(ctx context.Context, timing StageTiming)

func (f StageMetricsRecorderFunc) ObserveStage(ctx context.Context, timing StageTiming) {
	f(ctx, timing)
}

func (c *Client) stageStart() time.Time {
	if c.config.StageMetrics == nil && !c.config.LogStageTimings {
		return time.Time{}
	}
	return time.Now()
}

func (c *Client) observeStage(ctx context.Context, op, stage string, start time.Time, count int, hadError bool) {
	if start.IsZero() {
		return
	}
	timing := StageTiming{
		Operation: op,
		Stage:     stage,
		Duration:  time.Since(start),
		Count:     count,
		Error:     hadError,
	}
	if c.config.StageMetrics != nil {
		c.config.StageMetrics.ObserveStage(ctx, timing)
	}
	if c.config.LogStageTimings {
		c.logger.Debug("Stage timing",
			"op", timing.Operation,
			"stage", timing.Stage,
			"duration", timing.Duration,
			"count", timing.Count,
			"error", timing.Error,
		)
	}
}

// PrometheusRecorder exports stage timings as Prometheus metrics
type PrometheusRecorder struct {
	durations *prometheus.HistogramVec
	records   *prometheus.CounterVec
	failures  *prometheus.CounterVec
}

// NewPrometheusRecorder registers the sermonsync_* collectors on reg
func NewPrometheusRecorder(reg prometheus.Registerer) (*PrometheusRecorder, error) {
	r := &PrometheusRecorder{
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sermonsync",
			Name:      "stage_duration_seconds",
			Help:      "Duration of sync engine stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"operation", "stage"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sermonsync",
			Name:      "stage_records_total",
			Help:      "Records processed by sync engine stages.",
		}, []string{"operation", "stage"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sermonsync",
			Name:      "stage_failures_total",
			Help:      "Sync engine stages that reported errors.",
		}, []string{"operation", "stage"}),
	}
	for _, c := range []prometheus.Collector{r.durations, r.records, r.failures} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}
	return r, nil
}

func (r *PrometheusRecorder) ObserveStage(_ context.Context, timing StageTiming) {
	r.durations.WithLabelValues(timing.Operation, timing.Stage).Observe(timing.Duration.Seconds())
	if timing.Count > 0 {
		r.records.WithLabelValues(timing.Operation, timing.Stage).Add(float64(timing.Count))
	}
	if timing.Error {
		r.failures.WithLabelValues(timing.Operation, timing.Stage).Inc()
	}
}
