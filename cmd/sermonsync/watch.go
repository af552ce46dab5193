// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsqlite"
)

func newWatchCmd(a *app) *cobra.Command {
	var runNow bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Sync on a schedule until interrupted",
		Long: `Watch runs a sync session on the configured cron schedule (--schedule, e.g.
"@every 5m" or "*/10 * * * *"). With --metrics-addr, stage timings are served in
Prometheus format at /metrics.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.watch(cmd.Context(), runNow)
		},
	}
	cmd.Flags().BoolVar(&runNow, "now", true, "run one sync immediately on start")
	return cmd
}

func (a *app) watch(ctx context.Context, runNow bool) error {
	var (
		registry *prometheus.Registry
		recorder *sermonsqlite.PrometheusRecorder
	)
	if a.config.MetricsAddr != "" {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		var err error
		if recorder, err = sermonsqlite.NewPrometheusRecorder(registry); err != nil {
			return err
		}
	}

	client, closeDB, err := a.openClient(func(c *sermonsqlite.Config) {
		if recorder != nil {
			c.StageMetrics = recorder
		}
	})
	if err != nil {
		return err
	}
	defer closeDB()

	if registry != nil {
		srv := a.serveMetrics(registry)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	events, unsubscribe := client.Subscribe()
	defer unsubscribe()
	go a.logEvents(events)

	scheduler, err := sermonsqlite.NewScheduler(client, a.config.Schedule, nil)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	if runNow {
		scheduler.RunNow()
	}
	<-ctx.Done()
	a.logger.Info("Stopping watch")
	return nil
}

func (a *app) serveMetrics(registry *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              a.config.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		a.logger.Info("Serving metrics", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()
	return srv
}

func (a *app) logEvents(events <-chan sermonsqlite.Event) {
	for ev := range events {
		switch {
		case ev.Progress != nil:
			a.logger.Debug("Sync progress", "session_id", ev.Progress.SessionID, "phase", ev.Progress.Phase,
				"step", ev.Progress.Current, "of", ev.Progress.Total)
		case ev.Result != nil:
			r := ev.Result
			a.logger.Info("Sync session done", "session_id", r.SessionID, "success", r.Success,
				"series", r.Series, "sermons", r.Sermons, "repaired", r.Repaired, "queue_sent", r.QueueSent,
				"errors", r.Errors)
		}
	}
}
