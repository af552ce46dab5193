// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Command sermonsync runs the offline-first sermon sync engine against a local SQLite
// database: one-shot syncs, status, conflict resolution, the offline queue, and a
// scheduled watch mode with Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
