// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
)

func main() {
	fmt.Println("SermonSpark sync - offline-first sermon and series synchronization")
	fmt.Println("===================================================================")
	fmt.Println()
	fmt.Println("sermonsqlite keeps a local SQLite copy of a user's sermon series and sermons,")
	fmt.Println("pushes local edits, pulls remote changes by watermark, resolves conflicts")
	fmt.Println("and repairs sermons whose series arrived late.")
	fmt.Println()

	fmt.Println("Components:")
	fmt.Println()
	fmt.Println("1. Sync server (examples/sermon_server/)")
	fmt.Println("   REST API for series and sermons on PostgreSQL or in memory, with JWT auth")
	fmt.Println("   Run: DATABASE_URL=postgres://... go run ./examples/sermon_server")
	fmt.Println()

	fmt.Println("2. Sync CLI (cmd/sermonsync/)")
	fmt.Println("   One-shot sync, status, conflicts, offline queue and scheduled watch mode")
	fmt.Println("   Run: go run ./cmd/sermonsync --user pastor-1 --jwt-secret <secret> sync")
	fmt.Println()
}
