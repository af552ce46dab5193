// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Arwen-Digital/SermonSpark-sub000/sermonsqlite"
)

func newRootCmd(out io.Writer) *cobra.Command {
	return rootCmdFor(&app{v: viper.New(), out: out})
}

func rootCmdFor(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "sermonsync",
		Short: "Offline-first sync for sermons and sermon series",
		Long: `sermonsync keeps a local SQLite copy of a user's sermon series and sermons
in sync with a sermon sync server. Local edits are pushed, remote changes are pulled,
and concurrent edits that cannot be resolved automatically are kept for review.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
	}
	if err := addRootFlags(rootCmd, a); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		newSyncCmd(a),
		newStatusCmd(a),
		newConflictsCmd(a),
		newResolveCmd(a),
		newQueueCmd(a),
		newWatchCmd(a),
	)
	return rootCmd
}

func newSyncCmd(a *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync session",
		Long: `Sync drains the offline queue, pushes and pulls series, pushes and pulls
sermons, and repairs sermons whose series arrived late. Use --scope to limit the
session to series (parent) or sermons (child).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			var res *sermonsqlite.SyncResult
			switch scope {
			case "all":
				res, err = client.SyncAll(cmd.Context())
			case "parent":
				res, err = client.SyncParent(cmd.Context())
			case "child":
				res, err = client.SyncChild(cmd.Context())
			default:
				return fmt.Errorf("invalid scope %q (want all, parent or child)", scope)
			}
			if res != nil {
				if perr := a.printJSON(res); perr != nil {
					return perr
				}
			}
			if err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("sync finished with %d error(s)", len(res.Errors))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "all", "all, parent or child")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show connectivity and pending local work",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			st, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(st)
		},
	}
}

func newConflictsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "conflicts",
		Short: "List conflicts waiting for a decision",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			conflicts, err := client.PendingConflicts(cmd.Context())
			if err != nil {
				return err
			}
			if conflicts == nil {
				conflicts = []*sermonsqlite.PendingConflict{}
			}
			return a.printJSON(conflicts)
		},
	}
}

func newResolveCmd(a *app) *cobra.Command {
	var mergedPath string
	cmd := &cobra.Command{
		Use:   "resolve <conflict-id> <keep_local|keep_remote|merge>",
		Short: "Resolve a pending conflict",
		Long: `Resolve applies a decision to a pending conflict. A merge needs the merged
record as JSON, read from --merged (a file path, or - for stdin).`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resolution := sermonsqlite.Resolution(args[1])
			if !resolution.Valid() {
				return fmt.Errorf("unknown resolution %q", args[1])
			}
			var merged json.RawMessage
			if resolution == sermonsqlite.ResolutionMerge {
				if mergedPath == "" {
					return errors.New("merge needs --merged")
				}
				data, err := readInput(cmd.InOrStdin(), mergedPath)
				if err != nil {
					return err
				}
				merged = data
			}

			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			if err := client.ResolveConflict(cmd.Context(), args[0], resolution, merged); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Resolved %s with %s\n", args[0], resolution)
			return nil
		},
	}
	cmd.Flags().StringVar(&mergedPath, "merged", "", "merged record JSON file, or - for stdin")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// queueEntry is the printed form of a queued operation
type queueEntry struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	EntityID   string `json:"entity_id"`
	Op         string `json:"op"`
	RetryCount int    `json:"retry_count"`
	LastError  string `json:"last_error,omitempty"`
	QueuedAt   string `json:"queued_at"`
}

func newQueueCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "List operations queued while offline",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			ops, err := client.Queue.List(cmd.Context())
			if err != nil {
				return err
			}
			entries := make([]queueEntry, 0, len(ops))
			for _, op := range ops {
				entries = append(entries, queueEntry{
					ID:         op.ID,
					Kind:       string(op.Kind),
					EntityID:   op.EntityID,
					Op:         string(op.Op),
					RetryCount: op.RetryCount,
					LastError:  op.LastError,
					QueuedAt:   op.QueuedAt.Format(time.RFC3339),
				})
			}
			return a.printJSON(entries)
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "process",
		Short: "Replay queued operations once",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, closeDB, err := a.openClient(nil)
			if err != nil {
				return err
			}
			defer closeDB()

			res, err := client.ProcessQueue(cmd.Context())
			if res != nil {
				if perr := a.printJSON(res); perr != nil {
					return perr
				}
			}
			return err
		},
	})
	return cmd
}
