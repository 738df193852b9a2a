/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/friendsincode/queuecast/internal/db"
	"github.com/friendsincode/queuecast/internal/history"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recently played tracks",
	Long: `Show the most recent plays recorded in the history database,
newest first.

Examples:
  queuecast history
  queuecast history --limit 200
`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", history.DefaultLimit, "Maximum number of plays to show")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	if !cfg.HistoryEnabled() {
		return errors.New("play history is disabled (QUEUECAST_DB_DSN is empty)")
	}

	database, err := db.Connect(cfg, logger)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close(database)

	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	plays, err := history.NewRecorder(database, nil, "", logger).Recent(cmd.Context(), historyLimit)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tTRACK\tPLAYED\tREASON\tNODE")
	for _, p := range plays {
		played := "playing"
		if p.EndedAt != nil {
			played = p.Played().Round(time.Second).String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			p.StartedAt.Local().Format(time.DateTime), p.TrackID, played, p.EndReason, p.NodeID)
	}
	return tw.Flush()
}
