/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/friendsincode/queuecast/internal/config"
	"github.com/friendsincode/queuecast/internal/server"
)

var (
	libraryJSON    bool
	libraryRefresh bool
)

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List playable tracks in the media store",
	Long: `List every supported audio file in the configured media store
(filesystem or S3) with its decoded format.

Examples:
  # Table output
  queuecast library

  # JSON output for scripting
  queuecast library --json

  # Drop cached metadata and decode every file again
  queuecast library --refresh
`,
	RunE: runLibrary,
}

func init() {
	libraryCmd.Flags().BoolVar(&libraryJSON, "json", false, "Print entries as JSON")
	libraryCmd.Flags().BoolVar(&libraryRefresh, "refresh", false, "Flush cached track metadata before listing")
	rootCmd.AddCommand(libraryCmd)
}

func runLibrary(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}
	// Listing needs neither history nor relays.
	cfg.DBDSN = ""
	cfg.EventRelay = config.RelayNone

	srv, err := server.New(cfg, logBuf, logger)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}
	defer srv.Close()

	catalog := srv.Catalog()
	if libraryRefresh {
		if err := catalog.Refresh(cmd.Context()); err != nil {
			return err
		}
	}

	entries, err := catalog.List(cmd.Context())
	if err != nil {
		return fmt.Errorf("list library: %w", err)
	}

	out := cmd.OutOrStdout()
	if libraryJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TRACK\tRATE\tCHANNELS\tDURATION\tSTATUS")
	for _, e := range entries {
		status := "ok"
		if e.Error != "" {
			status = e.Error
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2fs\t%s\n", e.ID, e.SampleRate, e.Channels, e.Duration, status)
	}
	return tw.Flush()
}
