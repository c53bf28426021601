package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/floegence/wakeloop/internal/eventlog"
	"github.com/floegence/wakeloop/internal/memory"
)

var (
	eventsLimit  int
	journalLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the newest structured events, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		store, err := eventlog.New(eventlog.Options{Dir: cfg.LogsDir()})
		if err != nil {
			return err
		}
		events, err := store.List(eventsLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range events {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s\n", b)
		}
		return nil
	},
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Print scratchpad journal entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		entries, err := memory.NewStore(cfg.MemoryDir()).Journal(journalLimit)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-14s %6d chars  %q\n", e.TS, e.Source, e.ContentLen, e.ContentPreview)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to print")
	journalCmd.Flags().IntVar(&journalLimit, "limit", 20, "Maximum entries to print")
}
