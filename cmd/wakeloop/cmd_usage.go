package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/floegence/wakeloop/internal/ledger"
)

var usageRecent int

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show recorded LLM usage grouped by source",
	RunE:  runUsage,
}

func init() {
	usageCmd.Flags().IntVar(&usageRecent, "recent", 0, "Also list the N most recent calls")
}

func runUsage(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := ledger.Open(cfg.LedgerPath())
	if err != nil {
		return fmt.Errorf("open usage ledger: %w", err)
	}
	defer store.Close()

	ctx := cmd.Context()
	totals, err := store.Totals(ctx)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tCALLS\tPROMPT\tCOMPLETION\tTOTAL\tCOST")
	for _, t := range totals {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t$%.4f\n", t.Source, t.Calls, t.Usage.PromptTokens, t.Usage.CompletionTokens, t.Usage.TotalTokens, t.Usage.Cost)
	}
	if usageRecent > 0 {
		recent, err := store.Recent(ctx, usageRecent)
		if err != nil {
			return err
		}
		fmt.Fprintln(tw)
		fmt.Fprintln(tw, "TIME\tSOURCE\tMODEL\tTOTAL\tCOST")
		for _, r := range recent {
			at := time.UnixMilli(r.CreatedAtUnixMs).UTC().Format(time.RFC3339)
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t$%.4f\n", at, r.Source, r.Model, r.Usage.TotalTokens, r.Usage.Cost)
		}
	}
	return tw.Flush()
}
