package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var thinkObservations []string

var thinkCmd = &cobra.Command{
	Use:   "think",
	Short: "Run exactly one thinking cycle and print the scheduler status",
	RunE:  runThink,
}

func init() {
	thinkCmd.Flags().StringArrayVar(&thinkObservations, "observe", nil, "Observation visible to this cycle (repeatable)")
}

func runThink(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{lock: true})
	if err != nil {
		return err
	}
	defer a.Close()

	for _, o := range thinkObservations {
		a.scheduler.InjectObservation(o)
	}
	cycleErr := a.scheduler.ThinkOnce(cmd.Context())

	out := cmd.OutOrStdout()
	for a.outbound.Len() > 0 {
		b, err := json.Marshal(<-a.outbound.C())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "event: %s\n", b)
	}

	b, err := json.MarshalIndent(a.scheduler.Status(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\n", b)
	if cycleErr != nil {
		return fmt.Errorf("thinking cycle: %w", cycleErr)
	}
	return nil
}
