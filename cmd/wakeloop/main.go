package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is set via -ldflags at build time.
	Version = "dev"
	// Commit is set via -ldflags at build time.
	Commit = "unknown"
	// BuildTime is set via -ldflags at build time.
	BuildTime = "unknown"
)

// Persistent flags.
var (
	configPath string
	stateDir   string
	logFormat  string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "wakeloop",
	Short: "Budget-gated background thinking loop for an autonomous agent",
	Long: `wakeloop runs an agent's background consciousness: it sleeps for a
model-chosen interval, wakes, checks its budget, thinks with a small set of
tools, and goes back to sleep.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "wakeloop %s (%s) %s\n", Version, Commit, BuildTime)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: ~/.wakeloop/config.yaml)")
	pf.StringVar(&stateDir, "state-dir", "", "State directory override")
	pf.StringVar(&logFormat, "log-format", "", "Log format: json|text (default: text on a terminal, json otherwise)")
	pf.StringVar(&logLevel, "log-level", "", "Log level: debug|info|warn|error")

	rootCmd.AddCommand(runCmd, thinkCmd, reviewCmd, usageCmd, eventsCmd, journalCmd, secretsCmd, versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "wakeloop: %v\n", err)
		os.Exit(1)
	}
}
