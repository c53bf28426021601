package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/floegence/wakeloop/internal/llm"
	"github.com/floegence/wakeloop/internal/review"
)

var (
	reviewChunkTokens   int
	reviewMaxFileChars  int
	reviewMaxTotalChars int
	reviewTaskType      string
)

var reviewCmd = &cobra.Command{
	Use:   "review [dir...]",
	Short: "Collect and chunk a code corpus for review and print complexity metrics",
	Long: `Collect text files for review, pack them into token-bounded chunks and print
static complexity metrics.

Without arguments the configured repo dir (prefix "repo") and the state dir
(prefix "drive") are collected.`,
	RunE: runReview,
}

func init() {
	f := reviewCmd.Flags()
	f.IntVar(&reviewChunkTokens, "chunk-tokens", review.DefaultChunkTokenCap, "Estimated tokens per chunk (clamped to [20000, 120000])")
	f.IntVar(&reviewMaxFileChars, "max-file-chars", review.DefaultMaxFileChars, "Per-file character cap")
	f.IntVar(&reviewMaxTotalChars, "max-total-chars", review.DefaultMaxTotalChars, "Total character cap")
	f.StringVar(&reviewTaskType, "task", "review", "Task type used to pick the model profile")
}

func runReview(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var roots []review.Root
	if len(args) == 0 {
		roots = []review.Root{
			{Dir: cfg.EffectiveRepoDir(), Prefix: "repo", SkipDirs: review.RepoSkipDirs},
			{Dir: cfg.EffectiveStateDir(), Prefix: "drive", SkipDirs: review.DriveSkipDirs},
		}
	} else {
		for _, dir := range args {
			roots = append(roots, review.Root{Dir: dir, Prefix: filepath.Base(filepath.Clean(dir)), SkipDirs: review.RepoSkipDirs})
		}
	}

	sections, stats, err := review.CollectSections(review.CollectOptions{
		MaxFileChars:  reviewMaxFileChars,
		MaxTotalChars: reviewMaxTotalChars,
	}, roots...)
	if err != nil {
		return err
	}
	chunks := review.ChunkSections(sections, reviewChunkTokens)
	profile := cfg.EffectiveProfiles().ForTask(reviewTaskType)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Collected %d files, %d chars (%d truncated, %d dropped)\n", stats.Files, stats.Chars, stats.Truncated, stats.Dropped)
	fmt.Fprintf(out, "Profile %s: model=%s effort=%s\n", llm.SelectTaskProfile(reviewTaskType), profile.Model, profile.Effort)
	fmt.Fprintln(out, review.FormatMetrics(review.ComputeComplexityMetrics(sections)))
	fmt.Fprintf(out, "Chunks (cap %d tokens):\n", review.ClampChunkCap(reviewChunkTokens))
	for i, c := range chunks {
		first, last := "-", "-"
		if len(c.Labels) > 0 {
			first, last = c.Labels[0], c.Labels[len(c.Labels)-1]
		}
		fmt.Fprintf(out, "  %2d. %6d tokens  %3d files  %s", i+1, c.Tokens, len(c.Labels), first)
		if last != first {
			fmt.Fprintf(out, " .. %s", last)
		}
		fmt.Fprintln(out)
	}
	if len(sections) == 0 {
		fmt.Fprintln(out, strings.TrimSpace(chunks[0].Text))
	}
	return nil
}
