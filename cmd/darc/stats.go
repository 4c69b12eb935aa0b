package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/config"
	"github.com/nao1215/darc/internal/database"
	"github.com/nao1215/darc/internal/frontier"
	"github.com/nao1215/darc/internal/report"
)

// defaultTopHosts is how many hosts the stats report lists.
const defaultTopHosts = 10

// NewStatsCmd creates the stats command.
func NewStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Summarize the crawl database",
		Long: `Stats reads the crawl database and prints the number of visits, the
outcomes by kind and the most visited hosts. With --redis the state of the
shared frontier is included.

Examples:
  # Plain text summary
  darc stats

  # Markdown with a pie chart of outcomes, written to a file
  darc stats --markdown -o report/crawl.md

  # JSON for scripts
  darc stats --json --redis 127.0.0.1:6379`,
		Args: cobra.NoArgs,
		RunE: runStatsCmd,
	}

	cmd.Flags().String("data-dir", config.XDGDataDir(), "Directory holding the crawl database")
	cmd.Flags().IntP("top", "n", defaultTopHosts, "Number of hosts to list")
	cmd.Flags().String("redis", "", "Redis address of a shared frontier to include")
	cmd.Flags().BoolP("json", "j", false, "Output JSON (mutually exclusive with --markdown)")
	cmd.Flags().BoolP("markdown", "m", false, "Output Markdown (mutually exclusive with --json)")
	cmd.Flags().StringP("output", "o", "", "Write the report to this file (creates directories if needed)")
	cmd.MarkFlagsMutuallyExclusive("json", "markdown")

	return cmd
}

func runStatsCmd(cmd *cobra.Command, _ []string) error {
	f := cmd.Flags()
	dataDir, err := f.GetString("data-dir")
	if err != nil {
		return err
	}
	top, err := f.GetInt("top")
	if err != nil {
		return err
	}
	addr, err := f.GetString("redis")
	if err != nil {
		return err
	}
	asJSON, err := f.GetBool("json")
	if err != nil {
		return err
	}
	asMarkdown, err := f.GetBool("markdown")
	if err != nil {
		return err
	}
	outputPath, err := f.GetString("output")
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	store, err := database.Open(dataDir, database.Options{EnableWAL: true})
	if err != nil {
		return err
	}
	defer store.Close()

	st, err := store.Stats(ctx, top)
	if err != nil {
		return err
	}

	var fr *frontier.Stats
	if addr != "" {
		queue, err := frontier.DialRedisQueue(ctx, addr, nil, frontier.WithLogger(newLogger(cmd)))
		if err != nil {
			return err
		}
		defer queue.Close()
		qs, err := queue.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read frontier stats: %w", err)
		}
		fr = &qs
	}

	summary := report.NewSummary(store.Path(), st, fr, time.Now())

	out := cmd.OutOrStdout()
	if outputPath != "" {
		file, err := createReportFile(outputPath)
		if err != nil {
			return err
		}
		defer file.Close()
		out = file
	}

	_, err = newReportWriter(out, asJSON, asMarkdown).Write(summary)
	return err
}

// newReportWriter returns the writer for the requested format.
func newReportWriter(out io.Writer, asJSON, asMarkdown bool) report.Writer {
	switch {
	case asJSON:
		return report.NewJSONWriter(out, report.WithPrettyPrint())
	case asMarkdown:
		return report.NewMarkdownWriter(out)
	default:
		return report.NewSimpleWriter(out)
	}
}

// createReportFile creates path and its parent directories. The file is only
// readable by its owner.
func createReportFile(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600) //nolint:gosec // user-provided output path is intentional
	if err != nil {
		return nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return file, nil
}
