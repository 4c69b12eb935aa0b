package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/log"
)

// NewRootCmd creates the root command for darc.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "darc",
		Short: "Crawl Tor hidden services",
		Long: `darc crawls Tor hidden services (.onion sites).

URLs are claimed from a frontier by a pool of workers, fetched through Tor
and, when a page only renders with JavaScript, loaded again in headless
Chrome. Every visit is stored in a SQLite database under the data directory,
and the hidden-service links found on the page are queued for crawling.

Run "darc init" to create a .darc file with per-site settings.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	cmd.PersistentFlags().Bool("json-log", false, "Write logs as JSON lines")

	cmd.AddCommand(
		NewCrawlCmd(),
		NewSeedCmd(),
		NewStatsCmd(),
		NewResetCmd(),
		NewInitCmd(),
		NewVersionCmd(),
	)

	return cmd
}

// Execute runs the root command and exits with status 1 on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the logger selected by the persistent flags. Logs go to
// the command's error stream.
func newLogger(cmd *cobra.Command) *slog.Logger {
	debug, _ := cmd.Flags().GetBool("debug")   //nolint:errcheck // absent flag means false
	json, _ := cmd.Flags().GetBool("json-log") //nolint:errcheck // absent flag means false
	return log.NewLogger(cmd.ErrOrStderr(), debug, json)
}
