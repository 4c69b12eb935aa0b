package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/frontier"
)

// NewResetCmd creates the reset command.
func NewResetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reset <url>",
		Short: "Return a dead URL to the frontier",
		Long: `Reset makes a URL that ran out of retries pending again, with a fresh
retry budget. Only dead URLs can be reset.

Example:
  darc reset --redis 127.0.0.1:6379 http://exampleonionaddress.onion/page`,
		Args: cobra.ExactArgs(1),
		RunE: runResetCmd,
	}

	cmd.Flags().String("redis", "", "Redis address of the shared frontier")

	return cmd
}

func runResetCmd(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("redis")
	if err != nil {
		return err
	}
	if addr == "" {
		return errNoRedis
	}

	ctx := cmd.Context()
	queue, err := frontier.DialRedisQueue(ctx, addr, nil, frontier.WithLogger(newLogger(cmd)))
	if err != nil {
		return err
	}
	defer queue.Close()

	switch err := queue.Reset(ctx, args[0]); {
	case errors.Is(err, frontier.ErrNotFound):
		return fmt.Errorf("%s has never been queued", args[0])
	case errors.Is(err, frontier.ErrNotDead):
		return fmt.Errorf("%s is not dead; only dead URLs can be reset", args[0])
	case err != nil:
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Reset %s\n", args[0])
	return nil
}
