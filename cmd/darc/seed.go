package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/cache"
	"github.com/nao1215/darc/internal/config"
	"github.com/nao1215/darc/internal/frontier"
)

// errNoRedis is returned by commands that only work on a shared frontier.
var errNoRedis = errors.New("--redis is required: an in-memory frontier does not outlive the crawl")

// NewSeedCmd creates the seed command.
func NewSeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed [url...]",
		Short: "Add URLs to a shared frontier",
		Long: `Seed pushes URLs into the Redis frontier used by "darc crawl --redis".

URLs that were visited within the cache TTL are not queued again.

Examples:
  darc seed --redis 127.0.0.1:6379 http://exampleonionaddress.onion/
  darc seed --redis 127.0.0.1:6379 -f seeds.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: runSeedCmd,
	}

	cmd.Flags().String("redis", "", "Redis address of the shared frontier")
	cmd.Flags().StringP("seed-file", "f", "", "File with one seed URL per line")
	cmd.Flags().String("cache-ttl", "infinite", `How long a visited URL stays fresh (duration, seconds or "infinite")`)

	return cmd
}

func runSeedCmd(cmd *cobra.Command, args []string) error {
	addr, err := cmd.Flags().GetString("redis")
	if err != nil {
		return err
	}
	if addr == "" {
		return errNoRedis
	}
	seedFile, err := cmd.Flags().GetString("seed-file")
	if err != nil {
		return err
	}
	rawTTL, err := cmd.Flags().GetString("cache-ttl")
	if err != nil {
		return err
	}
	ttl, err := config.ParseTTL(rawTTL)
	if err != nil {
		return err
	}

	urls := args
	if seedFile != "" {
		seeds, err := config.ReadSeedFile(seedFile)
		if err != nil {
			return err
		}
		urls = append(urls, seeds...)
	}
	if len(urls) == 0 {
		return config.ErrNoSeeds
	}

	ctx := cmd.Context()
	logger := newLogger(cmd)

	freshness, err := cache.DialRedis(ctx, addr, ttl)
	if err != nil {
		return err
	}
	defer freshness.Close()
	queue, err := frontier.DialRedisQueue(ctx, addr, nil,
		frontier.WithFreshness(freshness),
		frontier.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	defer queue.Close()

	queued := enqueueAll(ctx, queue, urls, logger)
	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d of %d URLs\n", queued, len(urls))
	return nil
}
