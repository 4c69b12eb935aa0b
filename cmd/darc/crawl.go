package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nao1215/darc/internal/cache"
	"github.com/nao1215/darc/internal/config"
	"github.com/nao1215/darc/internal/database"
	"github.com/nao1215/darc/internal/discover"
	"github.com/nao1215/darc/internal/extract"
	"github.com/nao1215/darc/internal/fetch"
	"github.com/nao1215/darc/internal/frontier"
	"github.com/nao1215/darc/internal/publish"
	"github.com/nao1215/darc/internal/scheduler"
	"github.com/nao1215/darc/internal/tor"
)

// controlPasswordEnv is read when --control-password is not given.
const controlPasswordEnv = "DARC_CONTROL_PASSWORD"

// defaultControlPort is assumed for an external Tor without --control.
const defaultControlPort = "9051"

// blobDir is the directory under the data dir that holds page bodies.
const blobDir = "content"

// NewCrawlCmd creates the crawl command.
func NewCrawlCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl [url...]",
		Short: "Crawl hidden services starting from seed URLs",
		Long: `Crawl visits the seed URLs and every hidden-service link found on them.

By default an embedded Tor daemon is started. Use --external-tor to crawl
through a running Tor instead; its control port must be reachable so that
circuits can be rotated when a proxy keeps failing or a site blocks us.

With --redis the frontier and the freshness cache live in Redis, so several
darc processes can share one crawl. Without it both are kept in memory and
the crawl ends when no URL is left.

Examples:
  # Crawl from a single seed
  darc crawl http://exampleonionaddress.onion/

  # Use a running Tor and a seed list
  darc crawl -e 127.0.0.1:9050 --control 127.0.0.1:9051 -f seeds.txt

  # Revisit pages older than a day, with 8 workers
  darc crawl -w 8 --cache-ttl 24h -f seeds.txt

  # Join a shared crawl and keep polling for work
  darc crawl --redis 127.0.0.1:6379 --forever`,
		Args: cobra.ArbitraryArgs,
		RunE: runCrawlCmd,
	}

	f := cmd.Flags()
	f.IntP("workers", "w", config.DefaultWorkers, "Number of crawl workers")
	f.String("data-dir", config.XDGDataDir(), "Directory for the database and page bodies")
	f.String("cache-dir", config.XDGCacheDir(), "Directory for the browser profile")

	// Tor
	f.StringP("external-tor", "e", "",
		"Use the Tor SOCKS5 proxy at this address instead of an embedded daemon (e.g., 127.0.0.1:9050)")
	f.String("control", "", "Tor control port address (default: proxy host, port "+defaultControlPort+")")
	f.String("control-password", "", "Tor control port password (or "+controlPasswordEnv+")")
	f.String("control-cookie", "", "Tor control auth cookie file (e.g., /run/tor/control.authcookie)")
	f.Duration("tor-timeout", config.DefaultTorStartupTimeout, "Timeout for embedded Tor startup")
	f.Int("failure-threshold", config.DefaultFailureThreshold,
		"Consecutive proxy failures before the circuit is rotated")

	// Fetching
	f.String("cache-ttl", "infinite", `How long a visited URL stays fresh (duration, seconds or "infinite")`)
	f.DurationP("timeout", "t", config.DefaultTimeout, "Timeout for each fetch")
	f.Duration("render-wait", config.DefaultRenderWait, "Wait after the page is ready in the browser")
	f.Bool("no-render", false, "Never load pages in a browser")
	f.Int("max-renderers", config.DefaultMaxRenderers, "Maximum number of concurrent browser tabs")
	f.String("chrome", "", "Chrome executable (default: search the usual locations)")
	f.String("user-agent", "", "User-Agent header")
	f.Bool("force", false, "Ignore robots.txt")

	// Frontier
	f.String("pattern", "", "Regexp a link must match to be crawled (default: onion hosts)")
	f.StringP("seed-file", "f", "", "File with one seed URL per line")
	f.String("redis", "", "Redis address for a shared frontier and cache")
	f.Int("max-retries", config.DefaultMaxRetries, "Retries before a URL is marked dead")
	f.Duration("lease", config.DefaultLeaseTimeout, "How long a worker may hold a URL")
	f.Bool("forever", false, "Keep polling when the frontier is empty")

	// Publishing
	f.String("kafka", "", "Kafka broker to publish visit outcomes to")
	f.String("kafka-topic", config.DefaultKafkaTopic, "Kafka topic for visit outcomes")
	f.String("neo4j", "", "Neo4j URI to write the link graph to (e.g., neo4j://localhost:7687)")
	f.String("neo4j-user", config.DefaultNeo4jUser, "Neo4j user")
	f.String("neo4j-password", "", "Neo4j password")

	f.StringP("config", "c", "",
		"Configuration file path (default: .darc in current or home directory)")

	return cmd
}

// runCrawlCmd executes the crawl command.
func runCrawlCmd(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd, args)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	logger := newLogger(cmd)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runCrawl(ctx, cfg, logger, cmd.OutOrStdout())
}

// buildConfig creates a Config from the crawl flags.
func buildConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.NewConfig()
	f := cmd.Flags()

	var err error
	if cfg.Workers, err = f.GetInt("workers"); err != nil {
		return nil, err
	}
	if cfg.DataDir, err = f.GetString("data-dir"); err != nil {
		return nil, err
	}
	if cfg.CacheDir, err = f.GetString("cache-dir"); err != nil {
		return nil, err
	}
	if cfg.ExternalTor, err = f.GetString("external-tor"); err != nil {
		return nil, err
	}
	if cfg.ControlAddress, err = f.GetString("control"); err != nil {
		return nil, err
	}
	if cfg.ControlPassword, err = f.GetString("control-password"); err != nil {
		return nil, err
	}
	if cfg.ControlPassword == "" {
		cfg.ControlPassword = os.Getenv(controlPasswordEnv)
	}
	if cfg.ControlCookie, err = f.GetString("control-cookie"); err != nil {
		return nil, err
	}
	if cfg.TorStartupTimeout, err = f.GetDuration("tor-timeout"); err != nil {
		return nil, err
	}
	if cfg.FailureThreshold, err = f.GetInt("failure-threshold"); err != nil {
		return nil, err
	}

	ttl, err := f.GetString("cache-ttl")
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = config.ParseTTL(ttl); err != nil {
		return nil, err
	}
	if cfg.Timeout, err = f.GetDuration("timeout"); err != nil {
		return nil, err
	}
	if cfg.RenderWait, err = f.GetDuration("render-wait"); err != nil {
		return nil, err
	}
	if cfg.NoRender, err = f.GetBool("no-render"); err != nil {
		return nil, err
	}
	if cfg.MaxRenderers, err = f.GetInt("max-renderers"); err != nil {
		return nil, err
	}
	if cfg.ChromePath, err = f.GetString("chrome"); err != nil {
		return nil, err
	}
	if cfg.UserAgent, err = f.GetString("user-agent"); err != nil {
		return nil, err
	}
	if cfg.Force, err = f.GetBool("force"); err != nil {
		return nil, err
	}

	if cfg.Pattern, err = f.GetString("pattern"); err != nil {
		return nil, err
	}
	if cfg.SeedFile, err = f.GetString("seed-file"); err != nil {
		return nil, err
	}
	if cfg.RedisAddress, err = f.GetString("redis"); err != nil {
		return nil, err
	}
	if cfg.MaxRetries, err = f.GetInt("max-retries"); err != nil {
		return nil, err
	}
	if cfg.LeaseTimeout, err = f.GetDuration("lease"); err != nil {
		return nil, err
	}
	if cfg.Forever, err = f.GetBool("forever"); err != nil {
		return nil, err
	}

	if cfg.KafkaBroker, err = f.GetString("kafka"); err != nil {
		return nil, err
	}
	if cfg.KafkaTopic, err = f.GetString("kafka-topic"); err != nil {
		return nil, err
	}
	if cfg.Neo4jURI, err = f.GetString("neo4j"); err != nil {
		return nil, err
	}
	if cfg.Neo4jUser, err = f.GetString("neo4j-user"); err != nil {
		return nil, err
	}
	if cfg.Neo4jPassword, err = f.GetString("neo4j-password"); err != nil {
		return nil, err
	}

	if cfg.ConfigFilePath, err = f.GetString("config"); err != nil {
		return nil, err
	}
	if cfg.SiteConfigs, err = loadSiteConfigs(cfg.ConfigFilePath); err != nil {
		return nil, err
	}

	cfg.Debug, _ = cmd.Flags().GetBool("debug") //nolint:errcheck // absent when run without the root command
	cfg.SeedURLs = args
	if cfg.SeedFile != "" {
		seeds, err := config.ReadSeedFile(cfg.SeedFile)
		if err != nil {
			return nil, err
		}
		cfg.SeedURLs = append(cfg.SeedURLs, seeds...)
	}
	return cfg, nil
}

// loadSiteConfigs reads the site file. A missing file is an error only when
// its path was given explicitly.
func loadSiteConfigs(path string) (*config.File, error) {
	found := config.FindConfigFile(path)
	if found == "" {
		if path != "" {
			return nil, fmt.Errorf("%w: %s", config.ErrConfigNotFound, path)
		}
		return &config.File{Sites: make(map[string]config.SiteConfig)}, nil
	}
	cf, err := config.LoadConfigFile(found)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file %s: %w", found, err)
	}
	return cf, nil
}

// runCrawl wires the components together and runs the workers until the
// frontier is drained or ctx is cancelled.
func runCrawl(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) error {
	sites, err := cfg.SiteConfigs.Compile()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	pattern, err := cfg.CompilePattern()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	store, err := database.Open(cfg.DataDir, database.DefaultOptions())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()
	blobs, err := database.NewBlobStore(filepath.Join(cfg.DataDir, blobDir))
	if err != nil {
		return fmt.Errorf("failed to open content store: %w", err)
	}
	logger.Info("database opened", "path", store.Path())

	network, err := connectTor(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer network.close(logger)

	circuit := tor.NewCircuitManager(network.control,
		tor.WithFailureThreshold(cfg.FailureThreshold),
		tor.WithCircuitLogger(logger),
	)
	if err := circuit.Init(ctx); err != nil {
		return err
	}

	freshness, queue, err := openFrontier(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer queue.Close()
	defer freshness.Close()

	fetchOpts := []fetch.Option{
		fetch.WithSites(siteOptions(sites)),
		fetch.WithUserAgent(cfg.UserAgent),
		fetch.WithMaxBodySize(cfg.MaxBodySize),
		fetch.WithLogger(logger),
	}
	direct := fetch.NewDirectFetcher(network.client, circuit, fetchOpts...)
	var rendered fetch.Fetcher
	if !cfg.NoRender {
		browser := fetch.NewRenderedFetcher(network.client.ProxyAddress(), append(fetchOpts,
			fetch.WithRenderWait(cfg.RenderWait),
			fetch.WithMaxRenderers(cfg.MaxRenderers),
			fetch.WithExecPath(cfg.ChromePath),
			fetch.WithProfileDir(filepath.Join(cfg.CacheDir, "chrome")),
		)...)
		defer browser.Close()
		rendered = browser
	}
	strategy := fetch.NewStrategy(direct, rendered, fetchOpts...)

	extractOpts := []extract.Option{
		extract.WithExclude(sites.Skip),
		extract.WithLogger(logger),
	}
	if pattern != nil {
		extractOpts = append(extractOpts, extract.WithPattern(pattern))
	}

	opts := []scheduler.Option{
		scheduler.WithWorkers(cfg.Workers),
		scheduler.WithTimeout(cfg.Timeout),
		scheduler.WithTTL(cfg.CacheTTL),
		scheduler.WithForever(cfg.Forever),
		scheduler.WithBlobs(blobs),
		scheduler.WithExtractor(extract.New(extractOpts...)),
		scheduler.WithDiscoverer(discover.New(direct,
			discover.WithForce(cfg.Force),
			discover.WithTimeout(cfg.Timeout),
			discover.WithLogger(logger),
		)),
		scheduler.WithCircuit(circuit),
		scheduler.WithLogger(logger),
	}
	sinks, err := openSinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	if len(sinks) > 0 {
		defer sinks.Close()
		opts = append(opts, scheduler.WithPublisher(sinks))
	}

	queued := enqueueAll(ctx, queue, cfg.SeedURLs, logger)
	fmt.Fprintf(out, "Queued %d of %d seed URLs\n", queued, len(cfg.SeedURLs))

	s := scheduler.New(queue, freshness, strategy, store, opts...)
	runErr := s.Run(ctx)

	// ctx may be cancelled already; the summary is printed regardless.
	if st, err := queue.Stats(context.WithoutCancel(ctx)); err == nil {
		fmt.Fprintf(out, "Frontier: %d pending, %d in flight, %d visited, %d dead (circuit rotations: %d)\n",
			st.Pending+st.Delayed, st.InFlight, st.Visited, st.Dead, circuit.Rotations())
	}
	if runErr != nil {
		return runErr
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		logger.Info("crawl interrupted")
	}
	return nil
}

// torNetwork holds the SOCKS client and control port of the Tor in use.
type torNetwork struct {
	client   *tor.Client
	control  *tor.ControlClient
	embedded *tor.EmbeddedTor
}

func (n *torNetwork) close(logger *slog.Logger) {
	if err := n.control.Close(); err != nil {
		logger.Debug("closing control connection failed", "error", err)
	}
	if n.embedded == nil {
		return
	}
	logger.Info("stopping embedded Tor daemon...")
	if err := n.embedded.Stop(); err != nil {
		logger.Error("failed to stop embedded Tor", "error", err)
	}
}

// connectTor returns the Tor network to crawl through: an external proxy when
// configured, otherwise a freshly started embedded daemon.
func connectTor(ctx context.Context, cfg *config.Config, logger *slog.Logger, out io.Writer) (*torNetwork, error) {
	if cfg.ExternalTor != "" {
		client, err := tor.NewClient(cfg.ExternalTor, cfg.Timeout)
		if err != nil {
			return nil, fmt.Errorf("failed to create Tor client: %w", err)
		}
		if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
			return nil, fmt.Errorf("tor proxy check failed: %w (make sure Tor is running at %s)",
				status.Error(), cfg.ExternalTor)
		}
		logger.Info("Tor proxy connection verified", "address", cfg.ExternalTor)
		return &torNetwork{
			client:  client,
			control: tor.NewControlClient(controlAddress(cfg),
				tor.ControlAuth(cfg.ControlPassword, cfg.ControlCookie), tor.DefaultControlTimeout),
		}, nil
	}

	fmt.Fprintln(out, "Starting embedded Tor daemon...")
	fmt.Fprintf(out, "This may take 1-3 minutes while Tor bootstraps and connects to the network.\n\n")

	embedded := tor.NewEmbeddedTor(
		tor.WithStartupTimeout(cfg.TorStartupTimeout),
		tor.WithDaemonLogger(logger),
	)
	if err := embedded.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start embedded Tor: %w", err)
	}
	logger.Info("embedded Tor daemon started",
		"socksAddr", embedded.SocksAddr(),
		"controlAddr", embedded.ControlAddr(),
	)

	client, err := embedded.NewClient(cfg.Timeout)
	if err != nil {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to create Tor client: %w", err)
	}
	if status := client.CheckConnection(ctx); status != tor.ProxyStatusOK {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("embedded Tor proxy check failed: %w", status.Error())
	}
	control, err := embedded.NewControlClient(tor.DefaultControlTimeout)
	if err != nil {
		_ = embedded.Stop() //nolint:errcheck // best effort cleanup
		return nil, fmt.Errorf("failed to create Tor control client: %w", err)
	}
	fmt.Fprintf(out, "Embedded Tor daemon started (SOCKS proxy: %s)\n\n", embedded.SocksAddr())
	return &torNetwork{client: client, control: control, embedded: embedded}, nil
}

// controlAddress returns --control, or the proxy host with the default
// control port.
func controlAddress(cfg *config.Config) string {
	if cfg.ControlAddress != "" {
		return cfg.ControlAddress
	}
	host, _, err := net.SplitHostPort(cfg.ExternalTor)
	if err != nil {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, defaultControlPort)
}

// openFrontier returns the freshness cache and the frontier, in Redis when
// --redis is set and in memory otherwise.
func openFrontier(ctx context.Context, cfg *config.Config, logger *slog.Logger) (cache.Cache, frontier.Queue, error) {
	policy := frontier.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.LeaseTimeout = cfg.LeaseTimeout

	if cfg.RedisAddress == "" {
		c := cache.NewMemory(cfg.CacheTTL)
		q := frontier.NewMemoryQueue(
			frontier.WithPolicy(policy),
			frontier.WithFreshness(c),
			frontier.WithLogger(logger),
		)
		return c, q, nil
	}

	c, err := cache.DialRedis(ctx, cfg.RedisAddress, cfg.CacheTTL)
	if err != nil {
		return nil, nil, err
	}
	q, err := frontier.DialRedisQueue(ctx, cfg.RedisAddress, nil,
		frontier.WithPolicy(policy),
		frontier.WithFreshness(c),
		frontier.WithLogger(logger),
	)
	if err != nil {
		_ = c.Close()
		return nil, nil, err
	}
	logger.Info("using shared frontier", "redis", cfg.RedisAddress)
	return c, q, nil
}

// openSinks connects the configured outcome publishers.
func openSinks(ctx context.Context, cfg *config.Config, logger *slog.Logger) (publish.Multi, error) {
	var sinks publish.Multi
	if cfg.KafkaBroker != "" {
		sinks = append(sinks, publish.NewKafkaSink(cfg.KafkaBroker, cfg.KafkaTopic))
		logger.Info("publishing outcomes to kafka", "broker", cfg.KafkaBroker, "topic", cfg.KafkaTopic)
	}
	if cfg.Neo4jURI != "" {
		graph, err := publish.DialGraph(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, logger)
		if err != nil {
			_ = sinks.Close()
			return nil, err
		}
		sinks = append(sinks, graph)
		logger.Info("writing link graph to neo4j", "uri", cfg.Neo4jURI)
	}
	return sinks, nil
}

// siteOptions adapts the per-site file to the fetchers.
func siteOptions(sites *config.Sites) fetch.SiteFunc {
	return func(host string) fetch.SiteOptions {
		sc := sites.Lookup(host)
		return fetch.SiteOptions{
			Cookie:  sc.Cookie,
			Headers: sc.Headers,
			Render:  sc.Render,
		}
	}
}

// enqueueAll adds urls to the frontier and returns how many were new.
// Invalid URLs are logged and skipped.
func enqueueAll(ctx context.Context, queue frontier.Queue, urls []string, logger *slog.Logger) int {
	queued := 0
	for _, u := range urls {
		added, err := queue.Enqueue(ctx, u)
		if err != nil {
			logger.Warn("skipping seed", "url", u, "error", err)
			continue
		}
		if added {
			queued++
		}
	}
	return queued
}
