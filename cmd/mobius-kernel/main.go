package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/kaizencycle/Mobius-Systems/pkg/archive"
	"github.com/kaizencycle/Mobius-Systems/pkg/config"
	"github.com/kaizencycle/Mobius-Systems/pkg/cycle"
	"github.com/kaizencycle/Mobius-Systems/pkg/kernel"
	"github.com/kaizencycle/Mobius-Systems/pkg/observability"
	"github.com/kaizencycle/Mobius-Systems/pkg/store"
)

const version = "0.1.0"

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}
	switch args[1] {
	case "demo":
		return runDemoCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "genesis":
		return runGenesisCmd(args[2:], stdout, stderr)
	case "version":
		_, _ = fmt.Fprintln(stdout, "mobius-kernel", version)
		return 0
	case "help", "--help", "-h":
		printUsage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "Unknown command: %s\n", args[1])
		printUsage(stderr)
		return 2
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, "mobius-kernel %s\n\n", version)
	_, _ = fmt.Fprintln(w, "USAGE:")
	_, _ = fmt.Fprintln(w, "  mobius-kernel <command> [flags]")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "COMMANDS:")
	_, _ = fmt.Fprintln(w, "  demo      Run a scripted network: citizens, a cycle, blocks, epochs and a vote")
	_, _ = fmt.Fprintln(w, "  verify    Verify the latest stored snapshot and its chain")
	_, _ = fmt.Fprintln(w, "  genesis   Print the default genesis file or check one (--check FILE)")
	_, _ = fmt.Fprintln(w, "  version   Print the version")
	_, _ = fmt.Fprintln(w, "  help      Show this help")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "ENVIRONMENT:")
	_, _ = fmt.Fprintln(w, "  MOBIUS_LOG_LEVEL, MOBIUS_LOG_FORMAT, MOBIUS_GENESIS_PATH,")
	_, _ = fmt.Fprintln(w, "  MOBIUS_DB_DRIVER, MOBIUS_DATABASE_URL, MOBIUS_ARCHIVE, MOBIUS_ARCHIVE_DIR,")
	_, _ = fmt.Fprintln(w, "  MOBIUS_ARCHIVE_BUCKET, MOBIUS_ARCHIVE_REGION, MOBIUS_ARCHIVE_ENDPOINT,")
	_, _ = fmt.Fprintln(w, "  MOBIUS_REDIS_ADDR, MOBIUS_OTLP_ENDPOINT, MOBIUS_KEY_SEED")
}

// node is the set of collaborators a command runs the kernel with.
type node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  *slog.Logger
	metrics *observability.Metrics
	store   *store.SQLStore
	archive *archive.Archive
	counter cycle.Counter
	closers []func(context.Context) error
}

// openNode wires configuration, telemetry, persistence and the archive.
// genesisPath overrides MOBIUS_GENESIS_PATH when set.
func openNode(ctx context.Context, genesisPath string, stderr io.Writer) (*node, error) {
	cfg := config.Load()
	n := &node{cfg: cfg, logger: cfg.Logger(stderr)}
	slog.SetDefault(n.logger)

	if genesisPath == "" {
		genesisPath = cfg.GenesisPath
	}
	if genesisPath != "" {
		g, err := config.LoadGenesis(genesisPath)
		if err != nil {
			return nil, err
		}
		n.genesis = g
	} else {
		n.genesis = config.DefaultGenesis()
	}

	if cfg.OTLPEndpoint != "" {
		p, err := observability.New(ctx, observability.Config{Endpoint: cfg.OTLPEndpoint, Version: version})
		if err != nil {
			return nil, err
		}
		n.closers = append(n.closers, p.Shutdown)
		if n.metrics, err = observability.NewMetrics(p.Meter(), p.Tracer()); err != nil {
			return nil, err
		}
	} else {
		m, err := observability.DefaultMetrics()
		if err != nil {
			return nil, err
		}
		n.metrics = m
	}

	st, err := store.Open(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		n.Close(ctx)
		return nil, err
	}
	n.store = st
	n.closers = append(n.closers, func(context.Context) error { return st.Close() })

	arc, err := archive.Open(ctx, archive.Config{
		Kind:     cfg.Archive,
		Dir:      cfg.ArchiveDir,
		Bucket:   cfg.ArchiveBucket,
		Region:   cfg.ArchiveRegion,
		Endpoint: cfg.ArchiveEndpoint,
	})
	if err != nil {
		n.Close(ctx)
		return nil, err
	}
	if arc != nil {
		n.archive = arc.WithLogger(n.logger).WithMetrics(n.metrics)
	}

	if cfg.RedisAddr != "" {
		rc := cycle.NewRedisCounter(cfg.RedisAddr, "", 0)
		if err := rc.Ping(ctx); err != nil {
			n.logger.Warn("redis unreachable, using in-memory rate counters", "addr", cfg.RedisAddr, "error", err)
			_ = rc.Close()
		} else {
			n.counter = rc
			n.closers = append(n.closers, func(context.Context) error { return rc.Close() })
		}
	}
	return n, nil
}

// kernelOptions turns the genesis file into kernel options.
func (n *node) kernelOptions() (kernel.Options, error) {
	g := n.genesis
	params, err := g.Params()
	if err != nil {
		return kernel.Options{}, err
	}
	alloc, err := g.AllocationMap()
	if err != nil {
		return kernel.Options{}, err
	}
	grant, err := g.Grant()
	if err != nil {
		return kernel.Options{}, err
	}
	p := g.Policy
	return kernel.Options{
		Policy:       &p,
		Params:       &params,
		Allocations:  alloc,
		CitizenGrant: grant,
		Counter:      n.counter,
		Metrics:      n.metrics,
		Logger:       n.logger,
	}, nil
}

// Close releases collaborators in reverse order of acquisition.
func (n *node) Close(ctx context.Context) {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](ctx); err != nil {
			n.logger.Warn("shutdown step failed", "error", err)
		}
	}
	n.closers = nil
}
