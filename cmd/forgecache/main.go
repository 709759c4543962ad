// Command forgecache is a thin demonstrator over the cache engine: enough
// to exercise clone, sync, sync-all, list, clean, and repair end to end.
// Argument parsing, help text, and shell completion are deliberately not
// built out here; this binary exists so the engine is reachable, not as
// a polished CLI.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/forgecache/forgecache"
	"github.com/forgecache/forgecache/internal/cache"
)

// command is the shape every subcommand satisfies, in the same spirit as
// a small hand-rolled dispatch table over stdlib flag.
type command interface {
	Name() string
	Run(ctx context.Context, cfg forgecache.Config, args []string) error
}

func commands() []command {
	return []command{
		cloneCmd{},
		syncCmd{},
		syncAllCmd{},
		listCmd{},
		cleanCmd{},
		repairCmd{},
	}
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: forgecache <clone|sync|sync-all|list|clean|repair> [args]")
		return 2
	}

	cfg := loadConfig()
	ctx := context.Background()

	for _, c := range commands() {
		if c.Name() == args[0] {
			if err := c.Run(ctx, cfg, args[1:]); err != nil {
				fmt.Fprintln(os.Stderr, err)
				return 1
			}
			return 0
		}
	}

	fmt.Fprintf(os.Stderr, "forgecache: unknown command %q\n", args[0])
	return 2
}

// loadConfig builds a Config from environment variables. Reading a
// config file's own lexer/grammar is out of scope; this is the minimum
// needed to point the binary at a cache root for manual testing.
func loadConfig() forgecache.Config {
	cfg := forgecache.Config{
		CacheRoot:           envOr("FORGECACHE_CACHE_ROOT", os.TempDir()+"/forgecache-store"),
		CheckoutRoot:        envOr("FORGECACHE_CHECKOUT_ROOT", os.TempDir()+"/forgecache-checkout"),
		ProviderToken:       os.Getenv("FORGECACHE_GITHUB_TOKEN"),
		ForkOrganization:    os.Getenv("FORGECACHE_FORK_ORGANIZATION"),
		DefaultStrategy:     cache.Strategy(envOr("FORGECACHE_DEFAULT_STRATEGY", string(cache.StrategyFull))),
		RecursiveSubmodules: envBool("FORGECACHE_RECURSIVE_SUBMODULES"),
		AutoSync:            envBool("FORGECACHE_AUTO_SYNC"),
		SyncIntervalHours:   envInt("FORGECACHE_SYNC_INTERVAL_HOURS", 0),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string) bool {
	v, _ := strconv.ParseBool(os.Getenv(key))
	return v
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func newCoordinator(cfg forgecache.Config) *cache.Coordinator {
	var provider cache.Provider
	if cfg.ProviderToken != "" {
		provider = &cache.GitHubProvider{Token: cfg.ProviderToken}
	}
	logger := forgecache.NewLogger(os.Stdout, cfg.Verbose)
	c := cache.NewCoordinator(cfg.Roots(), cache.GitVCS{}, provider, logger)
	c.LockOptions = cache.LockOptions{}
	c.DefaultStrategy = cfg.DefaultStrategy
	c.RecursiveSubmodules = cfg.RecursiveSubmodules

	if analysis, err := cache.OpenAnalysisCache(cfg.CacheRoot, 0); err == nil {
		c.Analysis = analysis
	} else {
		logger.Logf("opening analysis cache failed, auto strategy selection will use live probes only: %v", err)
	}
	return c
}

type cloneCmd struct{}

func (cloneCmd) Name() string { return "clone" }
func (cloneCmd) Run(ctx context.Context, cfg forgecache.Config, args []string) error {
	fs := flag.NewFlagSet("clone", flag.ContinueOnError)
	forkOwner := fs.String("fork-owner", "", "if set, also create a modifiable checkout against this fork owner")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("clone: expected exactly one repository url")
	}

	owner := *forkOwner
	if owner == "" {
		owner = cfg.ForkOrganization
	}

	c := newCoordinator(cfg)
	paths, err := c.Clone(ctx, fs.Arg(0), cache.CloneOptions{ForkOwner: owner})
	if err != nil {
		return err
	}
	fmt.Printf("store:      %s\n", paths.Store)
	fmt.Printf("checkout:   %s\n", paths.Checkout)
	if paths.Modifiable != "" {
		fmt.Printf("modifiable: %s\n", paths.Modifiable)
	}
	return nil
}

type syncCmd struct{}

func (syncCmd) Name() string { return "sync" }
func (syncCmd) Run(ctx context.Context, cfg forgecache.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("sync: expected exactly one repository url")
	}
	return newCoordinator(cfg).Sync(ctx, args[0])
}

// syncAllCmd syncs every tracked entry that needs it, per cfg.AutoSync
// and cfg.SyncIntervalHours, instead of requiring the caller to name one
// repository at a time. Intended to run on a schedule (cron, systemd
// timer); it is a no-op when AutoSync is off.
type syncAllCmd struct{}

func (syncAllCmd) Name() string { return "sync-all" }
func (syncAllCmd) Run(ctx context.Context, cfg forgecache.Config, _ []string) error {
	if !cfg.AutoSync {
		fmt.Println("sync-all: auto_sync is disabled, nothing to do")
		return nil
	}

	c := newCoordinator(cfg)
	entries, err := c.List(ctx)
	if err != nil {
		return err
	}

	now := c.Now()
	for _, e := range entries {
		if !cfg.NeedsSync(e.Metadata, now) {
			continue
		}
		if err := c.Sync(ctx, e.Metadata.OriginalURL); err != nil {
			fmt.Fprintf(os.Stderr, "sync-all: %s: %v\n", e.Metadata.OriginalURL, err)
			continue
		}
		fmt.Printf("synced %s\n", e.Metadata.OriginalURL)
	}
	return nil
}

type listCmd struct{}

func (listCmd) Name() string { return "list" }
func (listCmd) Run(ctx context.Context, cfg forgecache.Config, _ []string) error {
	entries, err := newCoordinator(cfg).List(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%s\t%s\t%s\n", e.Metadata.OriginalURL, e.Metadata.Strategy, e.StorePath)
	}
	return nil
}

type cleanCmd struct{}

func (cleanCmd) Name() string { return "clean" }
func (cleanCmd) Run(ctx context.Context, cfg forgecache.Config, args []string) error {
	fs := flag.NewFlagSet("clean", flag.ContinueOnError)
	force := fs.Bool("force", false, "remove even if the checkout has uncommitted changes")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("clean: expected exactly one repository url")
	}
	return newCoordinator(cfg).Clean(ctx, fs.Arg(0), *force || cfg.Force)
}

type repairCmd struct{}

func (repairCmd) Name() string { return "repair" }
func (repairCmd) Run(ctx context.Context, cfg forgecache.Config, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("repair: expected exactly one repository url")
	}
	return newCoordinator(cfg).Repair(ctx, args[0])
}
