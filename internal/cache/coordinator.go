package cache

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/schollz/progressbar/v3"
	retry "github.com/sethvargo/go-retry"
)

// Logger is the minimal surface the Coordinator needs for status output,
// satisfied by forgecache.Logger without this package depending on the
// root package (which would invert the dependency direction).
type Logger interface {
	Logf(format string, args ...interface{})
	Logln(args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Logf(string, ...interface{}) {}
func (nopLogger) Logln(...interface{})        {}

// Clock abstracts the current time for testability; production code
// should pass time.Now.
type Clock func() time.Time

// Coordinator is the Cache Coordinator: it owns Path Resolver, Lock
// Manager, Integrity Engine, and Metadata Store and drives them through
// the clone/sync/list/clean/repair operations. It holds no package-level
// state; every field belongs to the value and is set by its caller,
// matching the DESIGN NOTES rejection of a global-singleton context.
type Coordinator struct {
	Roots       Roots
	VCS         VCS
	Provider    Provider
	Log         Logger
	Now         Clock
	LockOptions LockOptions
	Strategy    StrategyConfig
	Analysis    *AnalysisCache

	// DefaultStrategy is used when StrategyAuto is requested but neither
	// the analysis cache nor a live provider probe yields a confident
	// signal. Defaults to StrategyFull when left unset.
	DefaultStrategy Strategy

	// RecursiveSubmodules, when set, initializes and updates submodules
	// recursively on every checkout that has any.
	RecursiveSubmodules bool
}

// NewCoordinator constructs a Coordinator with defaulted collaborators
// where the caller left them nil: GitVCS for VCS, a no-op Logger, and
// time.Now for Clock.
func NewCoordinator(roots Roots, vcs VCS, provider Provider, log Logger) *Coordinator {
	if vcs == nil {
		vcs = GitVCS{}
	}
	if log == nil {
		log = nopLogger{}
	}
	return &Coordinator{
		Roots:    roots,
		VCS:      vcs,
		Provider: provider,
		Log:      log,
		Now:      time.Now,
	}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// CloneOptions parameterizes a Clone call.
type CloneOptions struct {
	ForkOwner string // non-empty requests a modifiable checkout against this fork owner
	Strategy  Strategy
	HostKind  HostKind
}

// Clone implements the full procedure: resolve paths, lock the store,
// populate or reuse the bare store, validate/repair it, create or reuse a
// reference checkout, validate/repair that, write metadata, and release
// the lock. Every mutating step that creates a final artifact builds into
// a uniquely-suffixed sibling and renames over the final path, so a
// process killed mid-clone never leaves a half-populated store or
// checkout at its canonical location.
func (c *Coordinator) Clone(ctx context.Context, rawURL string, opts CloneOptions) (Paths, error) {
	id, err := ParseRepoURL(rawURL)
	if err != nil {
		return Paths{}, err
	}

	paths, err := Resolve(id, c.Roots)
	if err != nil {
		return Paths{}, err
	}

	lock, err := AcquireLock(LockPath(paths.Store), c.LockOptions)
	if err != nil {
		return Paths{}, err
	}
	defer lock.Release()

	if err := c.ensureStore(ctx, id, rawURL, paths.Store, opts); err != nil {
		return Paths{}, err
	}

	strategy := opts.Strategy
	if strategy == "" {
		strategy = StrategyAuto
	}
	if strategy == StrategyAuto {
		strategy = c.autoSelectStrategy(ctx, id)
		if err := UpdateStrategy(paths.Store, strategy); err != nil {
			return Paths{}, err
		}
	}

	if err := c.ensureCheckout(ctx, paths.Store, paths.Checkout, strategy); err != nil {
		return Paths{}, err
	}

	if opts.ForkOwner != "" {
		modifiable, err := ModifiablePath(id, c.Roots, opts.ForkOwner)
		if err != nil {
			return Paths{}, err
		}
		paths.Modifiable = modifiable
		if err := c.ensureModifiable(ctx, id, paths.Store, modifiable, opts); err != nil {
			return Paths{}, err
		}
	}

	return paths, nil
}

func (c *Coordinator) ensureStore(ctx context.Context, id RepoId, rawURL, storePath string, opts CloneOptions) error {
	if _, err := os.Stat(storePath); err == nil {
		status, err := ValidateStore(ctx, c.VCS, storePath)
		if err != nil {
			return err
		}
		if status.OK {
			return UpdateAccess(storePath, c.now().Unix())
		}
		c.Log.Logf("store %s failed validation (%s), repairing", storePath, status.Kind)
		if err := RepairStore(ctx, c.VCS, storePath, rawURL); err != nil {
			return err
		}
		return UpdateAccess(storePath, c.now().Unix())
	}

	bar := progressbar.Default(-1, fmt.Sprintf("cloning %s", id))
	defer bar.Finish()

	staged := StagePath(storePath)
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.VCS.CreateBareClone(ctx, rawURL, staged)
	})
	if err != nil {
		os.RemoveAll(staged)
		return Wrap(VcsSubprocess, rawURL, err)
	}
	bar.Add(1)

	if err := os.Rename(staged, storePath); err != nil {
		os.RemoveAll(staged)
		return Wrap(Filesystem, storePath, err)
	}

	m := CreateMetadata(c.now().Unix(), RepoDescriptor{
		OriginalURL: rawURL,
		Owner:       id.Owner,
		Name:        id.Name,
		HostKind:    opts.HostKind,
		Strategy:    opts.Strategy,
	})
	return SaveMetadata(storePath, m)
}

func (c *Coordinator) ensureCheckout(ctx context.Context, storePath, checkoutPath string, strategy Strategy) error {
	if _, err := os.Stat(checkoutPath); err == nil {
		status, err := ValidateCheckout(checkoutPath, storePath)
		if err != nil {
			return err
		}
		if status.OK {
			return c.syncSubmodules(ctx, storePath, checkoutPath)
		}
		c.Log.Logf("checkout %s failed validation (%s), repairing", checkoutPath, status.Kind)
		if err := RepairCheckout(ctx, c.VCS, checkoutPath, storePath, strategy); err != nil {
			return err
		}
		return c.syncSubmodules(ctx, storePath, checkoutPath)
	}

	staged := StagePath(checkoutPath)
	if err := c.VCS.CreateReferenceCheckout(ctx, storePath, staged, strategy); err != nil {
		os.RemoveAll(staged)
		return Wrap(VcsSubprocess, checkoutPath, err)
	}
	if err := os.Rename(staged, checkoutPath); err != nil {
		os.RemoveAll(staged)
		return Wrap(Filesystem, checkoutPath, err)
	}
	if err := c.syncSubmodules(ctx, storePath, checkoutPath); err != nil {
		return err
	}
	return IncrementRef(storePath)
}

// syncSubmodules records whether checkoutPath carries submodules and, when
// RecursiveSubmodules is enabled, initializes and updates them. It runs
// each time Clone creates, validates or repairs the read-only checkout;
// Sync does not call it.
func (c *Coordinator) syncSubmodules(ctx context.Context, storePath, checkoutPath string) error {
	records, err := c.VCS.ListSubmoduleRecords(checkoutPath)
	if err != nil {
		return Wrap(Filesystem, checkoutPath, err)
	}
	if len(records) == 0 {
		return nil
	}
	if err := UpdateHasSubmodules(storePath, true); err != nil {
		return err
	}
	if !c.RecursiveSubmodules {
		return nil
	}
	if err := c.VCS.UpdateSubmodulesRecursive(ctx, checkoutPath); err != nil {
		return Wrap(VcsSubprocess, checkoutPath, err)
	}
	return nil
}

func (c *Coordinator) ensureModifiable(ctx context.Context, id RepoId, storePath, modifiablePath string, opts CloneOptions) error {
	if c.Provider == nil {
		return newErr(Configuration, id.String(), "modifiable checkout requested but no provider configured", nil)
	}

	// On any provider failure (fork creation, or looking the fork back up),
	// fall back to building the modifiable checkout against the original
	// upstream URL rather than aborting the clone: a working, non-fork
	// modifiable checkout is strictly better than none.
	remoteURL := ""
	private := false
	forkId, err := c.Provider.ForkRepo(ctx, id, opts.ForkOwner)
	if err == nil {
		info, err := c.Provider.GetRepo(ctx, forkId)
		if err == nil {
			remoteURL = info.CloneURL
			private = info.Private
		} else {
			c.Log.Logf("looking up fork %s failed, falling back to original url: %v", forkId, err)
		}
	} else {
		c.Log.Logf("forking %s failed, falling back to original url: %v", id, err)
	}

	originalURL, err := c.originalURL(storePath)
	if err != nil {
		return err
	}
	if remoteURL == "" {
		remoteURL = originalURL
	}

	if _, err := os.Stat(modifiablePath); err == nil {
		return nil
	}

	staged := StagePath(modifiablePath)
	if err := c.VCS.CreateReferenceCheckout(ctx, storePath, staged, StrategyFull); err != nil {
		os.RemoveAll(staged)
		return Wrap(VcsSubprocess, modifiablePath, err)
	}
	if err := c.VCS.RemoteAdd(ctx, staged, "fork", remoteURL); err != nil {
		os.RemoveAll(staged)
		return Wrap(VcsSubprocess, modifiablePath, err)
	}
	if err := os.Rename(staged, modifiablePath); err != nil {
		os.RemoveAll(staged)
		return Wrap(Filesystem, modifiablePath, err)
	}
	if err := UpdateFork(storePath, remoteURL, private); err != nil {
		return err
	}
	return IncrementRef(storePath)
}

// originalURL reads the store's own metadata for the upstream URL to fall
// back to, rather than requiring the caller to thread it through.
func (c *Coordinator) originalURL(storePath string) (string, error) {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return "", err
	}
	return m.OriginalURL, nil
}

// autoSelectStrategy resolves StrategyAuto into a concrete clone depth.
// It prefers a confident signal from the analysis cache, falls back to a
// fresh provider probe (and records what it learns for next time), and
// only gives up to DefaultStrategy once neither source has anything
// usable. CommitCount and HasLargeFiles stay unset on the probe path:
// GitHub's repository endpoint reports size alone, and reaching either
// of those other signals would cost a clone or tree walk, exactly what
// auto-selection exists to avoid.
func (c *Coordinator) autoSelectStrategy(ctx context.Context, id RepoId) Strategy {
	fallback := c.DefaultStrategy
	if fallback == "" || fallback == StrategyAuto {
		fallback = StrategyFull
	}

	if c.Analysis != nil {
		if signals, ok := c.Analysis.Get(id, c.now()); ok {
			if strategy, confidence := SelectStrategy(signals, c.Strategy); confidence != Low {
				return strategy
			}
		}
	}

	if c.Provider != nil {
		info, err := c.Provider.GetRepo(ctx, id)
		if err != nil {
			c.Log.Logf("probing %s for strategy selection failed, using default: %v", id, err)
			return fallback
		}
		signals := RepoSignals{EstimatedSizeBytes: info.SizeKB * 1024}
		if c.Analysis != nil {
			if err := c.Analysis.Put(id, signals, c.now()); err != nil {
				c.Log.Logf("recording analysis signals for %s failed: %v", id, err)
			}
		}
		if strategy, confidence := SelectStrategy(signals, c.Strategy); confidence != Low {
			return strategy
		}
	}

	return fallback
}

// Sync fetches fresh objects into the store and records the sync time in
// its metadata, without creating anything new. Checkouts are not touched:
// their working trees are not updated, validated or repaired here.
func (c *Coordinator) Sync(ctx context.Context, rawURL string) error {
	id, err := ParseRepoURL(rawURL)
	if err != nil {
		return err
	}
	paths, err := Resolve(id, c.Roots)
	if err != nil {
		return err
	}

	lock, err := AcquireLock(LockPath(paths.Store), c.LockOptions)
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.VCS.FetchAll(ctx, paths.Store)
	}); err != nil {
		return Wrap(VcsSubprocess, paths.Store, err)
	}

	return UpdateSync(paths.Store, c.now().Unix())
}

// List returns every entry's metadata currently tracked under the cache
// root.
func (c *Coordinator) List(ctx context.Context) ([]MetadataEntry, error) {
	return EnumerateMetadata(c.Roots.CacheRoot, func(path string, err error) {
		c.Log.Logf("skipping unreadable entry %s: %v", path, err)
	})
}

// Clean removes a checkout (never the store), refusing when the checkout
// has uncommitted work unless force is set.
func (c *Coordinator) Clean(ctx context.Context, rawURL string, force bool) error {
	id, err := ParseRepoURL(rawURL)
	if err != nil {
		return err
	}
	paths, err := Resolve(id, c.Roots)
	if err != nil {
		return err
	}

	if err := safetyCheck(paths.Checkout); err != nil {
		return err
	}

	if !force {
		dirty, err := c.isDirty(ctx, paths.Checkout)
		if err != nil {
			return err
		}
		if dirty {
			return newErr(InvalidArgument, paths.Checkout, "checkout has uncommitted changes, use force", nil)
		}
	}

	lock, err := AcquireLock(LockPath(paths.Store), c.LockOptions)
	if err != nil {
		return err
	}
	defer lock.Release()

	if _, err := os.Stat(paths.Checkout); err == nil {
		if err := os.RemoveAll(paths.Checkout); err != nil {
			return Wrap(Filesystem, paths.Checkout, err)
		}
		if err := DecrementRef(paths.Store); err != nil {
			return err
		}
	}

	c.sweepOrphans(ctx)
	return nil
}

// sweepOrphans removes every directory SweepOrphans reports: checkouts
// whose store no longer exists, e.g. after a store was deleted outside of
// Clean, and directories with no readable alternates file. Errors are
// logged rather than returned: a failed sweep should never turn a
// successful Clean of the requested checkout into a reported failure.
func (c *Coordinator) sweepOrphans(ctx context.Context) {
	orphans, err := SweepOrphans(ctx, c.Roots.CheckoutRoot)
	if err != nil {
		c.Log.Logf("sweeping orphaned checkouts failed: %v", err)
		return
	}
	for _, orphan := range orphans {
		if err := os.RemoveAll(orphan.Path); err != nil {
			c.Log.Logf("removing orphaned checkout %s failed: %v", orphan.Path, err)
			continue
		}
		c.Log.Logf("removed orphaned checkout %s (%s)", orphan.Path, orphan.Reason)
	}
}

func (c *Coordinator) isDirty(ctx context.Context, checkoutPath string) (bool, error) {
	if _, err := os.Stat(checkoutPath); os.IsNotExist(err) {
		return false, nil
	}
	return c.VCS.HasUncommittedChanges(ctx, checkoutPath)
}

// Repair runs the integrity engine's store and checkout repair paths as a
// standalone, idempotent operation, usable outside of Clone/Sync.
func (c *Coordinator) Repair(ctx context.Context, rawURL string) error {
	id, err := ParseRepoURL(rawURL)
	if err != nil {
		return err
	}
	paths, err := Resolve(id, c.Roots)
	if err != nil {
		return err
	}

	lock, err := AcquireLock(LockPath(paths.Store), c.LockOptions)
	if err != nil {
		return err
	}
	defer lock.Release()

	m, err := LoadMetadata(paths.Store)
	if err != nil {
		return err
	}

	status, err := ValidateStore(ctx, c.VCS, paths.Store)
	if err != nil {
		return err
	}
	if !status.OK {
		if err := RepairStore(ctx, c.VCS, paths.Store, m.OriginalURL); err != nil {
			return err
		}
	}

	if _, err := os.Stat(paths.Checkout); err == nil {
		cstatus, err := ValidateCheckout(paths.Checkout, paths.Store)
		if err != nil {
			return err
		}
		if !cstatus.OK {
			if err := RepairCheckout(ctx, c.VCS, paths.Checkout, paths.Store, m.Strategy); err != nil {
				return err
			}
		}
	}

	return nil
}

// safetyCheck refuses to operate on a path that resolves to the
// filesystem root or the current working directory, a condition that
// should never occur from valid input, but one bad RepoId normalization
// bug must never be allowed to rm -rf something it shouldn't.
func safetyCheck(path string) error {
	if path == "" || path == "/" || path == "." {
		return newErr(Internal, path, "refusing to operate on an unsafe path", nil)
	}
	cwd, err := os.Getwd()
	if err == nil && path == cwd {
		return newErr(Internal, path, "refusing to operate on the current working directory", nil)
	}
	return nil
}

// withRetry retries fn up to 3 times with exponential backoff starting at
// 1 second, for subprocess calls that touch the network.
func (c *Coordinator) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff, err := retry.NewExponential(1 * time.Second)
	if err != nil {
		return err
	}
	backoff = retry.WithMaxRetries(3, backoff)
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		return retry.RetryableError(err)
	})
}
