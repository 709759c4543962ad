// Package forgecache is a three-tier caching and mirroring layer for
// version-controlled repositories: a bare object store per repository,
// one or more lightweight checkouts that borrow objects from it via
// alternates, and an optional modifiable checkout pointed at a fork.
package forgecache

import (
	"time"

	"github.com/forgecache/forgecache/internal/cache"
)

// Config is the explicit value every Coordinator is constructed from.
// There is no package-level mutable state anywhere in this module:
// callers own a Config, pass it wherever it's needed, and can construct
// as many independently-configured Coordinators as they like in the same
// process.
type Config struct {
	CacheRoot    string
	CheckoutRoot string

	DefaultStrategy     cache.Strategy
	Verbose             bool
	Force               bool
	RecursiveSubmodules bool

	ProviderToken    string
	ForkOrganization string

	AutoSync          bool
	SyncIntervalHours int
}

// Roots extracts the cache.Roots this config resolves paths against.
func (c Config) Roots() cache.Roots {
	return cache.Roots{CacheRoot: c.CacheRoot, CheckoutRoot: c.CheckoutRoot}
}

// NeedsSync reports whether m's last sync is older than the configured
// interval. A zero or negative SyncIntervalHours disables the heuristic
// entirely (every entry is always considered in need of sync), matching
// AutoSync's opt-in nature.
func (c Config) NeedsSync(m cache.Metadata, now time.Time) bool {
	if c.SyncIntervalHours <= 0 {
		return true
	}
	last := time.Unix(m.LastSyncTime, 0)
	return now.Sub(last) > time.Duration(c.SyncIntervalHours)*time.Hour
}
