package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
)

// HostKind closes over the hosting services this cache understands well
// enough to drive the provider contract. Anything else is HostKindUnknown,
// which is a valid, supported value. The kind is recorded in metadata
// only; it does not gate forking or provider calls.
type HostKind string

const (
	HostKindGitHub  HostKind = "github"
	HostKindUnknown HostKind = "unknown"
)

// Strategy names one of the clone-depth strategies a checkout can be
// created with.
type Strategy string

const (
	StrategyFull      Strategy = "full"
	StrategyShallow   Strategy = "shallow"
	StrategyTreeless  Strategy = "treeless"
	StrategyBlobless  Strategy = "blobless"
	StrategyAuto      Strategy = "auto"
)

func validStrategy(s Strategy) bool {
	switch s {
	case StrategyFull, StrategyShallow, StrategyTreeless, StrategyBlobless, StrategyAuto:
		return true
	default:
		return false
	}
}

func validHostKind(h HostKind) bool {
	switch h {
	case HostKindGitHub, HostKindUnknown:
		return true
	default:
		return false
	}
}

// Metadata is the sidecar record persisted next to every bare store,
// describing the entry well enough to drive sync decisions, fork wiring,
// and eviction without re-probing the network.
type Metadata struct {
	OriginalURL      string   `json:"original_url"`
	ForkURL          *string  `json:"fork_url,omitempty"`
	Owner            string   `json:"owner"`
	Name             string   `json:"name"`
	HostKind         HostKind `json:"host_kind"`
	Strategy         Strategy `json:"strategy"`
	CreatedTime      int64    `json:"created_time"`
	LastSyncTime     int64    `json:"last_sync_time"`
	LastAccessTime   int64    `json:"last_access_time"`
	CacheSize        int64    `json:"cache_size"`
	RefCount         int      `json:"ref_count"`
	IsForkNeeded     bool     `json:"is_fork_needed"`
	IsPrivateFork    bool     `json:"is_private_fork"`
	HasSubmodules    bool     `json:"has_submodules"`
	DefaultBranch    *string  `json:"default_branch,omitempty"`
	ForkOrganization *string  `json:"fork_organization,omitempty"`
}

// RepoDescriptor is the minimal information needed to seed a fresh
// Metadata record for a newly created entry.
type RepoDescriptor struct {
	OriginalURL string
	Owner       string
	Name        string
	HostKind    HostKind
	Strategy    Strategy
}

// CreateMetadata builds a fresh record for a just-created entry, stamping
// creation and access times to now.
func CreateMetadata(now int64, repo RepoDescriptor) Metadata {
	hk := repo.HostKind
	if hk == "" {
		hk = HostKindUnknown
	}
	st := repo.Strategy
	if st == "" {
		st = StrategyAuto
	}
	return Metadata{
		OriginalURL:    repo.OriginalURL,
		Owner:          repo.Owner,
		Name:           repo.Name,
		HostKind:       hk,
		Strategy:       st,
		CreatedTime:    now,
		LastSyncTime:   now,
		LastAccessTime: now,
		RefCount:       0,
	}
}

// validate rejects records with unknown enum tags rather than silently
// coercing them: a corrupted or foreign-written sidecar file should be
// reported, not guessed at.
func (m Metadata) validate() error {
	if !validHostKind(m.HostKind) {
		return fmt.Errorf("unknown host_kind %q", m.HostKind)
	}
	if !validStrategy(m.Strategy) {
		return fmt.Errorf("unknown strategy %q", m.Strategy)
	}
	return nil
}

// SaveMetadata writes m to the sidecar file under storePath, atomically:
// encode to a uniquely suffixed sibling, then rename over the final path.
func SaveMetadata(storePath string, m Metadata) error {
	if err := m.validate(); err != nil {
		return NewMetadataError(storePath, MetadataCorrupt, err)
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return NewMetadataError(storePath, MetadataIo, err)
	}

	final := MetadataPath(storePath)
	staged := final + ".tmp." + uuid.NewString()
	if err := os.WriteFile(staged, data, 0o644); err != nil {
		return NewMetadataError(storePath, MetadataIo, err)
	}
	if err := os.Rename(staged, final); err != nil {
		_ = os.Remove(staged)
		return NewMetadataError(storePath, MetadataIo, err)
	}
	return nil
}

// LoadMetadata reads and validates the sidecar record for storePath,
// distinguishing a missing file from one that exists but cannot be
// trusted.
func LoadMetadata(storePath string) (Metadata, error) {
	data, err := os.ReadFile(MetadataPath(storePath))
	if err != nil {
		if os.IsNotExist(err) {
			return Metadata{}, NewMetadataError(storePath, MetadataNotFound, err)
		}
		return Metadata{}, NewMetadataError(storePath, MetadataIo, err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return Metadata{}, NewMetadataError(storePath, MetadataCorrupt, err)
	}
	if err := m.validate(); err != nil {
		return Metadata{}, NewMetadataError(storePath, MetadataCorrupt, err)
	}
	return m, nil
}

// UpdateAccess loads, stamps LastAccessTime, and saves. The caller must
// hold the entry's lock; this function performs no locking of its own.
func UpdateAccess(storePath string, now int64) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	m.LastAccessTime = now
	return SaveMetadata(storePath, m)
}

// UpdateSync loads, stamps LastSyncTime (and LastAccessTime, since a sync
// implies an access), and saves.
func UpdateSync(storePath string, now int64) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	m.LastSyncTime = now
	m.LastAccessTime = now
	return SaveMetadata(storePath, m)
}

// UpdateFork loads, records the fork's clone URL and visibility, and
// saves. Called once a modifiable checkout has been created or adopted
// against a fork, so later operations (and `list`) can see where the
// fork lives without re-deriving it.
func UpdateFork(storePath, forkURL string, private bool) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	m.ForkURL = &forkURL
	m.IsForkNeeded = true
	m.IsPrivateFork = private
	return SaveMetadata(storePath, m)
}

// UpdateHasSubmodules loads, sets HasSubmodules, and saves, but only
// writes when the value actually changes, so a repeated Clone of an entry
// whose value is already recorded does not rewrite the file.
func UpdateHasSubmodules(storePath string, has bool) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	if m.HasSubmodules == has {
		return nil
	}
	m.HasSubmodules = has
	return SaveMetadata(storePath, m)
}

// UpdateStrategy loads, records the strategy actually used for the
// checkout, and saves. Called once StrategyAuto has been resolved to a
// concrete depth, so a later `list` reports what was really cloned
// rather than the literal "auto" the caller requested.
func UpdateStrategy(storePath string, strategy Strategy) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	if m.Strategy == strategy {
		return nil
	}
	m.Strategy = strategy
	return SaveMetadata(storePath, m)
}

// IncrementRef loads, increments RefCount, and saves.
func IncrementRef(storePath string) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	m.RefCount++
	return SaveMetadata(storePath, m)
}

// DecrementRef loads, decrements RefCount (never below zero), and saves.
func DecrementRef(storePath string) error {
	m, err := LoadMetadata(storePath)
	if err != nil {
		return err
	}
	if m.RefCount > 0 {
		m.RefCount--
	}
	return SaveMetadata(storePath, m)
}

// MetadataEntry pairs a loaded record with the store path it came from.
type MetadataEntry struct {
	StorePath string
	Metadata  Metadata
}

// EnumerateMetadata walks cacheRoot three levels deep (host/owner/name) and
// returns every loadable metadata record found there along with its store
// path. A store whose owner has several segments (group/subgroup) sits
// deeper and is not returned; its third-level directory is reported to
// warn instead.
// Entries that fail to load are reported to warn and skipped rather than
// aborting the whole walk: one corrupt entry should not hide the rest of
// the cache from an operator running `list`.
func EnumerateMetadata(cacheRoot string, warn func(path string, err error)) ([]MetadataEntry, error) {
	var stores []string
	err := godirwalk.Walk(cacheRoot, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if !de.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(cacheRoot, path)
			if err != nil || rel == "." {
				return nil
			}
			if depth(rel) == 3 {
				stores = append(stores, path)
				return godirwalk.SkipThis
			}
			return nil
		},
		Unsorted: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "walking cache root")
	}

	entries := make([]MetadataEntry, 0, len(stores))
	for _, storePath := range stores {
		m, err := LoadMetadata(storePath)
		if err != nil {
			if warn != nil {
				warn(storePath, err)
			}
			continue
		}
		entries = append(entries, MetadataEntry{StorePath: storePath, Metadata: m})
	}
	return entries, nil
}

func depth(rel string) int {
	rel = filepath.ToSlash(rel)
	return len(strings.Split(rel, "/"))
}
