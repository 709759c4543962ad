package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/boltdb/bolt"
	"github.com/pkg/errors"
)

// RepoSignals are cheap-to-compute shape estimates for an upstream
// repository, used by strategy auto-selection to avoid a full clone just
// to decide how deep to clone.
type RepoSignals struct {
	EstimatedSizeBytes int64
	CommitCount        int64
	LastActivityUnix   int64
	HasLargeFiles      bool
	IsMonorepo         bool
}

var analysisBucket = []byte("signals")

// AnalysisCache is a purely advisory, reconstructable accelerator: losing
// it costs a re-probe, never correctness. It is deliberately not the
// CacheEntry metadata record, which stays JSON.
type AnalysisCache struct {
	db  *bolt.DB
	ttl time.Duration
}

const defaultAnalysisCacheTTL = 24 * time.Hour

// OpenAnalysisCache opens (creating if absent) the BoltDB file under
// cacheRoot/.forgecache/analysis.db.
func OpenAnalysisCache(cacheRoot string, ttl time.Duration) (*AnalysisCache, error) {
	if ttl <= 0 {
		ttl = defaultAnalysisCacheTTL
	}
	dir := filepath.Join(cacheRoot, ".forgecache")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "creating analysis cache directory %q", dir)
	}

	path := filepath.Join(dir, "analysis.db")
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening analysis cache %q", path)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(analysisBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "initializing analysis cache bucket")
	}

	return &AnalysisCache{db: db, ttl: ttl}, nil
}

func (c *AnalysisCache) Close() error {
	return c.db.Close()
}

type analysisRecord struct {
	Signals   RepoSignals `json:"signals"`
	StoredAt  int64       `json:"stored_at"`
}

// Get returns the cached signals for id if present and not expired.
func (c *AnalysisCache) Get(id RepoId, now time.Time) (RepoSignals, bool) {
	var rec analysisRecord
	var found bool
	_ = c.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(analysisBucket)
		data := b.Get([]byte(id.String()))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		found = true
		return nil
	})
	if !found {
		return RepoSignals{}, false
	}
	if now.Sub(time.Unix(rec.StoredAt, 0)) > c.ttl {
		return RepoSignals{}, false
	}
	return rec.Signals, true
}

// Put records fresh signals for id.
func (c *AnalysisCache) Put(id RepoId, signals RepoSignals, now time.Time) error {
	rec := analysisRecord{Signals: signals, StoredAt: now.Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(analysisBucket)
		return b.Put([]byte(id.String()), data)
	})
}
