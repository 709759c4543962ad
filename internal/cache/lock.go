package cache

import (
	"encoding/json"
	"os"
	"time"

	flock "github.com/theckman/go-flock"
	"github.com/pkg/errors"
)

// LockOptions tunes the acquisition algorithm. Zero values are replaced
// with the package defaults in AcquireLock.
type LockOptions struct {
	MaxWait       time.Duration
	StaleAfter    time.Duration
	RetryInterval time.Duration
}

const (
	defaultMaxWait       = 60 * time.Second
	defaultStaleAfter    = 300 * time.Second
	defaultRetryInterval = 100 * time.Millisecond
)

func (o LockOptions) withDefaults() LockOptions {
	if o.MaxWait <= 0 {
		o.MaxWait = defaultMaxWait
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = defaultStaleAfter
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = defaultRetryInterval
	}
	return o
}

// lockRecord is the JSON content written into the lock file: enough to
// prove ownership and to judge staleness without touching the owning
// process directly.
type lockRecord struct {
	PID     int   `json:"pid"`
	Created int64 `json:"created_time"`
}

// LockGuard represents a held lock. Release is idempotent: calling it more
// than once, or after the lock has already been reclaimed out from under
// this process, is safe and does not report an error.
type LockGuard struct {
	path   string
	fl     *flock.Flock
	record lockRecord
}

// AcquireLock takes the advisory lock at path: attempt a non-blocking OS
// file lock on it and, on success, write this process's record; on
// collision, read the existing record and reclaim it if stale, otherwise
// retry until MaxWait elapses.
func AcquireLock(path string, opts LockOptions) (*LockGuard, error) {
	opts = opts.withDefaults()

	deadline := time.Now().Add(opts.MaxWait)

	for {
		// A fresh Flock is opened on every attempt rather than reused
		// across the wait loop: go-flock only opens a new file handle
		// when its internal fh is nil, so reusing one instance after a
		// reclaim's os.Remove would keep checking the kernel lock against
		// the old, possibly still-open inode instead of whatever now
		// exists at path.
		fl := flock.NewFlock(path)
		locked, err := fl.TryLock()
		if err != nil {
			return nil, Wrap(Filesystem, path, err)
		}
		if locked {
			rec := lockRecord{PID: os.Getpid(), Created: time.Now().Unix()}
			if err := writeLockRecord(path, rec); err != nil {
				_ = fl.Unlock()
				return nil, Wrap(Filesystem, path, err)
			}
			return &LockGuard{path: path, fl: fl, record: rec}, nil
		}

		existing, err := readLockRecord(path)
		if err == nil && isStale(existing, opts.StaleAfter) {
			if reclaimed := tryReclaim(path, existing); reclaimed != nil {
				return reclaimed, nil
			}
			// Lost the race to reclaim; fall through to retry loop.
		}

		if time.Now().After(deadline) {
			return nil, NewLockError(path, LockTimeout)
		}
		time.Sleep(opts.RetryInterval)
	}
}

// tryReclaim attempts to take over a lock it believes is stale. It
// re-verifies the record is unchanged immediately before removing the
// file, closing the window where the original owner wakes up and
// refreshes it. A lock is reclaimable once it is stale by time alone,
// independent of whether the recorded PID still happens to be running,
// so this unlinks the marker unconditionally on a stale verdict and
// opens a brand-new Flock against the now-vacant path rather than
// retrying on the handle that observed the contention: that handle's
// kernel-level lock is still held against the old inode for as long as
// the original owner keeps its file descriptor open.
func tryReclaim(path string, believed lockRecord) *LockGuard {
	again, err := readLockRecord(path)
	if err != nil || again != believed {
		return nil
	}
	if err := os.Remove(path); err != nil {
		return nil
	}
	fl := flock.NewFlock(path)
	locked, err := fl.TryLock()
	if err != nil || !locked {
		return nil
	}
	rec := lockRecord{PID: os.Getpid(), Created: time.Now().Unix()}
	if err := writeLockRecord(path, rec); err != nil {
		_ = fl.Unlock()
		return nil
	}
	return &LockGuard{path: path, fl: fl, record: rec}
}

func isStale(rec lockRecord, staleAfter time.Duration) bool {
	age := time.Since(time.Unix(rec.Created, 0))
	if age > staleAfter {
		return true
	}
	return !processAlive(rec.PID)
}

// Release drops the lock. It is safe to call more than once; a second
// call, or a call after the lock was stolen, is a no-op rather than an
// error, since the caller's intent ("I am done with this lock") is
// already satisfied.
func (g *LockGuard) Release() error {
	if g == nil || g.fl == nil {
		return nil
	}
	current, err := readLockRecord(g.path)
	if err == nil && current == g.record {
		_ = os.Remove(g.path)
	}
	return g.fl.Unlock()
}

func writeLockRecord(path string, rec lockRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encoding lock record")
	}
	return os.WriteFile(path, data, 0o644)
}

func readLockRecord(path string) (lockRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return lockRecord{}, err
	}
	var rec lockRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return lockRecord{}, errors.Wrap(err, "decoding lock record")
	}
	return rec, nil
}
