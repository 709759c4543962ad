package cache

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	flock "github.com/theckman/go-flock"
)

func TestAcquireLockRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.lock")

	guard, err := AcquireLock(path, LockOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := guard.Release(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("expected lock file removed after release")
	}
}

func TestAcquireLockReleaseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.lock")

	guard, err := AcquireLock(path, LockOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if err := guard.Release(); err != nil {
		t.Fatal(err)
	}
	if err := guard.Release(); err != nil {
		t.Fatalf("second release should be a no-op, got %v", err)
	}
}

func TestAcquireLockTimesOutOnLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.lock")

	first, err := AcquireLock(path, LockOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer first.Release()

	_, err = AcquireLock(path, LockOptions{
		MaxWait:       50 * time.Millisecond,
		RetryInterval: 10 * time.Millisecond,
		StaleAfter:    time.Hour,
	})
	if !IsLockFailure(err, LockTimeout) {
		t.Fatalf("expected lock timeout error, got %v", err)
	}
}

func TestAcquireLockReclaimsStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.lock")

	// Simulate a lock left behind by a process that no longer exists:
	// a PID that's very unlikely to be alive, with an old timestamp.
	rec := lockRecord{PID: 999999, Created: time.Now().Add(-time.Hour).Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	guard, err := AcquireLock(path, LockOptions{
		MaxWait:       time.Second,
		RetryInterval: 10 * time.Millisecond,
		StaleAfter:    time.Minute,
	})
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got %v", err)
	}
	defer guard.Release()

	current, err := readLockRecord(path)
	if err != nil {
		t.Fatal(err)
	}
	if current.PID != os.Getpid() {
		t.Fatalf("expected lock record to show this process's pid, got %d", current.PID)
	}
}

// TestAcquireLockReclaimsTimeStaleLockWithLiveHolder covers the staleness
// rule's other branch: a lock whose owner is still alive and still holds
// the kernel-level flock open, but whose record is older than StaleAfter.
// The marker file's age alone must make it reclaimable; AcquireLock must
// not keep retrying against the original holder's still-open file handle.
func TestAcquireLockReclaimsTimeStaleLockWithLiveHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "entry.lock")

	holder := flock.NewFlock(path)
	locked, err := holder.TryLock()
	if err != nil || !locked {
		t.Fatalf("expected to take the simulated holder's lock, locked=%v err=%v", locked, err)
	}
	defer holder.Unlock()

	rec := lockRecord{PID: os.Getpid(), Created: time.Now().Add(-time.Hour).Unix()}
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	guard, err := AcquireLock(path, LockOptions{
		MaxWait:       time.Second,
		RetryInterval: 10 * time.Millisecond,
		StaleAfter:    time.Minute,
	})
	if err != nil {
		t.Fatalf("expected a time-stale lock to be reclaimed despite a live holder, got %v", err)
	}
	defer guard.Release()
}
