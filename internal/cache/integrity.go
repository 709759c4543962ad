package cache

import (
	"context"
	"os"
	"path/filepath"

	"github.com/forgecache/forgecache/internal/fs"
)

// StoreStatus reports the health of a bare object store.
type StoreStatus struct {
	OK   bool
	Kind IntegrityKind
}

// CheckoutStatus reports the health of a checkout, including whether its
// alternates file correctly points at the store it claims to borrow from.
type CheckoutStatus struct {
	OK   bool
	Kind IntegrityKind
}

// ValidateStore checks that path exists, is a git bare repository, is not
// empty, and passes a deep consistency pass.
func ValidateStore(ctx context.Context, vcs VCS, path string) (StoreStatus, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return StoreStatus{Kind: NotExists}, nil
	}
	if err != nil {
		return StoreStatus{}, Wrap(Filesystem, path, err)
	}
	if !info.IsDir() {
		return StoreStatus{Kind: InvalidPath}, nil
	}

	if _, err := os.Stat(filepath.Join(path, "HEAD")); err != nil {
		return StoreStatus{Kind: NotRepo}, nil
	}

	refs, err := vcs.ListRefs(ctx, path)
	if err != nil {
		return StoreStatus{Kind: Corrupted}, nil
	}
	if len(refs) == 0 {
		return StoreStatus{Kind: EmptyRepo}, nil
	}

	if err := vcs.IntegrityCheck(ctx, path); err != nil {
		return StoreStatus{Kind: Corrupted}, nil
	}

	return StoreStatus{OK: true}, nil
}

// ValidateCheckout checks that path exists, is a git working tree, and
// carries an alternates file pointing exactly at expectedStorePath.
func ValidateCheckout(path, expectedStorePath string) (CheckoutStatus, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return CheckoutStatus{Kind: NotExists}, nil
	}
	if err != nil {
		return CheckoutStatus{}, Wrap(Filesystem, path, err)
	}
	if !info.IsDir() {
		return CheckoutStatus{Kind: InvalidPath}, nil
	}

	alternatesFile := filepath.Join(path, ".git", "objects", "info", "alternates")
	data, err := os.ReadFile(alternatesFile)
	if os.IsNotExist(err) {
		return CheckoutStatus{Kind: NoAlternates}, nil
	}
	if err != nil {
		return CheckoutStatus{}, Wrap(Filesystem, alternatesFile, err)
	}

	want := filepath.Join(expectedStorePath, "objects")
	if filepath.Clean(string(trimNewline(data))) != filepath.Clean(want) {
		return CheckoutStatus{Kind: WrongAlternates}, nil
	}

	return CheckoutStatus{OK: true}, nil
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}

// IsCheckoutStale reports whether the checkout fails ValidateCheckout
// against storePath: it is missing, is not a directory, has no alternates
// file, or its alternates file points somewhere other than storePath.
func IsCheckoutStale(storePath, checkoutPath string) (bool, error) {
	status, err := ValidateCheckout(checkoutPath, storePath)
	if err != nil {
		return false, err
	}
	return !status.OK, nil
}

// RepairStore rebuilds a store from scratch: the existing (corrupt)
// directory is moved aside rather than deleted outright, then a fresh
// bare clone is populated in its place. The sidecar metadata record, which
// lives inside the store directory, is carried over from the backup to the
// rebuilt store. The backup is left for the operator to inspect or remove;
// this function never deletes it.
func RepairStore(ctx context.Context, vcs VCS, path, originalURL string) error {
	backup := ""
	if _, err := os.Stat(path); err == nil {
		backup = path + ".corrupt." + StageSuffix()
		if err := fs.RenameWithFallback(path, backup); err != nil {
			return NewIntegrityError(path, RepairFailed)
		}
	}

	staged := StagePath(path)
	if err := vcs.CreateBareClone(ctx, originalURL, staged); err != nil {
		_ = os.RemoveAll(staged)
		return NewIntegrityError(path, RepairFailed)
	}
	if err := fs.RenameWithFallback(staged, path); err != nil {
		return NewIntegrityError(path, RepairFailed)
	}
	if backup != "" {
		if m, err := LoadMetadata(backup); err == nil {
			if err := SaveMetadata(path, m); err != nil {
				return err
			}
		}
	}
	return nil
}

// RepairCheckout rebuilds a checkout from the (assumed healthy) store,
// using the same stage-and-rename discipline as RepairStore.
func RepairCheckout(ctx context.Context, vcs VCS, path, storePath string, strategy Strategy) error {
	if _, err := os.Stat(path); err == nil {
		if err := os.RemoveAll(path); err != nil {
			return NewIntegrityError(path, RepairFailed)
		}
	}

	staged := StagePath(path)
	if err := vcs.CreateReferenceCheckout(ctx, storePath, staged, strategy); err != nil {
		_ = os.RemoveAll(staged)
		return NewIntegrityError(path, RepairFailed)
	}
	if err := fs.RenameWithFallback(staged, path); err != nil {
		return NewIntegrityError(path, RepairFailed)
	}
	return nil
}

// OrphanReport names a checkout directory found under a checkout root
// that has no readable alternates file, or whose alternates file points
// at a store that no longer exists.
type OrphanReport struct {
	Path   string
	Reason IntegrityKind
}

// SweepOrphans walks checkoutRoot two levels deep (owner/name) and reports
// every directory whose alternates file points at a store that no longer
// exists (Reason NotExists) or that has no readable alternates file at
// all (Reason NoAlternates).
func SweepOrphans(ctx context.Context, checkoutRoot string) ([]OrphanReport, error) {
	var orphans []OrphanReport

	entries, err := os.ReadDir(checkoutRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Wrap(Filesystem, checkoutRoot, err)
	}

	for _, ownerEntry := range entries {
		if !ownerEntry.IsDir() {
			continue
		}
		ownerPath := filepath.Join(checkoutRoot, ownerEntry.Name())
		repoEntries, err := os.ReadDir(ownerPath)
		if err != nil {
			continue
		}
		for _, repoEntry := range repoEntries {
			if !repoEntry.IsDir() {
				continue
			}
			checkoutPath := filepath.Join(ownerPath, repoEntry.Name())
			alternatesFile := filepath.Join(checkoutPath, ".git", "objects", "info", "alternates")
			data, err := os.ReadFile(alternatesFile)
			if err != nil {
				orphans = append(orphans, OrphanReport{Path: checkoutPath, Reason: NoAlternates})
				continue
			}
			storeObjects := filepath.Dir(string(trimNewline(data)))
			if _, err := os.Stat(storeObjects); os.IsNotExist(err) {
				orphans = append(orphans, OrphanReport{Path: checkoutPath, Reason: NotExists})
			}
		}
	}

	return orphans, nil
}
