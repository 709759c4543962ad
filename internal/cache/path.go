package cache

import (
	"fmt"
	"path/filepath"
)

// Roots names the two filesystem trees a Coordinator operates over: the
// cache root, holding one bare store per RepoId, and the checkout root,
// holding read-only and modifiable checkouts that borrow objects from it.
type Roots struct {
	CacheRoot    string
	CheckoutRoot string
}

// Paths is the fully resolved set of filesystem locations for one RepoId.
// Resolution is pure string composition; nothing here touches disk.
type Paths struct {
	Store    string
	Checkout string
	// Modifiable is left empty by Resolve, since it depends on a fork
	// owner; Clone fills it in via ModifiablePath when one is requested.
	Modifiable string
}

// Resolve computes every path a RepoId maps to under the given Roots.
func Resolve(id RepoId, roots Roots) (Paths, error) {
	if !id.Valid() {
		return Paths{}, newErr(InvalidArgument, id.String(), "repository identity is invalid", nil)
	}
	if roots.CacheRoot == "" || roots.CheckoutRoot == "" {
		return Paths{}, newErr(Configuration, "", "cache root and checkout root must both be set", nil)
	}

	return Paths{
		Store:    filepath.Join(roots.CacheRoot, id.Host, id.Owner, id.Name),
		Checkout: filepath.Join(roots.CheckoutRoot, id.Owner, id.Name),
	}, nil
}

// ModifiablePath computes the modifiable checkout path for a fork owned
// by forkOwner: forkOwner/<owner>-<name> under the checkout root, distinct
// from the read-only checkout's owner/name directory so the two can
// coexist.
func ModifiablePath(id RepoId, roots Roots, forkOwner string) (string, error) {
	if roots.CheckoutRoot == "" {
		return "", newErr(Configuration, "", "checkout root must be set", nil)
	}
	if forkOwner == "" {
		return "", newErr(InvalidArgument, id.String(), "fork owner must be set", nil)
	}
	return filepath.Join(roots.CheckoutRoot, forkOwner, fmt.Sprintf("%s-%s", id.Owner, id.Name)), nil
}

// MetadataPath returns the sidecar metadata file for a store path.
func MetadataPath(storePath string) string {
	return filepath.Join(storePath, "cache_metadata.json")
}

// LockPath returns the advisory lock file path for any path this package
// manages: the store, a checkout, or a modifiable checkout, each
// independently lockable.
func LockPath(path string) string {
	return path + ".lock"
}
