package cache

import (
	"path/filepath"
	"testing"
)

func TestResolve(t *testing.T) {
	roots := Roots{CacheRoot: "/cache", CheckoutRoot: "/checkout"}
	id := RepoId{Host: "github.com", Owner: "example", Name: "repo"}

	paths, err := Resolve(id, roots)
	if err != nil {
		t.Fatal(err)
	}

	wantStore := filepath.Join("/cache", "github.com", "example", "repo")
	if paths.Store != wantStore {
		t.Fatalf("Store = %q, want %q", paths.Store, wantStore)
	}

	wantCheckout := filepath.Join("/checkout", "example", "repo")
	if paths.Checkout != wantCheckout {
		t.Fatalf("Checkout = %q, want %q", paths.Checkout, wantCheckout)
	}
}

func TestResolveRejectsInvalidId(t *testing.T) {
	roots := Roots{CacheRoot: "/cache", CheckoutRoot: "/checkout"}
	if _, err := Resolve(RepoId{}, roots); err == nil {
		t.Fatal("expected error for empty RepoId")
	}
}

func TestResolveRejectsMissingRoots(t *testing.T) {
	id := RepoId{Host: "h", Owner: "o", Name: "n"}
	if _, err := Resolve(id, Roots{}); err == nil {
		t.Fatal("expected error for empty Roots")
	}
}

func TestModifiablePath(t *testing.T) {
	roots := Roots{CacheRoot: "/cache", CheckoutRoot: "/checkout"}
	id := RepoId{Host: "github.com", Owner: "upstream", Name: "repo"}

	got, err := ModifiablePath(id, roots, "myfork")
	if err != nil {
		t.Fatal(err)
	}
	want := filepath.Join("/checkout", "myfork", "upstream-repo")
	if got != want {
		t.Fatalf("ModifiablePath = %q, want %q", got, want)
	}
}

func TestMetadataAndLockPaths(t *testing.T) {
	store := filepath.Join("/cache", "github.com", "example", "repo")
	if got, want := MetadataPath(store), filepath.Join(store, "cache_metadata.json"); got != want {
		t.Fatalf("MetadataPath = %q, want %q", got, want)
	}
	if got, want := LockPath(store), store+".lock"; got != want {
		t.Fatalf("LockPath = %q, want %q", got, want)
	}
}
