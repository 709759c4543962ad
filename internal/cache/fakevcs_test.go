package cache

import (
	"context"
	"os"
	"strings"
)

// fakeVCS is an in-memory stand-in for GitVCS used by tests that need to
// exercise the Coordinator/Integrity Engine without a real git binary.
// It tracks enough state (which paths are "cloned", which are "corrupt")
// to drive the decision points those components branch on.
type fakeVCS struct {
	corruptStores map[string]bool
	fetchErr      error
	cloneErr      error
	refs          map[string][]string
}

func newFakeVCS() *fakeVCS {
	return &fakeVCS{
		corruptStores: map[string]bool{},
		refs:          map[string][]string{},
	}
}

func (f *fakeVCS) CreateBareClone(ctx context.Context, remote, storePath string) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	if err := os.MkdirAll(storePath, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(storePath+"/HEAD", []byte("ref: refs/heads/main\n"), 0o644); err != nil {
		return err
	}
	// The Coordinator and RepairStore clone into a StagePath sibling and
	// rename it over the final path, so state is recorded against the
	// final path. A freshly cloned store is never corrupt.
	final, _, _ := strings.Cut(storePath, ".stage.")
	f.refs[final] = []string{"refs/heads/main"}
	delete(f.corruptStores, final)
	return nil
}

func (f *fakeVCS) FetchAll(ctx context.Context, storePath string) error { return f.fetchErr }

func (f *fakeVCS) CreateReferenceCheckout(ctx context.Context, storePath, checkoutPath string, strategy Strategy) error {
	if err := os.MkdirAll(checkoutPath, 0o755); err != nil {
		return err
	}
	return f.WriteAlternates(checkoutPath, storePath)
}

func (f *fakeVCS) WriteAlternates(checkoutPath, storePath string) error {
	dir := checkoutPath + "/.git/objects/info"
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(dir+"/alternates", []byte(storePath+"/objects\n"), 0o644)
}

func (f *fakeVCS) IntegrityCheck(ctx context.Context, storePath string) error {
	if f.corruptStores[storePath] {
		return NewIntegrityError(storePath, Corrupted)
	}
	return nil
}

func (f *fakeVCS) ListRefs(ctx context.Context, storePath string) ([]string, error) {
	return f.refs[storePath], nil
}

func (f *fakeVCS) ListRemotes(ctx context.Context, repoPath string) (map[string]string, error) {
	return map[string]string{}, nil
}

func (f *fakeVCS) RemoteAdd(ctx context.Context, repoPath, name, url string) error      { return nil }
func (f *fakeVCS) RemoteSetURL(ctx context.Context, repoPath, name, url string) error   { return nil }
func (f *fakeVCS) RemoteRemove(ctx context.Context, repoPath, name string) error        { return nil }
func (f *fakeVCS) FetchRemote(ctx context.Context, repoPath, remote string) error       { return nil }
func (f *fakeVCS) PushRemote(ctx context.Context, repoPath, remote, ref string) error   { return nil }
func (f *fakeVCS) ResetToRemoteHead(ctx context.Context, repoPath, remote string) error { return nil }
func (f *fakeVCS) CleanUntracked(ctx context.Context, repoPath string) error            { return nil }

func (f *fakeVCS) ListSubmoduleRecords(repoPath string) ([]string, error) { return nil, nil }

func (f *fakeVCS) UpdateSubmodulesRecursive(ctx context.Context, repoPath string) error { return nil }

func (f *fakeVCS) HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	return false, nil
}

var _ VCS = (*fakeVCS)(nil)

// fakeProvider is an in-memory Provider used by Coordinator tests.
type fakeProvider struct {
	forks     map[string]RepoId
	sizeKB    int64
	forkErr   error
	getErr    error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{forks: map[string]RepoId{}}
}

func (f *fakeProvider) GetRepo(ctx context.Context, id RepoId) (RepoInfo, error) {
	if f.getErr != nil {
		return RepoInfo{}, f.getErr
	}
	return RepoInfo{DefaultBranch: "main", CloneURL: "https://" + id.String(), SizeKB: f.sizeKB}, nil
}

func (f *fakeProvider) ForkRepo(ctx context.Context, id RepoId, intoOrg string) (RepoId, error) {
	if f.forkErr != nil {
		return RepoId{}, f.forkErr
	}
	owner := intoOrg
	if owner == "" {
		owner = "forker"
	}
	fork := RepoId{Host: id.Host, Owner: owner, Name: id.Name}
	f.forks[id.String()] = fork
	return fork, nil
}

func (f *fakeProvider) SetPrivate(ctx context.Context, id RepoId, private bool) error { return nil }

var _ Provider = (*fakeProvider)(nil)
