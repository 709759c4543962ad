package cache

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	shutil "github.com/termie/go-shutil"
)

// VCS is the contract this package uses to drive the underlying version
// control executable. The cache never parses object formats itself; it
// trusts the subprocess's exit code and stdout/stderr, exactly as it
// trusts any other opaque external collaborator.
type VCS interface {
	CreateBareClone(ctx context.Context, remote, storePath string) error
	FetchAll(ctx context.Context, storePath string) error
	CreateReferenceCheckout(ctx context.Context, storePath, checkoutPath string, strategy Strategy) error
	WriteAlternates(checkoutPath, storePath string) error
	IntegrityCheck(ctx context.Context, storePath string) error
	ListRefs(ctx context.Context, storePath string) ([]string, error)
	ListRemotes(ctx context.Context, repoPath string) (map[string]string, error)
	RemoteAdd(ctx context.Context, repoPath, name, url string) error
	RemoteSetURL(ctx context.Context, repoPath, name, url string) error
	RemoteRemove(ctx context.Context, repoPath, name string) error
	FetchRemote(ctx context.Context, repoPath, remote string) error
	PushRemote(ctx context.Context, repoPath, remote, ref string) error
	ResetToRemoteHead(ctx context.Context, repoPath, remote string) error
	CleanUntracked(ctx context.Context, repoPath string) error
	ListSubmoduleRecords(repoPath string) ([]string, error)
	UpdateSubmodulesRecursive(ctx context.Context, repoPath string) error
	HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error)
}

// GitVCS is the concrete VCS implementation for git, the only VCS this
// cache's three-tier model is specified for (bare store + alternates).
// Every operation shells out; none of them parse pack files, index
// entries, or object headers directly.
type GitVCS struct{}

var _ VCS = GitVCS{}

func (GitVCS) run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = mergeEnvLists([]string{"GIT_TERMINAL_PROMPT=0"}, os.Environ())

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return out.String(), newErr(VcsSubprocess, strings.Join(args, " "), strings.TrimSpace(out.String()), err)
	}
	return out.String(), nil
}

// mergeEnvLists merges the given environment overrides into the base
// list, the overrides winning on key collision. Used to force
// GIT_TERMINAL_PROMPT=0 on every subprocess call without dropping the
// rest of the inherited environment.
func mergeEnvLists(overrides, base []string) []string {
	out := make([]string, 0, len(base)+len(overrides))
	keys := make(map[string]bool, len(overrides))
	for _, o := range overrides {
		keys[strings.SplitN(o, "=", 2)[0]] = true
		out = append(out, o)
	}
	for _, b := range base {
		if !keys[strings.SplitN(b, "=", 2)[0]] {
			out = append(out, b)
		}
	}
	return out
}

func (g GitVCS) CreateBareClone(ctx context.Context, remote, storePath string) error {
	if err := os.MkdirAll(filepath.Dir(storePath), 0o755); err != nil {
		return Wrap(Filesystem, storePath, err)
	}
	_, err := g.run(ctx, "", "clone", "--bare", remote, storePath)
	return err
}

func (g GitVCS) FetchAll(ctx context.Context, storePath string) error {
	_, err := g.run(ctx, storePath, "fetch", "--all", "--tags", "--prune")
	return err
}

func (g GitVCS) CreateReferenceCheckout(ctx context.Context, storePath, checkoutPath string, strategy Strategy) error {
	args := []string{"clone", "--reference", storePath, "--dissociate"}
	switch strategy {
	case StrategyShallow:
		args = append(args, "--depth", "1")
	case StrategyTreeless:
		args = append(args, "--filter=tree:0")
	case StrategyBlobless:
		args = append(args, "--filter=blob:none")
	}
	args = append(args, storePath, checkoutPath)
	_, err := g.run(ctx, "", args...)
	if err != nil {
		return err
	}
	return g.WriteAlternates(checkoutPath, storePath)
}

func (g GitVCS) WriteAlternates(checkoutPath, storePath string) error {
	alternatesFile := filepath.Join(checkoutPath, ".git", "objects", "info", "alternates")
	if err := os.MkdirAll(filepath.Dir(alternatesFile), 0o755); err != nil {
		return Wrap(Filesystem, alternatesFile, err)
	}
	contents := filepath.Join(storePath, "objects") + "\n"
	if err := os.WriteFile(alternatesFile, []byte(contents), 0o644); err != nil {
		return Wrap(Filesystem, alternatesFile, err)
	}
	return nil
}

func (g GitVCS) IntegrityCheck(ctx context.Context, storePath string) error {
	_, err := g.run(ctx, storePath, "fsck", "--full", "--no-dangling")
	if err != nil {
		return NewIntegrityError(storePath, Corrupted)
	}
	return nil
}

func (g GitVCS) ListRefs(ctx context.Context, storePath string) ([]string, error) {
	out, err := g.run(ctx, storePath, "for-each-ref", "--format=%(refname)")
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func (g GitVCS) ListRemotes(ctx context.Context, repoPath string) (map[string]string, error) {
	out, err := g.run(ctx, repoPath, "remote", "-v")
	if err != nil {
		return nil, err
	}
	remotes := map[string]string{}
	for _, line := range splitLines(out) {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			remotes[fields[0]] = fields[1]
		}
	}
	return remotes, nil
}

func (g GitVCS) RemoteAdd(ctx context.Context, repoPath, name, url string) error {
	_, err := g.run(ctx, repoPath, "remote", "add", name, url)
	return err
}

func (g GitVCS) RemoteSetURL(ctx context.Context, repoPath, name, url string) error {
	_, err := g.run(ctx, repoPath, "remote", "set-url", name, url)
	return err
}

func (g GitVCS) RemoteRemove(ctx context.Context, repoPath, name string) error {
	_, err := g.run(ctx, repoPath, "remote", "remove", name)
	return err
}

func (g GitVCS) FetchRemote(ctx context.Context, repoPath, remote string) error {
	_, err := g.run(ctx, repoPath, "fetch", remote)
	return err
}

func (g GitVCS) PushRemote(ctx context.Context, repoPath, remote, ref string) error {
	_, err := g.run(ctx, repoPath, "push", remote, ref)
	return err
}

func (g GitVCS) ResetToRemoteHead(ctx context.Context, repoPath, remote string) error {
	_, err := g.run(ctx, repoPath, "reset", "--hard", fmt.Sprintf("%s/HEAD", remote))
	return err
}

func (g GitVCS) CleanUntracked(ctx context.Context, repoPath string) error {
	_, err := g.run(ctx, repoPath, "clean", "-x", "-d", "-f", "-f")
	return err
}

// ListSubmoduleRecords reads .gitmodules directly rather than shelling
// out to "git submodule status", since the paths recorded there are a
// plain structural fact that doesn't need a subprocess round trip.
func (g GitVCS) ListSubmoduleRecords(repoPath string) ([]string, error) {
	data, err := os.ReadFile(filepath.Join(repoPath, ".gitmodules"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, Wrap(Filesystem, repoPath, err)
	}
	var paths []string
	for _, line := range splitLines(string(data)) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "path = ") {
			paths = append(paths, strings.TrimPrefix(line, "path = "))
		}
	}
	return paths, nil
}

// UpdateSubmodulesRecursive initializes and updates every submodule under
// repoPath, recursing into nested submodules.
func (g GitVCS) UpdateSubmodulesRecursive(ctx context.Context, repoPath string) error {
	_, err := g.run(ctx, repoPath, "submodule", "update", "--init", "--recursive")
	return err
}

func (g GitVCS) HasUncommittedChanges(ctx context.Context, repoPath string) (bool, error) {
	out, err := g.run(ctx, repoPath, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(out) != "", nil
}

func splitLines(s string) []string {
	var lines []string
	for _, l := range strings.Split(s, "\n") {
		l = strings.TrimSpace(l)
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// ExportCheckoutTo copies a working tree from src to dst, ignoring VCS
// control directories, for use when a modifiable checkout needs to be
// rebuilt from a reference checkout without another network round trip.
// Uses go-shutil rather than a hand-rolled filepath.Walk copy since it
// already handles permissions and symlinks correctly.
func ExportCheckoutTo(src, dst string) error {
	opts := &shutil.CopyTreeOptions{
		Symlinks:     true,
		CopyFunction: shutil.Copy,
		Ignore: func(src string, contents []os.FileInfo) (ignore []string) {
			for _, fi := range contents {
				if fi.IsDir() && fi.Name() == ".git" {
					ignore = append(ignore, fi.Name())
				}
			}
			return
		},
	}
	return shutil.CopyTree(src, dst, opts)
}
