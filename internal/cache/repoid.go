package cache

import (
	"fmt"
	"net/url"
	"strings"
)

// RepoId is the identity a cache entry is keyed on: the hosting service,
// the owning account, and the repository name. Two URLs that normalize to
// the same RepoId are the same cache entry, full stop. Normalization
// never distinguishes on scheme, auth, or fork lineage.
type RepoId struct {
	Host  string
	Owner string
	Name  string
}

func (r RepoId) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Host, r.Owner, r.Name)
}

// Valid reports whether every component of the identity is non-empty and
// safe to use as one or more directory segments. Owner may itself contain
// slashes (GitLab-style subgroups), becoming nested directories; Host and
// Name never do, since each is always exactly one segment. No component
// may contain ".." to prevent escaping the cache/checkout roots.
func (r RepoId) Valid() bool {
	if r.Host == "" || strings.ContainsAny(r.Host, `/\`) {
		return false
	}
	if r.Name == "" || strings.ContainsAny(r.Name, `/\`) {
		return false
	}
	if r.Owner == "" || strings.Contains(r.Owner, "..") || strings.HasPrefix(r.Owner, "/") {
		return false
	}
	return true
}

// ParseRepoURL normalizes one of the accepted repository URL shapes into
// a RepoId. It accepts:
//
//	https://host/owner/name(.git)?
//	http://host/owner/name(.git)?
//	ssh://[user@]host[:port]/owner/name(.git)?
//	user@host:owner/name(.git)?          (scp-like)
//	git://host/owner/name(.git)?
//	git+https://host/owner/name(.git)?
//	git+ssh://[user@]host/owner/name(.git)?
//	host/owner/name                       (bare)
//	host:owner/name                       (bare, colon form)
func ParseRepoURL(raw string) (RepoId, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RepoId{}, newErr(InvalidArgument, raw, "empty repository url", nil)
	}

	candidate := raw
	for _, scheme := range []string{"git+https://", "git+ssh://"} {
		if strings.HasPrefix(candidate, scheme) {
			candidate = "https://" + strings.TrimPrefix(candidate, scheme)
			break
		}
	}

	if host, path, ok := splitScpLike(candidate); ok {
		return repoIdFromHostPath(host, path)
	}

	if strings.Contains(candidate, "://") {
		u, err := url.Parse(candidate)
		if err != nil {
			return RepoId{}, newErr(InvalidArgument, raw, "malformed repository url", err)
		}
		if u.Host == "" {
			return RepoId{}, newErr(InvalidArgument, raw, "missing host in repository url", nil)
		}
		return repoIdFromHostPath(u.Host, u.Path)
	}

	// Bare forms: "host/owner/name" or "host:owner/name".
	if idx := strings.Index(candidate, ":"); idx > 0 && !strings.Contains(candidate[:idx], "/") {
		return repoIdFromHostPath(candidate[:idx], candidate[idx+1:])
	}
	if idx := strings.Index(candidate, "/"); idx > 0 {
		return repoIdFromHostPath(candidate[:idx], candidate[idx+1:])
	}
	return repoIdFromHostPath("", candidate)
}

// splitScpLike recognizes the "user@host:owner/name" shape, which url.Parse
// cannot handle because it has no scheme.
func splitScpLike(s string) (host, path string, ok bool) {
	if strings.Contains(s, "://") {
		return "", "", false
	}
	at := strings.Index(s, "@")
	colon := strings.Index(s, ":")
	if at < 0 || colon < at {
		return "", "", false
	}
	// A colon followed by digits immediately is a port, not the scp
	// separator (e.g. "user@host:2222" isn't scp-like on its own, but
	// we only reach here without a scheme so treat any user@host:path
	// as scp-like per the accepted shape).
	return s[at+1 : colon], s[colon+1:], true
}

func repoIdFromHostPath(host, path string) (RepoId, error) {
	host = strings.ToLower(strings.TrimSpace(host))
	if idx := strings.Index(host, "@"); idx >= 0 {
		host = host[idx+1:]
	}
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	if host == "" {
		return RepoId{}, newErr(InvalidArgument, path, "missing host in repository url", nil)
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	segments := strings.Split(path, "/")
	if len(segments) < 2 || segments[0] == "" || segments[len(segments)-1] == "" {
		return RepoId{}, newErr(InvalidArgument, path, "expected owner/name in repository path", nil)
	}

	owner := strings.Join(segments[:len(segments)-1], "/")
	name := segments[len(segments)-1]

	id := RepoId{Host: host, Owner: owner, Name: name}
	if !id.Valid() {
		return RepoId{}, newErr(InvalidArgument, path, "repository identity contains invalid characters", nil)
	}
	return id, nil
}
