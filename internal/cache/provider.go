package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// errProviderNotFound is returned by a Provider when the hosting service
// reports the repository does not exist, distinct from any other
// non-2xx response.
var errProviderNotFound = errors.New(http.StatusText(http.StatusNotFound))

// RepoInfo is what a Provider reports back about a hosted repository.
type RepoInfo struct {
	DefaultBranch string
	Private       bool
	CloneURL      string
	SizeKB        int64 // repository size on the provider, as reported by its API
}

// Provider is the hosting-service contract the Coordinator uses to learn
// about and fork upstream repositories. It is intentionally narrow: the
// cache never needs more than existence, default branch, visibility, and
// the ability to fork and flip visibility on a fork it owns.
type Provider interface {
	GetRepo(ctx context.Context, id RepoId) (RepoInfo, error)
	ForkRepo(ctx context.Context, id RepoId, intoOrg string) (RepoId, error)
	SetPrivate(ctx context.Context, id RepoId, private bool) error
}

// IsNotFound reports whether err represents a provider 404.
func IsNotFound(err error) bool {
	return errors.Is(err, errProviderNotFound)
}

// GitHubProvider implements Provider against the GitHub REST API. It is
// the one concrete hosting adapter this package ships. The Coordinator
// calls whatever Provider it is configured with regardless of an entry's
// HostKind.
type GitHubProvider struct {
	BaseURL string // defaults to https://api.github.com
	Token   string
	Client  *http.Client
}

func (p *GitHubProvider) baseURL() string {
	if p.BaseURL != "" {
		return p.BaseURL
	}
	return "https://api.github.com"
}

func (p *GitHubProvider) client() *http.Client {
	if p.Client != nil {
		return p.Client
	}
	return http.DefaultClient
}

func (p *GitHubProvider) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	u, err := url.Parse(p.baseURL())
	if err != nil {
		return errors.Wrap(err, "parsing provider base url")
	}
	u.Path = u.Path + path

	var bodyReader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encoding provider request body")
		}
		bodyReader = bytes.NewReader(data)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), bodyReader)
	if err != nil {
		return errors.Wrap(err, "building provider request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if p.Token != "" {
		req.Header.Set("Authorization", "Bearer "+p.Token)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := p.client().Do(req)
	if err != nil {
		return Wrap(Network, u.String(), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errProviderNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return newErr(ProviderApi, u.String(), http.StatusText(resp.StatusCode), nil)
	}

	if out == nil {
		return nil
	}
	return errors.Wrap(json.NewDecoder(resp.Body).Decode(out), "decoding provider response")
}

type ghRepo struct {
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	CloneURL      string `json:"clone_url"`
	Size          int64  `json:"size"` // kilobytes, per the GitHub repos API
	Owner         struct {
		Login string `json:"login"`
	} `json:"owner"`
	Name string `json:"name"`
}

func (p *GitHubProvider) GetRepo(ctx context.Context, id RepoId) (RepoInfo, error) {
	var r ghRepo
	path := fmt.Sprintf("/repos/%s/%s", id.Owner, id.Name)
	if err := p.do(ctx, http.MethodGet, path, nil, &r); err != nil {
		return RepoInfo{}, err
	}
	return RepoInfo{DefaultBranch: r.DefaultBranch, Private: r.Private, CloneURL: r.CloneURL, SizeKB: r.Size}, nil
}

func (p *GitHubProvider) ForkRepo(ctx context.Context, id RepoId, intoOrg string) (RepoId, error) {
	var r ghRepo
	path := fmt.Sprintf("/repos/%s/%s/forks", id.Owner, id.Name)
	var body interface{}
	if intoOrg != "" {
		body = map[string]string{"organization": intoOrg}
	}
	if err := p.do(ctx, http.MethodPost, path, body, &r); err != nil {
		return RepoId{}, err
	}
	return RepoId{Host: id.Host, Owner: r.Owner.Login, Name: r.Name}, nil
}

func (p *GitHubProvider) SetPrivate(ctx context.Context, id RepoId, private bool) error {
	path := fmt.Sprintf("/repos/%s/%s", id.Owner, id.Name)
	return p.do(ctx, http.MethodPatch, path, map[string]bool{"private": private}, nil)
}
