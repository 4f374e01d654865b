// Package ghclient wraps the GitHub REST API calls the service makes on behalf of a user.
package ghclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"bounty-settlement-system/logger"
	"bounty-settlement-system/utils"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Hook is a repository webhook as seen by the provisioner.
type Hook struct {
	ID     int64    `json:"id"`
	URL    string   `json:"url"`
	Events []string `json:"events"`
	Active bool     `json:"active"`
}

// NewHook is the body of a hook creation request.
type NewHook struct {
	URL    string
	Events []string
	Secret string
}

type PullListOptions struct {
	State   string
	PerPage int
	Page    int
}

// Client is the subset of the GitHub API used by the service.
type Client interface {
	ListUserRepositories(ctx context.Context) ([]*github.Repository, error)
	ListHooks(ctx context.Context, owner, repo string) ([]Hook, error)
	CreateHook(ctx context.Context, owner, repo string, hook NewHook) (*Hook, error)
	ListPullRequests(ctx context.Context, owner, repo string, opts PullListOptions) ([]*github.PullRequest, error)
	PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error)
	PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error)
}

// Factory builds a client authenticated with a user's delegated token.
type Factory func(token string) Client

func NewFactory(timeout time.Duration) Factory {
	return func(token string) Client {
		return NewGitHubClient(token, timeout)
	}
}

type GitHubClient struct {
	client  *github.Client
	timeout time.Duration
}

func NewGitHubClient(token string, timeout time.Duration) *GitHubClient {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(context.Background(), ts)
	tc.Timeout = timeout
	return &GitHubClient{client: github.NewClient(tc), timeout: timeout}
}

func (c *GitHubClient) ListUserRepositories(ctx context.Context) ([]*github.Repository, error) {
	opts := &github.RepositoryListByAuthenticatedUserOptions{
		Affiliation: "owner",
		Sort:        "updated",
		ListOptions: github.ListOptions{PerPage: 50},
	}
	repos, _, err := c.client.Repositories.ListByAuthenticatedUser(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	return repos, nil
}

// wire shape of a repository hook; only the fields we compare
type hookPayload struct {
	ID     int64    `json:"id,omitempty"`
	Name   string   `json:"name,omitempty"`
	Active bool     `json:"active"`
	Events []string `json:"events"`
	Config struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type,omitempty"`
		InsecureSSL string `json:"insecure_ssl,omitempty"`
		Secret      string `json:"secret,omitempty"`
	} `json:"config"`
}

func (h hookPayload) toHook() Hook {
	return Hook{ID: h.ID, URL: h.Config.URL, Events: h.Events, Active: h.Active}
}

// ListHooks pages through every hook on the repository. Reads are retried on
// transient failures; 4xx responses fail immediately.
func (c *GitHubClient) ListHooks(ctx context.Context, owner, repo string) ([]Hook, error) {
	log := logger.NewSublogger("github")
	var hooks []Hook

	page := 1
	for page != 0 {
		var batch []hookPayload
		var resp *github.Response

		err := utils.NewRetry().
			WithContext(ctx).
			WithMaxElapsedTime(c.timeout).
			WithOnError(func(err error) {
				log.WithError(err).Warnf("⚠️ [GITHUB] listing hooks for %s/%s failed, retrying", owner, repo)
			}).
			Run(func() error {
				u := fmt.Sprintf("repos/%v/%v/hooks?per_page=100&page=%d", owner, repo, page)
				req, err := c.client.NewRequest(http.MethodGet, u, nil)
				if err != nil {
					return utils.Permanent(err)
				}
				batch = nil
				resp, err = c.client.Do(ctx, req, &batch)
				if err != nil && !retryable(err) {
					return utils.Permanent(err)
				}
				return err
			})
		if err != nil {
			return nil, fmt.Errorf("failed to list hooks: %w", err)
		}

		for _, h := range batch {
			hooks = append(hooks, h.toHook())
		}
		page = resp.NextPage
	}
	return hooks, nil
}

func (c *GitHubClient) CreateHook(ctx context.Context, owner, repo string, hook NewHook) (*Hook, error) {
	body := hookPayload{Name: "web", Active: true, Events: hook.Events}
	body.Config.URL = hook.URL
	body.Config.ContentType = "json"
	body.Config.InsecureSSL = "0"
	body.Config.Secret = hook.Secret

	req, err := c.client.NewRequest(http.MethodPost, fmt.Sprintf("repos/%v/%v/hooks", owner, repo), body)
	if err != nil {
		return nil, err
	}
	var created hookPayload
	if _, err := c.client.Do(ctx, req, &created); err != nil {
		return nil, fmt.Errorf("failed to create hook: %w", err)
	}
	h := created.toHook()
	return &h, nil
}

func (c *GitHubClient) ListPullRequests(ctx context.Context, owner, repo string, opts PullListOptions) ([]*github.PullRequest, error) {
	pulls, _, err := c.client.PullRequests.List(ctx, owner, repo, &github.PullRequestListOptions{
		State:       opts.State,
		ListOptions: github.ListOptions{PerPage: opts.PerPage, Page: opts.Page},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests: %w", err)
	}
	return pulls, nil
}

func (c *GitHubClient) PullRequestDiff(ctx context.Context, owner, repo string, number int) (string, error) {
	diff, _, err := c.client.PullRequests.GetRaw(ctx, owner, repo, number, github.RawOptions{Type: github.Diff})
	if err != nil {
		return "", fmt.Errorf("failed to fetch diff: %w", err)
	}
	return diff, nil
}

func (c *GitHubClient) PullRequestFiles(ctx context.Context, owner, repo string, number int) ([]*github.CommitFile, error) {
	var files []*github.CommitFile
	opts := &github.ListOptions{PerPage: 100}
	for {
		batch, resp, err := c.client.PullRequests.ListFiles(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list files: %w", err)
		}
		files = append(files, batch...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return files, nil
}

// StatusCode returns the HTTP status of an upstream GitHub error, or 0.
func StatusCode(err error) int {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode
	}
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) && rateErr.Response != nil {
		return rateErr.Response.StatusCode
	}
	return 0
}

func retryable(err error) bool {
	code := StatusCode(err)
	return code == 0 || code >= 500
}
