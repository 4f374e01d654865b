// services/repository_service.go
package services

import (
	"context"
	"strconv"

	"bounty-settlement-system/ghclient"
	"bounty-settlement-system/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/google/go-github/v57/github"
	"github.com/sirupsen/logrus"
)

// RepositoryService proxies read-only GitHub views for the signed in user.
type RepositoryService struct {
	Tokens TokenSource
	GitHub ghclient.Factory
	log    *logrus.Entry
}

func NewRepositoryService(tokens TokenSource, gh ghclient.Factory) *RepositoryService {
	return &RepositoryService{Tokens: tokens, GitHub: gh, log: logger.NewSublogger("repositories")}
}

type RepositorySummary struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	Private       bool   `json:"private"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Language      string `json:"language"`
	Stars         int    `json:"stargazers_count"`
	UpdatedAt     string `json:"updated_at"`
}

type PullSummary struct {
	Number    int    `json:"number"`
	Title     string `json:"title"`
	State     string `json:"state"`
	User      string `json:"user"`
	HTMLURL   string `json:"html_url"`
	Merged    bool   `json:"merged"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

type FileChange struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
}

type PullDiff struct {
	Diff  string       `json:"diff"`
	Files []FileChange `json:"files"`
}

func (s *RepositoryService) ListRepositories(ctx context.Context, userID string) ([]RepositorySummary, error) {
	gh, err := githubFor(ctx, s.Tokens, s.GitHub, userID)
	if err != nil {
		return nil, err
	}
	repos, err := gh.ListUserRepositories(ctx)
	if err != nil {
		return nil, mapGitHubReadError(err, "failed to fetch repositories")
	}

	out := make([]RepositorySummary, 0, len(repos))
	for _, r := range repos {
		out = append(out, RepositorySummary{
			ID:            r.GetID(),
			Name:          r.GetName(),
			FullName:      r.GetFullName(),
			Description:   r.GetDescription(),
			Private:       r.GetPrivate(),
			HTMLURL:       r.GetHTMLURL(),
			DefaultBranch: r.GetDefaultBranch(),
			Language:      r.GetLanguage(),
			Stars:         r.GetStargazersCount(),
			UpdatedAt:     r.GetUpdatedAt().String(),
		})
	}
	return out, nil
}

func (s *RepositoryService) ListPulls(ctx context.Context, userID, owner, repo string, opts ghclient.PullListOptions) ([]PullSummary, error) {
	gh, err := githubFor(ctx, s.Tokens, s.GitHub, userID)
	if err != nil {
		return nil, err
	}
	pulls, err := gh.ListPullRequests(ctx, owner, repo, opts)
	if err != nil {
		return nil, mapGitHubReadError(err, "failed to fetch pull requests")
	}

	out := make([]PullSummary, 0, len(pulls))
	for _, p := range pulls {
		out = append(out, summarizePull(p))
	}
	return out, nil
}

func (s *RepositoryService) Diff(ctx context.Context, userID, owner, repo string, number int) (*PullDiff, error) {
	gh, err := githubFor(ctx, s.Tokens, s.GitHub, userID)
	if err != nil {
		return nil, err
	}
	diff, err := gh.PullRequestDiff(ctx, owner, repo, number)
	if err != nil {
		return nil, mapGitHubReadError(err, "failed to fetch pull request diff")
	}
	files, err := gh.PullRequestFiles(ctx, owner, repo, number)
	if err != nil {
		return nil, mapGitHubReadError(err, "failed to fetch pull request files")
	}

	out := &PullDiff{Diff: diff, Files: make([]FileChange, 0, len(files))}
	for _, f := range files {
		out.Files = append(out.Files, FileChange{
			Filename:  f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
			Changes:   f.GetChanges(),
			Patch:     f.GetPatch(),
		})
	}
	return out, nil
}

func summarizePull(p *github.PullRequest) PullSummary {
	return PullSummary{
		Number:    p.GetNumber(),
		Title:     p.GetTitle(),
		State:     p.GetState(),
		User:      p.GetUser().GetLogin(),
		HTMLURL:   p.GetHTMLURL(),
		Merged:    p.MergedAt != nil,
		CreatedAt: p.GetCreatedAt().String(),
		UpdatedAt: p.GetUpdatedAt().String(),
	}
}

func mapGitHubReadError(err error, message string) *APIError {
	switch code := ghclient.StatusCode(err); code {
	case fiber.StatusUnauthorized, fiber.StatusForbidden, fiber.StatusNotFound:
		return errUpstream(code, "github_error", message, err)
	}
	return errUpstream(fiber.StatusInternalServerError, "github_error", message, err)
}

// --- HTTP handlers ---

func (s *RepositoryService) GetRepositories(c *fiber.Ctx) error {
	repos, err := s.ListRepositories(c.UserContext(), currentUser(c))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"repositories": repos})
}

func (s *RepositoryService) GetPulls(c *fiber.Ctx) error {
	perPage, _ := strconv.Atoi(c.Query("per_page", "30"))
	if perPage <= 0 || perPage > 100 {
		perPage = 30
	}
	page, _ := strconv.Atoi(c.Query("page", "1"))
	if page <= 0 {
		page = 1
	}
	state := c.Query("state", "open")
	switch state {
	case "open", "closed", "all":
	default:
		return errValidation("state must be open, closed or all")
	}

	pulls, err := s.ListPulls(c.UserContext(), currentUser(c), c.Params("owner"), c.Params("repo"), ghclient.PullListOptions{
		State:   state,
		PerPage: perPage,
		Page:    page,
	})
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"pulls": pulls})
}

func (s *RepositoryService) GetPullDiff(c *fiber.Ctx) error {
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil || number <= 0 {
		return errValidation("invalid pull request number")
	}
	diff, err := s.Diff(c.UserContext(), currentUser(c), c.Params("owner"), c.Params("repo"), number)
	if err != nil {
		return err
	}
	return c.JSON(diff)
}
