package services

import (
	"context"
	"testing"

	"bounty-settlement-system/ghclient"

	"github.com/google/go-github/v57/github"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepositoryViews(t *testing.T) {
	gh := newFakeGitHub()
	gh.repos = []*github.Repository{{ID: github.Int64(1), Name: github.String("widgets"), FullName: github.String("acme/widgets")}}
	gh.pulls = []*github.PullRequest{{
		Number: github.Int(5),
		Title:  github.String("Add cache"),
		State:  github.String("open"),
		User:   &github.User{Login: github.String("octocat")},
	}}
	gh.diff = "diff --git a/x b/x"
	gh.files = []*github.CommitFile{{Filename: github.String("x"), Status: github.String("modified"), Additions: github.Int(3)}}

	s := NewRepositoryService(fakeTokens{"user_1": "gho_x"}, gh.factory())
	ctx := context.Background()

	repos, err := s.ListRepositories(ctx, "user_1")
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "acme/widgets", repos[0].FullName)

	pulls, err := s.ListPulls(ctx, "user_1", "acme", "widgets", ghclient.PullListOptions{State: "open"})
	require.NoError(t, err)
	require.Len(t, pulls, 1)
	assert.Equal(t, "octocat", pulls[0].User)
	assert.False(t, pulls[0].Merged)

	diff, err := s.Diff(ctx, "user_1", "acme", "widgets", 5)
	require.NoError(t, err)
	assert.Equal(t, gh.diff, diff.Diff)
	require.Len(t, diff.Files, 1)
	assert.Equal(t, 3, diff.Files[0].Additions)
}

func TestRepositoryViewsRequireToken(t *testing.T) {
	s := NewRepositoryService(fakeTokens{}, newFakeGitHub().factory())

	_, err := s.ListRepositories(context.Background(), "user_1")
	requireAPIError(t, err, 400, "github_token_missing")
}

func TestMapGitHubReadError(t *testing.T) {
	assert.Equal(t, 401, mapGitHubReadError(githubError(401), "x").Status)
	assert.Equal(t, 403, mapGitHubReadError(githubError(403), "x").Status)
	assert.Equal(t, 500, mapGitHubReadError(githubError(503), "x").Status)
}
