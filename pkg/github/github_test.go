package github

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillbox/pkg/config"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(context.Background(), config.GitHubConfig{Token: token, BaseURL: srv.URL}, config.HTTPConfig{
		Timeout: 5 * time.Second,
		Retry:   config.RetryConfig{Attempts: 1},
	})
}

func TestParseRepo(t *testing.T) {
	tests := []struct {
		input string
		owner string
		repo  string
		err   bool
	}{
		{input: "jingkaihe/skillbox", owner: "jingkaihe", repo: "skillbox"},
		{input: "https://github.com/golang/go", owner: "golang", repo: "go"},
		{input: "https://github.com/golang/go.git", owner: "golang", repo: "go"},
		{input: "just-a-name", err: true},
		{input: "https://gitlab.com/a/b/c", err: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			owner, repo, err := ParseRepo(tt.input)
			if tt.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.owner, owner)
			assert.Equal(t, tt.repo, repo)
		})
	}
}

func TestParseIssueURL(t *testing.T) {
	owner, repo, number, err := ParseIssueURL("https://github.com/owner/repo/issues/123")
	require.NoError(t, err)
	assert.Equal(t, "owner", owner)
	assert.Equal(t, "repo", repo)
	assert.Equal(t, 123, number)

	_, _, _, err = ParseIssueURL("https://github.com/owner/repo/pull/123")
	assert.ErrorContains(t, err, "invalid GitHub issue URL format")
}

func TestListIssuesSkipsPullRequests(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "application/vnd.github+json", r.Header.Get("Accept"))
		assert.Equal(t, "/repos/o/r/issues", r.URL.Path)
		assert.Equal(t, "closed", r.URL.Query().Get("state"))
		assert.Equal(t, "30", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`[
			{"number": 1, "title": "Bug", "state": "closed", "user": {"login": "alice"},
			 "labels": [{"name": "bug"}], "assignees": [{"login": "bob"}], "milestone": {"title": "v1"}},
			{"number": 2, "title": "PR", "pull_request": {}}
		]`))
	})

	issues, err := c.ListIssues(context.Background(), "o", "r", "closed", 0)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "alice", issues[0].Author)
	assert.Equal(t, []string{"bug"}, issues[0].Labels)
	assert.Equal(t, []string{"bob"}, issues[0].Assignees)
	assert.Equal(t, "v1", issues[0].Milestone)

	_, err = c.ListIssues(context.Background(), "o", "r", "merged", 0)
	assert.ErrorContains(t, err, "invalid state")
}

func TestCreateIssue(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		var in NewIssue
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "Flaky test", in.Title)
		assert.Equal(t, []string{"ci"}, in.Labels)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"number": 42, "title": "Flaky test", "state": "open", "html_url": "https://github.com/o/r/issues/42"}`))
	})

	issue, err := c.CreateIssue(context.Background(), "o", "r", NewIssue{Title: "Flaky test", Labels: []string{"ci"}})
	require.NoError(t, err)
	assert.Equal(t, 42, issue.Number)
	assert.Equal(t, "o", issue.Owner)

	_, err = c.CreateIssue(context.Background(), "o", "r", NewIssue{})
	assert.EqualError(t, err, "issue title is required")
}

func TestListPullsAndRepo(t *testing.T) {
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/repos/o/r/pulls":
			_, _ = w.Write([]byte(`[{"number": 7, "title": "Add x", "state": "open", "draft": true,
				"user": {"login": "carol"}, "head": {"ref": "feat/x"}, "base": {"ref": "main"}}]`))
		case "/repos/o/r":
			_, _ = w.Write([]byte(`{"full_name": "o/r", "default_branch": "main", "stargazers_count": 12, "language": "Go"}`))
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	pulls, err := c.ListPulls(ctx, "o", "r", "", 5)
	require.NoError(t, err)
	require.Len(t, pulls, 1)
	assert.Equal(t, PullRequest{Number: 7, Title: "Add x", State: "open", Author: "carol", Draft: true, Head: "feat/x", Base: "main"}, pulls[0])

	repo, err := c.GetRepo(ctx, "o", "r")
	require.NoError(t, err)
	assert.Equal(t, 12, repo.Stars)
	assert.Equal(t, "main", repo.DefaultBranch)

	_, err = c.GetIssue(ctx, "o", "r", 9)
	assert.ErrorContains(t, err, "failed to fetch issue o/r#9")
}

func TestFormatIssueMarkdown(t *testing.T) {
	issue := &Issue{
		Owner:     "o",
		Repo:      "r",
		Number:    5,
		Title:     "Crash on start",
		Author:    "dana",
		State:     "open",
		Labels:    []string{"bug", "p1"},
		CreatedAt: time.Date(2026, 10, 1, 8, 30, 0, 0, time.UTC),
	}

	md := FormatIssueMarkdown(issue)
	assert.Contains(t, md, "# Crash on start")
	assert.Contains(t, md, "- **Repository:** o/r")
	assert.Contains(t, md, "- **Labels:** bug, p1")
	assert.Contains(t, md, "- **Created:** 2026-10-01 08:30:00")
	assert.Contains(t, md, "*No description provided.*")
	assert.NotContains(t, md, "Milestone")
}
