// Package github is a small GitHub REST client for issues, pull requests and
// repository metadata.
package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/httpclient"
	"github.com/jingkaihe/skillbox/pkg/logger"
)

// DefaultBaseURL is the public GitHub API.
const DefaultBaseURL = "https://api.github.com"

// Client wraps the GitHub REST API
type Client struct {
	http    *httpclient.Client
	baseURL string
}

// NewClient creates a new GitHub client. With a token, requests carry it
// through an oauth2 static token source; without one, they are anonymous.
func NewClient(ctx context.Context, cfg config.GitHubConfig, httpCfg config.HTTPConfig) *Client {
	log := logger.G(ctx)

	opts := []httpclient.Option{}
	if cfg.Token == "" {
		log.Warn("No GitHub token provided - API rate limits will be restricted")
	} else {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
		tc := oauth2.NewClient(ctx, ts)
		if httpCfg.Timeout > 0 {
			tc.Timeout = httpCfg.Timeout
		}
		opts = append(opts, httpclient.WithHTTPClient(tc))
		log.Debug("GitHub client initialized with authentication")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		http:    httpclient.NewFromConfig(httpCfg, opts...),
		baseURL: baseURL,
	}
}

func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	headers := map[string]string{
		"Accept":               "application/vnd.github+json",
		"X-GitHub-Api-Version": "2022-11-28",
	}
	return c.http.DoJSON(ctx, method, u, headers, body, out)
}

var repoURLRe = regexp.MustCompile(`^(?:https://github\.com/)?([A-Za-z0-9_.-]+)/([A-Za-z0-9_.-]+?)(?:\.git)?/?$`)

// ParseRepo accepts "owner/repo" or a github.com repository URL.
func ParseRepo(s string) (owner, repo string, err error) {
	matches := repoURLRe.FindStringSubmatch(strings.TrimSpace(s))
	if len(matches) != 3 {
		return "", "", errors.Errorf("invalid repository %q, expected owner/repo", s)
	}
	return matches[1], matches[2], nil
}

// Repo is repository metadata.
type Repo struct {
	FullName      string `json:"full_name"`
	Description   string `json:"description"`
	HTMLURL       string `json:"html_url"`
	DefaultBranch string `json:"default_branch"`
	Private       bool   `json:"private"`
	Stars         int    `json:"stargazers_count"`
	Forks         int    `json:"forks_count"`
	OpenIssues    int    `json:"open_issues_count"`
	Language      string `json:"language"`
	Archived      bool   `json:"archived"`
}

// GetRepo fetches repository metadata.
func (c *Client) GetRepo(ctx context.Context, owner, repo string) (*Repo, error) {
	var r Repo
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s", owner, repo), nil, nil, &r); err != nil {
		return nil, errors.Wrapf(err, "failed to get repository %s/%s", owner, repo)
	}
	return &r, nil
}
