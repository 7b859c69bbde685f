package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillbox/pkg/logger"
)

// Issue represents the structured data of a GitHub issue
type Issue struct {
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	State     string    `json:"state"`
	Labels    []string  `json:"labels"`
	Assignees []string  `json:"assignees"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	HTMLURL   string    `json:"html_url"`
	Comments  int       `json:"comments"`
	Milestone string    `json:"milestone,omitempty"`
}

type user struct {
	Login string `json:"login"`
}

type apiIssue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	HTMLURL   string    `json:"html_url"`
	Comments  int       `json:"comments"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      user      `json:"user"`
	Labels    []struct {
		Name string `json:"name"`
	} `json:"labels"`
	Assignees []user `json:"assignees"`
	Milestone *struct {
		Title string `json:"title"`
	} `json:"milestone"`
	PullRequest *struct{} `json:"pull_request"`
}

func (a apiIssue) toIssue(owner, repo string) Issue {
	issue := Issue{
		Owner:     owner,
		Repo:      repo,
		Number:    a.Number,
		Title:     a.Title,
		Body:      a.Body,
		Author:    a.User.Login,
		State:     a.State,
		HTMLURL:   a.HTMLURL,
		Comments:  a.Comments,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
		Labels:    []string{},
		Assignees: []string{},
	}
	for _, l := range a.Labels {
		issue.Labels = append(issue.Labels, l.Name)
	}
	for _, u := range a.Assignees {
		issue.Assignees = append(issue.Assignees, u.Login)
	}
	if a.Milestone != nil {
		issue.Milestone = a.Milestone.Title
	}
	return issue
}

var issueURLRe = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+)/issues/(\d+)/?$`)

// ParseIssueURL extracts owner, repo, and issue number from a GitHub issue URL
func ParseIssueURL(issueURL string) (owner, repo string, number int, err error) {
	matches := issueURLRe.FindStringSubmatch(strings.TrimSpace(issueURL))
	if len(matches) != 4 {
		return "", "", 0, errors.Errorf("invalid GitHub issue URL format: %s", issueURL)
	}

	number, err = strconv.Atoi(matches[3])
	if err != nil {
		return "", "", 0, errors.Errorf("invalid issue number: %s", matches[3])
	}
	return matches[1], matches[2], number, nil
}

// ListIssues lists issues (not pull requests) in state open, closed or all.
func (c *Client) ListIssues(ctx context.Context, owner, repo, state string, limit int) ([]Issue, error) {
	if state == "" {
		state = "open"
	}
	switch state {
	case "open", "closed", "all":
	default:
		return nil, errors.Errorf("invalid state %q, expected open, closed or all", state)
	}
	if limit <= 0 || limit > 100 {
		limit = 30
	}

	query := url.Values{"state": {state}, "per_page": {strconv.Itoa(limit)}}
	var raw []apiIssue
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues", owner, repo), query, nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to list issues for %s/%s", owner, repo)
	}

	issues := make([]Issue, 0, len(raw))
	for _, a := range raw {
		// the issues endpoint also returns pull requests
		if a.PullRequest != nil {
			continue
		}
		issues = append(issues, a.toIssue(owner, repo))
	}
	return issues, nil
}

// GetIssue fetches a single issue.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error) {
	logger.G(ctx).WithField("owner", owner).WithField("repo", repo).WithField("number", number).Debug("fetching GitHub issue")

	var raw apiIssue
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/issues/%d", owner, repo, number), nil, nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch issue %s/%s#%d", owner, repo, number)
	}
	issue := raw.toIssue(owner, repo)
	return &issue, nil
}

// NewIssue is the payload for CreateIssue.
type NewIssue struct {
	Title     string   `json:"title"`
	Body      string   `json:"body,omitempty"`
	Labels    []string `json:"labels,omitempty"`
	Assignees []string `json:"assignees,omitempty"`
}

// CreateIssue opens a new issue and returns it.
func (c *Client) CreateIssue(ctx context.Context, owner, repo string, in NewIssue) (*Issue, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, errors.New("issue title is required")
	}

	var raw apiIssue
	if err := c.call(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/%s/issues", owner, repo), nil, in, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to create issue in %s/%s", owner, repo)
	}
	issue := raw.toIssue(owner, repo)
	logger.G(ctx).WithField("url", issue.HTMLURL).Info("created GitHub issue")
	return &issue, nil
}

// FormatIssueMarkdown renders the issue as a readable markdown document
func FormatIssueMarkdown(issue *Issue) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# %s\n\n", issue.Title)

	sb.WriteString("## Issue Information\n\n")
	fmt.Fprintf(&sb, "- **Repository:** %s/%s\n", issue.Owner, issue.Repo)
	fmt.Fprintf(&sb, "- **Issue Number:** #%d\n", issue.Number)
	fmt.Fprintf(&sb, "- **Author:** @%s\n", issue.Author)
	fmt.Fprintf(&sb, "- **State:** %s\n", issue.State)
	fmt.Fprintf(&sb, "- **Created:** %s\n", issue.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "- **URL:** %s\n", issue.HTMLURL)
	if len(issue.Labels) > 0 {
		fmt.Fprintf(&sb, "- **Labels:** %s\n", strings.Join(issue.Labels, ", "))
	}
	if len(issue.Assignees) > 0 {
		fmt.Fprintf(&sb, "- **Assignees:** %s\n", strings.Join(issue.Assignees, ", "))
	}
	if issue.Milestone != "" {
		fmt.Fprintf(&sb, "- **Milestone:** %s\n", issue.Milestone)
	}
	if issue.Comments > 0 {
		fmt.Fprintf(&sb, "- **Comments:** %d\n", issue.Comments)
	}

	sb.WriteString("\n## Description\n\n")
	if issue.Body != "" {
		sb.WriteString(issue.Body)
		sb.WriteString("\n")
	} else {
		sb.WriteString("*No description provided.*\n")
	}

	return sb.String()
}
