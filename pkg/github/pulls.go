package github

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// PullRequest is a summary of a pull request.
type PullRequest struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Author    string    `json:"author"`
	Draft     bool      `json:"draft"`
	Head      string    `json:"head"`
	Base      string    `json:"base"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type apiPull struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	State     string    `json:"state"`
	Draft     bool      `json:"draft"`
	HTMLURL   string    `json:"html_url"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      user      `json:"user"`
	Head      struct {
		Ref string `json:"ref"`
	} `json:"head"`
	Base struct {
		Ref string `json:"ref"`
	} `json:"base"`
}

// ListPulls lists pull requests in state open, closed or all.
func (c *Client) ListPulls(ctx context.Context, owner, repo, state string, limit int) ([]PullRequest, error) {
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
	var raw []apiPull
	if err := c.call(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/%s/pulls", owner, repo), query, nil, &raw); err != nil {
		return nil, errors.Wrapf(err, "failed to list pull requests for %s/%s", owner, repo)
	}

	pulls := make([]PullRequest, 0, len(raw))
	for _, p := range raw {
		pulls = append(pulls, PullRequest{
			Number:    p.Number,
			Title:     p.Title,
			State:     p.State,
			Author:    p.User.Login,
			Draft:     p.Draft,
			Head:      p.Head.Ref,
			Base:      p.Base.Ref,
			HTMLURL:   p.HTMLURL,
			CreatedAt: p.CreatedAt,
			UpdatedAt: p.UpdatedAt,
		})
	}
	return pulls, nil
}
