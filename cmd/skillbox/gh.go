package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/github"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var ghCmd = &cobra.Command{
	Use:   "gh",
	Short: "Work with GitHub issues, pull requests and repositories",
	Long: `Work with GitHub issues, pull requests and repositories over the REST API.
The token comes from github.token, GITHUB_TOKEN or the vault entry "github".
Public repositories can be read without one.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var ghIssuesCmd = &cobra.Command{
	Use:   "issues <owner/repo>",
	Short: "List issues",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		withGitHub(cmd, args[0], func(ctx context.Context, c *github.Client, owner, repo string) {
			issues, err := c.ListIssues(ctx, owner, repo, state, limit)
			if err != nil {
				fail(err, "failed to list issues")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(issues)
				return
			}
			rows := make([][]string, 0, len(issues))
			for _, is := range issues {
				rows = append(rows, []string{"#" + strconv.Itoa(is.Number), is.State, is.Title, is.Author, humanTime(is.UpdatedAt)})
			}
			presenter.Table([]string{"NUMBER", "STATE", "TITLE", "AUTHOR", "UPDATED"}, rows)
		})
	},
}

var ghIssueCmd = &cobra.Command{
	Use:   "issue <url> | issue <owner/repo> <number>",
	Short: "Show an issue",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		owner, repo, number, err := parseIssueArgs(args)
		if err != nil {
			usageError(err, "invalid issue reference")
		}
		withGitHub(cmd, owner+"/"+repo, func(ctx context.Context, c *github.Client, owner, repo string) {
			issue, err := c.GetIssue(ctx, owner, repo, number)
			if err != nil {
				fail(err, "failed to get issue")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(issue)
				return
			}
			md := github.FormatIssueMarkdown(issue)
			renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
			if err == nil {
				if out, err := renderer.Render(md); err == nil {
					md = out
				}
			}
			fmt.Print(md)
		})
	},
}

var ghIssueCreateCmd = &cobra.Command{
	Use:   "issue-create <owner/repo> <title>",
	Short: "Open an issue",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		body, _ := cmd.Flags().GetString("body")
		labels, _ := cmd.Flags().GetStringSlice("label")
		assignees, _ := cmd.Flags().GetStringSlice("assignee")
		withGitHub(cmd, args[0], func(ctx context.Context, c *github.Client, owner, repo string) {
			issue, err := c.CreateIssue(ctx, owner, repo, github.NewIssue{
				Title:     args[1],
				Body:      body,
				Labels:    labels,
				Assignees: assignees,
			})
			if err != nil {
				fail(err, "failed to create issue")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(issue)
				return
			}
			presenter.Success(fmt.Sprintf("created #%d %s", issue.Number, issue.HTMLURL))
		})
	},
}

var ghPullsCmd = &cobra.Command{
	Use:   "pulls <owner/repo>",
	Short: "List pull requests",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		state, _ := cmd.Flags().GetString("state")
		limit, _ := cmd.Flags().GetInt("limit")
		withGitHub(cmd, args[0], func(ctx context.Context, c *github.Client, owner, repo string) {
			pulls, err := c.ListPulls(ctx, owner, repo, state, limit)
			if err != nil {
				fail(err, "failed to list pull requests")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(pulls)
				return
			}
			rows := make([][]string, 0, len(pulls))
			for _, p := range pulls {
				title := p.Title
				if p.Draft {
					title = "[draft] " + title
				}
				rows = append(rows, []string{"#" + strconv.Itoa(p.Number), p.State, title, p.Head + " → " + p.Base, humanTime(p.UpdatedAt)})
			}
			presenter.Table([]string{"NUMBER", "STATE", "TITLE", "BRANCH", "UPDATED"}, rows)
		})
	},
}

var ghRepoCmd = &cobra.Command{
	Use:   "repo <owner/repo>",
	Short: "Show repository metadata",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withGitHub(cmd, args[0], func(ctx context.Context, c *github.Client, owner, repo string) {
			r, err := c.GetRepo(ctx, owner, repo)
			if err != nil {
				fail(err, "failed to get repository")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(r)
				return
			}
			presenter.Section(r.FullName)
			if r.Description != "" {
				fmt.Println(r.Description)
			}
			presenter.Table([]string{"FIELD", "VALUE"}, [][]string{
				{"url", r.HTMLURL},
				{"default branch", r.DefaultBranch},
				{"language", r.Language},
				{"stars", strconv.Itoa(r.Stars)},
				{"forks", strconv.Itoa(r.Forks)},
				{"open issues", strconv.Itoa(r.OpenIssues)},
				{"private", strconv.FormatBool(r.Private)},
				{"archived", strconv.FormatBool(r.Archived)},
			})
		})
	},
}

func init() {
	ghCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	for _, c := range []*cobra.Command{ghIssuesCmd, ghPullsCmd} {
		c.Flags().String("state", "open", "open, closed or all")
		c.Flags().Int("limit", 30, "Maximum number of results")
	}
	ghIssueCreateCmd.Flags().String("body", "", "Issue body in markdown")
	ghIssueCreateCmd.Flags().StringSlice("label", nil, "Label to apply (repeatable)")
	ghIssueCreateCmd.Flags().StringSlice("assignee", nil, "User to assign (repeatable)")

	ghCmd.AddCommand(ghIssuesCmd)
	ghCmd.AddCommand(ghIssueCmd)
	ghCmd.AddCommand(ghIssueCreateCmd)
	ghCmd.AddCommand(ghPullsCmd)
	ghCmd.AddCommand(ghRepoCmd)
	rootCmd.AddCommand(ghCmd)
}

func withGitHub(cmd *cobra.Command, ref string, fn func(context.Context, *github.Client, string, string)) {
	owner, repo, err := github.ParseRepo(ref)
	if err != nil {
		usageError(err, "invalid repository")
	}
	ctx := cmd.Context()
	cfg := loadConfig()
	cfg.GitHub.Token = resolveSecret(ctx, cfg, cfg.GitHub.Token, "github")
	fn(ctx, github.NewClient(ctx, cfg.GitHub, cfg.HTTP), owner, repo)
}

func parseIssueArgs(args []string) (owner, repo string, number int, err error) {
	if len(args) == 1 {
		return github.ParseIssueURL(args[0])
	}
	if owner, repo, err = github.ParseRepo(args[0]); err != nil {
		return "", "", 0, err
	}
	number, err = strconv.Atoi(strings.TrimPrefix(args[1], "#"))
	if err != nil {
		return "", "", 0, errors.Errorf("invalid issue number: %s", args[1])
	}
	return owner, repo, number, nil
}

func humanTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return humanize.Time(t)
}
