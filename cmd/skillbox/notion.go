package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/notion"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var notionCmd = &cobra.Command{
	Use:   "notion",
	Short: "Search, read and write Notion pages and databases",
	Long: `Search, read and write Notion pages and databases shared with an integration.
The token comes from --token, notion.token, NOTION_TOKEN or the vault entry "notion".`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var notionSearchCmd = &cobra.Command{
	Use:   "search [query...]",
	Short: "Search pages and databases",
	Run: func(cmd *cobra.Command, args []string) {
		filterType, _ := cmd.Flags().GetString("type")
		withNotion(cmd, func(ctx context.Context, c *notion.Client) {
			results, err := c.Search(ctx, strings.Join(args, " "), filterType)
			if err != nil {
				fail(err, "search failed")
			}
			printNotionResults(cmd, results)
		})
	},
}

var notionPageCmd = &cobra.Command{
	Use:   "page <id|url>",
	Short: "Print a page's title and text",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withNotion(cmd, func(ctx context.Context, c *notion.Client) {
			page, err := c.GetPage(ctx, args[0])
			if err != nil {
				fail(err, "failed to get page")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(page)
				return
			}
			presenter.Section(page.Title)
			fmt.Println(page.Text)
		})
	},
}

var notionQueryCmd = &cobra.Command{
	Use:   "query <database-id|url>",
	Short: "List the rows of a database",
	Long: `List the rows of a database. --filter takes a raw Notion filter object.

Example:
  skillbox notion query $DB --filter '{"property":"Status","select":{"equals":"Done"}}'`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		filter, _ := cmd.Flags().GetString("filter")
		var raw json.RawMessage
		if filter != "" {
			if !json.Valid([]byte(filter)) {
				usageError(errors.New("filter is not valid JSON"), "invalid --filter")
			}
			raw = json.RawMessage(filter)
		}
		withNotion(cmd, func(ctx context.Context, c *notion.Client) {
			results, err := c.QueryDatabase(ctx, args[0], raw)
			if err != nil {
				fail(err, "query failed")
			}
			printNotionResults(cmd, results)
		})
	},
}

var notionCreateCmd = &cobra.Command{
	Use:   "create <database-id|url> <title>",
	Short: "Add a page to a database",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		propsJSON, _ := cmd.Flags().GetString("props")
		titleProp, _ := cmd.Flags().GetString("title-property")
		props := map[string]any{}
		if propsJSON != "" {
			if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
				usageError(err, "invalid --props")
			}
		}
		withNotion(cmd, func(ctx context.Context, c *notion.Client) {
			c.TitleProperty = titleProp
			result, err := c.CreatePage(ctx, args[0], args[1], props)
			if err != nil {
				fail(err, "failed to create page")
			}
			presenter.Success("created " + result.URL)
		})
	},
}

var notionAppendCmd = &cobra.Command{
	Use:   "append <page-id|url> [text...]",
	Short: "Append paragraphs to a page",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		text := mustReadText(args[1:])
		withNotion(cmd, func(ctx context.Context, c *notion.Client) {
			n, err := c.AppendText(ctx, args[0], text)
			if err != nil {
				fail(err, "failed to append")
			}
			presenter.Success(fmt.Sprintf("appended %d blocks", n))
		})
	},
}

func init() {
	notionCmd.PersistentFlags().String("token", "", "Notion integration token")
	notionCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	notionSearchCmd.Flags().String("type", "", "Only page or database results")
	notionQueryCmd.Flags().String("filter", "", "Notion filter object as JSON")
	notionCreateCmd.Flags().String("props", "", "Extra properties as a JSON object")
	notionCreateCmd.Flags().String("title-property", "Name", "Name of the database's title column")

	notionCmd.AddCommand(notionSearchCmd)
	notionCmd.AddCommand(notionPageCmd)
	notionCmd.AddCommand(notionQueryCmd)
	notionCmd.AddCommand(notionCreateCmd)
	notionCmd.AddCommand(notionAppendCmd)
	rootCmd.AddCommand(notionCmd)
}

func withNotion(cmd *cobra.Command, fn func(context.Context, *notion.Client)) {
	ctx := cmd.Context()
	cfg := loadConfig()
	token, _ := cmd.Flags().GetString("token")
	if token == "" {
		token = cfg.Notion.Token
	}
	cfg.Notion.Token = resolveSecret(ctx, cfg, token, "notion")

	client, err := notion.NewClient(cfg.Notion, httpOptions(cfg)...)
	if err != nil {
		usageError(err, "notion is not configured")
	}
	fn(ctx, client)
}

func printNotionResults(cmd *cobra.Command, results []notion.Result) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		if results == nil {
			results = []notion.Result{}
		}
		printJSON(results)
		return
	}
	if len(results) == 0 {
		presenter.Info("No results")
		return
	}
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Object, r.Title, r.ID, r.LastEdited.Local().Format(time.DateOnly)})
	}
	presenter.Table([]string{"TYPE", "TITLE", "ID", "EDITED"}, rows)
}
