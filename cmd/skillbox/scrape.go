package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/scrape"
)

type ScrapeConfig struct {
	Selector string
	Links    bool
	Format   string
	JSON     bool
}

func NewScrapeConfig() *ScrapeConfig {
	return &ScrapeConfig{Format: string(scrape.FormatMarkdown)}
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Fetch a web page as markdown, text, links or selected elements",
	Long: `Fetch a web page and print it as markdown or plain text, list its links, or
print the text of the elements matching a CSS selector. Only https URLs are
fetched, except on localhost. When scrape.allowed_domains_file is set only the
hosts it lists are allowed.

Examples:
  skillbox scrape https://go.dev/doc/
  skillbox scrape https://news.ycombinator.com --selector ".titleline > a"
  skillbox scrape https://example.com --links`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getScrapeConfigFromFlags(cmd)
		scrapeCommand(cmd.Context(), args[0], config)
	},
}

func init() {
	defaults := NewScrapeConfig()
	scrapeCmd.Flags().String("selector", defaults.Selector, "CSS selector whose matches are printed")
	scrapeCmd.Flags().Bool("links", defaults.Links, "Print the page's absolute links")
	scrapeCmd.Flags().String("format", defaults.Format, "markdown or text")
	scrapeCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")
	rootCmd.AddCommand(scrapeCmd)
}

func getScrapeConfigFromFlags(cmd *cobra.Command) *ScrapeConfig {
	config := NewScrapeConfig()
	if selector, err := cmd.Flags().GetString("selector"); err == nil {
		config.Selector = selector
	}
	if links, err := cmd.Flags().GetBool("links"); err == nil {
		config.Links = links
	}
	if format, err := cmd.Flags().GetString("format"); err == nil {
		config.Format = format
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func scrapeCommand(ctx context.Context, rawURL string, config *ScrapeConfig) {
	format := scrape.Format(config.Format)
	if format != scrape.FormatMarkdown && format != scrape.FormatText {
		usageError(errors.Errorf("unknown format %q", config.Format), "format must be markdown or text")
	}
	if config.Links {
		format = scrape.FormatLinks
	}

	cfg := loadConfig()
	var filter *scrape.DomainFilter
	if cfg.Scrape.AllowedDomainsFile != "" {
		filter = scrape.NewDomainFilter(cfg.Scrape.AllowedDomainsFile)
	}
	scraper := scrape.New(filter, httpOptions(cfg)...)

	page, err := scraper.Fetch(ctx, rawURL, scrape.Options{Format: format, Selector: config.Selector})
	if err != nil {
		fail(err, "scrape failed")
	}

	switch {
	case config.JSON:
		printJSON(page)
	case config.Selector != "":
		for _, m := range page.Matches {
			fmt.Println(m)
		}
	case format == scrape.FormatLinks:
		fmt.Println(strings.Join(page.Links, "\n"))
	default:
		fmt.Println(page.Content)
	}
}
