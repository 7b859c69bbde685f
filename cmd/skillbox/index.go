package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/codeindex"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Index source code symbols and search them",
	Long: `Index the functions, types and classes of Go, Python, JavaScript/TypeScript,
Rust and Java sources into the local database, then search them by name.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var indexBuildCmd = &cobra.Command{
	Use:   "build [root]",
	Short: "Index a directory, replacing its previous entries",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		root := "."
		if len(args) == 1 {
			root = args[0]
		}
		include, _ := cmd.Flags().GetStringSlice("include")
		exclude, _ := cmd.Flags().GetStringSlice("exclude")
		withIndexer(cmd, func(ctx context.Context, ix *codeindex.Indexer) {
			res, err := ix.Index(ctx, root, include, exclude)
			if err != nil {
				fail(err, "indexing failed")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(res)
				return
			}
			presenter.Success(fmt.Sprintf("indexed %d symbols in %d files under %s", res.Symbols, res.Files, res.Root))
			rows := make([][]string, 0, len(res.ByLanguage))
			for lang, n := range res.ByLanguage {
				rows = append(rows, []string{lang, strconv.Itoa(n)})
			}
			presenter.Table([]string{"LANGUAGE", "SYMBOLS"}, rows)
		})
	},
}

var indexSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find symbols by name",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")
		withIndexer(cmd, func(ctx context.Context, ix *codeindex.Indexer) {
			symbols, err := ix.Search(ctx, strings.Join(args, " "), kind, limit)
			if err != nil {
				fail(err, "search failed")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(symbols)
				return
			}
			if len(symbols) == 0 {
				presenter.Info("No matches")
				return
			}
			rows := make([][]string, 0, len(symbols))
			for _, s := range symbols {
				loc := filepath.Join(s.Root, s.Path) + ":" + strconv.Itoa(s.Line)
				rows = append(rows, []string{s.Kind, s.Name, loc})
			}
			presenter.Table([]string{"KIND", "NAME", "LOCATION"}, rows)
		})
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "List indexed roots",
	Run: func(cmd *cobra.Command, _ []string) {
		withIndexer(cmd, func(ctx context.Context, ix *codeindex.Indexer) {
			stats, err := ix.Stats(ctx)
			if err != nil {
				fail(err, "failed to read stats")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(stats)
				return
			}
			rows := make([][]string, 0, len(stats))
			for _, s := range stats {
				rows = append(rows, []string{s.Root, strconv.Itoa(s.Files), strconv.Itoa(s.Symbols)})
			}
			presenter.Table([]string{"ROOT", "FILES", "SYMBOLS"}, rows)
		})
	},
}

func init() {
	indexCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	indexBuildCmd.Flags().StringSlice("include", nil, "Only index paths matching these globs (e.g. '**/*.go')")
	indexBuildCmd.Flags().StringSlice("exclude", nil, "Skip paths matching these globs")
	indexSearchCmd.Flags().String("kind", "", "Only symbols of this kind (func, type, class, ...)")
	indexSearchCmd.Flags().Int("limit", 50, "Maximum number of results")

	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexSearchCmd)
	indexCmd.AddCommand(indexStatsCmd)
	rootCmd.AddCommand(indexCmd)
}

func withIndexer(cmd *cobra.Command, fn func(context.Context, *codeindex.Indexer)) {
	ctx := cmd.Context()
	db := openStorage(ctx, loadConfig())
	defer db.Close()
	fn(ctx, codeindex.New(db))
}
