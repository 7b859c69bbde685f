package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/textutil"
)

var textCmd = &cobra.Command{
	Use:   "text",
	Short: "Text transformations",
	Long: `Case conversion, base64, pattern extraction, slugs, counts and diffs.
Input is taken from the arguments, or from stdin when there are none.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var textCaseCmd = &cobra.Command{
	Use:   "case <mode> [text...]",
	Short: "Convert text to another case",
	Long: fmt.Sprintf(`Convert text to another case. Modes: %s.

Examples:
  skillbox text case snake "Hello World"
  echo userId | skillbox text case constant`, caseModeNames()),
	Args: cobra.MinimumNArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		input := mustReadText(args[1:])
		out, err := textutil.ConvertCase(strings.TrimRight(input, "\n"), textutil.CaseMode(args[0]))
		if err != nil {
			usageError(err, "failed to convert case")
		}
		fmt.Println(out)
	},
}

var textB64EncCmd = &cobra.Command{
	Use:   "b64enc [text...]",
	Short: "Base64 encode text",
	Run: func(cmd *cobra.Command, args []string) {
		urlSafe, _ := cmd.Flags().GetBool("url")
		fmt.Println(textutil.Base64Encode([]byte(mustReadText(args)), urlSafe))
	},
}

var textB64DecCmd = &cobra.Command{
	Use:   "b64dec [text...]",
	Short: "Base64 decode text",
	Run: func(cmd *cobra.Command, args []string) {
		urlSafe, _ := cmd.Flags().GetBool("url")
		data, err := textutil.Base64Decode(strings.TrimSpace(mustReadText(args)), urlSafe)
		if err != nil {
			fail(err, "failed to decode")
		}
		os.Stdout.Write(data)
	},
}

var textExtractCmd = &cobra.Command{
	Use:   "extract <kind> [text...]",
	Short: "Extract emails, urls, ipv4, phone, hashtags, mentions, numbers or a regex",
	Long: `Extract matches from text, deduplicated in order of first appearance.

Examples:
  cat mail.txt | skillbox text extract emails
  skillbox text extract regex --pattern 'JIRA-[0-9]+' < notes.md`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pattern, _ := cmd.Flags().GetString("pattern")
		matches, err := textutil.Extract(mustReadText(args[1:]), textutil.ExtractKind(args[0]), pattern)
		if err != nil {
			usageError(err, "failed to extract")
		}
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			printJSON(matches)
			return
		}
		for _, m := range matches {
			fmt.Println(m)
		}
	},
}

var textSlugCmd = &cobra.Command{
	Use:   "slug [text...]",
	Short: "Make a URL and filename friendly slug",
	Run: func(cmd *cobra.Command, args []string) {
		maxLen, _ := cmd.Flags().GetInt("max")
		fmt.Println(textutil.SlugifyMax(mustReadText(args), maxLen))
	},
}

var textStatsCmd = &cobra.Command{
	Use:   "stats [text...]",
	Short: "Count lines, words, characters and bytes",
	Run: func(cmd *cobra.Command, args []string) {
		stats := textutil.Stats(mustReadText(args))
		asJSON, _ := cmd.Flags().GetBool("json")
		if asJSON {
			printJSON(stats)
			return
		}
		fmt.Printf("lines: %d\nwords: %d\nchars: %d\nbytes: %d\n", stats.Lines, stats.Words, stats.Chars, stats.Bytes)
	},
}

var textDiffCmd = &cobra.Command{
	Use:   "diff <file-a> <file-b>",
	Short: "Unified diff of two files",
	Args:  cobra.ExactArgs(2),
	Run: func(_ *cobra.Command, args []string) {
		a, err := os.ReadFile(args[0])
		if err != nil {
			fail(err, "failed to read "+args[0])
		}
		b, err := os.ReadFile(args[1])
		if err != nil {
			fail(err, "failed to read "+args[1])
		}
		diff := textutil.Diff(string(a), string(b), args[0], args[1])
		fmt.Print(diff)
		if diff != "" {
			exit(exitFailure)
		}
	},
}

func init() {
	textB64EncCmd.Flags().Bool("url", false, "Use the URL safe alphabet")
	textB64DecCmd.Flags().Bool("url", false, "Use the URL safe alphabet")
	textExtractCmd.Flags().String("pattern", "", "Regular expression for the regex kind")
	textExtractCmd.Flags().Bool("json", false, "Output as a JSON array")
	textSlugCmd.Flags().Int("max", 0, "Maximum slug length (0 for no limit)")
	textStatsCmd.Flags().Bool("json", false, "Output as JSON")

	textCmd.AddCommand(textCaseCmd)
	textCmd.AddCommand(textB64EncCmd)
	textCmd.AddCommand(textB64DecCmd)
	textCmd.AddCommand(textExtractCmd)
	textCmd.AddCommand(textSlugCmd)
	textCmd.AddCommand(textStatsCmd)
	textCmd.AddCommand(textDiffCmd)
	rootCmd.AddCommand(textCmd)
}

func caseModeNames() string {
	names := make([]string, len(textutil.CaseModes))
	for i, m := range textutil.CaseModes {
		names[i] = string(m)
	}
	return strings.Join(names, ", ")
}

func mustReadText(args []string) string {
	input, err := readInput(args)
	if err != nil {
		fail(err, "failed to read input")
	}
	if input == "" {
		usageError(errors.New("no input"), "pass text as arguments or on stdin")
	}
	return input
}
