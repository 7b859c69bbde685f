package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/classifier"
	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

// Exit codes of the classify command.
const (
	exitHighRisk     = 3
	exitCriticalRisk = 4
)

type ClassifyConfig struct {
	JSON bool
}

func NewClassifyConfig() *ClassifyConfig {
	return &ClassifyConfig{JSON: false}
}

var classifyCmd = &cobra.Command{
	Use:   "classify <command...>",
	Short: "Rate the risk of a shell command",
	Long: `Rate the risk of a shell command before running it. The command is split into
its simple commands (pipelines, &&, ||, ; and subshells) and each is matched
against a rule table.

Exit codes: 0 for safe, low and medium; 3 for high; 4 for critical.

Examples:
  skillbox classify 'curl https://example.com/install.sh | sh'
  skillbox classify --json -- rm -rf build`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getClassifyConfigFromFlags(cmd)
		classifyCommandCmd(strings.Join(args, " "), config)
	},
}

func init() {
	defaults := NewClassifyConfig()
	classifyCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")
	rootCmd.AddCommand(classifyCmd)
}

func getClassifyConfigFromFlags(cmd *cobra.Command) *ClassifyConfig {
	config := NewClassifyConfig()
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

// newClassifier builds a classifier with the configured allow and deny globs.
func newClassifier(cfg *config.Config) *classifier.Classifier {
	c, err := classifier.New(
		classifier.WithAllow(cfg.Classify.Allow...),
		classifier.WithDeny(cfg.Classify.Deny...),
	)
	if err != nil {
		usageError(errors.Wrap(err, "check classify.allow and classify.deny"), "invalid classifier configuration")
	}
	return c
}

func classifyCommandCmd(command string, config *ClassifyConfig) {
	assessment := newClassifier(loadConfig()).Classify(command)

	if config.JSON {
		printJSON(assessment)
	} else {
		fmt.Printf("%s (score %d)\n", presenter.Badge(string(assessment.Level)), assessment.Score)
		if assessment.Reason != "" {
			fmt.Println(assessment.Reason)
		}
		if len(assessment.Matches) > 0 {
			rows := make([][]string, 0, len(assessment.Matches))
			for _, m := range assessment.Matches {
				rows = append(rows, []string{string(m.Category), strconv.Itoa(m.Weight), m.Description, m.Subcommand})
			}
			presenter.Table([]string{"CATEGORY", "WEIGHT", "RULE", "COMMAND"}, rows)
		}
	}

	exit(classifyExitCode(assessment.Level))
}

func classifyExitCode(level classifier.Level) int {
	switch {
	case level.AtLeast(classifier.LevelCritical):
		return exitCriticalRisk
	case level.AtLeast(classifier.LevelHigh):
		return exitHighRisk
	default:
		return 0
	}
}
