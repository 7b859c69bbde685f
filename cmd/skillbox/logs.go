package main

import (
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/loganalysis"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

type LogsAnalyzeConfig struct {
	Top   int
	Level string
	Grep  string
	Since string
	JSON  bool
}

func NewLogsAnalyzeConfig() *LogsAnalyzeConfig {
	return &LogsAnalyzeConfig{Top: 10}
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Summarize log files",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var logsAnalyzeCmd = &cobra.Command{
	Use:   "analyze [file...]",
	Short: "Count levels and the most frequent errors",
	Long: `Count log levels and group the most frequent error messages, with numbers,
hex ids and UUIDs collapsed. JSON, logfmt and plain text lines are understood.
Reads stdin when no file is given.

Examples:
  skillbox logs analyze /var/log/app.log --top 5
  kubectl logs deploy/api | skillbox logs analyze --since 1h --json`,
	Run: func(cmd *cobra.Command, args []string) {
		config := getLogsAnalyzeConfigFromFlags(cmd)
		logsAnalyzeCommand(cmd, args, config)
	},
}

func init() {
	defaults := NewLogsAnalyzeConfig()
	logsAnalyzeCmd.Flags().Int("top", defaults.Top, "Number of error messages to show")
	logsAnalyzeCmd.Flags().String("level", defaults.Level, "Only count lines at this level")
	logsAnalyzeCmd.Flags().String("grep", defaults.Grep, "Only count lines matching this regular expression")
	logsAnalyzeCmd.Flags().String("since", defaults.Since, "Only count lines newer than a duration (1h) or RFC3339 time")
	logsAnalyzeCmd.Flags().Bool("json", defaults.JSON, "Output as JSON")

	logsCmd.AddCommand(logsAnalyzeCmd)
	rootCmd.AddCommand(logsCmd)
}

func getLogsAnalyzeConfigFromFlags(cmd *cobra.Command) *LogsAnalyzeConfig {
	config := NewLogsAnalyzeConfig()
	if top, err := cmd.Flags().GetInt("top"); err == nil {
		config.Top = top
	}
	if level, err := cmd.Flags().GetString("level"); err == nil {
		config.Level = level
	}
	if grep, err := cmd.Flags().GetString("grep"); err == nil {
		config.Grep = grep
	}
	if since, err := cmd.Flags().GetString("since"); err == nil {
		config.Since = since
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func parseSince(s string, now time.Time) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, errors.Errorf("since must be a duration or RFC3339 time, got %q", s)
	}
	return t, nil
}

func logsAnalyzeCommand(cmd *cobra.Command, files []string, config *LogsAnalyzeConfig) {
	since, err := parseSince(config.Since, time.Now())
	if err != nil {
		usageError(err, "invalid --since")
	}
	opts := loganalysis.Options{
		Top:   config.Top,
		Level: config.Level,
		Grep:  config.Grep,
		Since: since,
	}

	var report *loganalysis.Report
	if len(files) == 0 {
		report, err = loganalysis.Analyze(os.Stdin, opts)
	} else {
		report, err = loganalysis.AnalyzeFiles(cmd.Context(), files, opts)
	}
	if err != nil {
		fail(err, "analysis failed")
	}

	if config.JSON {
		printJSON(report)
		return
	}

	presenter.Section("Summary")
	summary := [][]string{
		{"lines", strconv.Itoa(report.Lines)},
		{"matched", strconv.Itoa(report.Matched)},
	}
	if report.First != nil {
		summary = append(summary, []string{"first", report.First.Format(time.RFC3339)})
	}
	if report.Last != nil {
		summary = append(summary, []string{"last", report.Last.Format(time.RFC3339)})
	}
	presenter.Table([]string{"FIELD", "VALUE"}, summary)

	levels := make([]string, 0, len(report.Levels))
	for level := range report.Levels {
		levels = append(levels, level)
	}
	sort.Slice(levels, func(i, j int) bool { return report.Levels[levels[i]] > report.Levels[levels[j]] })
	rows := make([][]string, 0, len(levels))
	for _, level := range levels {
		rows = append(rows, []string{level, strconv.Itoa(report.Levels[level])})
	}
	presenter.Section("Levels")
	presenter.Table([]string{"LEVEL", "COUNT"}, rows)

	if len(report.TopErrors) == 0 {
		presenter.Success("no errors")
		return
	}
	rows = rows[:0]
	for _, m := range report.TopErrors {
		rows = append(rows, []string{strconv.Itoa(m.Count), firstLine(m.Message)})
	}
	presenter.Section("Top errors")
	presenter.Table([]string{"COUNT", "MESSAGE"}, rows)
}
