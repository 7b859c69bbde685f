package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/config"
	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

type SOPStartConfig struct {
	Inputs []string
	JSON   bool
}

func NewSOPStartConfig() *SOPStartConfig {
	return &SOPStartConfig{Inputs: []string{}, JSON: false}
}

type SOPRunsConfig struct {
	SOP    string
	Status string
	Limit  int
	JSON   bool
}

func NewSOPRunsConfig() *SOPRunsConfig {
	return &SOPRunsConfig{Limit: 20}
}

// SOPActionConfig holds the flags shared by approve, reject, cancel and retry.
type SOPActionConfig struct {
	By   string
	Note string
	JSON bool
}

func NewSOPActionConfig() *SOPActionConfig {
	return &SOPActionConfig{By: currentUser()}
}

var sopCmd = &cobra.Command{
	Use:   "sop",
	Short: "Run standard operating procedures",
	Long: `Run standard operating procedures: YAML step lists with approval gates,
risk classification of every shell step and a persistent audit trail.

Definitions live in ~/.skillbox/sops. A run pauses at any step that requires
approval (or whose command is rated high risk) until it is approved or rejected.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var sopListDefsCmd = &cobra.Command{
	Use:   "list-defs",
	Short: "List SOP definitions",
	Run: func(_ *cobra.Command, _ []string) {
		listSOPDefinitionsCmd()
	},
}

var sopValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate an SOP definition file",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		validateSOPCmd(args[0])
	},
}

var sopSchemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema for SOP definition files",
	Run: func(_ *cobra.Command, _ []string) {
		data, err := sop.Schema()
		if err != nil {
			fail(err, "failed to generate schema")
		}
		fmt.Println(string(data))
	},
}

var sopStartCmd = &cobra.Command{
	Use:   "start <file|name>",
	Short: "Start a run of an SOP",
	Long: `Start a run of an SOP given as a file path or a definition name.

Examples:
  skillbox sop start deploy --input env=staging
  skillbox sop start ./rotate-keys.yaml`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		config := getSOPStartConfigFromFlags(cmd)
		startSOPCmd(cmd.Context(), args[0], config)
	},
}

var sopStatusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the state of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		withRunner(cmd.Context(), func(ctx context.Context, runner *sop.Runner) {
			run, err := runner.Get(ctx, args[0])
			if err != nil {
				fail(err, "failed to get run")
			}
			printRun(run, asJSON)
		})
	},
}

var sopRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List runs, newest first",
	Run: func(cmd *cobra.Command, _ []string) {
		config := getSOPRunsConfigFromFlags(cmd)
		listSOPRunsCmd(cmd.Context(), config)
	},
}

var sopAuditCmd = &cobra.Command{
	Use:   "audit <run-id>",
	Short: "Show the audit trail of a run",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		asJSON, _ := cmd.Flags().GetBool("json")
		withRunner(cmd.Context(), func(ctx context.Context, runner *sop.Runner) {
			if _, err := runner.Get(ctx, args[0]); err != nil {
				fail(err, "failed to get run")
			}
			entries, err := runner.AuditLog(ctx, args[0])
			if err != nil {
				fail(err, "failed to read audit log")
			}
			if asJSON {
				printJSON(entries)
				return
			}
			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{e.At.Local().Format(time.DateTime), string(e.Event), e.StepID, e.Actor, e.Detail})
			}
			presenter.Table([]string{"AT", "EVENT", "STEP", "ACTOR", "DETAIL"}, rows)
		})
	},
}

func newSOPActionCmd(use, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <run-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			config := getSOPActionConfigFromFlags(cmd)
			sopActionCmd(cmd.Context(), use, args[0], config)
		},
	}
}

func init() {
	startDefaults := NewSOPStartConfig()
	sopStartCmd.Flags().StringArrayP("input", "i", startDefaults.Inputs, "Input value as key=value (repeatable)")
	sopStartCmd.Flags().Bool("json", startDefaults.JSON, "Output as JSON")

	runsDefaults := NewSOPRunsConfig()
	sopRunsCmd.Flags().String("sop", runsDefaults.SOP, "Only runs of this SOP")
	sopRunsCmd.Flags().String("status", runsDefaults.Status, "Only runs in this status")
	sopRunsCmd.Flags().Int("limit", runsDefaults.Limit, "Maximum number of runs (0 for all)")
	sopRunsCmd.Flags().Bool("json", runsDefaults.JSON, "Output as JSON")

	sopStatusCmd.Flags().Bool("json", false, "Output as JSON")
	sopAuditCmd.Flags().Bool("json", false, "Output as JSON")

	actionDefaults := NewSOPActionConfig()
	for _, c := range []*cobra.Command{
		newSOPActionCmd("approve", "Approve the step a run is waiting on"),
		newSOPActionCmd("reject", "Reject the step a run is waiting on and cancel the run"),
		newSOPActionCmd("cancel", "Cancel a run that has not finished"),
		newSOPActionCmd("retry", "Retry the failed step of a run"),
	} {
		c.Flags().String("by", actionDefaults.By, "Who is acting")
		c.Flags().String("note", actionDefaults.Note, "Note or reason recorded in the audit log")
		c.Flags().Bool("json", actionDefaults.JSON, "Output as JSON")
		sopCmd.AddCommand(c)
	}

	sopCmd.AddCommand(sopListDefsCmd)
	sopCmd.AddCommand(sopValidateCmd)
	sopCmd.AddCommand(sopSchemaCmd)
	sopCmd.AddCommand(sopStartCmd)
	sopCmd.AddCommand(sopStatusCmd)
	sopCmd.AddCommand(sopRunsCmd)
	sopCmd.AddCommand(sopAuditCmd)
	rootCmd.AddCommand(sopCmd)
}

func getSOPStartConfigFromFlags(cmd *cobra.Command) *SOPStartConfig {
	config := NewSOPStartConfig()
	if inputs, err := cmd.Flags().GetStringArray("input"); err == nil {
		config.Inputs = inputs
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func getSOPRunsConfigFromFlags(cmd *cobra.Command) *SOPRunsConfig {
	config := NewSOPRunsConfig()
	if name, err := cmd.Flags().GetString("sop"); err == nil {
		config.SOP = name
	}
	if status, err := cmd.Flags().GetString("status"); err == nil {
		config.Status = status
	}
	if limit, err := cmd.Flags().GetInt("limit"); err == nil {
		config.Limit = limit
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func getSOPActionConfigFromFlags(cmd *cobra.Command) *SOPActionConfig {
	config := NewSOPActionConfig()
	if by, err := cmd.Flags().GetString("by"); err == nil && by != "" {
		config.By = by
	}
	if note, err := cmd.Flags().GetString("note"); err == nil {
		config.Note = note
	}
	if asJSON, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = asJSON
	}
	return config
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

func newSOPRunner(cfg *config.Config, sqlDB *sqlx.DB) *sop.Runner {
	store := sop.NewSQLStore(sqlDB, sop.WithAuditDir(cfg.AuditDir()))
	return sop.NewRunner(store, sop.WithClassifier(newClassifier(cfg)))
}

func withRunner(ctx context.Context, fn func(context.Context, *sop.Runner)) {
	cfg := loadConfig()
	sqlDB := openStorage(ctx, cfg)
	defer sqlDB.Close()
	fn(ctx, newSOPRunner(cfg, sqlDB))
}

func parseInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, errors.Errorf("invalid input %q, expected key=value", pair)
		}
		inputs[strings.TrimSpace(key)] = value
	}
	return inputs, nil
}

func listSOPDefinitionsCmd() {
	cfg := loadConfig()
	defs, err := sop.LoadDefinitions(cfg.SOPDir())
	if err != nil {
		presenter.Warning(err.Error())
	}
	if len(defs) == 0 {
		presenter.Info("No SOP definitions in " + cfg.SOPDir())
		return
	}
	rows := make([][]string, 0, len(defs))
	for _, def := range defs {
		rows = append(rows, []string{def.Name, def.Version, strconv.Itoa(len(def.Steps)), def.Description})
	}
	presenter.Table([]string{"NAME", "VERSION", "STEPS", "DESCRIPTION"}, rows)
}

func validateSOPCmd(path string) {
	def, err := sop.LoadDefinition(path)
	if err != nil {
		fail(err, "failed to load SOP definition")
	}
	if err := def.Validate(); err != nil {
		fail(err, "invalid SOP definition "+path)
	}
	presenter.Success(fmt.Sprintf("%s is valid (%d steps)", def.Name, len(def.Steps)))
}

func startSOPCmd(ctx context.Context, ref string, config *SOPStartConfig) {
	inputs, err := parseInputs(config.Inputs)
	if err != nil {
		usageError(err, "invalid inputs")
	}

	cfg := loadConfig()
	def, err := sop.FindDefinition(cfg.SOPDir(), ref)
	if err != nil {
		fail(err, "failed to find SOP")
	}

	sqlDB := openStorage(ctx, cfg)
	defer sqlDB.Close()

	run, err := newSOPRunner(cfg, sqlDB).Start(ctx, def, inputs)
	if err != nil {
		if exitCodeFor(err) == exitUsage {
			usageError(err, "invalid run")
		}
		fail(err, "failed to start run")
	}
	printRun(run, config.JSON)
}

func listSOPRunsCmd(ctx context.Context, config *SOPRunsConfig) {
	withRunner(ctx, func(ctx context.Context, runner *sop.Runner) {
		runs, err := runner.List(ctx, sop.RunFilter{
			SOP:    config.SOP,
			Status: sop.Status(config.Status),
			Limit:  config.Limit,
		})
		if err != nil {
			fail(err, "failed to list runs")
		}
		if config.JSON {
			if runs == nil {
				runs = []*sop.Run{}
			}
			printJSON(runs)
			return
		}
		if len(runs) == 0 {
			presenter.Info("No runs found")
			return
		}
		rows := make([][]string, 0, len(runs))
		for _, run := range runs {
			rows = append(rows, []string{
				run.ID,
				run.SOP,
				presenter.Badge(string(run.Status)),
				fmt.Sprintf("%d/%d", min(run.CurrentStep+1, len(run.Steps)), len(run.Steps)),
				run.UpdatedAt.Local().Format(time.DateTime),
			})
		}
		presenter.Table([]string{"ID", "SOP", "STATUS", "STEP", "UPDATED"}, rows)
	})
}

func sopActionCmd(ctx context.Context, action, id string, config *SOPActionConfig) {
	withRunner(ctx, func(ctx context.Context, runner *sop.Runner) {
		var run *sop.Run
		var err error
		switch action {
		case "approve":
			run, err = runner.Approve(ctx, id, config.By, config.Note)
		case "reject":
			run, err = runner.Reject(ctx, id, config.By, config.Note)
		case "cancel":
			run, err = runner.Cancel(ctx, id, config.By, config.Note)
		case "retry":
			run, err = runner.Retry(ctx, id, config.By)
		}
		if err != nil {
			fail(err, "failed to "+action+" run")
		}
		printRun(run, config.JSON)
	})
}

func printRun(run *sop.Run, asJSON bool) {
	if asJSON {
		printJSON(run)
		return
	}

	presenter.Section(fmt.Sprintf("%s  %s", run.SOP, run.ID))
	fmt.Printf("Status: %s\n", presenter.Badge(string(run.Status)))

	rows := make([][]string, 0, len(run.Steps))
	for i, step := range run.Steps {
		detail := step.Error
		if detail == "" {
			detail = firstLine(step.Output)
		}
		if step.ApprovedBy != "" {
			detail = strings.TrimSpace("approved by " + step.ApprovedBy + " " + detail)
		}
		rows = append(rows, []string{
			strconv.Itoa(i + 1),
			run.Definition.Steps[i].DisplayName(),
			presenter.Badge(string(step.Status)),
			step.Risk,
			detail,
		})
	}
	presenter.Table([]string{"#", "STEP", "STATUS", "RISK", "DETAIL"}, rows)

	if run.Status == sop.StatusAwaitingApproval {
		presenter.Warning(fmt.Sprintf("waiting for approval: skillbox sop approve %s --note <reason>", run.ID))
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	if len(line) > 80 {
		return line[:77] + "..."
	}
	return line
}
