package main

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/scheduler"
	"github.com/jingkaihe/skillbox/pkg/sop"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Schedule shell commands with cron expressions or one-off times",
	Long: `Schedule shell commands with five-field cron expressions or one-off times.
Nothing runs in the background: "schedule run-due" executes the jobs that are
due, so call it from cron or a systemd timer. Every run is risk-classified and
critical commands are refused.`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <name> <command>",
	Short: "Add a job",
	Long: `Add a job. --at accepts RFC3339, "2006-01-02 15:04", "15:04" (today or
tomorrow) or a duration such as 30m.

Examples:
  skillbox schedule add backup "tar czf /tmp/home.tgz ~/notes" --cron "0 3 * * *"
  skillbox schedule add remind "notify-send standup" --at 09:55`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cronExpr, _ := cmd.Flags().GetString("cron")
		at, _ := cmd.Flags().GetString("at")
		job := &scheduler.Job{Name: args[0], Command: args[1], Cron: cronExpr}
		if at != "" {
			if cronExpr != "" {
				usageError(errors.New("--cron and --at are mutually exclusive"), "invalid schedule")
			}
			runAt, err := scheduler.ParseAt(at, time.Now())
			if err != nil {
				usageError(err, "invalid --at")
			}
			job.RunAt = &runAt
		}

		withScheduler(cmd, func(ctx context.Context, s *scheduler.Scheduler) {
			added, err := s.Add(ctx, job)
			if err != nil {
				fail(err, "failed to add job")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(added)
				return
			}
			presenter.Success(fmt.Sprintf("scheduled %s, next run %s", added.Name, formatTime(added.NextRun)))
		})
	},
}

var scheduleLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List jobs",
	Run: func(cmd *cobra.Command, _ []string) {
		withScheduler(cmd, func(ctx context.Context, s *scheduler.Scheduler) {
			jobs, err := s.List(ctx)
			if err != nil {
				fail(err, "failed to list jobs")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(jobs)
				return
			}
			if len(jobs) == 0 {
				presenter.Info("No scheduled jobs")
				return
			}
			rows := make([][]string, 0, len(jobs))
			for _, j := range jobs {
				when := j.Cron
				if when == "" {
					when = "at " + formatTime(j.RunAt)
				}
				enabled := "yes"
				if !j.Enabled {
					enabled = "no"
				}
				rows = append(rows, []string{j.Name, when, formatTime(j.NextRun), formatTime(j.LastRun), presenter.Badge(j.LastStatus), enabled, firstLine(j.Command)})
			}
			presenter.Table([]string{"NAME", "SCHEDULE", "NEXT", "LAST", "STATUS", "ENABLED", "COMMAND"}, rows)
		})
	},
}

var scheduleRmCmd = &cobra.Command{
	Use:   "rm <name|id>",
	Short: "Remove a job",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withScheduler(cmd, func(ctx context.Context, s *scheduler.Scheduler) {
			if err := s.Remove(ctx, args[0]); err != nil {
				fail(err, "failed to remove job")
			}
			presenter.Success("removed " + args[0])
		})
	},
}

var scheduleRunDueCmd = &cobra.Command{
	Use:   "run-due",
	Short: "Run every job that is due now",
	Run: func(cmd *cobra.Command, _ []string) {
		var failed bool
		withScheduler(cmd, func(ctx context.Context, s *scheduler.Scheduler) {
			exec := sop.NewShellExecutor()
			exec.HTTPClient = newHTTPClient(loadConfig()).HTTP

			results, err := s.RunDue(ctx, time.Now(), exec)
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				if results == nil {
					results = []scheduler.RunResult{}
				}
				printJSON(results)
			} else if len(results) == 0 {
				presenter.Info("No jobs due")
			} else {
				rows := make([][]string, 0, len(results))
				for _, r := range results {
					detail := r.Error
					if detail == "" {
						detail = firstLine(r.Output)
					}
					rows = append(rows, []string{r.Job, presenter.Badge(r.Status), presenter.Badge(string(r.Risk)), detail})
				}
				presenter.Table([]string{"JOB", "STATUS", "RISK", "DETAIL"}, rows)
			}
			if err != nil {
				fail(err, "failed to run due jobs")
			}
			for _, r := range results {
				failed = failed || r.Status != scheduler.StatusOK
			}
		})
		if failed {
			exit(exitFailure)
		}
	},
}

func newScheduleToggleCmd(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <name|id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			withScheduler(cmd, func(ctx context.Context, s *scheduler.Scheduler) {
				job, err := s.SetEnabled(ctx, args[0], enabled)
				if err != nil {
					fail(err, "failed to update job")
				}
				presenter.Success(fmt.Sprintf("%s %sd, next run %s", job.Name, use, formatTime(job.NextRun)))
			})
		},
	}
}

func init() {
	scheduleCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	scheduleAddCmd.Flags().String("cron", "", "Five-field cron expression")
	scheduleAddCmd.Flags().String("at", "", "One-off run time")

	scheduleCmd.AddCommand(scheduleAddCmd)
	scheduleCmd.AddCommand(scheduleLsCmd)
	scheduleCmd.AddCommand(scheduleRmCmd)
	scheduleCmd.AddCommand(scheduleRunDueCmd)
	scheduleCmd.AddCommand(newScheduleToggleCmd("enable", "Enable a job", true))
	scheduleCmd.AddCommand(newScheduleToggleCmd("disable", "Disable a job", false))
	rootCmd.AddCommand(scheduleCmd)
}

func withScheduler(cmd *cobra.Command, fn func(context.Context, *scheduler.Scheduler)) {
	ctx := cmd.Context()
	cfg := loadConfig()
	db := openStorage(ctx, cfg)
	defer db.Close()
	fn(ctx, scheduler.New(db, scheduler.WithClassifier(newClassifier(cfg))))
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
