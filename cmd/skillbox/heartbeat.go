package main

import (
	"context"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/heartbeat"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var heartbeatCmd = &cobra.Command{
	Use:   "heartbeat",
	Short: "Record and check liveness of long-running jobs",
	Long: `Record and check liveness of long-running jobs. A heartbeat is alive until
--stale-after without a beat, stale until --dead-after, and dead after that or
as soon as its recorded process has exited.

Examples:
  while true; do skillbox heartbeat beat worker --pid $$; sleep 30; done
  skillbox heartbeat check worker || alert "worker is down"`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var heartbeatBeatCmd = &cobra.Command{
	Use:   "beat <name>",
	Short: "Record a beat",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		pid, _ := cmd.Flags().GetInt32("pid")
		note, _ := cmd.Flags().GetString("note")
		withMonitor(cmd, func(ctx context.Context, m *heartbeat.Monitor) {
			hb, err := m.Beat(ctx, args[0], pid, note)
			if err != nil {
				fail(err, "failed to record beat")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(hb)
			}
		})
	},
}

var heartbeatCheckCmd = &cobra.Command{
	Use:   "check <name>",
	Short: "Report a heartbeat's status; exits 1 unless it is alive",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var alive bool
		withMonitor(cmd, func(ctx context.Context, m *heartbeat.Monitor) {
			r, err := m.Check(ctx, args[0], time.Now())
			if err != nil {
				fail(err, "failed to check heartbeat")
			}
			alive = r.Status == heartbeat.StatusAlive
			printHeartbeats(cmd, []heartbeat.Report{*r})
		})
		if !alive {
			exit(exitFailure)
		}
	},
}

var heartbeatLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List heartbeats",
	Run: func(cmd *cobra.Command, _ []string) {
		withMonitor(cmd, func(ctx context.Context, m *heartbeat.Monitor) {
			reports, err := m.List(ctx, time.Now())
			if err != nil {
				fail(err, "failed to list heartbeats")
			}
			if len(reports) == 0 {
				if asJSON, _ := cmd.Flags().GetBool("json"); !asJSON {
					presenter.Info("No heartbeats")
					return
				}
			}
			printHeartbeats(cmd, reports)
		})
	},
}

var heartbeatRmCmd = &cobra.Command{
	Use:   "rm <name>",
	Short: "Forget a heartbeat",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withMonitor(cmd, func(ctx context.Context, m *heartbeat.Monitor) {
			if err := m.Remove(ctx, args[0]); err != nil {
				fail(err, "failed to remove heartbeat")
			}
			presenter.Success("removed " + args[0])
		})
	},
}

func init() {
	heartbeatCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	heartbeatCmd.PersistentFlags().Duration("stale-after", heartbeat.DefaultStaleAfter, "Age after which a heartbeat is stale")
	heartbeatCmd.PersistentFlags().Duration("dead-after", heartbeat.DefaultDeadAfter, "Age after which a heartbeat is dead")
	heartbeatBeatCmd.Flags().Int32("pid", 0, "Process to watch; its exit marks the heartbeat dead")
	heartbeatBeatCmd.Flags().String("note", "", "Free-form status note")

	heartbeatCmd.AddCommand(heartbeatBeatCmd)
	heartbeatCmd.AddCommand(heartbeatCheckCmd)
	heartbeatCmd.AddCommand(heartbeatLsCmd)
	heartbeatCmd.AddCommand(heartbeatRmCmd)
	rootCmd.AddCommand(heartbeatCmd)
}

func withMonitor(cmd *cobra.Command, fn func(context.Context, *heartbeat.Monitor)) {
	ctx := cmd.Context()
	stale, _ := cmd.Flags().GetDuration("stale-after")
	dead, _ := cmd.Flags().GetDuration("dead-after")
	if dead <= stale {
		usageError(errors.New("--dead-after must be longer than --stale-after"), "invalid thresholds")
	}
	db := openStorage(ctx, loadConfig())
	defer db.Close()
	fn(ctx, heartbeat.New(db, heartbeat.WithThresholds(stale, dead)))
}

func printHeartbeats(cmd *cobra.Command, reports []heartbeat.Report) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		printJSON(reports)
		return
	}
	rows := make([][]string, 0, len(reports))
	for _, r := range reports {
		pid := "-"
		if r.PID > 0 {
			pid = strconv.Itoa(int(r.PID))
		}
		detail := r.Note
		if r.Reason != "" {
			detail = r.Reason
		}
		rows = append(rows, []string{r.Name, presenter.Badge(string(r.Status)), r.Age.Round(time.Second).String(), pid, strconv.FormatInt(r.Beats, 10), detail})
	}
	presenter.Table([]string{"NAME", "STATUS", "AGE", "PID", "BEATS", "NOTE"}, rows)
}
