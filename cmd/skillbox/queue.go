package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/queue"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "A persistent FIFO work queue",
	Long: `A persistent FIFO work queue stored in the local database. Items move from
queued to claimed, then to done or failed. Claiming is atomic, so several
workers can drain one topic.

Examples:
  skillbox queue push emails '{"to":"bob@example.com"}'
  id=$(skillbox queue claim emails --json | jq -r .id)
  skillbox queue done $id`,
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var queuePushCmd = &cobra.Command{
	Use:   "push <topic> [payload...]",
	Short: "Add an item; the payload is read from stdin when not given",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		payload := mustReadText(args[1:])
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			item, err := q.Push(ctx, args[0], payload)
			if err != nil {
				fail(err, "failed to push")
			}
			printQueueItem(cmd, item, "queued "+item.ID)
		})
	},
}

var queueClaimCmd = &cobra.Command{
	Use:   "claim <topic>",
	Short: "Claim the oldest queued item; exits 1 when the topic is empty",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var empty bool
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			item, err := q.Claim(ctx, args[0])
			if errors.Is(err, queue.ErrEmpty) {
				presenter.Warning(fmt.Sprintf("topic %s is empty", args[0]))
				empty = true
				return
			}
			if err != nil {
				fail(err, "failed to claim")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(item)
				return
			}
			fmt.Println(item.ID)
			fmt.Println(item.Payload)
		})
		if empty {
			exit(exitFailure)
		}
	},
}

var queueDoneCmd = &cobra.Command{
	Use:   "done <id>",
	Short: "Mark a claimed item done",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			item, err := q.Complete(ctx, args[0])
			if err != nil {
				fail(err, "failed to complete item")
			}
			printQueueItem(cmd, item, "done "+item.ID)
		})
	},
}

var queueFailCmd = &cobra.Command{
	Use:   "fail <id> [reason...]",
	Short: "Mark a claimed item failed",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		reason := ""
		if len(args) > 1 {
			reason, _ = readInput(args[1:])
		}
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			item, err := q.Fail(ctx, args[0], reason)
			if err != nil {
				fail(err, "failed to fail item")
			}
			printQueueItem(cmd, item, "failed "+item.ID)
		})
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue <id>",
	Short: "Put a claimed or failed item back in the queue",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			item, err := q.Requeue(ctx, args[0])
			if err != nil {
				fail(err, "failed to requeue item")
			}
			printQueueItem(cmd, item, "requeued "+item.ID)
		})
	},
}

var queueLsCmd = &cobra.Command{
	Use:   "ls [topic]",
	Short: "List items",
	Args:  cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		topic := ""
		if len(args) == 1 {
			topic = args[0]
		}
		status, _ := cmd.Flags().GetString("status")
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			items, err := q.List(ctx, topic, status)
			if err != nil {
				fail(err, "failed to list items")
			}
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				printJSON(items)
				return
			}
			if len(items) == 0 {
				presenter.Info("No items")
				return
			}
			rows := make([][]string, 0, len(items))
			for _, it := range items {
				rows = append(rows, []string{it.ID, it.Topic, presenter.Badge(it.Status), strconv.Itoa(it.Attempts), humanize.Time(it.UpdatedAt), firstLine(it.Payload)})
			}
			presenter.Table([]string{"ID", "TOPIC", "STATUS", "ATTEMPTS", "UPDATED", "PAYLOAD"}, rows)
		})
	},
}

var queuePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete finished items older than --older-than",
	Run: func(cmd *cobra.Command, _ []string) {
		olderThan, _ := cmd.Flags().GetDuration("older-than")
		withQueue(cmd, func(ctx context.Context, q *queue.Queue) {
			n, err := q.Purge(ctx, time.Now().Add(-olderThan))
			if err != nil {
				fail(err, "failed to purge")
			}
			presenter.Success(fmt.Sprintf("purged %d item(s)", n))
		})
	},
}

func init() {
	queueCmd.PersistentFlags().Bool("json", false, "Output as JSON")
	queueLsCmd.Flags().String("status", "", "Only items in this status")
	queuePurgeCmd.Flags().Duration("older-than", 7*24*time.Hour, "Age of done and failed items to delete")

	queueCmd.AddCommand(queuePushCmd)
	queueCmd.AddCommand(queueClaimCmd)
	queueCmd.AddCommand(queueDoneCmd)
	queueCmd.AddCommand(queueFailCmd)
	queueCmd.AddCommand(queueRequeueCmd)
	queueCmd.AddCommand(queueLsCmd)
	queueCmd.AddCommand(queuePurgeCmd)
	rootCmd.AddCommand(queueCmd)
}

func withQueue(cmd *cobra.Command, fn func(context.Context, *queue.Queue)) {
	ctx := cmd.Context()
	db := openStorage(ctx, loadConfig())
	defer db.Close()
	fn(ctx, queue.New(db))
}

func printQueueItem(cmd *cobra.Command, item *queue.Item, msg string) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		printJSON(item)
		return
	}
	presenter.Success(msg)
}
