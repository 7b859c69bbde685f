package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/presenter"
	"github.com/jingkaihe/skillbox/pkg/voicecall"
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Place and control voice calls",
	Long: `Place a text-to-speech voice call through the provider set in voice.provider
(mock, twilio or telnyx). The mock provider records calls locally.

Examples:
  skillbox call --to +15551234567 --message "The deploy finished"
  skillbox call status <id>
  skillbox call hangup <id>`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, _ []string) {
		req := voicecall.CallRequest{}
		req.To, _ = cmd.Flags().GetString("to")
		req.Message, _ = cmd.Flags().GetString("message")
		req.SSML, _ = cmd.Flags().GetString("ssml")
		req.WebhookURL, _ = cmd.Flags().GetString("webhook-url")
		if err := req.Validate(); err != nil {
			usageError(err, "invalid call request")
		}

		withVoiceProvider(cmd, func(ctx context.Context, p voicecall.Provider) {
			call, err := p.Initiate(ctx, req)
			if err != nil {
				fail(err, "failed to place call")
			}
			printCall(cmd, call)
		})
	},
}

var callStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "Show a call's status",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withVoiceProvider(cmd, func(ctx context.Context, p voicecall.Provider) {
			call, err := p.Status(ctx, args[0])
			if err != nil {
				fail(err, "failed to get call status")
			}
			printCall(cmd, call)
		})
	},
}

var callHangupCmd = &cobra.Command{
	Use:   "hangup <id>",
	Short: "End a call",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withVoiceProvider(cmd, func(ctx context.Context, p voicecall.Provider) {
			call, err := p.Hangup(ctx, args[0])
			if err != nil {
				fail(err, "failed to hang up")
			}
			printCall(cmd, call)
		})
	},
}

func init() {
	callCmd.Flags().String("to", "", "Number to call in E.164 format")
	callCmd.Flags().String("message", "", "Text to speak")
	callCmd.Flags().String("ssml", "", "SSML to speak instead of --message")
	callCmd.Flags().String("webhook-url", "", "URL for provider status callbacks")
	callCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	callCmd.AddCommand(callStatusCmd)
	callCmd.AddCommand(callHangupCmd)
	rootCmd.AddCommand(callCmd)
}

func withVoiceProvider(cmd *cobra.Command, fn func(context.Context, voicecall.Provider)) {
	ctx := cmd.Context()
	cfg := loadConfig()
	cfg.Twilio.AuthToken = resolveSecret(ctx, cfg, cfg.Twilio.AuthToken, "twilio")
	cfg.Telnyx.APIKey = resolveSecret(ctx, cfg, cfg.Telnyx.APIKey, "telnyx")

	db := openStorage(ctx, cfg)
	defer db.Close()

	p, err := voicecall.NewProvider(ctx, *cfg, db, newHTTPClient(cfg))
	if err != nil {
		usageError(err, "voice provider is not configured")
	}
	fn(ctx, p)
}

func printCall(cmd *cobra.Command, call *voicecall.Call) {
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		printJSON(call)
		return
	}
	rows := [][]string{
		{"id", call.ID},
		{"provider", call.Provider},
		{"to", call.To},
		{"from", call.From},
		{"status", presenter.Badge(call.Status)},
	}
	if call.Duration > 0 {
		rows = append(rows, []string{"duration", strconv.Itoa(call.Duration) + "s"})
	}
	if call.Message != "" {
		rows = append(rows, []string{"message", call.Message})
	}
	presenter.Table([]string{"FIELD", "VALUE"}, rows)
	if call.Status == voicecall.StatusQueued {
		fmt.Println("check progress with: skillbox call status " + call.ID)
	}
}
