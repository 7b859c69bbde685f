package main

import (
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillbox/pkg/email"
	"github.com/jingkaihe/skillbox/pkg/presenter"
)

var emailCmd = &cobra.Command{
	Use:   "email",
	Short: "Send email over SMTP",
	Run: func(cmd *cobra.Command, _ []string) {
		cmd.Help()
	},
}

var emailSendCmd = &cobra.Command{
	Use:   "send <to> <subject> [body...]",
	Short: "Send a plain text email",
	Long: `Send a plain text email through the configured SMTP server (Gmail by default).
The body is read from stdin when it is not given as arguments.

Examples:
  skillbox email send bob@example.com "Build finished" "All green."
  git log -5 | skillbox email send team@example.com "Recent commits"`,
	Args: cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		ctx := cmd.Context()
		body := mustReadText(args[2:])

		cfg := loadConfig()
		cfg.Email.Password = resolveSecret(ctx, cfg, cfg.Email.Password, "email")
		sender, err := email.NewSender(cfg.Email)
		if err != nil {
			if exitCodeFor(err) == exitUsage {
				usageError(err, "email is not configured")
			}
			fail(err, "failed to create sender")
		}
		if err := sender.Send(ctx, args[0], args[1], body); err != nil {
			fail(err, "failed to send email")
		}
		presenter.Success("sent to " + args[0])
	},
}

func init() {
	emailCmd.AddCommand(emailSendCmd)
	rootCmd.AddCommand(emailCmd)
}
