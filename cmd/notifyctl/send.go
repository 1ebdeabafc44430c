package main

import (
	"fmt"

	"github.com/lithammer/dedent"
	"github.com/spf13/cobra"

	"gogetit/internal/application/orchestrators"
)

var sendExample = dedent.Dedent(`
	# Send the diagnostic email to ALERT_TO_EMAIL
	notifyctl send

	# Send a custom message to another inbox
	notifyctl send --subject "Deploy finished" --body "v1.4 is live" --to ops@example.com`,
)

func newSendCmd(a *app) *cobra.Command {
	var cmdArgs orchestrators.SendNotificationCommand

	cmd := &cobra.Command{
		Use:     "send",
		Short:   "Send one notification and report the outcome",
		Long:    "Sends a single email through the configured provider. Nothing is queued on failure.",
		Example: sendExample,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := orchestrators.ExecuteEmailTest(cmd.Context(), cmdArgs,
				orchestrators.EmailTestDeps{Sender: a.notificationSender()})
			switch {
			case out.IsSent():
				green.Fprintln(a.out, "Sent")
			case out.IsSkipped():
				yellow.Fprintln(a.out, "Skipped: "+out.Reason)
			default:
				return fmt.Errorf("send failed: %w", out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&cmdArgs.Subject, "subject", "s", "", "Subject (defaults to the diagnostic subject)")
	cmd.Flags().StringVarP(&cmdArgs.Body, "body", "b", "", "Plain-text body (defaults to the diagnostic body)")
	cmd.Flags().StringVarP(&cmdArgs.To, "to", "t", "", "Recipient (defaults to ALERT_TO_EMAIL)")
	return cmd
}
