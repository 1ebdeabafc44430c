package main

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/lithammer/dedent"
	"github.com/spf13/cobra"

	"gogetit/internal/application/orchestrators"
	domain "gogetit/internal/domain/outbox"
)

var outboxExample = dedent.Dedent(`
	# Show notifications that ran out of attempts
	notifyctl outbox list --status failed

	# Retry one now, ignoring backoff
	notifyctl outbox retry 0b6f8c1e-5d0c-4a59-9a57-3f6a1d2c7e11

	# Run one pass of the background retry worker
	notifyctl outbox process`,
)

func newOutboxCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "outbox",
		Short:   "Inspect and retry queued notifications",
		Example: outboxExample,
	}
	cmd.AddCommand(
		newOutboxListCmd(a),
		newOutboxRetryCmd(a),
		newOutboxAbandonCmd(a),
		newOutboxProcessCmd(a),
	)
	return cmd
}

func newOutboxListCmd(a *app) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List outbox entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := a.openOutbox()
			if err != nil {
				return err
			}
			defer db.Close()

			if status == "all" {
				status = ""
			}
			entries, err := store.ListByStatus(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			counts, err := store.CountByStatus(cmd.Context())
			if err != nil {
				return err
			}

			cyan.Fprintln(a.out, formatCounts(counts))
			if len(entries) == 0 {
				fmt.Fprintln(a.out, "No entries.")
				return nil
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tATTEMPTS\tCREATED\tSUBJECT\tLAST ERROR")
			for _, e := range entries {
				subject := ""
				if p, err := domain.DecodeNotification(e.Payload); err == nil {
					subject = p.Subject
				}
				fmt.Fprintf(tw, "%s\t%s\t%d/%d\t%s\t%s\t%s\n",
					e.ID, e.Status, e.Attempts, e.MaxAttempts,
					e.CreatedAt.Format("2006-01-02 15:04"), subject, truncate(e.ErrorMessage, 60))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", domain.StatusFailed, "pending, retrying, done, failed, abandoned or all")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum entries to show")
	return cmd
}

func newOutboxRetryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Retry one entry now; failed entries get a fresh set of attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := a.openOutbox()
			if err != nil {
				return err
			}
			defer db.Close()

			p := orchestrators.NewNotificationProcessor(store, a.notificationSender())
			entry, err := p.ProcessSingle(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if entry.Status == domain.StatusDone {
				green.Fprintf(a.out, "%s delivered\n", entry.ID)
				return nil
			}
			yellow.Fprintf(a.out, "%s still %s (%d/%d): %s\n",
				entry.ID, entry.Status, entry.Attempts, entry.MaxAttempts, entry.ErrorMessage)
			return nil
		},
	}
}

func newOutboxAbandonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "abandon <id>",
		Short: "Stop retrying an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := a.openOutbox()
			if err != nil {
				return err
			}
			defer db.Close()

			p := orchestrators.NewNotificationProcessor(store, nil)
			if err := p.AbandonEntry(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "%s abandoned\n", args[0])
			return nil
		},
	}
}

const processLong = "Attempts up to 10 due entries. Safe to run next to the server: each entry is\n" +
	"claimed before it is sent, and entries the server already claimed count as contended."

func newOutboxProcessCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Run one pass of the retry worker over due entries",
		Long:  processLong,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, db, err := a.openOutbox()
			if err != nil {
				return err
			}
			defer db.Close()

			p := orchestrators.NewNotificationProcessor(store, a.notificationSender())
			sum, err := p.ProcessPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "processed=%d succeeded=%d failed=%d deferred=%d contended=%d\n",
				sum.Processed, sum.Succeeded, sum.Failed, sum.Deferred, sum.Contended)
			return nil
		},
	}
}

// formatCounts renders status counts in a stable order, e.g. "done=3 failed=1".
func formatCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "outbox is empty"
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
