package main

import (
	"database/sql"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"gogetit/internal/adapters/email"
	"gogetit/internal/adapters/storage"
	outboxStore "gogetit/internal/adapters/storage/outbox"
)

var (
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	green  = color.New(color.FgGreen)
	cyan   = color.New(color.FgCyan).Add(color.Bold)
)

// app holds what the commands share.
type app struct {
	out    io.Writer
	getenv func(string) string
	dbPath string
	sender email.Sender // nil means email.SelectSender
}

func newApp(out io.Writer, getenv func(string) string) *app {
	return &app{out: out, getenv: getenv}
}

func (a *app) notificationSender() email.Sender {
	if a.sender == nil {
		var provider string
		a.sender, provider = email.SelectSender(a.getenv)
		cyan.Fprintf(a.out, "Using %s sender\n", provider)
	}
	return a.sender
}

// openOutbox opens the database at dbPath and brings its schema up to date.
// POST: The caller closes the returned db
func (a *app) openOutbox() (*outboxStore.SQLiteStore, *sql.DB, error) {
	db, err := sql.Open("sqlite", a.dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, nil, fmt.Errorf("open %s: %w", a.dbPath, err)
	}
	if err := storage.InitDB(db); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate %s: %w", a.dbPath, err)
	}
	return outboxStore.NewSQLiteStore(storage.NewTimedDB(db)), db, nil
}

func newRootCmd(a *app) *cobra.Command {
	defaultDB := a.getenv("APP_DB_PATH")
	if defaultDB == "" {
		defaultDB = "gogetit.db"
	}

	root := &cobra.Command{
		Use:   "notifyctl",
		Short: "Send site notifications and manage the retry outbox",
		Long: `notifyctl talks to the same SMTP (or Resend) settings and outbox database
as the gogetit server. Use it to check delivery from a shell and to inspect,
retry or abandon notifications that failed when a form was submitted.

SMTP settings are read from SMTP_HOST, SMTP_PORT, SMTP_USER, SMTP_PASS,
ALERT_TO_EMAIL, FROM_EMAIL and REPLY_TO.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVar(&a.dbPath, "db", defaultDB, "Path to the sqlite database")

	root.AddCommand(newSendCmd(a), newOutboxCmd(a))
	return root
}
