// Package cli wires the pool, scheduler and config packages into the
// mailpool command.
package cli

import (
	"os"

	"github.com/spf13/pflag"
)

// Args holds all configurable options passed via the command line. It is
// populated once in ParseFlags() and then passed around the app.
type Args struct {
	ConfigPath string // Path to an SMTP options JSON file
	URL        string // Connection URL (alternative to --config)

	To      string // Recipient address
	From    string // Sender address
	Subject string // Subject line
	Text    string // Plain-text body

	Verify bool // Probe connection and credentials, send nothing

	// Scheduling options
	ScheduleAt  string // RFC3339 timestamp for one-time job
	Interval    string // Go duration (e.g. "10s", "5m", "24h")
	CronExpr    string // Cron expression for recurring sends
	CancelJobID string // Cancel a scheduled job by ID
	ListJobs    bool   // List scheduled jobs
	JobsDB      string // Path to the scheduler database

	Debug bool // Log SMTP wire traffic
}

// ParseFlags reads command-line flags into Args using spf13/pflag.
func ParseFlags() (Args, error) {
	return ParseFlagSet(pflag.CommandLine, os.Args[1:])
}

// ParseFlagSet parses argv into Args on the given flag set.
func ParseFlagSet(fs *pflag.FlagSet, argv []string) (Args, error) {
	var args Args

	fs.StringVar(&args.ConfigPath, "config", "", "Path to SMTP options JSON")
	fs.StringVar(&args.URL, "url", "", "Connection URL (smtp:// or smtps://), replaces --config")
	fs.StringVar(&args.To, "to", "", "Recipient email address")
	fs.StringVar(&args.From, "from", "", "Sender email address")
	fs.StringVarP(&args.Subject, "subject", "s", "Test Email from Mailpool", "Email subject")
	fs.StringVar(&args.Text, "text", "", "Inline plain-text body")
	fs.BoolVar(&args.Verify, "verify", false, "Verify connection and credentials without sending")

	fs.StringVar(&args.ScheduleAt, "at", "", "Schedule send time (RFC3339 format: 2025-09-10T10:30:00Z)")
	fs.StringVar(&args.Interval, "every", "", "Interval for repeated sends (Go duration: '10s', '5m', '24h')")
	fs.StringVar(&args.CronExpr, "cron", "", "Cron expression for recurring sends (e.g. '0 9 * * MON')")
	fs.StringVar(&args.CancelJobID, "cancel", "", "Cancel a scheduled job by its ID")
	fs.BoolVar(&args.ListJobs, "list", false, "List all scheduled jobs")
	fs.StringVar(&args.JobsDB, "jobs-db", "mailpool.db", "Path to the scheduler job database")

	fs.BoolVar(&args.Debug, "debug", false, "Log SMTP wire traffic")

	if err := fs.Parse(argv); err != nil {
		return Args{}, err
	}
	return args, nil
}
