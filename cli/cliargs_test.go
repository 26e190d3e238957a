package cli

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, argv ...string) Args {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	args, err := ParseFlagSet(fs, argv)
	require.NoError(t, err)
	return args
}

func TestParseFlagDefaults(t *testing.T) {
	args := parse(t)
	assert.Equal(t, "Test Email from Mailpool", args.Subject)
	assert.Equal(t, "mailpool.db", args.JobsDB)
	assert.False(t, args.Verify)
	assert.False(t, args.Debug)
}

func TestParseFlagSend(t *testing.T) {
	args := parse(t,
		"--config", "smtp.json",
		"--to", "rcpt@example.com",
		"--from", "sender@example.com",
		"-s", "hello",
		"--text", "body",
		"--debug",
	)
	assert.Equal(t, "smtp.json", args.ConfigPath)
	assert.Equal(t, "rcpt@example.com", args.To)
	assert.Equal(t, "sender@example.com", args.From)
	assert.Equal(t, "hello", args.Subject)
	assert.Equal(t, "body", args.Text)
	assert.True(t, args.Debug)
}

func TestParseFlagScheduling(t *testing.T) {
	args := parse(t,
		"--url", "smtp://localhost:2525",
		"--every", "10m",
		"--jobs-db", "/tmp/jobs.db",
	)
	assert.Equal(t, "smtp://localhost:2525", args.URL)
	assert.Equal(t, "10m", args.Interval)
	assert.Equal(t, "/tmp/jobs.db", args.JobsDB)
}

func TestParseFlagUnknown(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	_, err := ParseFlagSet(fs, []string{"--bogus"})
	assert.Error(t, err)
}
