package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	smtpmock "github.com/mocktools/go-smtp-mock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bravo1goingdark/mailpool/logger"
)

func startMockServer(t *testing.T) *smtpmock.Server {
	t.Helper()
	server := smtpmock.New(smtpmock.ConfigurationAttr{})
	require.NoError(t, server.Start())
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func writeConfig(t *testing.T, port int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "smtp.json")
	content := fmt.Sprintf(`{"host": "127.0.0.1", "port": %d, "max_connections": 1}`, port)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunnerDirectSend(t *testing.T) {
	server := startMockServer(t)
	runner := NewRunner(logger.Nop())

	args := Args{
		ConfigPath: writeConfig(t, server.PortNumber()),
		To:         "rcpt@example.com",
		From:       "sender@example.com",
		Subject:    "cli test",
		Text:       "hello from the runner",
	}
	require.NoError(t, runner.Run(context.Background(), args))

	messages := server.Messages()
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0].MsgRequest(), "hello from the runner")
	assert.Contains(t, messages[0].MsgRequest(), "Subject: cli test")
}

func TestRunnerVerify(t *testing.T) {
	server := startMockServer(t)
	runner := NewRunner(logger.Nop())

	args := Args{
		ConfigPath: writeConfig(t, server.PortNumber()),
		Verify:     true,
	}
	require.NoError(t, runner.Run(context.Background(), args))
	assert.Empty(t, server.Messages())
}

func TestRunnerRequiresTarget(t *testing.T) {
	runner := NewRunner(logger.Nop())
	err := runner.Run(context.Background(), Args{})
	assert.Error(t, err, "missing --config and --url must fail")

	server := startMockServer(t)
	err = runner.Run(context.Background(), Args{ConfigPath: writeConfig(t, server.PortNumber())})
	assert.Error(t, err, "missing --to/--from must fail")
}

func TestRunnerScheduledSend(t *testing.T) {
	server := startMockServer(t)
	runner := NewRunner(logger.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	args := Args{
		ConfigPath: writeConfig(t, server.PortNumber()),
		To:         "rcpt@example.com",
		From:       "sender@example.com",
		Subject:    "scheduled",
		Text:       "later",
		ScheduleAt: time.Now().Add(300 * time.Millisecond).Format(time.RFC3339),
		JobsDB:     filepath.Join(t.TempDir(), "jobs.db"),
	}

	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx, args) }()

	require.Eventually(t, func() bool { return len(server.Messages()) == 1 },
		4*time.Second, 100*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Contains(t, server.Messages()[0].MsgRequest(), "Subject: scheduled")
}

func TestRunnerListEmptyJobs(t *testing.T) {
	server := startMockServer(t)
	runner := NewRunner(logger.Nop())

	args := Args{
		ConfigPath: writeConfig(t, server.PortNumber()),
		ListJobs:   true,
		JobsDB:     filepath.Join(t.TempDir(), "jobs.db"),
	}
	require.NoError(t, runner.Run(context.Background(), args))
}
