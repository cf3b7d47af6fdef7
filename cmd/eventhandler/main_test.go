package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/version"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestHandleRunsCommand(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OMD_ROOT", root)
	marker := filepath.Join(root, "restarted")

	_, err := run(t,
		"--runner", "command", "--runner-tag", "restart",
		"--runneropt", "command=echo {{ .Event.SERVICEDESC }} > "+marker,
		"--decider", "hardstate",
		"--eventopt", "HOSTNAME=web01", "--eventopt", "SERVICEDESC=nginx",
		"--eventopt", "SERVICESTATE=CRITICAL", "--eventopt", "SERVICESTATETYPE=HARD",
	)
	require.NoError(t, err)

	b, err := os.ReadFile(marker)
	require.NoError(t, err)
	assert.Equal(t, "nginx\n", string(b))

	logFile, err := os.ReadFile(filepath.Join(root, "var", "log", "eventhandler_command_restart.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logFile), `"runner":"command_restart"`)
}

func TestHandleSoftStateIsDiscarded(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OMD_ROOT", root)
	marker := filepath.Join(root, "never")

	_, err := run(t,
		"--runner", "command", "--runneropt", "command=touch "+marker,
		"--decider", "hardstate",
		"--eventopt", "HOSTNAME=web01", "--eventopt", "HOSTSTATE=DOWN", "--eventopt", "HOSTSTATETYPE=SOFT",
	)
	require.NoError(t, err)
	_, err = os.Stat(marker)
	assert.True(t, os.IsNotExist(err))
}

func TestHandleFailingCommand(t *testing.T) {
	t.Setenv("OMD_ROOT", t.TempDir())
	_, err := run(t,
		"--runner", "command", "--runneropt", "command=exit 4",
		"--eventopt", "HOSTNAME=web01", "--eventopt", "HOSTSTATE=DOWN",
	)
	require.Error(t, err)
	assert.Equal(t, exitFailed, exitCode(err))
}

func TestHandleUsageErrors(t *testing.T) {
	t.Setenv("OMD_ROOT", t.TempDir())
	tests := map[string][]string{
		"no runner":      {"--eventopt", "HOSTNAME=web01"},
		"unknown runner": {"--runner", "teleport", "--eventopt", "HOSTNAME=web01"},
		"bad decider":    {"--runner", "command", "--runneropt", "command=true", "--decider", "coinflip"},
		"bad runneropt":  {"--runner", "command", "--runneropt", "command"},
		"missing option": {"--runner", "ssh", "--runneropt", "command=uptime"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err))
		})
	}
}

func TestVersionFlag(t *testing.T) {
	out, err := run(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, strings.TrimSpace(out), version.Version)
}
