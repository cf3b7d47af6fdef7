package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/version"
)

func TestMain(m *testing.M) {
	registerForwarders()
	os.Exit(m.Run())
}

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

func hostDownArgs() []string {
	return []string{
		"--eventopt", "HOSTNAME=web01",
		"--eventopt", "HOSTSTATE=DOWN",
		"--eventopt", "HOSTOUTPUT=CRITICAL - 10.0.0.1: rta nan, lost 100%",
		"--eventopt", "NOTIFICATIONTYPE=PROBLEM",
	}
}

func TestForwardToFile(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OMD_ROOT", root)
	out := filepath.Join(root, "out.jsonl")

	args := append([]string{"--forwarder", "file", "--forwarderopt", "path=" + out}, hostDownArgs()...)
	_, err := run(t, args...)
	require.NoError(t, err)

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(b), "web01")
	assert.Contains(t, string(b), "lost 100%")

	logFile, err := os.ReadFile(filepath.Join(root, "var", "log", "notificationforwarder_file.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logFile), `"runner":"file"`)
}

func TestForwardSpoolsAndFlushFails(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OMD_ROOT", root)
	base := []string{"--forwarder", "webhook", "--forwarder-tag", "down",
		"--forwarderopt", "url=http://127.0.0.1:1/hook", "--forwarderopt", "timeout=2s"}

	_, err := run(t, append(base, hostDownArgs()...)...)
	require.NoError(t, err, "a spooled event is not a failure")

	out, err := run(t, append([]string{"spool", "--json"}, base...)...)
	require.NoError(t, err)
	var status struct {
		Runner  string `json:"runner"`
		Entries []struct {
			Summary string `json:"summary"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, "webhook_down", status.Runner)
	require.Len(t, status.Entries, 1)
	assert.Contains(t, status.Entries[0].Summary, "web01")

	out, err = run(t, append([]string{"flush"}, base...)...)
	require.Error(t, err)
	assert.Equal(t, exitFailed, exitCode(err))
	assert.Contains(t, out, "remaining=1")
}

func TestUsageErrors(t *testing.T) {
	t.Setenv("OMD_ROOT", t.TempDir())

	tests := map[string][]string{
		"no forwarder":     hostDownArgs(),
		"no event":         {"--forwarder", "file", "--forwarderopt", "path=/dev/null"},
		"bad eventopt":     {"--forwarder", "file", "--eventopt", "HOSTNAME"},
		"bad forwarderopt": append([]string{"--forwarder", "file", "--forwarderopt", "path"}, hostDownArgs()...),
		"unknown":          append([]string{"--forwarder", "carrier-pigeon"}, hostDownArgs()...),
		"missing config":   append([]string{"--forwarder", "file", "--config", "/nonexistent/nf.yaml"}, hostDownArgs()...),
		"unknown flag":     {"--forwarder", "file", "--frobnicate"},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := run(t, args...)
			require.Error(t, err)
			assert.Equal(t, exitUsage, exitCode(err))
		})
	}
}

func TestConfigSectionSuppliesOptions(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OMD_ROOT", root)
	out := filepath.Join(root, "audit.jsonl")
	cfgDir := filepath.Join(root, "etc", "notificationforwarder")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "notificationforwarder.yaml"), []byte(`
forwarders:
  - forwarder: file
    tag: audit
    options:
      path: `+out+`
`), 0o600))

	_, err := run(t, append([]string{"--forwarder", "file", "--forwarder-tag", "audit"}, hostDownArgs()...)...)
	require.NoError(t, err)
	_, err = os.Stat(out)
	require.NoError(t, err)
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "notificationforwarder "+version.Version, strings.TrimSpace(out))
}

func TestExitCode(t *testing.T) {
	t.Parallel()
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitUsage, exitCode(errors.New("cobra says no")))
	assert.Equal(t, exitFailed, exitCode(failedErr(errors.New("down"))))
	assert.Equal(t, exitUsage, exitCode(usageErr(errors.New("bad"))))
}
