package command

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
)

func newEvent() *event.FormattedEvent {
	ev := event.NewFormatted(event.Raw{"HOSTNAME": "web 01"})
	ev.Payload = "payload-body"
	ev.Summary = "web 01 down"
	return ev
}

func TestSubmitRunsWithoutShell(t *testing.T) {
	t.Parallel()
	out := filepath.Join(t.TempDir(), "out")
	f, err := New(forwarder.Deps{Options: options.Options{
		"command": `tee '` + out + `'`,
	}})
	require.NoError(t, err)
	require.NoError(t, f.Submit(context.Background(), newEvent()))

	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "payload-body", string(b))
	assert.True(t, f.(forwarder.SummaryLogger).LogsOwnSummary())
}

func TestSubmitTemplateArgs(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	f, err := New(forwarder.Deps{Options: options.Options{
		"command": `touch "` + dir + `/{{ .Event.HOSTNAME }}"`,
	}})
	require.NoError(t, err)
	require.NoError(t, f.Submit(context.Background(), newEvent()))
	_, err = os.Stat(filepath.Join(dir, "web 01"))
	require.NoError(t, err)
}

func TestSubmitNonZeroExit(t *testing.T) {
	t.Parallel()
	f, err := New(forwarder.Deps{Options: options.Options{"command": "false"}})
	require.NoError(t, err)
	require.Error(t, f.Submit(context.Background(), newEvent()))
}

func TestSubmitTimeout(t *testing.T) {
	t.Parallel()
	f, err := New(forwarder.Deps{Options: options.Options{"command": "sleep 5", "timeout": "100ms"}})
	require.NoError(t, err)
	start := time.Now()
	require.Error(t, f.Submit(context.Background(), newEvent()))
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()
	_, err := New(forwarder.Deps{Options: options.Options{}})
	require.ErrorIs(t, err, options.ErrMissing)
	_, err = New(forwarder.Deps{Options: options.Options{"command": "{{ .Broken"}})
	require.Error(t, err)
}

func TestSubmitKeepsEventTextInOneArgument(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	ev := newEvent()
	ev.Summary = `PROBLEM web01/http CRITICAL: can't connect "now"`
	ev.EventOpts()["SERVICEOUTPUT"] = "a b -rf c"

	f, err := New(forwarder.Deps{Options: options.Options{
		"command": `/bin/sh -c 'printf "%s|" "$@" > "$0"' '` + dir + `/out' '{{ .Summary }}' {{ .Event.SERVICEOUTPUT }}`,
	}})
	require.NoError(t, err)
	require.NoError(t, f.Submit(context.Background(), ev))

	b, err := os.ReadFile(filepath.Join(dir, "out"))
	require.NoError(t, err)
	assert.Equal(t, `PROBLEM web01/http CRITICAL: can't connect "now"|a b -rf c|`, string(b))
}
