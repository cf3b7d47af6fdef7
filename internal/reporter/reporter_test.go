package reporter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/omd"
	"notificationforwarder/internal/options"
)

func TestNaemonWritesCheckResult(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	env := omd.Env{Root: root, Site: "demo"}
	pipe := env.CommandPipe()
	require.NoError(t, os.MkdirAll(filepath.Dir(pipe), 0o755))
	require.NoError(t, os.WriteFile(pipe, nil, 0o644))

	r, err := New("naemon", Deps{Runner: "webhook", Env: env, Options: options.Options{"host_name": "demo-site"}})
	require.NoError(t, err)

	at := time.Unix(1700000000, 0)
	require.NoError(t, r.Report(context.Background(), Report{
		Runner: "webhook", Outcome: OutcomeSpooled, Summary: "web01\ndown", Error: "timeout", Spooled: 3, At: at,
	}))

	b, err := os.ReadFile(pipe)
	require.NoError(t, err)
	assert.Equal(t,
		"[1700000000] PROCESS_SERVICE_CHECK_RESULT;demo-site;notificationforwarder webhook;1;SPOOLED: web01 down (timeout)|spooled=3\n",
		string(b))
}

func TestNaemonNeedsHost(t *testing.T) {
	t.Parallel()
	_, err := New("naemon", Deps{Runner: "x"})
	require.ErrorIs(t, err, options.ErrMissing)
}

func TestNaemonMissingPipe(t *testing.T) {
	t.Parallel()
	r, err := New("naemon", Deps{Runner: "x", Options: options.Options{
		"host_name": "h", "command_file": filepath.Join(t.TempDir(), "nope", "naemon.cmd"),
	}})
	require.NoError(t, err)
	assert.Error(t, r.Report(context.Background(), Report{Outcome: OutcomeFailed}))
}

func TestTextfileReporter(t *testing.T) {
	t.Parallel()
	m := metrics.New(false)
	path := filepath.Join(t.TempDir(), "nf.prom")
	r, err := New("textfile", Deps{Runner: "webhook", Metrics: m, Options: options.Options{"path": path}})
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), Report{Runner: "webhook", Outcome: OutcomeForwarded, Spooled: 2}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `notificationforwarder_spool_depth{runner="webhook"} 2`)

	_, err = New("textfile", Deps{Runner: "webhook"})
	assert.Error(t, err)
}

func TestDefaultAndUnknown(t *testing.T) {
	t.Parallel()
	r, err := New("", Deps{})
	require.NoError(t, err)
	require.NoError(t, r.Report(context.Background(), Report{Outcome: OutcomeForwarded}))

	_, err = New("carrier", Deps{})
	assert.ErrorIs(t, err, ErrUnknown)
	assert.Contains(t, Names(), "naemon")
}
