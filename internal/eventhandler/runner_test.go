package eventhandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
)

func TestSSHRunnerQuotesRemoteCommand(t *testing.T) {
	t.Parallel()
	opts := options.Options{
		"host":          "web01.example.com",
		"user":          "nagios",
		"port":          "2222",
		"identity_file": "/omd/sites/demo/.ssh/id_ed25519",
		"command":       `sudo systemctl restart {{ .Event.SERVICEDESC }} # it's {{ .Event.SERVICESTATE }}`,
	}
	r, err := NewRunner("ssh", RunnerDeps{Options: opts})
	require.NoError(t, err)

	ev := event.NewDecided(problemEvent())
	got, err := r.Run(context.Background(), ev, opts)
	require.NoError(t, err)
	assert.Equal(t,
		`ssh -o BatchMode=yes -o ConnectTimeout=10 -p 2222 -i /omd/sites/demo/.ssh/id_ed25519 nagios@web01.example.com 'sudo systemctl restart http # it'"'"'s CRITICAL'`,
		got)
}

func TestSSHRunnerValidation(t *testing.T) {
	t.Parallel()
	_, err := NewRunner("ssh", RunnerDeps{Options: options.Options{"command": "uptime"}})
	require.ErrorIs(t, err, options.ErrMissing)

	_, err = NewRunner("ssh", RunnerDeps{Options: options.Options{"host": "h", "command": "uptime", "port": "ssh"}})
	require.Error(t, err)

	_, err = NewRunner("ssh", RunnerDeps{Options: options.Options{"host": "h", "command": "{{ .Broken"}})
	require.Error(t, err)

	opts := options.Options{"host": "h", "command": "{{ if false }}x{{ end }}"}
	r, err := NewRunner("ssh", RunnerDeps{Options: opts})
	require.NoError(t, err)
	got, err := r.Run(context.Background(), event.NewDecided(problemEvent()), opts)
	require.NoError(t, err)
	assert.Empty(t, got)
}
