package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/omd"
	logx "notificationforwarder/pkg/logx"
)

const sampleYAML = `
spool:
  driver: sqlite
  max_age: 10m
submit:
  timeout: 15s
  retry_max: 2
dedup:
  window: 1m
daemon:
  listen: 127.0.0.1:9115
  flush_schedule: "@every 30s"
forwarders:
  - forwarder: webhook
    tag: ops
    options:
      url: https://alerts.example.com/hook
      timeout: 5
      insecure: false
  - name: chat
    forwarder: telegram
    formatter: template
    formatter_options:
      payload_template: "{{ .HOSTNAME }}"
    options:
      chat_id: -100123
eventhandlers:
  - runner: ssh
    decider: hardstate
    options:
      host: db01
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Load(writeFile(t, "nf.yaml", sampleYAML), false)
	require.NoError(t, err)

	require.Len(t, cfg.Forwarders, 2)
	ops := cfg.Forwarders[0]
	assert.Equal(t, "webhook_ops", ops.Key())
	assert.Equal(t, "5", ops.Options["timeout"])
	assert.Equal(t, "false", ops.Options["insecure"])
	assert.Equal(t, "-100123", cfg.Forwarders[1].Options["chat_id"])

	f, ok := cfg.FindForwarder("webhook", "ops")
	require.True(t, ok)
	assert.Equal(t, "https://alerts.example.com/hook", f.Options["url"])
	f, ok = cfg.FindForwarder("chat", "")
	require.True(t, ok)
	assert.Equal(t, "telegram", f.Forwarder)
	_, ok = cfg.FindForwarder("webhook", "")
	assert.False(t, ok)

	e, ok := cfg.FindEventhandler("ssh", "")
	require.True(t, ok)
	assert.Equal(t, "hardstate", e.Decider)

	timeout, base, maxDelay, err := cfg.Submit.Durations()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, timeout)
	assert.Equal(t, 500*time.Millisecond, base)
	assert.Equal(t, 10*time.Second, maxDelay)
}

func TestLoadJSONStrict(t *testing.T) {
	t.Parallel()
	_, err := Load(writeFile(t, "nf.json", `{"spool":{"driver":"file"},"bogus":1}`), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")

	_, err = Load(writeFile(t, "nf.json", `{"spool":{}}{"x":1}`), false)
	require.Error(t, err)

	_, err = Load(writeFile(t, "nf.yaml", "forwarders:\n  - forwarder: webhook\n    options:\n      url: [a, b]\n"), false)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"bad duration":   "submit:\n  timeout: soon\n",
		"bad driver":     "spool:\n  driver: mongodb\n",
		"no forwarder":   "forwarders:\n  - tag: x\n",
		"duplicate name": "forwarders:\n  - forwarder: webhook\n  - forwarder: webhook\n",
		"no runner":      "eventhandlers:\n  - decider: default\n",
		"bad schedule":   "daemon:\n  flush_schedule: whenever\n",
		"bad cron":       "daemon:\n  flush_schedule: \"61 * * * *\"\n",
		"bad timezone":   "daemon:\n  timezone: Mars/Olympus\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Load(writeFile(t, "nf.yaml", content), false)
			require.Error(t, err)
		})
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	t.Parallel()
	missing := filepath.Join(t.TempDir(), "nope.yaml")
	cfg, err := Load(missing, true)
	require.NoError(t, err)
	assert.Empty(t, cfg.Forwarders)

	_, err = Load(missing, false)
	require.Error(t, err)

	cfg, err = Load(writeFile(t, "empty.yaml", ""), false)
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}

func TestDefaultPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "/omd/sites/demo/etc/notificationforwarder/notificationforwarder.yaml",
		DefaultPath(omd.Env{Root: "/omd/sites/demo"}))
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Forwarders: []ForwarderConfig{
		{Forwarder: "webhook", Options: StringMap{"url": "a"}},
		{Forwarder: "redis"},
	}}
	newCfg := &Config{
		Daemon: DaemonConfig{FlushSchedule: "@every 1m"},
		Forwarders: []ForwarderConfig{
			{Forwarder: "webhook", Options: StringMap{"url": "b"}},
			{Forwarder: "file"},
		},
	}
	changed, fields, runners := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"daemon", "forwarders"}, changed)
	assert.NotEmpty(t, fields)
	assert.Equal(t, []string{"file", "redis", "webhook"}, runners)
}

func TestManagerWatchReloads(t *testing.T) {
	t.Parallel()
	path := writeFile(t, "nf.yaml", "daemon:\n  flush_schedule: 1m\n")
	m := NewManager(path, logx.Nop())
	m.debounce = 20 * time.Millisecond
	_, err := m.Load()
	require.NoError(t, err)

	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		if cfg.Daemon.FlushSchedule == "reject" {
			return assert.AnError
		}
		return nil
	})
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("daemon:\n  flush_schedule: 5m\n"), 0o644))

	select {
	case cfg := <-ch:
		assert.Equal(t, "5m", cfg.Daemon.FlushSchedule)
		assert.Equal(t, "5m", m.Get().Daemon.FlushSchedule)
	case <-time.After(5 * time.Second):
		t.Fatal("no config published")
	}
}

func TestDecodeExpandsEnvironment(t *testing.T) {
	t.Setenv("NF_TEST_TOKEN", "123:abc")
	cfg, err := Decode("nf.yaml", []byte(`
forwarders:
  - forwarder: telegram
    options:
      token: ${NF_TEST_TOKEN}
      chat_id: -100123
      text: "cost $5 ${NF_TEST_UNSET}"
`))
	require.NoError(t, err)
	require.Len(t, cfg.Forwarders, 1)
	opts := cfg.Forwarders[0].Options
	assert.Equal(t, "123:abc", opts["token"])
	assert.Equal(t, "-100123", opts["chat_id"])
	assert.Equal(t, "cost $5 ", opts["text"])
}

func TestDecodeJSONAndEmpty(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("nf.json", []byte(`{"submit": {"retry_max": 3}, "spool": {"flush_rate": 2.5}}`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Submit.RetryMax)
	assert.InDelta(t, 2.5, cfg.Spool.FlushRate, 0.001)

	cfg, err = Decode("nf.yaml", nil)
	require.NoError(t, err)
	assert.Empty(t, cfg.Forwarders)
}
