package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetCounts(t *testing.T) {
	t.Parallel()
	s := New(false)
	s.Outcome("webhook", "forwarded")
	s.Outcome("webhook", "forwarded")
	s.Outcome("webhook", "spooled")
	s.ObserveSubmit("webhook", 20*time.Millisecond, true)
	s.Flushed("webhook", 1, 2, 3)

	assert.Equal(t, 2.0, testutil.ToFloat64(s.Events.WithLabelValues("webhook", "forwarded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.Events.WithLabelValues("webhook", "spooled")))
	assert.Equal(t, 3.0, testutil.ToFloat64(s.SpoolDepth.WithLabelValues("webhook")))
	assert.Equal(t, 2.0, testutil.ToFloat64(s.SpoolRescued.WithLabelValues("webhook")))
	assert.Greater(t, testutil.ToFloat64(s.LastSuccess.WithLabelValues("webhook")), 0.0)
}

func TestNilSetIsSafe(t *testing.T) {
	t.Parallel()
	var s *Set
	s.Outcome("x", "y")
	s.Depth("x", 1)
	assert.NoError(t, s.WriteTextfile("/nonexistent/x.prom"))
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()
	s := New(false)
	s.Depth("telegram_ops", 4)
	path := filepath.Join(t.TempDir(), "textfile", "nf.prom")
	require.NoError(t, s.WriteTextfile(path))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), `notificationforwarder_spool_depth{runner="telegram_ops"} 4`)
}
