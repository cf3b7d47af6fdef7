package file

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
)

func TestSubmitAppendsLines(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sub", "events.jsonl")
	f, err := New(forwarder.Deps{Options: options.Options{"path": path}})
	require.NoError(t, err)

	for _, s := range []string{"first", "second"} {
		ev := event.NewFormatted(event.Raw{})
		ev.Payload = map[string]any{"s": s}
		ev.Summary = s
		require.NoError(t, f.Submit(context.Background(), ev))
	}

	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	var got []Record
	sc := bufio.NewScanner(fh)
	for sc.Scan() {
		var r Record
		require.NoError(t, json.Unmarshal(sc.Bytes(), &r))
		got = append(got, r)
	}
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Summary)
	assert.Equal(t, "second", got[1].Summary)
	assert.NotEmpty(t, got[0].ID)

	require.NoError(t, f.(forwarder.Prober).Probe(context.Background()))
}
