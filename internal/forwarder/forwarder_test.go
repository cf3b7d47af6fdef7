package forwarder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
)

type nopForwarder struct{ deps Deps }

func (n *nopForwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error { return nil }

func TestRegistryNew(t *testing.T) {
	Register("nop_for_test", func(d Deps) (Forwarder, error) { return &nopForwarder{deps: d}, nil })

	f, err := New("nop_for_test", Deps{})
	require.NoError(t, err)
	n := f.(*nopForwarder)
	assert.Equal(t, "nop_for_test", n.deps.Name)
	assert.NotNil(t, n.deps.Options)
	assert.False(t, n.deps.Log.IsZero())

	_, err = New("missing", Deps{})
	assert.True(t, errors.Is(err, ErrUnknown))
	assert.Contains(t, err.Error(), "is not part of our forwarder collection")
}

func TestEffectiveOptions(t *testing.T) {
	t.Parallel()
	base := options.Options{"url": "a", "timeout": "5"}
	ev := event.NewFormatted(event.Raw{})
	assert.Equal(t, base, EffectiveOptions(base, ev))

	ev.ForwarderOpts["url"] = "b"
	got := EffectiveOptions(base, ev)
	assert.Equal(t, "b", got["url"])
	assert.Equal(t, "5", got["timeout"])
	assert.Equal(t, "a", base["url"])
}

func TestPayloadHelpers(t *testing.T) {
	t.Parallel()
	b, isJSON, err := PayloadBytes("plain")
	require.NoError(t, err)
	assert.False(t, isJSON)
	assert.Equal(t, "plain", string(b))

	b, isJSON, err = PayloadBytes(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.True(t, isJSON)
	assert.JSONEq(t, `{"a":1}`, string(b))

	_, _, err = PayloadBytes(nil)
	require.Error(t, err)

	assert.Equal(t, "hi", PayloadText("hi", "fb"))
	assert.Equal(t, "msg", PayloadText(map[string]any{"message": "msg"}, "fb"))
	assert.Equal(t, "fb", PayloadText(map[string]any{"x": 1}, "fb"))
}
