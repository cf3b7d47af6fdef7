package options

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePairs(t *testing.T) {
	t.Parallel()
	o, err := ParsePairs([]string{"url=http://x/?a=b", "token=", " retries =3"})
	require.NoError(t, err)
	assert.Equal(t, "http://x/?a=b", o["url"])
	assert.Equal(t, "", o["token"])
	assert.Equal(t, "3", o["retries"])

	_, err = ParsePairs([]string{"novalue"})
	require.Error(t, err)
	_, err = ParsePairs([]string{"=x"})
	require.Error(t, err)
}

func TestTypedGetters(t *testing.T) {
	t.Parallel()
	o := Options{"n": "5", "b": "yes", "d": "15", "d2": "1m", "bad": "x", "l": "a, b,,c", "h": "X-A: 1; X-B:2"}

	n, err := o.Int("n", 1)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	n, err = o.Int("missing", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	_, err = o.Int("bad", 0)
	require.Error(t, err)

	b, err := o.Bool("b", false)
	require.NoError(t, err)
	assert.True(t, b)
	_, err = o.Bool("bad", false)
	require.Error(t, err)

	d, err := o.Duration("d", 0)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, d)
	d, err = o.Duration("d2", 0)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	assert.Equal(t, []string{"a", "b", "c"}, o.List("l"))
	assert.Equal(t, map[string]string{"X-A": "1", "X-B": "2"}, o.Pairs("h"))

	_, err = o.Require("url")
	assert.True(t, errors.Is(err, ErrMissing))
}

func TestMergeAndOverlay(t *testing.T) {
	t.Parallel()
	base := Options{"url": "a", "timeout": "10"}
	m := base.Merge(map[string]string{"url": "b", "extra": "1"})
	assert.Equal(t, "b", m["url"])
	assert.Equal(t, "1", m["extra"])
	assert.Equal(t, "a", base["url"], "merge must not mutate the receiver")

	ov := base.Overlay(map[string]any{"timeout": int64(20), "unknown": "x"})
	assert.Equal(t, "20", ov["timeout"])
	_, has := ov["unknown"]
	assert.False(t, has)
}

func TestRedacted(t *testing.T) {
	t.Parallel()
	o := Options{"url": "http://x", "password": "s3cret", "bot_token": "abc"}
	assert.Equal(t, "bot_token=*** password=*** url=http://x", o.Redacted())
}
