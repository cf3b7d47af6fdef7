package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := New[func() string]("forwarder")
	r.Register("Webhook", func() string { return "w" })
	r.Register("redis", func() string { return "r" })

	f, ok := r.Lookup(" webhook ")
	assert.True(t, ok)
	assert.Equal(t, "w", f())
	assert.False(t, r.Has("smtp"))
	assert.Equal(t, []string{"redis", "webhook"}, r.Names())
	assert.Equal(t, "forwarder", r.Kind())

	assert.Panics(t, func() { r.Register("REDIS", func() string { return "" }) })
}

func TestRegistryWith(t *testing.T) {
	t.Parallel()
	r := New[int]("reporter").With("log", 1).With("naemon", 2)
	assert.Equal(t, []string{"log", "naemon"}, r.Names())
	n, ok := r.Lookup("NAEMON")
	assert.True(t, ok)
	assert.Equal(t, 2, n)
	assert.Panics(t, func() { r.With("log", 3) })
}
