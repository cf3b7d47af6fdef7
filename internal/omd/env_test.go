package omd

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPaths(t *testing.T) {
	t.Parallel()
	e := Env{Root: "/omd/sites/demo", Site: "demo"}
	assert.Equal(t, filepath.Join("/omd/sites/demo", "var", "log", "notificationforwarder_webhook_ops.log"),
		e.LogPath("notificationforwarder", RunnerName("webhook", "ops")))
	assert.Equal(t, filepath.Join("/omd/sites/demo", "var", "tmp", "notificationforwarder_webhook_queue.db"),
		e.SpoolPath("notificationforwarder", RunnerName("webhook", "")))
	assert.Equal(t, filepath.Join("/omd/sites/demo", "tmp", "run", "naemon.cmd"), e.CommandPipe())
	assert.Equal(t, filepath.Join("/omd/sites/demo", "etc", "eventhandler"), e.ConfigDir("eventhandler"))
}

func TestFromEnvironment(t *testing.T) {
	t.Setenv("OMD_ROOT", "/omd/sites/test")
	t.Setenv("OMD_SITE", "test")
	e := FromEnvironment()
	assert.Equal(t, "/omd/sites/test", e.Root)
	assert.Equal(t, "test", e.SiteOrUnknown())
	assert.NotEmpty(t, e.Hostname)

	t.Setenv("OMD_SITE", "")
	assert.Equal(t, UnknownSite, FromEnvironment().SiteOrUnknown())
}
