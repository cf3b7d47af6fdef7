package reporter

import (
	"context"
	"fmt"
	"path/filepath"
)

type textfile struct {
	path string
	deps Deps
}

func newTextfile(deps Deps) (Reporter, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("textfile reporter needs metrics")
	}
	def := filepath.Join(deps.Env.Root, "var", "lib", "node_exporter", "notificationforwarder_"+deps.Runner+".prom")
	return &textfile{path: deps.Options.String("path", def), deps: deps}, nil
}

func (t *textfile) Report(ctx context.Context, r Report) error {
	t.deps.Metrics.Depth(r.Runner, r.Spooled)
	return t.deps.Metrics.WriteTextfile(t.path)
}
