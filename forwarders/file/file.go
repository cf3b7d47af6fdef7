// Package file appends formatted events as JSON lines to a local file.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
)

const Name = "file"

// Record is one line of the output file.
type Record struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Summary   string    `json:"summary"`
	Payload   any       `json:"payload"`
	Heartbeat bool      `json:"heartbeat,omitempty"`
}

type Forwarder struct {
	path string
	mu   sync.Mutex
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	path, err := deps.Options.Require("path")
	if err != nil {
		return nil, err
	}
	return &Forwarder{path: path}, nil
}

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	b, err := json.Marshal(Record{
		ID:        ev.ID,
		CreatedAt: ev.CreatedAt.UTC(),
		Summary:   ev.Summary,
		Payload:   ev.Payload,
		Heartbeat: ev.Heartbeat,
	})
	if err != nil {
		return fmt.Errorf("file encode: %w", err)
	}
	b = append(b, '\n')

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return err
	}
	fh, err := os.OpenFile(f.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := fh.Write(b); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// Probe checks that the directory is writable.
func (f *Forwarder) Probe(ctx context.Context) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return err
	}
	_ = tmp.Close()
	return os.Remove(tmp.Name())
}
