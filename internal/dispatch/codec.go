package dispatch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"hash/fnv"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/spool"
)

// spooledEvent is what a spool entry's Data holds.
type spooledEvent struct {
	Payload       any               `json:"payload"`
	Summary       string            `json:"summary"`
	EventOpts     map[string]any    `json:"event_opts"`
	ForwarderOpts map[string]string `json:"forwarder_opts,omitempty"`
}

func encodeEntry(ev *event.FormattedEvent) (spool.Entry, error) {
	b, err := json.Marshal(spooledEvent{
		Payload:       ev.Payload,
		Summary:       ev.Summary,
		EventOpts:     ev.EventOpts(),
		ForwarderOpts: ev.ForwarderOpts,
	})
	if err != nil {
		return spool.Entry{}, fmt.Errorf("encode spooled event: %w", err)
	}
	return spool.Entry{ID: ev.ID, CreatedAt: ev.CreatedAt, Summary: ev.Summary, Data: b}, nil
}

func decodeEntry(e spool.Entry) (*event.FormattedEvent, error) {
	var se spooledEvent
	dec := json.NewDecoder(bytes.NewReader(e.Data))
	dec.UseNumber()
	if err := dec.Decode(&se); err != nil {
		return nil, fmt.Errorf("decode spooled event %s: %w", e.ID, err)
	}
	ev := event.NewFormatted(event.Raw(se.EventOpts))
	ev.ID = e.ID
	ev.CreatedAt = e.CreatedAt
	ev.Payload = se.Payload
	ev.Summary = se.Summary
	if se.ForwarderOpts != nil {
		ev.ForwarderOpts = se.ForwarderOpts
	}
	return ev, nil
}

// dedupKey identifies "the same notification" for one runner.
func dedupKey(runner string, ev *event.FormattedEvent) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(runner))
	_, _ = h.Write([]byte("|"))
	_, _ = h.Write([]byte(ev.Summary))
	_, _ = h.Write([]byte("|"))
	if b, err := json.Marshal(ev.Payload); err == nil {
		_, _ = h.Write(b)
	}
	return fmt.Sprintf("%s:%x", runner, h.Sum64())
}
