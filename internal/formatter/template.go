package formatter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/tmpl"
)

// templateFormatter renders payload and summary from configured templates. The
// template data is the raw event, so {{ .HOSTNAME }} works as expected.
type templateFormatter struct {
	payload     string
	summary     string
	format      string
	discardIf   string
	heartbeatIf string
}

func newTemplate(opts options.Options) (Formatter, error) {
	f := &templateFormatter{
		payload:     opts.String("payload_template", ""),
		summary:     opts.String("summary_template", ""),
		format:      strings.ToLower(opts.String("payload_format", "text")),
		discardIf:   opts.String("discard_if", ""),
		heartbeatIf: opts.String("heartbeat_if", ""),
	}
	if f.payload == "" {
		return nil, errors.New("template formatter: payload_template is required")
	}
	if f.format != "text" && f.format != "json" {
		return nil, fmt.Errorf("template formatter: payload_format must be text or json, got %q", f.format)
	}
	// Fail early on syntax errors rather than on the first event.
	for name, text := range map[string]string{
		"payload": f.payload, "summary": f.summary, "discard_if": f.discardIf, "heartbeat_if": f.heartbeatIf,
	} {
		if text == "" {
			continue
		}
		if _, err := tmpl.Parse(name, text); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *templateFormatter) FormatEvent(_ context.Context, ev *event.FormattedEvent) error {
	data := map[string]any(ev.EventOpts())

	if f.discardIf != "" {
		out, err := tmpl.Render("discard_if", f.discardIf, data)
		if err != nil {
			return err
		}
		if tmpl.Truthy(out) {
			ev.Discard(true)
			return nil
		}
	}
	if f.heartbeatIf != "" {
		out, err := tmpl.Render("heartbeat_if", f.heartbeatIf, data)
		if err != nil {
			return err
		}
		ev.Heartbeat = tmpl.Truthy(out)
	}

	body, err := tmpl.Render("payload", f.payload, data)
	if err != nil {
		return err
	}
	switch f.format {
	case "json":
		var v any
		if err := json.Unmarshal([]byte(body), &v); err != nil {
			return fmt.Errorf("template formatter: payload is not valid JSON: %w", err)
		}
		ev.Payload = v
	default:
		ev.Payload = body
	}

	if f.summary != "" {
		s, err := tmpl.Render("summary", f.summary, data)
		if err != nil {
			return err
		}
		ev.Summary = strings.TrimSpace(s)
	}
	return nil
}
