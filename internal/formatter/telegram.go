package formatter

import (
	"context"
	"html"
	"strings"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
)

// telegram renders the monitoring payload as a Telegram HTML message and
// asks the forwarder for parse_mode=HTML.
type telegram struct {
	base *monitoring
}

func newTelegram(opts options.Options) (Formatter, error) {
	base, err := newMonitoring(opts)
	if err != nil {
		return nil, err
	}
	return &telegram{base: base.(*monitoring)}, nil
}

var stateIcons = map[string]string{
	"OK": "🟢", "UP": "🟢",
	"WARNING":  "🟡",
	"CRITICAL": "🔴", "DOWN": "🔴",
	"UNKNOWN": "🟣", "UNREACHABLE": "🟣",
}

func (t *telegram) FormatEvent(ctx context.Context, ev *event.FormattedEvent) error {
	if err := t.base.FormatEvent(ctx, ev); err != nil {
		return err
	}
	p, _ := ev.Payload.(map[string]any)
	str := func(k string) string { s, _ := p[k].(string); return s }

	state := strings.ToUpper(str("state"))
	object := str("host_name")
	if svc := str("service_description"); svc != "" {
		object += "/" + svc
	}
	head := strings.TrimSpace(stateIcons[state] + " " + bold(str("notification_type")) + " " + code(object) + " " + bold(state))
	lines := []string{head}
	if out := str("output"); out != "" {
		lines = append(lines, pre(out))
	}
	if author := str("author"); author != "" {
		lines = append(lines, italic(author+": "+str("comment")))
	}
	if site := str("site"); site != "" {
		lines = append(lines, "site "+code(site))
	}

	ev.Payload = map[string]any{"text": strings.Join(lines, "\n")}
	if ev.ForwarderOpts == nil {
		ev.ForwarderOpts = map[string]string{}
	}
	if _, ok := ev.ForwarderOpts["parse_mode"]; !ok {
		ev.ForwarderOpts["parse_mode"] = "HTML"
	}
	return nil
}

func wrap(tag, s string) string { return "<" + tag + ">" + html.EscapeString(s) + "</" + tag + ">" }

func bold(s string) string   { return wrap("b", s) }
func italic(s string) string { return wrap("i", s) }
func code(s string) string   { return wrap("code", s) }

func pre(s string) string { return "<pre>" + html.EscapeString(s) + "</pre>" }
