package formatter

import (
	"context"
	"fmt"
	"strings"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/tmpl"
)

// monitoring understands the Naemon notification macros (with or without the
// NOTIFY_ prefix) and builds a channel-neutral payload.
type monitoring struct {
	discardTypes map[string]bool
}

func newMonitoring(opts options.Options) (Formatter, error) {
	m := &monitoring{discardTypes: map[string]bool{}}
	for _, t := range opts.List("discard_types") {
		m.discardTypes[strings.ToUpper(t)] = true
	}
	return m, nil
}

func (m *monitoring) FormatEvent(_ context.Context, ev *event.FormattedEvent) error {
	r := ev.EventOpts()

	host := r.First("HOSTNAME", "NOTIFY_HOSTNAME", "host_name")
	if host == "" {
		return fmt.Errorf("monitoring formatter: event has no HOSTNAME")
	}
	service := r.First("SERVICEDESC", "NOTIFY_SERVICEDESC", "service_description")
	ntype := strings.ToUpper(r.First("NOTIFICATIONTYPE", "NOTIFY_NOTIFICATIONTYPE", "notification_type"))
	if ntype == "" {
		ntype = "PROBLEM"
	}

	var state, output string
	if service != "" {
		state = r.First("SERVICESTATE", "NOTIFY_SERVICESTATE", "state")
		output = r.First("SERVICEOUTPUT", "NOTIFY_SERVICEOUTPUT", "output")
	} else {
		state = r.First("HOSTSTATE", "NOTIFY_HOSTSTATE", "state")
		output = r.First("HOSTOUTPUT", "NOTIFY_HOSTOUTPUT", "output")
	}

	if ntype == "HEARTBEAT" || tmpl.Truthy(r.String("heartbeat")) {
		ev.Heartbeat = true
	}

	payload := map[string]any{
		"host_name":         host,
		"state":             state,
		"output":            output,
		"notification_type": ntype,
		"site":              r.String("omd_site"),
		"timestamp":         r["omd_originating_timestamp"],
		"origin":            r.String("omd_originating_fqdn"),
	}
	if service != "" {
		payload["service_description"] = service
	}
	if author := r.First("NOTIFICATIONAUTHOR", "NOTIFY_NOTIFICATIONAUTHOR"); author != "" {
		payload["author"] = author
		payload["comment"] = r.First("NOTIFICATIONCOMMENT", "NOTIFY_NOTIFICATIONCOMMENT")
	}
	ev.Payload = payload

	object := host
	if service != "" {
		object = host + "/" + service
	}
	ev.Summary = strings.TrimSpace(fmt.Sprintf("%s %s %s: %s", ntype, object, state, output))

	if m.discardTypes[ntype] {
		ev.Discard(false)
	}
	return nil
}
