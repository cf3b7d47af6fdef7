package eventhandler

import (
	"context"
	"fmt"
	"strings"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/tmpl"
)

// defaultDecider lets every event through. The payload is the event itself.
type defaultDecider struct{}

func newDefaultDecider(DeciderDeps) (Decider, error) { return defaultDecider{}, nil }

func (defaultDecider) DecideAndPrepare(_ context.Context, ev *event.DecidedEvent) error {
	prepare(ev)
	return nil
}

func prepare(ev *event.DecidedEvent) {
	r := ev.EventOpts()
	ev.Payload = map[string]any(r.Clone())
	ev.Summary = describe(r)
}

// describe builds "host/service STATE (TYPE): output", falling back to the
// whole event for events without HOSTNAME.
func describe(r event.Raw) string {
	host := r.First("HOSTNAME", "NOTIFY_HOSTNAME", "host_name")
	if host == "" {
		return r.Format()
	}
	object, state, stateType, output := host, "", "", ""
	if svc := r.First("SERVICEDESC", "NOTIFY_SERVICEDESC", "service_description"); svc != "" {
		object += "/" + svc
		state = r.First("SERVICESTATE", "state")
		stateType = r.First("SERVICESTATETYPE", "state_type")
		output = r.First("SERVICEOUTPUT", "output")
	} else {
		state = r.First("HOSTSTATE", "state")
		stateType = r.First("HOSTSTATETYPE", "state_type")
		output = r.First("HOSTOUTPUT", "output")
	}
	s := object
	if state != "" {
		s += " " + state
	}
	if stateType != "" {
		s += " (" + stateType + ")"
	}
	if output != "" {
		s += ": " + output
	}
	return s
}

// hardStateDecider only acts on HARD problem states. Recoveries are let
// through with recover=yes. Everything else is discarded silently.
type hardStateDecider struct {
	recover bool
}

func newHardStateDecider(deps DeciderDeps) (Decider, error) {
	return hardStateDecider{recover: tmpl.Truthy(deps.Options["recover"])}, nil
}

func (d hardStateDecider) DecideAndPrepare(_ context.Context, ev *event.DecidedEvent) error {
	r := ev.EventOpts()
	var state, stateType string
	if r.First("SERVICEDESC", "NOTIFY_SERVICEDESC", "service_description") != "" {
		state = r.First("SERVICESTATE", "state")
		stateType = r.First("SERVICESTATETYPE", "state_type")
	} else {
		state = r.First("HOSTSTATE", "state")
		stateType = r.First("HOSTSTATETYPE", "state_type")
	}
	if state == "" {
		return fmt.Errorf("hardstate: event has no state")
	}
	if !strings.EqualFold(stateType, "HARD") {
		ev.Discard(true)
		return nil
	}
	if isOK(state) && !d.recover {
		ev.Discard(true)
		return nil
	}
	prepare(ev)
	return nil
}

func isOK(state string) bool {
	switch strings.ToUpper(strings.TrimSpace(state)) {
	case "OK", "UP", "0":
		return true
	}
	return false
}
