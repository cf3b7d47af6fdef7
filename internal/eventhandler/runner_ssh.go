package eventhandler

import (
	"context"
	"fmt"
	"strings"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/options"
	"notificationforwarder/internal/tmpl"
)

// sshRunner runs the rendered "command" option on a remote host.
//
// Options: host (required), command (required), user, port, identity_file,
// connect_timeout (seconds, default 10), ssh (client binary, default "ssh").
type sshRunner struct{}

func newSSHRunner(deps RunnerDeps) (Runner, error) {
	if _, err := deps.Options.Require("host"); err != nil {
		return nil, err
	}
	text, err := deps.Options.Require("command")
	if err != nil {
		return nil, err
	}
	if _, err := tmpl.Parse("command", text); err != nil {
		return nil, err
	}
	if _, err := deps.Options.Int("port", 22); err != nil {
		return nil, err
	}
	return sshRunner{}, nil
}

func (sshRunner) Run(_ context.Context, ev *event.DecidedEvent, opts options.Options) (string, error) {
	remote, err := tmpl.Render("command", opts["command"], templateData(ev, opts))
	if err != nil {
		return "", err
	}
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return "", nil
	}
	port, err := opts.Int("port", 22)
	if err != nil {
		return "", err
	}
	connectTimeout, err := opts.Int("connect_timeout", 10)
	if err != nil {
		return "", err
	}

	args := []string{
		opts.String("ssh", "ssh"),
		"-o", "BatchMode=yes",
		"-o", fmt.Sprintf("ConnectTimeout=%d", connectTimeout),
	}
	if port != 22 {
		args = append(args, "-p", fmt.Sprint(port))
	}
	if id := opts.String("identity_file", ""); id != "" {
		args = append(args, "-i", id)
	}
	target := opts["host"]
	if user := opts.String("user", ""); user != "" {
		target = user + "@" + target
	}
	args = append(args, target, remote)

	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = tmpl.ShellQuote(a)
	}
	return strings.Join(quoted, " "), nil
}
