// Package webhook posts formatted events to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
	logx "notificationforwarder/pkg/logx"
)

const Name = "webhook"

type Forwarder struct {
	opts options.Options
	log  logx.Logger
	http *http.Client
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	if _, err := deps.Options.Require("url"); err != nil {
		return nil, err
	}
	timeout, err := deps.Options.Duration("timeout", 10*time.Second)
	if err != nil {
		return nil, err
	}
	insecure, err := deps.Options.Bool("insecure", false)
	if err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: timeout}
	if insecure {
		tr := http.DefaultTransport.(*http.Transport).Clone()
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
		client.Transport = tr
	}
	return &Forwarder{opts: deps.Options, log: deps.Log, http: client}, nil
}

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	opts := forwarder.EffectiveOptions(f.opts, ev)
	body, isJSON, err := forwarder.PayloadBytes(ev.Payload)
	if err != nil {
		return err
	}
	method := strings.ToUpper(opts.String("method", http.MethodPost))
	req, err := http.NewRequestWithContext(ctx, method, opts["url"], bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	} else {
		req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	}
	f.authorize(req, opts)
	for k, v := range opts.Pairs("headers") {
		req.Header.Set(k, v)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook %s returned %d: %s", req.URL.Host, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	f.log.Debug("webhook accepted", logx.Int("status", resp.StatusCode), logx.String("id", ev.ID))
	return nil
}

// Probe issues a GET on probe_url (or url).
func (f *Forwarder) Probe(ctx context.Context) error {
	target := f.opts.String("probe_url", f.opts["url"])
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("webhook probe request: %w", err)
	}
	f.authorize(req, f.opts)
	resp, err := f.http.Do(req)
	if err != nil {
		return fmt.Errorf("webhook probe: %w", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook probe returned %d", resp.StatusCode)
	}
	return nil
}

func (f *Forwarder) authorize(req *http.Request, opts options.Options) {
	if tok := opts.String("bearer_token", ""); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
		return
	}
	if user := opts.String("username", ""); user != "" {
		req.SetBasicAuth(user, opts["password"])
	}
}
