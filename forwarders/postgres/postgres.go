// Package postgres stores formatted events as rows of a PostgreSQL table.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/lib/pq"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
	logx "notificationforwarder/pkg/logx"
)

const Name = "postgres"

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

type Forwarder struct {
	dsn         string
	table       string
	createTable bool
	log         logx.Logger

	open func(dsn string) (*sql.DB, error)

	mu sync.Mutex
	db *sql.DB
}

func New(deps forwarder.Deps) (forwarder.Forwarder, error) {
	dsn, err := deps.Options.Require("dsn")
	if err != nil {
		return nil, err
	}
	table := deps.Options.String("table", "notifications")
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", table)
	}
	create, err := deps.Options.Bool("create_table", false)
	if err != nil {
		return nil, err
	}
	return &Forwarder{
		dsn:         dsn,
		table:       quoteTable(table),
		createTable: create,
		log:         deps.Log,
		open:        func(dsn string) (*sql.DB, error) { return sql.Open("postgres", dsn) },
	}, nil
}

func quoteTable(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

func (f *Forwarder) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		db, err := f.open(f.dsn)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		db.SetMaxOpenConns(2)
		f.db = db
	}
	if err := f.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	if f.createTable {
		if _, err := f.db.ExecContext(ctx, f.createStmt()); err != nil {
			return fmt.Errorf("postgres create table: %w", err)
		}
	}
	return nil
}

func (f *Forwarder) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.db == nil {
		return nil
	}
	err := f.db.Close()
	f.db = nil
	return err
}

func (f *Forwarder) Probe(ctx context.Context) error {
	if err := f.Connect(ctx); err != nil {
		return err
	}
	return f.Disconnect(ctx)
}

func (f *Forwarder) Submit(ctx context.Context, ev *event.FormattedEvent) error {
	f.mu.Lock()
	db := f.db
	f.mu.Unlock()
	if db == nil {
		return fmt.Errorf("postgres: not connected")
	}

	body, isJSON, err := forwarder.PayloadBytes(ev.Payload)
	if err != nil {
		return err
	}
	if !isJSON {
		if body, err = json.Marshal(string(body)); err != nil {
			return err
		}
	}
	_, err = db.ExecContext(ctx, f.insertStmt(),
		ev.ID, ev.Summary, string(body), ev.EventOpts().String("omd_site"), ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres insert: %w", err)
	}
	f.log.Debug("postgres row inserted", logx.String("id", ev.ID))
	return nil
}

func (f *Forwarder) insertStmt() string {
	return "INSERT INTO " + f.table +
		" (event_id, summary, payload, site, created_at) VALUES ($1, $2, $3::jsonb, $4, $5)"
}

func (f *Forwarder) createStmt() string {
	return "CREATE TABLE IF NOT EXISTS " + f.table + ` (
	event_id   TEXT PRIMARY KEY,
	summary    TEXT NOT NULL,
	payload    JSONB NOT NULL,
	site       TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
)`
}
