package postgres

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
)

func withMock(t *testing.T, opts options.Options) (*Forwarder, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	f, err := New(forwarder.Deps{Options: opts})
	require.NoError(t, err)
	pf := f.(*Forwarder)
	pf.open = func(string) (*sql.DB, error) { return db, nil }
	return pf, mock
}

func TestSubmitInsertsRow(t *testing.T) {
	t.Parallel()
	f, mock := withMock(t, options.Options{"dsn": "postgres://x", "table": "monitoring.alerts"})
	ctx := context.Background()

	ev := event.NewFormatted(event.Raw{"omd_site": "demo"})
	ev.Payload = map[string]any{"host": "db01"}
	ev.Summary = "db01 down"

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "monitoring"."alerts" (event_id, summary, payload, site, created_at)`)).
		WithArgs(ev.ID, "db01 down", `{"host":"db01"}`, "demo", ev.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectClose()

	require.NoError(t, f.Connect(ctx))
	require.NoError(t, f.Submit(ctx, ev))
	require.NoError(t, f.Disconnect(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitStringPayloadIsJSONString(t *testing.T) {
	t.Parallel()
	f, mock := withMock(t, options.Options{"dsn": "postgres://x", "create_table": "yes"})
	ctx := context.Background()

	ev := event.NewFormatted(event.Raw{})
	ev.Payload = "plain"
	ev.Summary = "s"

	mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE IF NOT EXISTS "notifications"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "notifications"`)).
		WithArgs(ev.ID, "s", `"plain"`, "", ev.CreatedAt).
		WillReturnError(sql.ErrConnDone)

	require.NoError(t, f.Connect(ctx))
	err := f.Submit(ctx, ev)
	require.ErrorIs(t, err, sql.ErrConnDone)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSubmitWithoutConnect(t *testing.T) {
	t.Parallel()
	f, _ := withMock(t, options.Options{"dsn": "postgres://x"})
	ev := event.NewFormatted(event.Raw{})
	ev.Payload, ev.Summary = "x", "x"
	assert.Error(t, f.Submit(context.Background(), ev))
}

func TestNewValidatesOptions(t *testing.T) {
	t.Parallel()
	_, err := New(forwarder.Deps{Options: options.Options{}})
	require.ErrorIs(t, err, options.ErrMissing)
	_, err = New(forwarder.Deps{Options: options.Options{"dsn": "x", "table": "a; drop table b"}})
	require.Error(t, err)
}
