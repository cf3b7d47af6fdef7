package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/event"
	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

type fakeRunner struct {
	name string

	mu       sync.Mutex
	got      []event.Raw
	result   dispatch.Result
	err      error
	flushErr error
	pending  []spool.Entry
}

func (f *fakeRunner) Runner() string { return f.name }

func (f *fakeRunner) Forward(_ context.Context, raw event.Raw) (dispatch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, raw)
	return f.result, f.err
}

func (f *fakeRunner) Flush(context.Context) (dispatch.FlushResult, error) {
	return dispatch.FlushResult{Rescued: 2, Remaining: 1}, f.flushErr
}

func (f *fakeRunner) Pending(context.Context, int) ([]spool.Entry, error) {
	return f.pending, nil
}

type fakeRunners map[string]*fakeRunner

func (m fakeRunners) Runner(name string) (Runner, bool) {
	r, ok := m[name]
	return r, ok
}

func (m fakeRunners) RunnerNames() []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func do(t *testing.T, h http.Handler, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestForwardEndpoint(t *testing.T) {
	t.Parallel()
	web := &fakeRunner{name: "webhook", result: dispatch.Result{Outcome: dispatch.Forwarded, ID: "id-1", Summary: "PROBLEM web01"}}
	h := NewRouter(Config{}, Deps{Runners: fakeRunners{"webhook": web}})

	rec := do(t, h, http.MethodPost, "/v1/forward/webhook", `{"HOSTNAME":"web01","SERVICEATTEMPT":3,"SERVICESTATEID":"2","ratio":0.5}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp forwardResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, forwardResponse{Runner: "webhook", Outcome: "forwarded", ID: "id-1", Summary: "PROBLEM web01"}, resp)

	require.Len(t, web.got, 1)
	assert.Equal(t, int64(3), web.got[0]["SERVICEATTEMPT"])
	assert.Equal(t, int64(2), web.got[0]["SERVICESTATEID"])
	assert.Equal(t, "0.5", web.got[0]["ratio"])

	web.result = dispatch.Result{Outcome: dispatch.Spooled, Cause: errors.New("connection refused")}
	rec = do(t, h, http.MethodPost, "/v1/forward/webhook", `{"HOSTNAME":"web01"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "connection refused")

	web.result = dispatch.Result{Outcome: dispatch.Failed}
	web.err = dispatch.ErrIncomplete
	rec = do(t, h, http.MethodPost, "/v1/forward/webhook", `{"HOSTNAME":"web01"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/forward/webhook", `[1,2]`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/v1/forward/webhook", `{}`).Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/v1/forward/pager", `{"a":"b"}`).Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/v1/forward/webhook", "").Code)
}

func TestFlushEndpoint(t *testing.T) {
	t.Parallel()
	web := &fakeRunner{name: "webhook"}
	h := NewRouter(Config{}, Deps{Runners: fakeRunners{"webhook": web}})

	rec := do(t, h, http.MethodPost, "/v1/flush/webhook", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	decodeBody(t, rec, &body)
	assert.EqualValues(t, 2, body["rescued"])
	assert.EqualValues(t, 1, body["remaining"])

	web.flushErr = spool.ErrLocked
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/v1/flush/webhook", "").Code)
	web.flushErr = errors.New("down")
	assert.Equal(t, http.StatusBadGateway, do(t, h, http.MethodPost, "/v1/flush/webhook", "").Code)
}

func TestSpoolEndpoint(t *testing.T) {
	t.Parallel()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	web := &fakeRunner{name: "webhook", pending: []spool.Entry{
		{ID: "a", CreatedAt: created, Summary: "first", Attempts: 2, LastError: "timeout"},
		{ID: "b", CreatedAt: created.Add(time.Minute), Summary: "second"},
	}}
	h := NewRouter(Config{}, Deps{Runners: fakeRunners{"webhook": web, "redis": &fakeRunner{name: "redis"}}})

	rec := do(t, h, http.MethodGet, "/v1/spool?runner=webhook&limit=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []spoolStatus
	decodeBody(t, rec, &out)
	require.Len(t, out, 1)
	assert.Equal(t, 2, out[0].Pending)
	require.NotNil(t, out[0].Oldest)
	assert.True(t, created.Equal(*out[0].Oldest))
	require.Len(t, out[0].Entries, 1)
	assert.Equal(t, "timeout", out[0].Entries[0].LastError)

	rec = do(t, h, http.MethodGet, "/v1/spool", "")
	decodeBody(t, rec, &out)
	assert.Len(t, out, 2)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/v1/spool?runner=nope", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/v1/spool?limit=x", "").Code)
}

func TestEventsHealthAndMetrics(t *testing.T) {
	t.Parallel()
	bus := eventbus.New(10)
	bus.Publish(eventbus.Event{Type: eventbus.TypeForwarded, Data: eventbus.ForwardEvent{Runner: "webhook", Summary: "ok"}})
	m := metrics.New(false)
	m.Outcome("webhook", "forwarded")

	healthy := true
	h := NewRouter(Config{}, Deps{
		Runners: fakeRunners{},
		Bus:     bus,
		Metrics: m,
		Health: func() (any, error) {
			if healthy {
				return nil, nil
			}
			return map[string]int{"restarts": 3}, errors.New("config watcher down")
		},
	})

	rec := do(t, h, http.MethodGet, "/v1/events?n=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var evs []eventbus.Event
	decodeBody(t, rec, &evs)
	require.Len(t, evs, 1)
	assert.Equal(t, eventbus.TypeForwarded, evs[0].Type)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	healthy = false
	rec = do(t, h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "config watcher down")

	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `outcome="forwarded"`)
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	h := NewRouter(Config{AuthToken: "s3cret"}, Deps{Runners: fakeRunners{}})

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/events", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/v1/events", "", "Authorization", "Bearer wrong").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/events", "", "Authorization", "Bearer s3cret").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/v1/events?token=s3cret", "").Code)
}

func TestRateLimit(t *testing.T) {
	t.Parallel()
	web := &fakeRunner{name: "webhook", result: dispatch.Result{Outcome: dispatch.Forwarded}}
	h := NewRouter(Config{RequestsPerMinute: 2}, Deps{Runners: fakeRunners{"webhook": web}})
	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/v1/forward/webhook", `{"a":"b"}`).Code)
	}
	rec := do(t, h, http.MethodPost, "/v1/forward/webhook", `{"a":"b"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestServerServeAndStop(t *testing.T) {
	t.Parallel()
	srv := NewServer("127.0.0.1:0", Config{}, NewRouter(Config{}, Deps{Runners: fakeRunners{}}), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	require.Eventually(t, func() bool { return srv.Addr() != "" }, 5*time.Second, 10*time.Millisecond)
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}, Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + srv.Addr() + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	assert.True(t, isLoopbackAddr("127.0.0.1:9118"))
	assert.True(t, isLoopbackAddr("localhost:80"))
	assert.True(t, isLoopbackAddr("[::1]:80"))
	assert.False(t, isLoopbackAddr(":9118"))
	assert.False(t, isLoopbackAddr("10.0.0.1:9118"))
	assert.False(t, isLoopbackAddr("nonsense"))
}
