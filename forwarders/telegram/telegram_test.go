package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"notificationforwarder/internal/event"
	"notificationforwarder/internal/forwarder"
	"notificationforwarder/internal/options"
)

type fakeAPI struct {
	mu    sync.Mutex
	calls []string
	texts []string
}

func (a *fakeAPI) handler(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	a.mu.Lock()
	a.calls = append(a.calls, method)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		_, _ = w.Write([]byte(`{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"nf","username":"nf_bot"}}`))
	case "sendMessage":
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		a.mu.Lock()
		a.texts = append(a.texts, body["text"].(string))
		a.mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
	}
}

func TestSubmitAndProbe(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	defer srv.Close()

	f, err := New(forwarder.Deps{Options: options.Options{
		"token": "123:abc", "chat_id": "-100", "api_url": srv.URL,
	}})
	require.NoError(t, err)

	ev := event.NewFormatted(event.Raw{})
	ev.Payload = map[string]any{"text": "PROBLEM web01 CRITICAL"}
	ev.Summary = "summary"
	require.NoError(t, f.Submit(context.Background(), ev))
	require.NoError(t, f.(forwarder.Prober).Probe(context.Background()))

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, []string{"sendMessage", "getMe"}, api.calls)
	assert.Equal(t, []string{"PROBLEM web01 CRITICAL"}, api.texts)
}

func TestNewRequiresTokenAndChat(t *testing.T) {
	t.Parallel()
	_, err := New(forwarder.Deps{Options: options.Options{"chat_id": "1"}})
	require.ErrorIs(t, err, options.ErrMissing)
	_, err = New(forwarder.Deps{Options: options.Options{"token": "x"}})
	require.ErrorIs(t, err, options.ErrMissing)
}

func TestSplitText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"short"}, splitText("short", 10, ""))

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	assert.Equal(t, []string{strings.Repeat("a", 8), strings.Repeat("b", 8)}, splitText(long, 10, ""))

	html := "abcdef<b>bold</b>"
	assert.Equal(t, []string{"abcdef", "<b>bold</b>"}, splitText(html, 8, "HTML"))
}

func TestSplitTextKeepsElementsBalanced(t *testing.T) {
	t.Parallel()
	text := "<b>" + strings.Repeat("x", 30) + "</b> <code>a&amp;b</code>"
	chunks := splitText(text, 20, "HTML")
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.Equal(t, strings.Count(c, "<b>"), strings.Count(c, "</b>"), c)
		assert.Equal(t, strings.Count(c, "<code>"), strings.Count(c, "</code>"), c)
		assert.LessOrEqual(t, len([]rune(c)), 20+len("<b></b>"), c)
		amp := strings.LastIndex(c, "&")
		if amp >= 0 {
			assert.Contains(t, c[amp:], ";", "entity cut in %q", c)
		}
	}
	assert.True(t, strings.HasPrefix(chunks[1], "<b>"), chunks[1])
}

func TestSubmitResumesAfterPartialSend(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		texts []string
		fail  = true
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		defer mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		if len(texts) == 1 && fail {
			fail = false
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"ok":false,"error_code":502,"description":"Bad Gateway"}`))
			return
		}
		texts = append(texts, body["text"].(string))
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":-100,"type":"supergroup"}}}`))
	}))
	defer srv.Close()

	f, err := New(forwarder.Deps{Options: options.Options{
		"token": "123:abc", "chat_id": "-100", "api_url": srv.URL,
	}})
	require.NoError(t, err)

	ev := event.NewFormatted(event.Raw{})
	ev.Payload = strings.Repeat("a", textLimit-10) + "\n" + strings.Repeat("b", 100)
	ev.Summary = "long"
	require.Error(t, f.Submit(context.Background(), ev))
	assert.Equal(t, "1", ev.ForwarderOpts[sentOpt])

	require.NoError(t, f.Submit(context.Background(), ev))
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 2)
	assert.Equal(t, strings.Repeat("a", textLimit-10), texts[0])
	assert.Equal(t, strings.Repeat("b", 100), texts[1])
}
