// Package httpapi is the daemon's HTTP surface: health, Prometheus metrics,
// spool inspection, event intake, manual flushes and the recent event
// history.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"notificationforwarder/internal/dispatch"
	"notificationforwarder/internal/event"
	"notificationforwarder/internal/eventbus"
	"notificationforwarder/internal/metrics"
	"notificationforwarder/internal/spool"
	logx "notificationforwarder/pkg/logx"
)

const (
	defaultRequestsPerMinute = 120
	maxBodyBytes             = 1 << 20
	defaultListLimit         = 20
)

// Runner is the part of a dispatcher the API drives.
type Runner interface {
	Runner() string
	Forward(ctx context.Context, raw event.Raw) (dispatch.Result, error)
	Flush(ctx context.Context) (dispatch.FlushResult, error)
	Pending(ctx context.Context, limit int) ([]spool.Entry, error)
}

// Runners resolves runners by name. The set may change on config reload.
type Runners interface {
	Runner(name string) (Runner, bool)
	RunnerNames() []string
}

type Config struct {
	AuthToken         string
	RequestsPerMinute int
	Pprof             bool
}

// Deps: Bus, Metrics and Health are optional.
type Deps struct {
	Runners Runners
	Bus     eventbus.Bus
	Metrics *metrics.Set
	// Health returns extra status for /healthz and an error when unhealthy.
	Health func() (any, error)
	Log    logx.Logger
}

type api struct {
	deps Deps
	log  logx.Logger
}

// NewRouter builds the chi router.
func NewRouter(cfg Config, deps Deps) http.Handler {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &api{deps: deps, log: log}
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = defaultRequestsPerMinute
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLog(log))

	r.Get("/healthz", a.health)

	r.Group(func(r chi.Router) {
		r.Use(bearerAuth(cfg.AuthToken))
		if deps.Metrics != nil {
			r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry, promhttp.HandlerOpts{}))
		}
		if cfg.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
		r.Route("/v1", func(r chi.Router) {
			r.Get("/spool", a.spool)
			r.Get("/events", a.events)
			r.Group(func(r chi.Router) {
				r.Use(rateLimit(rpm))
				r.Post("/forward/{name}", a.forward)
				r.Post("/flush/{name}", a.flush)
			})
		})
	})
	return r
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"status": "ok", "runners": a.deps.Runners.RunnerNames()}
	code := http.StatusOK
	if a.deps.Health != nil {
		extra, err := a.deps.Health()
		if extra != nil {
			body["details"] = extra
		}
		if err != nil {
			body["status"] = "degraded"
			body["error"] = err.Error()
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, body)
}

type spoolEntry struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Summary     string    `json:"summary"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error,omitempty"`
	LastAttempt time.Time `json:"last_attempt,omitzero"`
}

type spoolStatus struct {
	Runner  string       `json:"runner"`
	Pending int          `json:"pending"`
	Oldest  *time.Time   `json:"oldest,omitempty"`
	Entries []spoolEntry `json:"entries"`
	Error   string       `json:"error,omitempty"`
}

func (a *api) spool(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	names := a.deps.Runners.RunnerNames()
	if only := r.URL.Query().Get("runner"); only != "" {
		if _, ok := a.deps.Runners.Runner(only); !ok {
			writeError(w, http.StatusNotFound, fmt.Errorf("unknown runner %s", only))
			return
		}
		names = []string{only}
	}

	out := make([]spoolStatus, 0, len(names))
	for _, name := range names {
		rn, ok := a.deps.Runners.Runner(name)
		if !ok {
			continue
		}
		st := spoolStatus{Runner: name, Entries: []spoolEntry{}}
		entries, err := rn.Pending(r.Context(), 0)
		if err != nil {
			st.Error = err.Error()
			out = append(out, st)
			continue
		}
		st.Pending = len(entries)
		if len(entries) > 0 {
			oldest := entries[0].CreatedAt
			st.Oldest = &oldest
		}
		for i, e := range entries {
			if i >= limit {
				break
			}
			st.Entries = append(st.Entries, spoolEntry{
				ID:          e.ID,
				CreatedAt:   e.CreatedAt,
				Summary:     e.Summary,
				Attempts:    e.Attempts,
				LastError:   e.LastError,
				LastAttempt: e.LastAttempt,
			})
		}
		out = append(out, st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *api) events(w http.ResponseWriter, r *http.Request) {
	n, err := queryInt(r, "n", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if a.deps.Bus == nil {
		writeJSON(w, http.StatusOK, []eventbus.Event{})
		return
	}
	evs := a.deps.Bus.Recent(n)
	if evs == nil {
		evs = []eventbus.Event{}
	}
	writeJSON(w, http.StatusOK, evs)
}

type forwardResponse struct {
	Runner  string `json:"runner"`
	Outcome string `json:"outcome"`
	ID      string `json:"id,omitempty"`
	Summary string `json:"summary,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (a *api) forward(w http.ResponseWriter, r *http.Request) {
	rn, ok := a.runner(w, r)
	if !ok {
		return
	}
	raw, err := decodeEvent(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	res, err := rn.Forward(r.Context(), raw)
	resp := forwardResponse{Runner: rn.Runner(), Outcome: string(res.Outcome), ID: res.ID, Summary: res.Summary}
	code := http.StatusOK
	if res.Outcome == dispatch.Spooled {
		code = http.StatusAccepted
	}
	if err != nil {
		resp.Error = err.Error()
		code = http.StatusBadGateway
		if errors.Is(err, dispatch.ErrIncomplete) {
			code = http.StatusUnprocessableEntity
		}
	} else if res.Cause != nil {
		resp.Error = res.Cause.Error()
	}
	writeJSON(w, code, resp)
}

func (a *api) flush(w http.ResponseWriter, r *http.Request) {
	rn, ok := a.runner(w, r)
	if !ok {
		return
	}
	res, err := rn.Flush(r.Context())
	body := map[string]any{
		"runner":    rn.Runner(),
		"dropped":   res.Dropped,
		"rescued":   res.Rescued,
		"remaining": res.Remaining,
	}
	code := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, spool.ErrLocked), errors.Is(err, dispatch.ErrNoSpool):
		code = http.StatusConflict
	default:
		code = http.StatusBadGateway
	}
	if err != nil {
		body["error"] = err.Error()
	}
	writeJSON(w, code, body)
}

func (a *api) runner(w http.ResponseWriter, r *http.Request) (Runner, bool) {
	name := chi.URLParam(r, "name")
	rn, ok := a.deps.Runners.Runner(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown runner %s", name))
		return nil, false
	}
	return rn, true
}

// decodeEvent reads a flat JSON object. Integral numbers become int64 like
// digit-only --eventopt values do.
func decodeEvent(w http.ResponseWriter, r *http.Request) (event.Raw, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	var in map[string]any
	if err := dec.Decode(&in); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	if len(in) == 0 {
		return nil, errors.New("event is empty")
	}
	for k, v := range in {
		if n, ok := v.(json.Number); ok {
			if i, err := n.Int64(); err == nil {
				in[k] = i
			} else {
				in[k] = n.String()
			}
		}
	}
	return event.Normalize(in), nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func rateLimit(rpm int) func(http.Handler) http.Handler {
	return httprate.Limit(rpm, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, errors.New("rate limit exceeded"))
		}),
	)
}

func requestLog(log logx.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", ww.Status()),
				logx.Duration("took", time.Since(start)),
				logx.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
