package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "notificationforwarder/pkg/logx"
)

const DefaultListen = "127.0.0.1:9118"

// Server serves a handler until its context ends.
type Server struct {
	listen  string
	handler http.Handler
	log     logx.Logger
	tokenOK bool

	mu   sync.Mutex
	addr string
}

func NewServer(listen string, cfg Config, h http.Handler, log logx.Logger) *Server {
	if strings.TrimSpace(listen) == "" {
		listen = DefaultListen
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Server{listen: listen, handler: h, log: log, tokenOK: cfg.AuthToken != ""}
}

// Addr is the bound address once Serve is listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Serve listens and blocks until ctx is cancelled or the server fails.
// Cancellation is a clean stop and returns context.Canceled.
func (s *Server) Serve(ctx context.Context) error {
	if !s.tokenOK && !isLoopbackAddr(s.listen) {
		s.log.Warn("http api listens on a non-loopback address without auth_token", logx.String("addr", s.listen))
	}
	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		if ctx.Err() != nil {
			return context.Canceled
		}
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.log.Info("http api started", logx.String("addr", ln.Addr().String()), logx.Bool("token_set", s.tokenOK))

	runCtx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-runCtx.Done()
		sctx, scancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()

	err = srv.Serve(ln)
	cancel()
	<-stopped
	if ctx.Err() != nil {
		s.log.Info("http api stopped")
		return context.Canceled
	}
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		err = errors.New("http api exited unexpectedly")
	}
	return err
}

// bearerAuth accepts "Authorization: Bearer <token>" or ?token=<token>.
// An empty token disables the check.
func bearerAuth(token string) func(http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	return func(next http.Handler) http.Handler {
		if tok == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				if ah, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
					got = strings.TrimSpace(ah)
				}
			}
			if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(tok)) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				writeError(w, http.StatusUnauthorized, errors.New("unauthorized"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isLoopbackAddr(addr string) bool {
	h, _, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}
	h = strings.TrimSpace(h)
	if h == "" {
		return false
	}
	if strings.EqualFold(h, "localhost") {
		return true
	}
	ip := net.ParseIP(h)
	return ip != nil && ip.IsLoopback()
}
