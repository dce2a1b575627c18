package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// Flow runs an interactive browser login: it listens on a local address,
// points the user at the cloud login page with a redirect back to the
// listener, and stores the session delivered on the callback.
type Flow struct {
	api   string
	addr  string
	store *Store
	reg   *prometheus.Registry
	log   zerolog.Logger
}

// NewFlow wires a login flow. reg may be nil; when set, the listener also
// serves /metrics while it is up.
func NewFlow(api, addr string, store *Store, reg *prometheus.Registry, log zerolog.Logger) *Flow {
	return &Flow{
		api:   api,
		addr:  addr,
		store: store,
		reg:   reg,
		log:   log.With().Str("component", "auth").Logger(),
	}
}

// loginURL is the page the user opens in a browser to authorize this machine.
// addr is the bound listener address, so an ":0" configuration still yields
// the real port.
func (f *Flow) loginURL(state, addr string) string {
	port := addr
	if _, p, err := net.SplitHostPort(addr); err == nil {
		port = p
	}
	return fmt.Sprintf("%s/login/device?port=%s&state=%s", f.api, port, state)
}

// Run starts the callback listener and blocks until the callback arrives, the
// context is cancelled, or the server fails. opened is called once the
// listener is up, with the URL the user must visit. On success the received
// session is persisted and returned.
func (f *Flow) Run(ctx context.Context, opened func(loginURL string)) (*Session, error) {
	state := uuid.NewString()

	type result struct {
		session *Session
		err     error
	}
	done := make(chan result, 1)

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(recoverer)
	r.Use(logger(f.log))
	if f.reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(f.reg, promhttp.HandlerOpts{}))
	}
	r.Get("/callback", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "state mismatch", http.StatusForbidden)
			return
		}
		s := &Session{
			AccessToken:  q.Get("access_token"),
			RefreshToken: q.Get("refresh_token"),
			UserID:       q.Get("user_id"),
			Email:        q.Get("email"),
		}
		if exp := q.Get("expires_at"); exp != "" {
			t, err := time.Parse(time.RFC3339, exp)
			if err != nil {
				http.Error(w, "bad expires_at", http.StatusBadRequest)
				return
			}
			s.ExpiresAt = t
		}
		if s.AccessToken == "" || s.UserID == "" {
			http.Error(w, "missing access_token or user_id", http.StatusBadRequest)
			return
		}
		if err := f.store.Save(s); err != nil {
			http.Error(w, "could not store session", http.StatusInternalServerError)
			done <- result{err: err}
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body>Signed in. You can close this tab.</body></html>")
		done <- result{session: s}
	})

	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return nil, fmt.Errorf("callback listener: %w", err)
	}

	srv := &http.Server{
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	f.log.Info().Str("addr", ln.Addr().String()).Msg("waiting for login callback")
	if opened != nil {
		opened(f.loginURL(state, ln.Addr().String()))
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-serveErr:
		return nil, fmt.Errorf("callback listener: %w", err)
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		f.log.Info().Str("user_id", res.session.UserID).Msg("session stored")
		return res.session, nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			b := make([]byte, 8)
			rand.Read(b)
			id = hex.EncodeToString(b)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func logger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		h := hlog.NewHandler(log)
		accessLog := hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Dur("duration_ms", dur).
				Msg("request")
		})
		return h(accessLog(next))
	}
}

func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rv := recover(); rv != nil {
				hlog.FromRequest(r).Error().Interface("panic", rv).Msg("recovered from panic")
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
