// Package server exposes the daemon's local control API: live sessions,
// settings and refine history over JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/injector"
	"github.com/hazyhaar/promptify/session"
	"github.com/hazyhaar/promptify/settings"
)

// DefaultAddr is loopback only. The API carries the provider key.
const DefaultAddr = "127.0.0.1:7766"

// maxBody caps request bodies.
const maxBody = 64 << 10

var errForbidden = errors.New("forbidden: the control API only answers local clients")

// SessionSource lists live sessions. *session.Supervisor implements it.
type SessionSource interface {
	Sessions() []*session.Session
	Get(id string) (*session.Session, bool)
}

// HistorySource reads refine events. *history.Log implements it.
type HistorySource interface {
	Query(ctx context.Context, f history.Filter) ([]history.Event, error)
	Counts(ctx context.Context) (map[history.Status]int, error)
}

// Config configures a Server. Sessions and Settings are required.
type Config struct {
	Addr     string
	Sessions SessionSource
	Settings settings.Store
	History  HistorySource
	Logger   *slog.Logger
	// RefineTimeout bounds POST /sessions/{id}/refine, confirmation
	// included. Default: 5m.
	RefineTimeout time.Duration
}

// Server serves the control API.
type Server struct {
	cfg    Config
	logger *slog.Logger
	router chi.Router
}

// New builds the router.
func New(cfg Config) (*Server, error) {
	if cfg.Sessions == nil || cfg.Settings == nil {
		return nil, errors.New("server: Sessions and Settings are required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if err := checkLoopback(cfg.Addr); err != nil {
		return nil, err
	}
	if cfg.RefineTimeout <= 0 {
		cfg.RefineTimeout = 5 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: cfg.Logger}
	s.router = s.routes()
	return s, nil
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(apiHeaders)
	r.Use(localOnly)
	r.Use(maxBodyBytes(maxBody))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.handleSessions)
		r.Get("/{id}", s.handleSession)
		r.Post("/{id}/refine", s.handleRefine)
	})

	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handlePutSettings)

	r.Group(func(r chi.Router) {
		r.Use(s.requireHistory)
		r.Get("/history", s.handleHistory)
		r.Get("/history/counts", s.handleCounts)
	})
	return r
}

// ListenAndServe serves on Addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("server: listen %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	s.logger.Info("server: listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("server: request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func (s *Server) requireHistory(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.History == nil {
			writeError(w, http.StatusServiceUnavailable, errors.New("history disabled"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := s.cfg.Sessions.Sessions()
	out := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sess.Info())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	writeJSON(w, http.StatusOK, sess.Info())
}

// refineResult is the JSON form of a flow result.
type refineResult struct {
	Kind     string `json:"kind"`
	Status   string `json:"status,omitempty"`
	Strategy string `json:"strategy,omitempty"`
	Text     string `json:"text,omitempty"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleRefine(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.cfg.Sessions.Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("session not found"))
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RefineTimeout)
	defer cancel()

	res, err := sess.Refine(ctx)
	switch {
	case errors.Is(err, session.ErrNoTarget):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, injector.ErrBusy):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := refineResult{
		Kind:     string(res.Kind),
		Status:   string(res.Outcome.Status),
		Strategy: string(res.Outcome.Strategy),
		Text:     res.Text,
		Duration: res.Duration.String(),
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	cur, err := settings.Effective(r.Context(), s.cfg.Settings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cur.Redacted())
}

// handlePutSettings merges a partial record into the stored one. Keys
// absent from the body keep their stored value.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var patch map[string]string
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}
	stored, err := s.cfg.Settings.Load(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	next := stored
	for k, v := range patch {
		if next, err = next.With(k, v); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if err := next.Resolve().Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.cfg.Settings.Save(r.Context(), next); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("server: settings updated", "keys", len(patch))
	writeJSON(w, http.StatusOK, next.Resolve().Redacted())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := history.Filter{
		Status:     history.Status(q.Get("status")),
		PlatformID: q.Get("platform"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, errors.New("limit must be 1..1000"))
			return
		}
		f.Limit = n
	}
	if v := q.Get("since"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("since: %w", err))
			return
		}
		f.Since = time.Now().Add(-d)
	}
	events, err := s.cfg.History.Query(r.Context(), f)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if events == nil {
		events = []history.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.cfg.History.Counts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// checkLoopback rejects non-loopback listen addresses.
func checkLoopback(addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("server: addr %q: %w", addr, err)
	}
	if !loopbackHost(addr) {
		return fmt.Errorf("server: addr %q is not loopback", addr)
	}
	return nil
}
