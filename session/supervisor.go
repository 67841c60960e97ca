package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/promptify/browser"
	"github.com/hazyhaar/promptify/platform"
)

// TargetLister lists open tabs. *browser.Manager implements it.
type TargetLister interface {
	Targets(ctx context.Context) ([]browser.Target, error)
}

// PageSource resolves a tab to its rod page. *browser.Manager implements it.
type PageSource interface {
	Page(ctx context.Context, id string) (*rod.Page, error)
}

// AttachFunc starts a session for tab t matched by d.
type AttachFunc func(ctx context.Context, t browser.Target, d *platform.Descriptor) (*Session, error)

// RodAttacher returns an AttachFunc that attaches to live tabs. base is
// copied for every session; Document, Descriptor and ID are filled in.
func RodAttacher(src PageSource, base Config) AttachFunc {
	return func(ctx context.Context, t browser.Target, d *platform.Descriptor) (*Session, error) {
		page, err := src.Page(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		cfg := base
		cfg.ID = ""
		cfg.Descriptor = d
		return Attach(ctx, page, t.URL, cfg)
	}
}

// SupervisorConfig configures a Supervisor.
type SupervisorConfig struct {
	Registry *platform.Registry
	Targets  TargetLister
	Attach   AttachFunc
	// Interval between tab scans. Default: 2s.
	Interval time.Duration
	Logger   *slog.Logger
}

// Supervisor keeps one session per tab whose URL matches a descriptor.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger

	mu       sync.Mutex
	byTarget map[string]*Session
	byID     map[string]*Session
	platform map[string]string // target id -> descriptor id
}

// NewSupervisor returns a Supervisor.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Supervisor{
		cfg:      cfg,
		logger:   cfg.Logger,
		byTarget: make(map[string]*Session),
		byID:     make(map[string]*Session),
		platform: make(map[string]string),
	}
}

// Sync reconciles sessions with the open tabs: new matching tabs get a
// session, tabs that closed or left their platform lose theirs.
func (s *Supervisor) Sync(ctx context.Context) error {
	targets, err := s.cfg.Targets.Targets(ctx)
	if err != nil {
		return fmt.Errorf("session: sync: %w", err)
	}

	var stale []*Session
	seen := make(map[string]bool, len(targets))
	var attach []struct {
		t browser.Target
		d *platform.Descriptor
	}

	s.mu.Lock()
	for _, t := range targets {
		d, ok := s.cfg.Registry.Identify(t.URL)
		cur, exists := s.byTarget[t.ID]
		if exists && (!ok || s.platform[t.ID] != d.ID) {
			stale = append(stale, cur)
			s.forgetLocked(t.ID, cur)
			exists = false
		}
		if !ok {
			continue
		}
		seen[t.ID] = true
		if !exists {
			attach = append(attach, struct {
				t browser.Target
				d *platform.Descriptor
			}{t, d})
		}
	}
	for id, sess := range s.byTarget {
		if !seen[id] {
			stale = append(stale, sess)
			s.forgetLocked(id, sess)
		}
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Stop()
	}

	for _, a := range attach {
		sess, err := s.cfg.Attach(ctx, a.t, a.d)
		if err != nil {
			s.logger.Warn("session: attach failed", "target", a.t.ID, "url", a.t.URL, "error", err)
			continue
		}
		s.mu.Lock()
		s.byTarget[a.t.ID] = sess
		s.byID[sess.ID()] = sess
		s.platform[a.t.ID] = a.d.ID
		s.mu.Unlock()
		s.logger.Info("session: attached", "target", a.t.ID, "url", a.t.URL, "platform", a.d.ID, "session", sess.ID())
	}
	return nil
}

// Run syncs every Interval until ctx ends, then stops all sessions.
func (s *Supervisor) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	defer s.StopAll()

	if err := s.Sync(ctx); err != nil {
		s.logger.Warn("session: initial sync", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Sync(ctx); err != nil {
				s.logger.Warn("session: sync", "error", err)
			}
		}
	}
}

// Get returns the session with id.
func (s *Supervisor) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.byID[id]
	return sess, ok
}

// Sessions lists the live sessions ordered by id.
func (s *Supervisor) Sessions() []*Session {
	s.mu.Lock()
	out := make([]*Session, 0, len(s.byID))
	for _, sess := range s.byID {
		out = append(out, sess)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// StopAll stops every session.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	all := make([]*Session, 0, len(s.byID))
	for id, sess := range s.byTarget {
		all = append(all, sess)
		s.forgetLocked(id, sess)
	}
	s.mu.Unlock()
	for _, sess := range all {
		sess.Stop()
	}
}

func (s *Supervisor) forgetLocked(targetID string, sess *Session) {
	delete(s.byTarget, targetID)
	delete(s.byID, sess.ID())
	delete(s.platform, targetID)
}
