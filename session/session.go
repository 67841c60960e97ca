// Package session binds the refine machinery to one browser tab.
//
// A Session owns the watcher, injector, confirmation gate and flow for the
// tab. The page script reports through a single runtime binding; each call
// carries a JSON message whose kind selects the route:
//
//	mutations  -> watcher.Notify
//	navigate   -> origin update + locate pass
//	shadow     -> locate pass
//	ready      -> origin update + locate pass, open modals cancelled
//	trigger    -> injector.Activate, on its own goroutine
//	modal      -> PageGate.Resolve
//
// Messages are decoded by Deliver and handled on the session's loop
// goroutine in arrival order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/promptify/adapter"
	"github.com/hazyhaar/promptify/confirm"
	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/flow"
	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/injector"
	"github.com/hazyhaar/promptify/internal/idgen"
	"github.com/hazyhaar/promptify/locator"
	"github.com/hazyhaar/promptify/platform"
	"github.com/hazyhaar/promptify/watcher"
)

var (
	// ErrNoTarget is returned by Refine when the page has no input.
	ErrNoTarget = errors.New("session: no input on page")
	// ErrClosed is returned by Deliver after Stop.
	ErrClosed = errors.New("session: closed")
	// ErrQueueFull is returned by Deliver when the loop is behind.
	ErrQueueFull = errors.New("session: event queue full")
)

// Kinds of page messages.
const (
	KindMutations = "mutations"
	KindNavigate  = "navigate"
	KindShadow    = "shadow"
	KindReady     = "ready"
	KindTrigger   = "trigger"
	KindModal     = "modal"
)

// Message is the envelope the page script sends.
type Message struct {
	Kind     string           `json:"kind"`
	URL      string           `json:"url,omitempty"`
	ID       string           `json:"id,omitempty"`
	Accepted bool             `json:"accepted,omitempty"`
	Text     string           `json:"text,omitempty"`
	Records  []watcher.Record `json:"records,omitempty"`
}

// Info is a read-only view of a session.
type Info struct {
	ID         string        `json:"id"`
	URL        string        `json:"url"`
	PlatformID string        `json:"platform_id"`
	State      string        `json:"state"`
	Triggers   int           `json:"triggers"`
	Started    time.Time     `json:"started"`
	Stats      watcher.Stats `json:"stats"`
	Dropped    int64         `json:"dropped_messages"`
}

// Config configures a Session.
type Config struct {
	ID         string
	Document   dom.Document
	Descriptor *platform.Descriptor
	Locator    *locator.Locator
	Relay      flow.Sender
	Writer     *adapter.Writer
	History    history.Recorder
	// Gate overrides the in-page modal. Modal replies are then ignored.
	Gate confirm.Gate
	// Modals renders the in-page modal. Defaults to Document when it
	// implements confirm.ModalHost.
	Modals confirm.ModalHost

	Window    time.Duration
	MaxBuffer int
	Logger    *slog.Logger
}

// Session is one watched tab.
type Session struct {
	id      string
	doc     dom.Document
	desc    *platform.Descriptor
	loc     *locator.Locator
	inj     *injector.Injector
	watch   *watcher.Watcher
	page    *confirm.PageGate
	flow    *flow.Flow
	logger  *slog.Logger
	started time.Time

	setOrigin func(string)

	ctx    context.Context
	cancel context.CancelFunc
	events chan Message
	done   chan struct{}
	wg     sync.WaitGroup

	dropped atomic.Int64
	closed  atomic.Bool

	mu   sync.Mutex
	last flow.Result
}

// New assembles a Session. Start runs it.
func New(cfg Config) (*Session, error) {
	if cfg.Document == nil || cfg.Descriptor == nil {
		return nil, fmt.Errorf("session: document and descriptor are required")
	}
	if cfg.ID == "" {
		cfg.ID = idgen.Prefixed("ses_", idgen.NanoID(8))()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("session", cfg.ID)
	if cfg.Locator == nil {
		cfg.Locator = locator.New(locator.Config{Logger: logger})
	}
	if cfg.History == nil {
		cfg.History = history.Discard{}
	}

	s := &Session{
		id:     cfg.ID,
		doc:    cfg.Document,
		desc:   cfg.Descriptor,
		loc:    cfg.Locator,
		logger: logger,
		events: make(chan Message, 256),
		done:   make(chan struct{}),
	}
	if o, ok := cfg.Document.(interface{ SetOrigin(string) }); ok {
		s.setOrigin = o.SetOrigin
	}

	gate := cfg.Gate
	if gate == nil {
		host := cfg.Modals
		if host == nil {
			h, ok := cfg.Document.(confirm.ModalHost)
			if !ok {
				return nil, fmt.Errorf("session: document cannot render a modal and no gate was given")
			}
			host = h
		}
		s.page = confirm.NewPageGate(host, confirm.WithLogger(logger))
		gate = s.page
	}

	f, err := flow.New(flow.Config{
		Relay:     cfg.Relay,
		Gate:      gate,
		Writer:    cfg.Writer,
		Locator:   cfg.Locator,
		History:   cfg.History,
		SessionID: cfg.ID,
		Logger:    logger,
	})
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	s.flow = f

	s.inj = injector.New(injector.Config{Descriptor: cfg.Descriptor, Logger: logger})
	s.watch = watcher.New(watcher.Config{
		Document:   cfg.Document,
		Descriptor: cfg.Descriptor,
		Locator:    cfg.Locator,
		Injector:   s.inj,
		OnTrigger:  s.onTrigger,
		Window:     cfg.Window,
		MaxBuffer:  cfg.MaxBuffer,
		Logger:     logger,
	})
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// Document returns the page document.
func (s *Session) Document() dom.Document { return s.doc }

// Start begins watching and processing page messages.
func (s *Session) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	if err := s.watch.Start(s.ctx); err != nil {
		s.cancel()
		return fmt.Errorf("session: %w", err)
	}
	s.started = time.Now()
	go s.loop()
	s.logger.Info("session: started", "url", s.doc.Origin(), "platform", s.desc.ID)
	return nil
}

// Stop ends the session and waits for running flows.
func (s *Session) Stop() {
	if !s.closed.CompareAndSwap(false, true) || s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.watch.Stop()
	s.wg.Wait()
	s.logger.Info("session: stopped")
}

// Done is closed when the loop exits.
func (s *Session) Done() <-chan struct{} { return s.done }

// Deliver decodes a binding payload and queues it. It never blocks.
func (s *Session) Deliver(payload string) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var m Message
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return fmt.Errorf("session: decode message: %w", err)
	}
	select {
	case s.events <- m:
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// Refine runs the flow as if the user clicked the trigger of the current
// input. It waits for the flow, including the confirmation.
func (s *Session) Refine(ctx context.Context) (flow.Result, error) {
	el, ok := s.loc.Locate(s.doc, s.desc)
	if !ok {
		return flow.Result{Kind: flow.KindLocateFailure}, ErrNoTarget
	}
	t, err := s.inj.Inject(el, s.onTrigger)
	if err != nil {
		return flow.Result{}, fmt.Errorf("session: inject: %w", err)
	}
	if err := s.inj.Activate(ctx, t.ID); err != nil {
		return flow.Result{}, fmt.Errorf("session: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, nil
}

// Info describes the session.
func (s *Session) Info() Info {
	return Info{
		ID:         s.id,
		URL:        s.doc.Origin(),
		PlatformID: s.desc.ID,
		State:      s.watch.State().String(),
		Triggers:   len(s.inj.Triggers()),
		Started:    s.started,
		Stats:      s.watch.Stats(),
		Dropped:    s.dropped.Load(),
	}
}

func (s *Session) onTrigger(ctx context.Context, t *injector.Trigger) {
	res := s.flow.Run(ctx, flow.Target{Element: t.Target, Descriptor: s.desc, Document: s.doc, Trigger: t})
	s.mu.Lock()
	s.last = res
	s.mu.Unlock()
}

func (s *Session) loop() {
	defer close(s.done)
	for {
		select {
		case <-s.ctx.Done():
			return
		case m := <-s.events:
			s.handle(m)
		}
	}
}

func (s *Session) handle(m Message) {
	switch m.Kind {
	case KindMutations:
		s.watch.Notify(m.Records...)
	case KindNavigate, KindReady:
		if m.URL != "" && s.setOrigin != nil {
			s.setOrigin(m.URL)
		}
		op := watcher.OpNavigate
		if m.Kind == KindReady {
			op = watcher.OpScan
			if s.page != nil {
				if n := s.page.CancelAll(); n > 0 {
					s.logger.Info("session: modals dropped by reload", "count", n)
				}
			}
		}
		s.logger.Debug("session: page changed", "kind", m.Kind, "url", m.URL)
		s.watch.Notify(watcher.Record{Op: op})
	case KindShadow:
		s.watch.Notify(watcher.Record{Op: watcher.OpShadow})
	case KindTrigger:
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.inj.Activate(s.ctx, m.ID); err != nil {
				s.logger.Debug("session: trigger", "trigger", m.ID, "error", err)
			}
		}()
	case KindModal:
		if s.page == nil {
			return
		}
		if err := s.page.Resolve(confirm.Reply{ID: m.ID, Accepted: m.Accepted, Text: m.Text}); err != nil {
			s.logger.Debug("session: modal reply", "modal", m.ID, "error", err)
		}
	default:
		s.logger.Warn("session: unknown message", "kind", m.Kind)
	}
}
