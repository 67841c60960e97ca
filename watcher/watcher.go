// Package watcher keeps a trigger attached to a page's input for the life
// of the page.
//
// The watcher starts Idle and moves to Watching once it is started for a
// page whose origin matched a descriptor. Change signals from the page are
// folded into batches; after a batch the input is located and, when it
// carries no trigger yet, handed to the injector. Batches made only of
// text changes cannot create or replace an element, so they are skipped
// while a live trigger exists. Batches arriving while an injection is in
// flight are skipped too and answered by a single pass once it settles.
// The watcher never goes back to Idle: host pages re-render their
// composer at will and the trigger has to follow.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/injector"
	"github.com/hazyhaar/promptify/locator"
	"github.com/hazyhaar/promptify/platform"
)

// State of a Watcher.
type State int32

const (
	Idle State = iota
	Watching
)

func (s State) String() string {
	if s == Watching {
		return "watching"
	}
	return "idle"
}

var (
	// ErrNoDescriptor is returned by Start when the page matched no descriptor.
	ErrNoDescriptor = errors.New("watcher: page matched no descriptor")
	// ErrStarted is returned by a second Start.
	ErrStarted = errors.New("watcher: already watching")
)

// Stats are cumulative counters.
type Stats struct {
	Records    int64 `json:"records"`
	Dropped    int64 `json:"dropped"`
	Batches    int64 `json:"batches"`
	Skipped    int64 `json:"skipped"`
	Hits       int64 `json:"hits"`
	Injections int64 `json:"injections"`
	Failures   int64 `json:"failures"`
}

// Config configures a Watcher.
type Config struct {
	Document   dom.Document
	Descriptor *platform.Descriptor
	Locator    *locator.Locator
	Injector   *injector.Injector
	// OnTrigger is installed on every trigger the watcher creates.
	OnTrigger injector.Handler

	// Window is the debounce window. Default: 100ms.
	Window time.Duration
	// MaxBuffer flushes a batch early once this many records are queued. Default: 500.
	MaxBuffer int
	Logger    *slog.Logger
}

// Watcher drives locate and inject for one page.
type Watcher struct {
	cfg    Config
	logger *slog.Logger
	state  atomic.Int32

	in      chan Record
	settled chan string
	done    chan struct{}
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup

	// Owned by the loop goroutine.
	co       *coalescer
	inflight string
	rescan   bool
	lost     int64

	records, dropped, batches, skipped, hits, injections, failures atomic.Int64
}

// New returns an Idle watcher.
func New(cfg Config) *Watcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Locator == nil {
		cfg.Locator = locator.New(locator.Config{Logger: cfg.Logger})
	}
	if cfg.Injector == nil {
		cfg.Injector = injector.New(injector.Config{Descriptor: cfg.Descriptor, Logger: cfg.Logger})
	}
	w := &Watcher{
		cfg:     cfg,
		logger:  cfg.Logger,
		in:      make(chan Record, 1024),
		settled: make(chan string, 16),
		done:    make(chan struct{}),
	}
	w.co = newCoalescer(cfg.Window, cfg.MaxBuffer, w.onBatch)
	return w
}

// State returns the current state.
func (w *Watcher) State() State { return State(w.state.Load()) }

// Injector returns the injector the watcher feeds.
func (w *Watcher) Injector() *injector.Injector { return w.cfg.Injector }

// Start moves the watcher to Watching and runs its loop until ctx is
// cancelled or Stop is called. An initial locate pass is queued so an input
// already present gets its trigger without waiting for a mutation.
func (w *Watcher) Start(ctx context.Context) error {
	if w.cfg.Descriptor == nil || w.cfg.Document == nil {
		return ErrNoDescriptor
	}
	if !w.state.CompareAndSwap(int32(Idle), int32(Watching)) {
		return ErrStarted
	}
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.logger.Info("watcher: watching", "origin", w.cfg.Document.Origin(), "platform", w.cfg.Descriptor.ID)
	go w.loop()
	w.Notify(Record{Op: OpScan})
	return nil
}

// Notify queues mutation signals. It never blocks: when the queue is full
// the record is dropped and the next batch is handled as structural.
func (w *Watcher) Notify(recs ...Record) {
	for _, r := range recs {
		select {
		case w.in <- r:
		default:
			w.dropped.Add(1)
		}
	}
}

// Stop ends the loop and waits for in-flight injections.
func (w *Watcher) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}

// Done is closed when the loop has exited.
func (w *Watcher) Done() <-chan struct{} { return w.done }

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Records:    w.records.Load(),
		Dropped:    w.dropped.Load(),
		Batches:    w.batches.Load(),
		Skipped:    w.skipped.Load(),
		Hits:       w.hits.Load(),
		Injections: w.injections.Load(),
		Failures:   w.failures.Load(),
	}
}

func (w *Watcher) loop() {
	defer close(w.done)
	defer w.wg.Wait()
	for {
		select {
		case <-w.ctx.Done():
			return
		case rec := <-w.in:
			w.records.Add(1)
			w.co.add(rec.Op)
		case <-w.co.C():
			w.co.flush()
		case <-w.settled:
			w.inflight = ""
			if w.rescan {
				w.rescan = false
				w.co.add(OpScan)
			}
		}
	}
}

func (w *Watcher) onBatch(b batch) {
	w.batches.Add(1)
	if w.inflight != "" {
		w.rescan = true
		w.skipped.Add(1)
		w.logger.Debug("watcher: batch deferred, injection in flight", "target", w.inflight, "signals", b.size)
		return
	}
	if n := w.cfg.Injector.Prune(); n > 0 {
		w.logger.Debug("watcher: pruned stale triggers", "count", n)
	}
	// A dropped signal may have been structural.
	if d := w.dropped.Load(); d != w.lost {
		w.lost = d
		b.textOnly = false
	}
	if b.textOnly && len(w.cfg.Injector.Triggers()) > 0 {
		w.skipped.Add(1)
		return
	}

	el, ok := w.cfg.Locator.Locate(w.cfg.Document, w.cfg.Descriptor)
	if !ok {
		return
	}
	w.hits.Add(1)
	if w.cfg.Injector.Has(el) {
		return
	}
	w.inflight = el.ID()
	w.wg.Add(1)
	go w.inject(el)
}

func (w *Watcher) inject(el dom.Element) {
	defer w.wg.Done()
	id := el.ID()
	if _, err := w.cfg.Injector.Inject(el, w.cfg.OnTrigger); err != nil {
		w.failures.Add(1)
		w.logger.Warn("watcher: inject failed", "target", id, "error", err)
	} else {
		w.injections.Add(1)
	}
	select {
	case w.settled <- id:
	case <-w.ctx.Done():
	}
}
