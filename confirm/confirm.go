// Package confirm asks the user to approve a rewritten prompt before it
// replaces the draft.
//
// Every Gate shows the candidate in an editable field. Approval returns
// the (possibly edited) text; cancellation returns ok=false and the caller
// must leave the page untouched.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/promptify/internal/idgen"
)

// Gate obtains an explicit decision on candidate.
type Gate interface {
	Confirm(ctx context.Context, candidate string) (text string, ok bool, err error)
}

// GateFunc adapts a function to Gate.
type GateFunc func(ctx context.Context, candidate string) (string, bool, error)

func (f GateFunc) Confirm(ctx context.Context, candidate string) (string, bool, error) {
	return f(ctx, candidate)
}

// ModalHost renders and removes the confirmation dialog inside a page.
type ModalHost interface {
	OpenModal(id, text string) error
	CloseModal(id string) error
}

// Reply is the page's answer to an open modal.
type Reply struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
	Text     string `json:"text"`
}

// ErrNoModal is returned by Resolve for an id with no pending modal.
var ErrNoModal = errors.New("confirm: no pending modal")

// PageGate shows the candidate in a modal rendered in the host page and
// waits for the reply routed back through Resolve.
type PageGate struct {
	host   ModalHost
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]chan Reply
}

// PageOption configures a PageGate.
type PageOption func(*PageGate)

// WithIDs replaces the modal id generator.
func WithIDs(gen idgen.Generator) PageOption { return func(g *PageGate) { g.ids = gen } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PageOption { return func(g *PageGate) { g.logger = l } }

// NewPageGate returns a gate rendering into host.
func NewPageGate(host ModalHost, opts ...PageOption) *PageGate {
	g := &PageGate{
		host:    host,
		ids:     idgen.Prefixed("mdl_", idgen.NanoID(10)),
		logger:  slog.Default(),
		pending: make(map[string]chan Reply),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Confirm opens a modal and blocks until the user answers or ctx ends.
// There is no internal timeout.
func (g *PageGate) Confirm(ctx context.Context, candidate string) (string, bool, error) {
	id := g.ids()
	ch := make(chan Reply, 1)
	g.mu.Lock()
	g.pending[id] = ch
	g.mu.Unlock()
	defer func() {
		g.mu.Lock()
		delete(g.pending, id)
		g.mu.Unlock()
	}()

	if err := g.host.OpenModal(id, candidate); err != nil {
		return "", false, fmt.Errorf("confirm: open modal: %w", err)
	}
	g.logger.Debug("confirm: modal open", "modal", id)

	select {
	case r := <-ch:
		g.close(id)
		if !r.Accepted {
			g.logger.Info("confirm: cancelled by user", "modal", id)
			return "", false, nil
		}
		return r.Text, true, nil
	case <-ctx.Done():
		g.close(id)
		return "", false, ctx.Err()
	}
}

// Resolve delivers a reply from the page.
func (g *PageGate) Resolve(r Reply) error {
	g.mu.Lock()
	ch, ok := g.pending[r.ID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoModal, r.ID)
	}
	select {
	case ch <- r:
	default:
		// Already answered.
	}
	return nil
}

// CancelAll answers every open modal with a cancellation. A new document
// discards the rendered modals, so their replies will never arrive.
func (g *PageGate) CancelAll() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for id, ch := range g.pending {
		select {
		case ch <- Reply{ID: id}:
			n++
		default:
		}
	}
	return n
}

// Pending lists the ids of open modals.
func (g *PageGate) Pending() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.pending))
	for id := range g.pending {
		out = append(out, id)
	}
	return out
}

func (g *PageGate) close(id string) {
	if err := g.host.CloseModal(id); err != nil {
		g.logger.Debug("confirm: close modal", "modal", id, "error", err)
	}
}
