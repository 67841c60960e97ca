// Package injector places the refine trigger next to a located input.
//
// Injection is idempotent per target element: repeated calls for the same
// element return the existing trigger while both the trigger and its target
// are still attached. A trigger whose target vanished is removed and
// replaced on the next call.
package injector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/internal/idgen"
	"github.com/hazyhaar/promptify/platform"
)

const (
	// LabelIdle is the trigger text while no request is running.
	LabelIdle = "Refine"
	// LabelBusy is shown while the rewriting service is being called.
	LabelBusy = "⏳ Refining..."

	// maxAnchorHops bounds the upward search for a send button.
	maxAnchorHops = 10
)

var (
	// ErrNoAnchor is returned when the target has no parent to host a trigger.
	ErrNoAnchor = errors.New("injector: no anchor for trigger")
	// ErrUnknownTrigger is returned by Activate for an id it never issued.
	ErrUnknownTrigger = errors.New("injector: unknown trigger")
	// ErrBusy is returned by Activate while the trigger's handler is running.
	ErrBusy = errors.New("injector: trigger busy")
)

// Handler runs when a trigger is activated.
type Handler func(ctx context.Context, t *Trigger)

// Trigger is one injected button and the element it acts on.
type Trigger struct {
	ID     string
	Target dom.Element
	Button dom.Element

	handler Handler

	mu      sync.Mutex
	running bool
	busy    bool
}

// Busy reports whether the trigger shows the busy label.
func (t *Trigger) Busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busy
}

// SetBusy switches the button between its idle and busy label and
// disables it while busy.
func (t *Trigger) SetBusy(busy bool) error {
	t.mu.Lock()
	t.busy = busy
	t.mu.Unlock()

	label := LabelIdle
	if busy {
		label = LabelBusy
		if err := t.Button.SetAttribute("disabled", ""); err != nil {
			return fmt.Errorf("injector: set busy: %w", err)
		}
	} else if err := t.Button.RemoveAttribute("disabled"); err != nil {
		return fmt.Errorf("injector: clear busy: %w", err)
	}
	if err := t.Button.ReplaceContent(label); err != nil {
		return fmt.Errorf("injector: relabel: %w", err)
	}
	return nil
}

// live reports whether both the button and the target are attached.
func (t *Trigger) live() bool {
	return t.Button.Connected() && t.Target.Connected()
}

func (t *Trigger) acquire() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running || t.busy {
		return false
	}
	t.running = true
	return true
}

func (t *Trigger) release() {
	t.mu.Lock()
	t.running = false
	t.mu.Unlock()
}

// Config configures an Injector.
type Config struct {
	Descriptor *platform.Descriptor
	IDs        idgen.Generator
	Logger     *slog.Logger
}

// Injector owns the triggers of one page.
type Injector struct {
	desc   *platform.Descriptor
	ids    idgen.Generator
	logger *slog.Logger

	mu       sync.Mutex
	byTarget map[string]*Trigger
	byID     map[string]*Trigger
}

// New returns an Injector for pages matching cfg.Descriptor.
func New(cfg Config) *Injector {
	if cfg.IDs == nil {
		cfg.IDs = idgen.Prefixed("trg_", idgen.NanoID(10))
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Descriptor == nil {
		cfg.Descriptor = &platform.Descriptor{}
	}
	return &Injector{
		desc:     cfg.Descriptor,
		ids:      cfg.IDs,
		logger:   cfg.Logger,
		byTarget: make(map[string]*Trigger),
		byID:     make(map[string]*Trigger),
	}
}

// Has reports whether el already carries a live trigger.
func (i *Injector) Has(el dom.Element) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.byTarget[el.ID()]
	return ok && t.live()
}

// Get returns the trigger issued under id.
func (i *Injector) Get(id string) (*Trigger, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	t, ok := i.byID[id]
	return t, ok
}

// Triggers lists the live triggers.
func (i *Injector) Triggers() []*Trigger {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*Trigger, 0, len(i.byID))
	for _, t := range i.byID {
		if t.live() {
			out = append(out, t)
		}
	}
	return out
}

// Inject returns the trigger for el, creating it if needed.
func (i *Injector) Inject(el dom.Element, onTrigger Handler) (*Trigger, error) {
	if !el.Connected() {
		return nil, dom.ErrDetached
	}
	i.mu.Lock()
	defer i.mu.Unlock()

	if t, ok := i.byTarget[el.ID()]; ok {
		if t.live() {
			return t, nil
		}
		i.dropLocked(t)
	}

	anchor, err := i.Anchor(el)
	if err != nil {
		return nil, err
	}

	// A page script re-install can leave our own button behind.
	if btn, ok := i.existingButton(anchor, el); ok {
		id, _ := btn.Attribute(dom.AttrTrigger)
		t := &Trigger{ID: id, Target: el, Button: btn, handler: onTrigger}
		i.byTarget[el.ID()] = t
		i.byID[id] = t
		return t, nil
	}

	id := i.ids()
	btn, err := anchor.AppendTrigger(dom.TriggerSpec{ID: id, Label: LabelIdle, For: el.ID()})
	if err != nil {
		return nil, fmt.Errorf("injector: append trigger: %w", err)
	}
	t := &Trigger{ID: id, Target: el, Button: btn, handler: onTrigger}
	i.byTarget[el.ID()] = t
	i.byID[id] = t
	i.logger.Info("injector: trigger injected", "trigger", id, "target", el.ID(), "anchor", anchor.Tag())
	return t, nil
}

// Activate runs the handler of trigger id. A trigger whose handler is
// still running, or which is busy, ignores the activation with ErrBusy.
func (i *Injector) Activate(ctx context.Context, id string) error {
	i.mu.Lock()
	t, ok := i.byID[id]
	i.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTrigger, id)
	}
	if !t.acquire() {
		i.logger.Debug("injector: activation ignored", "trigger", id)
		return ErrBusy
	}
	defer t.release()
	if t.handler != nil {
		t.handler(ctx, t)
	}
	return nil
}

// Prune forgets triggers whose target was detached and removes their
// buttons if still attached. It returns the number removed.
func (i *Injector) Prune() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	n := 0
	for _, t := range i.byID {
		if !t.Target.Connected() {
			i.dropLocked(t)
			n++
		}
	}
	return n
}

func (i *Injector) dropLocked(t *Trigger) {
	if t.Button.Connected() {
		if err := t.Button.Remove(); err != nil {
			i.logger.Debug("injector: remove stale trigger", "trigger", t.ID, "error", err)
		}
	}
	delete(i.byID, t.ID)
	if cur, ok := i.byTarget[t.Target.ID()]; ok && cur == t {
		delete(i.byTarget, t.Target.ID())
	}
}

// Anchor chooses the element the trigger is appended to: the closest
// container matching the descriptor, else the nearest of up to ten
// ancestors that contains a send button (never body), else the parent.
func (i *Injector) Anchor(el dom.Element) (dom.Element, error) {
	if sel := i.desc.ContainerSelector; sel != "" {
		if c, ok := el.Closest(sel); ok && !dom.Same(c, el) {
			return c, nil
		}
	}
	parent, ok := el.Parent()
	if !ok {
		return nil, ErrNoAnchor
	}
	submit := i.desc.SubmitSelectors
	if len(submit) == 0 {
		submit = platform.DefaultSubmitSelectors
	}
	c := parent
	for hops := 0; hops < maxAnchorHops && c != nil; hops++ {
		if c.Tag() == "body" {
			break
		}
		if containsAny(c, submit) {
			return c, nil
		}
		next, ok := c.Parent()
		if !ok {
			break
		}
		c = next
	}
	return parent, nil
}

func (i *Injector) existingButton(anchor, el dom.Element) (dom.Element, bool) {
	sel := fmt.Sprintf("[%s=%q]", dom.AttrTriggerFor, el.ID())
	els, err := anchor.QueryAll(sel)
	if err != nil || len(els) == 0 {
		return nil, false
	}
	if _, ok := els[0].Attribute(dom.AttrTrigger); !ok {
		return nil, false
	}
	return els[0], true
}

func containsAny(root dom.Root, selectors []string) bool {
	for _, sel := range selectors {
		els, err := root.QueryAll(sel)
		if err == nil && len(els) > 0 {
			return true
		}
	}
	return false
}
