// Package cdpdom implements the dom interfaces on top of a live Chromium
// tab driven by go-rod.
//
// Element identity comes from a WeakMap kept by a small helper script
// (helpers.js) evaluated in the page: two rod handles to the same node
// report the same ID. The helper also renders the trigger buttons and
// the confirmation modal, both of which report back through the
// __promptify_binding runtime binding.
package cdpdom

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/promptify/dom"
)

// BindingName is the runtime binding the page calls to reach the daemon.
const BindingName = "__promptify_binding"

//go:embed helpers.js
var helpersJS string

// Document is a tab seen through the dom interfaces.
type Document struct {
	page   *rod.Page
	ctx    context.Context
	logger *slog.Logger

	mu     sync.RWMutex
	origin string
}

var _ dom.Document = (*Document)(nil)

// Option configures a Document.
type Option func(*Document)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Document) { d.logger = l } }

// New wraps page. Every CDP call is bound to ctx.
func New(ctx context.Context, page *rod.Page, origin string, opts ...Option) *Document {
	d := &Document{page: page, ctx: ctx, origin: origin, logger: slog.Default()}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page { return d.page }

// Install evaluates the helper script. It is idempotent per document and
// must run again after every navigation.
func (d *Document) Install() error {
	if _, err := d.p().Eval(helpersJS); err != nil {
		return fmt.Errorf("cdpdom: install helpers: %w", err)
	}
	return nil
}

// SetOrigin records the URL after an in-page navigation.
func (d *Document) SetOrigin(u string) {
	d.mu.Lock()
	d.origin = u
	d.mu.Unlock()
}

func (d *Document) Origin() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.origin
}

func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	els, err := d.p().Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("cdpdom: query %q: %w", selector, err)
	}
	return d.wrapAll(els)
}

func (d *Document) Body() (dom.Element, bool) {
	els, err := d.p().Elements("body")
	if err != nil || len(els) == 0 {
		return nil, false
	}
	el, err := d.wrap(els[0])
	return el, err == nil
}

// Alert shows a native alert without blocking the CDP call.
func (d *Document) Alert(message string) error {
	_, err := d.p().Eval(`(m) => { setTimeout(() => alert(m), 0) }`, message)
	if err != nil {
		return fmt.Errorf("cdpdom: alert: %w", err)
	}
	return nil
}

// OpenModal renders the confirmation dialog for id, prefilled with text.
func (d *Document) OpenModal(id, text string) error {
	if err := d.helper(`(id, t) => window.__promptify.openModal(id, t)`, id, text); err != nil {
		return fmt.Errorf("cdpdom: open modal: %w", err)
	}
	return nil
}

// CloseModal removes the dialog opened with id.
func (d *Document) CloseModal(id string) error {
	if err := d.helper(`(id) => window.__promptify.closeModal(id)`, id); err != nil {
		return fmt.Errorf("cdpdom: close modal: %w", err)
	}
	return nil
}

func (d *Document) p() *rod.Page { return d.page.Context(d.ctx) }

// helper installs the helper script, then runs js against it.
func (d *Document) helper(js string, args ...any) error {
	if err := d.Install(); err != nil {
		return err
	}
	_, err := d.p().Eval(js, args...)
	return err
}

func (d *Document) wrapAll(els rod.Elements) ([]dom.Element, error) {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		w, err := d.wrap(el)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// identifyJS shares its WeakMap with helpers.js so that ids survive a
// helper re-install.
const identifyJS = `() => {
	if (!window.__promptifyIds) {
		window.__promptifyIds = new WeakMap();
		window.__promptifySeq = 0;
	}
	let id = window.__promptifyIds.get(this);
	if (!id) {
		id = "n" + ++window.__promptifySeq;
		window.__promptifyIds.set(this, id);
	}
	return { id, tag: this.tagName.toLowerCase() };
}`

func (d *Document) wrap(el *rod.Element) (*Element, error) {
	res, err := el.Context(d.ctx).Eval(identifyJS)
	if err != nil {
		return nil, fmt.Errorf("cdpdom: identify element: %w", err)
	}
	return &Element{
		doc: d,
		el:  el,
		id:  res.Value.Get("id").Str(),
		tag: res.Value.Get("tag").Str(),
	}, nil
}

// Element is a rod element handle.
type Element struct {
	doc *Document
	el  *rod.Element
	id  string
	tag string
}

var _ dom.Element = (*Element)(nil)

func (e *Element) ID() string  { return e.id }
func (e *Element) Tag() string { return e.tag }

func (e *Element) r() *rod.Element { return e.el.Context(e.doc.ctx) }

func (e *Element) eval(js string, args ...any) (evalResult, error) {
	res, err := e.r().Eval(js, args...)
	if err != nil {
		return evalResult{}, fmt.Errorf("cdpdom: <%s>: %w", e.tag, err)
	}
	return evalResult{str: res.Value.Str(), b: res.Value.Bool()}, nil
}

type evalResult struct {
	str string
	b   bool
}

func (e *Element) Connected() bool {
	r, err := e.eval(`() => this.isConnected`)
	return err == nil && r.b
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	els, err := e.r().Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("cdpdom: query %q: %w", selector, err)
	}
	return e.doc.wrapAll(els)
}

const isValueControlJS = `() => this instanceof HTMLTextAreaElement ||
	(this instanceof HTMLInputElement && !["checkbox","radio","button","submit","reset","file","image","hidden"].includes(this.type))`

func (e *Element) IsValueControl() bool {
	r, err := e.eval(isValueControlJS)
	return err == nil && r.b
}

func (e *Element) IsContentEditable() bool {
	r, err := e.eval(`() => this.isContentEditable`)
	return err == nil && r.b
}

func (e *Element) Value() (string, error) {
	if !e.IsValueControl() {
		return "", dom.ErrNotValueControl
	}
	r, err := e.eval(`() => this.value`)
	return r.str, err
}

func (e *Element) TextContent() (string, error) {
	r, err := e.eval(`() => this.innerText ?? this.textContent ?? ""`)
	return r.str, err
}

func (e *Element) Attribute(name string) (string, bool) {
	v, err := e.r().Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

func (e *Element) SetAttribute(name, value string) error {
	_, err := e.eval(`(n, v) => this.setAttribute(n, v)`, name, value)
	return err
}

func (e *Element) RemoveAttribute(name string) error {
	_, err := e.eval(`(n) => this.removeAttribute(n)`, name)
	return err
}

func (e *Element) byJS(js string, args ...any) (*Element, bool) {
	el, err := e.r().ElementByJS(rod.Eval(js, args...))
	if err != nil {
		return nil, false
	}
	w, err := e.doc.wrap(el)
	if err != nil {
		return nil, false
	}
	return w, true
}

func (e *Element) Parent() (dom.Element, bool) {
	p, ok := e.byJS(`() => this.parentElement`)
	if !ok {
		return nil, false
	}
	return p, true
}

func (e *Element) Closest(selector string) (dom.Element, bool) {
	c, ok := e.byJS(`(s) => { try { return this.closest(s) } catch (_) { return null } }`, selector)
	if !ok {
		return nil, false
	}
	return c, true
}

// ShadowRoot returns the open shadow root only; closed roots stay closed.
func (e *Element) ShadowRoot() (dom.Root, bool) {
	el, err := e.r().ElementByJS(rod.Eval(`() => this.shadowRoot`))
	if err != nil {
		return nil, false
	}
	return &shadowRoot{doc: e.doc, el: el}, true
}

func (e *Element) Focus() error {
	if err := e.r().Focus(); err != nil {
		return fmt.Errorf("cdpdom: focus: %w", err)
	}
	return nil
}

func (e *Element) SelectAll() error {
	_, err := e.eval(`() => {
		if (typeof this.select === "function") { this.select(); return }
		const r = document.createRange();
		r.selectNodeContents(this);
		const s = window.getSelection();
		s.removeAllRanges();
		s.addRange(r);
	}`)
	return err
}

func (e *Element) SetNativeValue(text string) error {
	if !e.IsValueControl() {
		return dom.ErrNotValueControl
	}
	_, err := e.eval(`(v) => {
		const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		Object.getOwnPropertyDescriptor(proto, "value").set.call(this, v);
	}`, text)
	return err
}

func (e *Element) ExecInsertText(text string) (bool, error) {
	r, err := e.eval(`(t) => document.execCommand("insertText", false, t)`, text)
	return r.b, err
}

func (e *Element) ReplaceContent(text string) error {
	_, err := e.eval(`(t) => {
		if (this instanceof HTMLTextAreaElement || this instanceof HTMLInputElement) this.value = t;
		else this.textContent = t;
	}`, text)
	return err
}

func (e *Element) Dispatch(ev dom.Event) error {
	var js string
	switch ev.Type {
	case dom.EventInput:
		js = `(it, d) => this.dispatchEvent(new InputEvent("input", { bubbles: true, inputType: it, data: d }))`
	case dom.EventBeforeInput:
		js = `(it, d) => this.dispatchEvent(new InputEvent("beforeinput", { bubbles: true, cancelable: true, inputType: it, data: d }))`
	case dom.EventChange:
		js = `() => this.dispatchEvent(new Event("change", { bubbles: true }))`
	case dom.EventPaste:
		js = `(_, d) => {
			const dt = new DataTransfer();
			dt.setData("text/plain", d);
			return this.dispatchEvent(new ClipboardEvent("paste", { bubbles: true, cancelable: true, clipboardData: dt }));
		}`
	default:
		return fmt.Errorf("cdpdom: unsupported event %q", ev.Type)
	}
	_, err := e.eval(js, ev.InputType, ev.Data)
	return err
}

func (e *Element) AppendTrigger(spec dom.TriggerSpec) (dom.Element, error) {
	if !e.Connected() {
		return nil, dom.ErrDetached
	}
	if err := e.doc.Install(); err != nil {
		return nil, err
	}
	btn, err := e.r().ElementByJS(rod.Eval(`(id, label, forId) => window.__promptify.trigger(this, id, label, forId)`,
		spec.ID, spec.Label, spec.For))
	if err != nil {
		return nil, fmt.Errorf("cdpdom: append trigger: %w", err)
	}
	return e.doc.wrap(btn)
}

func (e *Element) Remove() error {
	if err := e.r().Remove(); err != nil {
		return fmt.Errorf("cdpdom: remove: %w", err)
	}
	return nil
}

type shadowRoot struct {
	doc *Document
	el  *rod.Element
}

func (s *shadowRoot) QueryAll(selector string) ([]dom.Element, error) {
	els, err := s.el.Context(s.doc.ctx).Elements(selector)
	if err != nil {
		return nil, fmt.Errorf("cdpdom: shadow query %q: %w", selector, err)
	}
	return s.doc.wrapAll(els)
}
