package memdom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/promptify/dom"
)

// Element is a node of a memdom Document. Handles are interned: querying
// the same node twice returns the same *Element.
type Element struct {
	doc      *Document
	node     *html.Node
	id       string
	value    string
	behavior Behavior
	selected bool
	focused  bool
	events   []dom.Event
}

var _ dom.Element = (*Element)(nil)

func (e *Element) ID() string  { return e.id }
func (e *Element) Tag() string { return e.node.Data }

func (e *Element) Connected() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.connected(e.node)
}

func (e *Element) QueryAll(selector string) ([]dom.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.queryAllLocked(e.node, selector)
}

func (e *Element) isValueControl() bool {
	switch e.node.DataAtom {
	case atom.Textarea:
		return true
	case atom.Input:
		switch strings.ToLower(attr(e.node, "type")) {
		case "button", "submit", "reset", "checkbox", "radio", "hidden", "file", "image":
			return false
		}
		return true
	}
	return false
}

func (e *Element) IsValueControl() bool { return e.isValueControl() }

func (e *Element) IsContentEditable() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if v, ok := attrOK(n, "contenteditable"); ok {
			switch strings.ToLower(v) {
			case "", "true", "plaintext-only":
				return true
			default:
				return false
			}
		}
	}
	return false
}

func (e *Element) Value() (string, error) {
	if !e.isValueControl() {
		return "", dom.ErrNotValueControl
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.value, nil
}

func (e *Element) TextContent() (string, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return textOf(e.node), nil
}

func (e *Element) Attribute(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attrOK(e.node, name)
}

func (e *Element) SetAttribute(name, value string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	for i, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			e.node.Attr[i].Val = value
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

func (e *Element) RemoveAttribute(name string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	attrs := e.node.Attr[:0]
	for _, a := range e.node.Attr {
		if a.Namespace == "" && a.Key == name {
			continue
		}
		attrs = append(attrs, a)
	}
	e.node.Attr = attrs
	return nil
}

func (e *Element) Parent() (dom.Element, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	p := e.node.Parent
	if p == nil || p.Type != html.ElementNode {
		return nil, false
	}
	return e.doc.wrap(p), true
}

func (e *Element) Closest(selector string) (dom.Element, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.selector(selector)
	if err != nil {
		return nil, false
	}
	for n := e.node; n != nil && n.Type == html.ElementNode; n = n.Parent {
		if sel.Match(n) {
			return e.doc.wrap(n), true
		}
	}
	return nil, false
}

func (e *Element) ShadowRoot() (dom.Root, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	frag, ok := e.doc.shadows[e.node]
	if !ok {
		return nil, false
	}
	return &shadowRoot{doc: e.doc, frag: frag}, true
}

func (e *Element) Focus() error {
	e.doc.mu.Lock()
	e.focused = true
	e.doc.mu.Unlock()
	return nil
}

func (e *Element) SelectAll() error {
	e.doc.mu.Lock()
	e.selected = true
	e.doc.mu.Unlock()
	return nil
}

func (e *Element) SetNativeValue(text string) error {
	if !e.isValueControl() {
		return dom.ErrNotValueControl
	}
	e.doc.mu.Lock()
	accepted := e.behavior.Accept&Native != 0
	if accepted {
		e.value = text
	}
	e.doc.mu.Unlock()
	if accepted {
		e.doc.notify()
	}
	return nil
}

func (e *Element) ExecInsertText(text string) (bool, error) {
	e.doc.mu.Lock()
	accepted := e.behavior.Accept&ExecCommand != 0
	if accepted {
		e.insertLocked(text)
	}
	e.doc.mu.Unlock()
	if accepted {
		e.doc.notify()
	}
	return accepted, nil
}

func (e *Element) ReplaceContent(text string) error {
	e.doc.mu.Lock()
	if e.behavior.DirectThrows {
		e.doc.mu.Unlock()
		return fmt.Errorf("memdom: direct mutation of <%s> blocked", e.node.Data)
	}
	accepted := e.behavior.Accept&Direct != 0
	if accepted {
		e.setContentLocked(text)
	}
	e.doc.mu.Unlock()
	if accepted {
		e.doc.notify()
	}
	return nil
}

func (e *Element) Dispatch(ev dom.Event) error {
	e.doc.mu.Lock()
	e.events = append(e.events, ev)
	var accepted bool
	switch ev.Type {
	case dom.EventBeforeInput:
		accepted = e.behavior.Accept&BeforeInput != 0
	case dom.EventPaste:
		accepted = e.behavior.Accept&Paste != 0
	}
	if accepted {
		e.insertLocked(ev.Data)
	}
	e.doc.mu.Unlock()
	if accepted {
		e.doc.notify()
	}
	return nil
}

// insertLocked replaces the selection (the whole content after SelectAll)
// or appends at the end.
func (e *Element) insertLocked(text string) {
	if e.selected {
		e.setContentLocked(text)
		return
	}
	if e.isValueControl() {
		e.setContentLocked(e.value + text)
		return
	}
	e.setContentLocked(textOf(e.node) + text)
}

func (e *Element) setContentLocked(text string) {
	e.selected = false
	if e.isValueControl() {
		e.value = text
		return
	}
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	if text != "" {
		e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	}
}

func (e *Element) AppendTrigger(spec dom.TriggerSpec) (dom.Element, error) {
	e.doc.mu.Lock()
	hook := e.doc.beforeAppend
	e.doc.mu.Unlock()
	if hook != nil {
		hook(spec)
	}

	e.doc.mu.Lock()
	if !e.doc.connected(e.node) {
		e.doc.mu.Unlock()
		return nil, dom.ErrDetached
	}
	btn := &html.Node{
		Type: html.ElementNode, Data: "button", DataAtom: atom.Button,
		Attr: []html.Attribute{
			{Key: "type", Val: "button"},
			{Key: dom.AttrTrigger, Val: spec.ID},
			{Key: dom.AttrTriggerFor, Val: spec.For},
		},
	}
	btn.AppendChild(&html.Node{Type: html.TextNode, Data: spec.Label})
	e.node.AppendChild(btn)
	w := e.doc.wrap(btn)
	e.doc.mu.Unlock()
	e.doc.notify()
	return w, nil
}

func (e *Element) Remove() error {
	e.doc.mu.Lock()
	if p := e.node.Parent; p != nil {
		p.RemoveChild(e.node)
	}
	e.doc.mu.Unlock()
	e.doc.notify()
	return nil
}

// SetBehavior replaces the simulated editor behaviour.
func (e *Element) SetBehavior(b Behavior) {
	e.doc.mu.Lock()
	e.behavior = b
	e.doc.mu.Unlock()
}

// Events returns the synthetic events dispatched at the element.
func (e *Element) Events() []dom.Event {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return append([]dom.Event(nil), e.events...)
}

// Focused reports whether Focus was called.
func (e *Element) Focused() bool {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.focused
}
