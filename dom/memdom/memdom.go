// Package memdom is an in-memory dom.Document built from an HTML snapshot.
//
// Open shadow roots are expressed with declarative shadow DOM
// (<template shadowrootmode="open">) and become separate fragments that flat
// queries do not reach, as in a browser. Each editable element carries a
// Behavior that simulates how the host page's editor reacts to the different
// injection channels, so the write ladder can be exercised offline.
//
// Fixture attributes:
//
//	data-accept="native beforeinput execcommand paste direct"  channels whose edits stick
//	data-direct="throws"                                        direct mutation raises
package memdom

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/promptify/dom"
)

// Channel is a bit set of injection channels an editor honours.
type Channel uint8

const (
	Native Channel = 1 << iota
	BeforeInput
	ExecCommand
	Paste
	Direct
)

// AllChannels accepts every channel.
const AllChannels = Native | BeforeInput | ExecCommand | Paste | Direct

var channelNames = map[string]Channel{
	"native":      Native,
	"beforeinput": BeforeInput,
	"execcommand": ExecCommand,
	"paste":       Paste,
	"direct":      Direct,
}

// ParseChannels parses a space separated list of channel names.
func ParseChannels(s string) (Channel, error) {
	var c Channel
	for _, f := range strings.Fields(strings.ToLower(s)) {
		ch, ok := channelNames[f]
		if !ok {
			return 0, fmt.Errorf("memdom: unknown channel %q", f)
		}
		c |= ch
	}
	return c, nil
}

// Behavior simulates the host editor.
type Behavior struct {
	// Accept lists the channels whose edits survive the editor's re-render.
	Accept Channel
	// DirectThrows makes ReplaceContent fail, as pages that lock down
	// synthetic edits do.
	DirectThrows bool
}

func defaultBehavior(valueControl bool) Behavior {
	if valueControl {
		return Behavior{Accept: Native | ExecCommand | Paste | Direct}
	}
	return Behavior{Accept: BeforeInput | ExecCommand | Paste | Direct}
}

// Document is an in-memory page.
type Document struct {
	mu      sync.Mutex
	origin  string
	root    *html.Node
	shadows map[*html.Node]*html.Node // host -> fragment
	hosts   map[*html.Node]*html.Node // fragment -> host
	elems   map[*html.Node]*Element
	sels    map[string]cascadia.Selector
	seq     int
	alerts  []string
	subs    map[int]func()
	subSeq  int
	// beforeAppend runs ahead of every trigger insertion, outside mu.
	beforeAppend func(dom.TriggerSpec)
}

var _ dom.Document = (*Document)(nil)

// Parse reads an HTML document.
func Parse(r io.Reader, origin string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("memdom: parse: %w", err)
	}
	d := &Document{
		origin:  origin,
		root:    root,
		shadows: make(map[*html.Node]*html.Node),
		hosts:   make(map[*html.Node]*html.Node),
		elems:   make(map[*html.Node]*Element),
		sels:    make(map[string]cascadia.Selector),
		subs:    make(map[int]func()),
	}
	d.attachShadowRoots(root)
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, origin string) (*Document, error) {
	return Parse(strings.NewReader(s), origin)
}

// MustParse panics on error. For tests and fixtures.
func MustParse(s, origin string) *Document {
	d, err := ParseString(s, origin)
	if err != nil {
		panic(err)
	}
	return d
}

// attachShadowRoots moves the content of every declarative shadow template
// into a detached fragment owned by the template's parent.
func (d *Document) attachShadowRoots(n *html.Node) {
	var children []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		children = append(children, c)
	}
	for _, c := range children {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template {
			mode := attr(c, "shadowrootmode")
			if mode == "" {
				mode = attr(c, "shadowroot")
			}
			if mode != "" {
				n.RemoveChild(c)
				if mode != "open" {
					// Closed roots are unreachable from script.
					continue
				}
				frag := &html.Node{Type: html.DocumentNode}
				for gc := c.FirstChild; gc != nil; {
					next := gc.NextSibling
					c.RemoveChild(gc)
					frag.AppendChild(gc)
					gc = next
				}
				d.shadows[n] = frag
				d.hosts[frag] = n
				d.attachShadowRoots(frag)
				continue
			}
		}
		d.attachShadowRoots(c)
	}
}

// Origin implements dom.Document.
func (d *Document) Origin() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.origin
}

// SetOrigin simulates an in-page navigation.
func (d *Document) SetOrigin(origin string) {
	d.mu.Lock()
	d.origin = origin
	d.mu.Unlock()
}

// QueryAll implements dom.Root.
func (d *Document) QueryAll(selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryAllLocked(d.root, selector)
}

// Body implements dom.Document.
func (d *Document) Body() (dom.Element, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	els, err := d.queryAllLocked(d.root, "body")
	if err != nil || len(els) == 0 {
		return nil, false
	}
	return els[0], true
}

// Alert implements dom.Document by recording the message.
func (d *Document) Alert(message string) error {
	d.mu.Lock()
	d.alerts = append(d.alerts, message)
	d.mu.Unlock()
	return nil
}

// Alerts returns the messages shown so far.
func (d *Document) Alerts() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.alerts...)
}

// OnAppendTrigger installs fn to run before each trigger button is
// inserted. It stands in for a slow page round trip.
func (d *Document) OnAppendTrigger(fn func(dom.TriggerSpec)) {
	d.mu.Lock()
	d.beforeAppend = fn
	d.mu.Unlock()
}

// Subscribe registers fn to run after every structural or content change.
// The returned function removes the subscription.
func (d *Document) Subscribe(fn func()) (cancel func()) {
	d.mu.Lock()
	d.subSeq++
	id := d.subSeq
	d.subs[id] = fn
	d.mu.Unlock()
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

func (d *Document) notify() {
	d.mu.Lock()
	fns := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Insert parses fragment and appends it to the first element matching
// parentSelector, mimicking a client-side render.
func (d *Document) Insert(parentSelector, fragment string) error {
	d.mu.Lock()
	parents, err := d.queryAllLocked(d.root, parentSelector)
	if err != nil {
		d.mu.Unlock()
		return err
	}
	if len(parents) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("memdom: no element matches %q", parentSelector)
	}
	parent := parents[0].(*Element).node
	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("memdom: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	d.attachShadowRoots(parent)
	d.mu.Unlock()
	d.notify()
	return nil
}

// Find returns the first element matching selector, or nil.
func (d *Document) Find(selector string) *Element {
	els, err := d.QueryAll(selector)
	if err != nil || len(els) == 0 {
		return nil
	}
	return els[0].(*Element)
}

// OpenModal appends a confirmation dialog holding text to the body.
func (d *Document) OpenModal(id, text string) error {
	d.mu.Lock()
	bodies, _ := d.queryAllLocked(d.root, "body")
	if len(bodies) == 0 {
		d.mu.Unlock()
		return fmt.Errorf("memdom: document has no body")
	}
	modal := &html.Node{Type: html.ElementNode, Data: "div", DataAtom: atom.Div,
		Attr: []html.Attribute{{Key: dom.AttrModal, Val: id}}}
	area := &html.Node{Type: html.ElementNode, Data: "textarea", DataAtom: atom.Textarea}
	area.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	modal.AppendChild(area)
	bodies[0].(*Element).node.AppendChild(modal)
	d.mu.Unlock()
	d.notify()
	return nil
}

// CloseModal removes the dialog opened with id, if present.
func (d *Document) CloseModal(id string) error {
	d.mu.Lock()
	els, err := d.queryAllLocked(d.root, fmt.Sprintf("[%s=%q]", dom.AttrModal, id))
	if err == nil {
		for _, el := range els {
			n := el.(*Element).node
			if n.Parent != nil {
				n.Parent.RemoveChild(n)
			}
		}
	}
	d.mu.Unlock()
	d.notify()
	return err
}

func (d *Document) selector(s string) (cascadia.Selector, error) {
	if sel, ok := d.sels[s]; ok {
		return sel, nil
	}
	sel, err := cascadia.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("memdom: selector %q: %w", s, err)
	}
	d.sels[s] = sel
	return sel, nil
}

func (d *Document) queryAllLocked(n *html.Node, selector string) ([]dom.Element, error) {
	sel, err := d.selector(selector)
	if err != nil {
		return nil, err
	}
	nodes := cascadia.QueryAll(n, sel)
	out := make([]dom.Element, 0, len(nodes))
	for _, m := range nodes {
		out = append(out, d.wrap(m))
	}
	return out, nil
}

func (d *Document) wrap(n *html.Node) *Element {
	if e, ok := d.elems[n]; ok {
		return e
	}
	d.seq++
	e := &Element{doc: d, node: n, id: fmt.Sprintf("n%d", d.seq)}
	switch n.DataAtom {
	case atom.Textarea:
		e.value = textOf(n)
	case atom.Input:
		e.value = attr(n, "value")
	}
	e.behavior = defaultBehavior(e.isValueControl())
	if acc, ok := attrOK(n, "data-accept"); ok {
		if ch, err := ParseChannels(acc); err == nil {
			e.behavior.Accept = ch
		}
	}
	if attr(n, "data-direct") == "throws" {
		e.behavior.DirectThrows = true
	}
	d.elems[n] = e
	return e
}

func (d *Document) connected(n *html.Node) bool {
	for n != nil {
		if n == d.root {
			return true
		}
		if n.Parent == nil {
			host, ok := d.hosts[n]
			if !ok {
				return false
			}
			n = host
			continue
		}
		n = n.Parent
	}
	return false
}

// shadowRoot is an open shadow root fragment.
type shadowRoot struct {
	doc  *Document
	frag *html.Node
}

func (s *shadowRoot) QueryAll(selector string) ([]dom.Element, error) {
	s.doc.mu.Lock()
	defer s.doc.mu.Unlock()
	return s.doc.queryAllLocked(s.frag, selector)
}

func attr(n *html.Node, key string) string {
	v, _ := attrOK(n, key)
	return v
}

func attrOK(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
