// Package dom is the narrow view of a host page that the adapter layer
// works against. Two implementations exist: cdpdom drives a live tab over
// the DevTools protocol, memdom holds a parsed snapshot in memory.
//
// Every handle is a reference into a structure promptify does not own. The
// host page may detach or replace any element at any time; callers check
// Connected before acting and never cache query results across calls.
package dom

import "errors"

// ErrNotValueControl is returned by SetNativeValue on elements that do not
// carry a value property (anything but input and textarea).
var ErrNotValueControl = errors.New("dom: element is not a value control")

// ErrDetached is returned by operations on an element that is no longer
// attached to its document.
var ErrDetached = errors.New("dom: element detached")

// Root is a queryable subtree: a document or an open shadow root.
type Root interface {
	// QueryAll returns the descendants matching a CSS selector, in document
	// order. It does not cross shadow boundaries.
	QueryAll(selector string) ([]Element, error)
}

// EventType names the synthetic events the adapter emits.
type EventType string

const (
	EventInput       EventType = "input"
	EventChange      EventType = "change"
	EventBeforeInput EventType = "beforeinput"
	EventPaste       EventType = "paste"
)

// Event is a synthetic DOM event. Data carries the inserted text for
// beforeinput and input, and the clipboard payload for paste.
type Event struct {
	Type      EventType
	InputType string
	Data      string
}

// Element is a live element handle.
type Element interface {
	Root

	// ID identifies the underlying node for as long as it stays attached.
	// Two handles to the same node report the same ID.
	ID() string
	Tag() string
	Connected() bool

	IsValueControl() bool
	IsContentEditable() bool
	Value() (string, error)
	TextContent() (string, error)

	Attribute(name string) (string, bool)
	SetAttribute(name, value string) error
	RemoveAttribute(name string) error

	Parent() (Element, bool)
	Closest(selector string) (Element, bool)
	ShadowRoot() (Root, bool)

	Focus() error
	SelectAll() error
	// SetNativeValue invokes the prototype value setter, bypassing any
	// setter the page installed on the instance.
	SetNativeValue(text string) error
	// ExecInsertText issues document.execCommand("insertText") and reports
	// whether the command was handled.
	ExecInsertText(text string) (bool, error)
	// ReplaceContent overwrites value (controls) or text content (everything else).
	ReplaceContent(text string) error
	Dispatch(ev Event) error

	// AppendTrigger appends a trigger button as the last child.
	AppendTrigger(spec TriggerSpec) (Element, error)
	Remove() error
}

// TriggerSpec describes the button injected next to a target element.
type TriggerSpec struct {
	ID    string
	Label string
	// For is the ID of the target element the trigger belongs to.
	For string
}

// Document is the top-level page.
type Document interface {
	Root
	// Origin is the page URL the document was loaded from.
	Origin() string
	Body() (Element, bool)
	// Alert shows a blocking message to the user.
	Alert(message string) error
}

// Trigger attribute names, shared by the injector and the page script.
const (
	AttrTrigger    = "data-promptify-trigger"
	AttrTriggerFor = "data-promptify-for"
	AttrModal      = "data-promptify-modal"
)

// Same reports whether a and b refer to the same node.
func Same(a, b Element) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID() == b.ID()
}
