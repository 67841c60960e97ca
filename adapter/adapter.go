// Package adapter reads and writes the draft held by a host page's input.
//
// Writes go through a ladder of injection strategies, from the one a
// framework is most likely to observe as a genuine edit down to a clipboard
// handoff. After every in-page strategy the element is re-read; the first
// strategy whose post-check passes wins.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/atotto/clipboard"

	"github.com/hazyhaar/promptify/dom"
)

// Read returns the current draft: the value of a textarea or input, the
// text content of anything else. Any failure yields "".
func Read(el dom.Element) string {
	if el == nil || !el.Connected() {
		return ""
	}
	var (
		s   string
		err error
	)
	if el.IsValueControl() {
		s, err = el.Value()
	} else {
		s, err = el.TextContent()
	}
	if err != nil {
		return ""
	}
	return s
}

// Clipboard receives the text when every in-page strategy failed.
type Clipboard interface {
	WriteAll(text string) error
}

// ErrClipboardUnavailable is returned when no clipboard utility is present.
var ErrClipboardUnavailable = errors.New("adapter: system clipboard unavailable")

// SystemClipboard writes to the OS clipboard.
type SystemClipboard struct{}

func (SystemClipboard) WriteAll(text string) error {
	if clipboard.Unsupported {
		return ErrClipboardUnavailable
	}
	if err := clipboard.WriteAll(text); err != nil {
		return fmt.Errorf("adapter: clipboard: %w", err)
	}
	return nil
}

// CompareFunc decides whether the text read back matches the request.
type CompareFunc func(got, want string) bool

// Exact is the default comparison.
func Exact(got, want string) bool { return got == want }

// Writer runs the write ladder.
type Writer struct {
	clipboard Clipboard
	compare   CompareFunc
	logger    *slog.Logger
}

// Option configures a Writer.
type Option func(*Writer)

// WithClipboard replaces the system clipboard.
func WithClipboard(c Clipboard) Option { return func(w *Writer) { w.clipboard = c } }

// WithCompare replaces exact comparison in the post-check.
func WithCompare(fn CompareFunc) Option { return func(w *Writer) { w.compare = fn } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(w *Writer) { w.logger = l } }

// NewWriter returns a Writer using the system clipboard and exact comparison.
func NewWriter(opts ...Option) *Writer {
	w := &Writer{
		clipboard: SystemClipboard{},
		compare:   Exact,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

type step func(el dom.Element, text string) (ran bool, err error)

// Write replaces the element's content with text.
func (w *Writer) Write(ctx context.Context, el dom.Element, text string) Outcome {
	if el == nil || !el.Connected() {
		return Outcome{Status: Failed, Err: dom.ErrDetached}
	}
	if w.compare(Read(el), text) {
		return Outcome{Status: Applied}
	}

	steps := []struct {
		s  Strategy
		fn step
	}{
		{StrategyNative, nativeSetter},
		{StrategyBeforeInput, beforeInput},
		{StrategyExecCommand, execInsert},
		{StrategyPaste, syntheticPaste},
		{StrategyDirect, directReplace},
	}

	var out Outcome
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			out.Status, out.Err = Failed, err
			return out
		}
		if !el.Connected() {
			out.Status, out.Err = Failed, dom.ErrDetached
			return out
		}
		ran, err := st.fn(el, text)
		a := Attempt{Strategy: st.s}
		switch {
		case err != nil:
			a.Result, a.Err = ResultErrored, err.Error()
		case !ran:
			a.Result = ResultSkipped
		case w.compare(Read(el), text):
			a.Result = ResultApplied
		default:
			a.Result = ResultRejected
		}
		out.Attempts = append(out.Attempts, a)
		w.logger.Debug("adapter: strategy", "strategy", st.s, "result", a.Result, "error", a.Err)
		if a.Result == ResultApplied {
			out.Status, out.Strategy = Applied, st.s
			return out
		}
	}

	if err := w.clipboard.WriteAll(text); err != nil {
		out.Attempts = append(out.Attempts, Attempt{Strategy: StrategyClipboard, Result: ResultErrored, Err: err.Error()})
		out.Status = Failed
		out.Err = fmt.Errorf("adapter: every strategy failed: %w", err)
		w.logger.Warn("adapter: write failed", "tag", el.Tag(), "error", err)
		return out
	}
	out.Attempts = append(out.Attempts, Attempt{Strategy: StrategyClipboard, Result: ResultApplied})
	out.Status, out.Strategy = AppliedWithFallback, StrategyClipboard
	w.logger.Info("adapter: text handed to clipboard", "tag", el.Tag())
	return out
}

func nativeSetter(el dom.Element, text string) (bool, error) {
	if !el.IsValueControl() {
		return false, nil
	}
	_ = el.Focus()
	if err := el.SetNativeValue(text); err != nil {
		return true, err
	}
	if err := el.Dispatch(dom.Event{Type: dom.EventInput, InputType: "insertReplacementText", Data: text}); err != nil {
		return true, err
	}
	return true, el.Dispatch(dom.Event{Type: dom.EventChange})
}

func beforeInput(el dom.Element, text string) (bool, error) {
	if el.IsValueControl() || !el.IsContentEditable() {
		return false, nil
	}
	_ = el.Focus()
	if err := el.SelectAll(); err != nil {
		return true, err
	}
	return true, el.Dispatch(dom.Event{Type: dom.EventBeforeInput, InputType: "insertText", Data: text})
}

func execInsert(el dom.Element, text string) (bool, error) {
	_ = el.Focus()
	if err := el.SelectAll(); err != nil {
		return true, err
	}
	_, err := el.ExecInsertText(text)
	return true, err
}

func syntheticPaste(el dom.Element, text string) (bool, error) {
	_ = el.Focus()
	if err := el.SelectAll(); err != nil {
		return true, err
	}
	return true, el.Dispatch(dom.Event{Type: dom.EventPaste, Data: text})
}

func directReplace(el dom.Element, text string) (bool, error) {
	if err := el.ReplaceContent(text); err != nil {
		return true, err
	}
	return true, el.Dispatch(dom.Event{Type: dom.EventInput, InputType: "insertReplacementText", Data: text})
}
