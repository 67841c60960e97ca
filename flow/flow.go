// Package flow runs one refine request end to end: read the draft, send it
// through the relay, ask the user to confirm the rewrite, then write it
// back through the text adapter.
//
// The element is only written after the gate returned ok. Every other
// path leaves the draft as it was.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/promptify/adapter"
	"github.com/hazyhaar/promptify/confirm"
	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/injector"
	"github.com/hazyhaar/promptify/locator"
	"github.com/hazyhaar/promptify/platform"
	"github.com/hazyhaar/promptify/relay"
)

// User-facing alert texts.
const (
	MsgEmptyDraft = "Please type a prompt first!"
	MsgTimeout    = "Error: the rewriting service did not answer in time. Please try again."
	MsgFallback   = "Could not update the input automatically. The refined prompt was copied to your clipboard, paste it manually."
	MsgFailed     = "Could not update the input. Please copy the refined prompt manually."
	MsgNoInput    = "Could not find the chat input on this page."
	MsgNoConfirm  = "Could not show the refined prompt for review. Your draft was left unchanged."
)

// Kind classifies how a run ended.
type Kind string

const (
	KindApplied          Kind = "applied"
	KindEmptyDraft       Kind = "empty_draft"
	KindLocateFailure    Kind = "locate_failure"
	KindTransportFailure Kind = "transport_failure"
	KindCancelledByUser  Kind = "cancelled"
	KindInjectionFailure Kind = "injection_failure"
	KindConfirmFailure   Kind = "confirm_failure"
)

// ErrCancelled is the Result error when the user declined the rewrite.
var ErrCancelled = errors.New("flow: cancelled by user")

// Sender delivers a relay message. *relay.Relay implements it.
type Sender interface {
	Send(ctx context.Context, msg relay.Message) relay.Response
}

// Target is the element a run acts on.
type Target struct {
	Element    dom.Element
	Descriptor *platform.Descriptor
	Document   dom.Document
	// Trigger is optional; when set it shows the busy label during the
	// relay round trip.
	Trigger *injector.Trigger
}

// Result describes a finished run.
type Result struct {
	Kind     Kind
	Outcome  adapter.Outcome
	Response relay.Response
	// Text is what was written, after user edits.
	Text     string
	Duration time.Duration
	Err      error
}

// OK reports whether the rewrite reached the element, with or without the
// clipboard fallback.
func (r Result) OK() bool { return r.Kind == KindApplied }

// Config configures a Flow.
type Config struct {
	Relay   Sender
	Gate    confirm.Gate
	Writer  *adapter.Writer
	Locator *locator.Locator
	History history.Recorder
	// SessionID tags history events.
	SessionID string
	Logger    *slog.Logger
}

// Flow is safe for concurrent use; the injector keeps runs for one
// trigger from overlapping.
type Flow struct {
	cfg    Config
	logger *slog.Logger
}

// New returns a Flow. Relay and Gate are required.
func New(cfg Config) (*Flow, error) {
	if cfg.Relay == nil {
		return nil, fmt.Errorf("flow: relay is required")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("flow: confirmation gate is required")
	}
	if cfg.Writer == nil {
		cfg.Writer = adapter.NewWriter()
	}
	if cfg.Locator == nil {
		cfg.Locator = locator.New(locator.Config{})
	}
	if cfg.History == nil {
		cfg.History = history.Discard{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Flow{cfg: cfg, logger: cfg.Logger}, nil
}

// Handler adapts the flow to an injector trigger. doc and d describe the
// page the trigger lives on.
func (f *Flow) Handler(doc dom.Document, d *platform.Descriptor) injector.Handler {
	return func(ctx context.Context, t *injector.Trigger) {
		f.Run(ctx, Target{Element: t.Target, Descriptor: d, Document: doc, Trigger: t})
	}
}

// Run performs one refine request against t.
func (f *Flow) Run(ctx context.Context, t Target) Result {
	start := time.Now()
	res := f.run(ctx, &t)
	res.Duration = time.Since(start)
	f.record(t, res)

	attrs := []any{"kind", res.Kind, "duration", res.Duration}
	if res.Outcome.Status != "" {
		attrs = append(attrs, "outcome", res.Outcome.String())
	}
	if res.Err != nil {
		attrs = append(attrs, "error", res.Err)
	}
	f.logger.Info("flow: run finished", attrs...)
	return res
}

func (f *Flow) run(ctx context.Context, t *Target) Result {
	if t.Descriptor == nil {
		t.Descriptor = &platform.Descriptor{}
	}
	el, ok := f.target(t)
	if !ok {
		f.alert(t, MsgNoInput)
		return Result{Kind: KindLocateFailure, Err: dom.ErrDetached}
	}

	draft := t.Descriptor.ReadText(el)
	if strings.TrimSpace(draft) == "" {
		f.alert(t, MsgEmptyDraft)
		return Result{Kind: KindEmptyDraft}
	}

	f.busy(t, true)
	resp := f.cfg.Relay.Send(ctx, relay.Message{Type: relay.TypeRefinePrompt, Prompt: draft})
	f.busy(t, false)
	if !resp.Success {
		f.alert(t, FailureMessage(resp))
		return Result{Kind: KindTransportFailure, Response: resp, Err: fmt.Errorf("flow: relay: %s", resp.Error)}
	}

	text, ok, err := f.cfg.Gate.Confirm(ctx, resp.Refined)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		f.alert(t, MsgNoConfirm)
		return Result{Kind: KindConfirmFailure, Response: resp, Err: fmt.Errorf("flow: confirm: %w", err)}
	}
	if !ok {
		if err == nil {
			err = ErrCancelled
		}
		return Result{Kind: KindCancelledByUser, Response: resp, Err: err}
	}

	// The page may have re-rendered while the user was reading.
	if !el.Connected() {
		if el, ok = f.target(t); !ok {
			f.alert(t, MsgNoInput)
			return Result{Kind: KindLocateFailure, Response: resp, Text: text, Err: dom.ErrDetached}
		}
	}

	out := t.Descriptor.WriteText(ctx, f.cfg.Writer, el, text)
	res := Result{Outcome: out, Response: resp, Text: text, Err: out.Err}
	switch out.Status {
	case adapter.Applied:
		res.Kind = KindApplied
	case adapter.AppliedWithFallback:
		res.Kind = KindApplied
		f.alert(t, MsgFallback)
	default:
		res.Kind = KindInjectionFailure
		f.alert(t, MsgFailed)
	}
	return res
}

// target returns a connected element, re-locating when the held one was
// detached.
func (f *Flow) target(t *Target) (dom.Element, bool) {
	if t.Element != nil && t.Element.Connected() {
		return t.Element, true
	}
	if t.Document == nil {
		return nil, false
	}
	el, ok := f.cfg.Locator.Locate(t.Document, t.Descriptor)
	if !ok {
		return nil, false
	}
	f.logger.Debug("flow: target re-located", "target", el.ID())
	t.Element = el
	return el, true
}

func (f *Flow) busy(t *Target, on bool) {
	if t.Trigger == nil {
		return
	}
	if err := t.Trigger.SetBusy(on); err != nil {
		f.logger.Debug("flow: trigger label", "trigger", t.Trigger.ID, "busy", on, "error", err)
	}
}

func (f *Flow) alert(t *Target, msg string) {
	if t.Document == nil {
		return
	}
	if err := t.Document.Alert(msg); err != nil {
		f.logger.Warn("flow: alert", "error", err)
	}
}

func (f *Flow) record(t Target, res Result) {
	e := history.Event{
		SessionID:  f.cfg.SessionID,
		PlatformID: t.Descriptor.ID,
		Status:     historyStatus(res),
		Strategy:   string(res.Outcome.Strategy),
		Duration:   res.Duration,
	}
	if t.Document != nil {
		e.Origin = t.Document.Origin()
	}
	if res.Err != nil && !errors.Is(res.Err, ErrCancelled) {
		e.Error = res.Err.Error()
	}
	f.cfg.History.Record(e)
}

func historyStatus(res Result) history.Status {
	switch res.Kind {
	case KindApplied:
		if res.Outcome.Status == adapter.AppliedWithFallback {
			return history.StatusAppliedWithFallback
		}
		return history.StatusApplied
	case KindEmptyDraft:
		return history.StatusEmptyDraft
	case KindLocateFailure:
		return history.StatusLocateFailure
	case KindTransportFailure:
		return history.StatusTransportFailure
	case KindCancelledByUser:
		return history.StatusCancelled
	case KindConfirmFailure:
		return history.StatusConfirmFailure
	default:
		return history.StatusFailed
	}
}

// FailureMessage is the text shown to the user for a failed relay response.
func FailureMessage(resp relay.Response) string {
	if resp.Code == relay.CodeTimeout {
		return MsgTimeout
	}
	msg := "Error: " + resp.Error
	if resp.Hint != "" {
		msg += "\n" + resp.Hint
	}
	return msg
}
