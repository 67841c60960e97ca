package adapter

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/dom/memdom"
)

const fixture = `<body>
<form>
  <textarea id="plain">draft text</textarea>
  <div id="rich" contenteditable="true"><p>draft <b>text</b></p></div>
</form>
</body>`

type fakeClipboard struct {
	got string
	err error
}

func (c *fakeClipboard) WriteAll(text string) error {
	if c.err != nil {
		return c.err
	}
	c.got = text
	return nil
}

func setup(t *testing.T, sel string, accept memdom.Channel) (*memdom.Element, *fakeClipboard, *Writer) {
	t.Helper()
	doc := memdom.MustParse(fixture, "https://chat.example/")
	el := doc.Find(sel)
	if el == nil {
		t.Fatalf("fixture has no %s", sel)
	}
	el.SetBehavior(memdom.Behavior{Accept: accept})
	cb := &fakeClipboard{}
	return el, cb, NewWriter(WithClipboard(cb))
}

func results(o Outcome) []string {
	var out []string
	for _, a := range o.Attempts {
		out = append(out, string(a.Strategy)+":"+string(a.Result))
	}
	return out
}

func TestRead(t *testing.T) {
	doc := memdom.MustParse(fixture, "")
	if got := Read(doc.Find("#plain")); got != "draft text" {
		t.Errorf("textarea: got %q", got)
	}
	if got := Read(doc.Find("#rich")); got != "draft text" {
		t.Errorf("contenteditable: got %q", got)
	}
	if got := Read(nil); got != "" {
		t.Errorf("nil: got %q", got)
	}
}

func TestRead_Idempotent(t *testing.T) {
	doc := memdom.MustParse(fixture, "")
	el := doc.Find("#rich")
	first := Read(el)
	for range 5 {
		if got := Read(el); got != first {
			t.Fatalf("Read changed: %q then %q", first, got)
		}
	}
	if got, _ := el.TextContent(); got != "draft text" {
		t.Fatalf("Read mutated the element: %q", got)
	}
}

func TestWrite_ForcedEscalation(t *testing.T) {
	tests := []struct {
		name   string
		sel    string
		accept memdom.Channel
		want   Strategy
		chain  []string
	}{
		{
			name: "textarea native", sel: "#plain", accept: memdom.Native,
			want:  StrategyNative,
			chain: []string{"native_setter:applied"},
		},
		{
			name: "rich beforeinput", sel: "#rich", accept: memdom.BeforeInput,
			want:  StrategyBeforeInput,
			chain: []string{"native_setter:skipped", "beforeinput:applied"},
		},
		{
			name: "rich execcommand", sel: "#rich", accept: memdom.ExecCommand,
			want:  StrategyExecCommand,
			chain: []string{"native_setter:skipped", "beforeinput:rejected", "exec_command:applied"},
		},
		{
			name: "textarea execcommand", sel: "#plain", accept: memdom.ExecCommand,
			want:  StrategyExecCommand,
			chain: []string{"native_setter:rejected", "beforeinput:skipped", "exec_command:applied"},
		},
		{
			name: "rich paste", sel: "#rich", accept: memdom.Paste,
			want:  StrategyPaste,
			chain: []string{"native_setter:skipped", "beforeinput:rejected", "exec_command:rejected", "synthetic_paste:applied"},
		},
		{
			name: "rich direct", sel: "#rich", accept: memdom.Direct,
			want: StrategyDirect,
			chain: []string{"native_setter:skipped", "beforeinput:rejected", "exec_command:rejected",
				"synthetic_paste:rejected", "direct_replace:applied"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			el, cb, w := setup(t, tt.sel, tt.accept)
			out := w.Write(context.Background(), el, "refined prompt")
			if out.Status != Applied || out.Strategy != tt.want {
				t.Fatalf("got %s via %q, want applied via %q", out.Status, out.Strategy, tt.want)
			}
			if got := results(out); !reflect.DeepEqual(got, tt.chain) {
				t.Fatalf("attempts:\n got %v\nwant %v", got, tt.chain)
			}
			if got := Read(el); got != "refined prompt" {
				t.Fatalf("round trip: got %q", got)
			}
			if cb.got != "" {
				t.Fatal("clipboard used although an in-page strategy succeeded")
			}
		})
	}
}

func TestWrite_ExactlyFirstTwoBeforeSuccess(t *testing.T) {
	el, _, w := setup(t, "#rich", memdom.ExecCommand)
	out := w.Write(context.Background(), el, "x")
	attempted := out.Attempts[:len(out.Attempts)-1]
	if len(attempted) != 2 || attempted[0].Strategy != StrategyNative || attempted[1].Strategy != StrategyBeforeInput {
		t.Fatalf("strategies before success: %v", results(out))
	}
	if got := out.Tried(); !reflect.DeepEqual(got, []Strategy{StrategyBeforeInput, StrategyExecCommand}) {
		t.Fatalf("Tried: %v", got)
	}
}

func TestWrite_ClipboardFallback(t *testing.T) {
	el, cb, w := setup(t, "#rich", 0)
	out := w.Write(context.Background(), el, "refined")
	if out.Status != AppliedWithFallback || out.Strategy != StrategyClipboard {
		t.Fatalf("got %s", out)
	}
	if cb.got != "refined" {
		t.Fatalf("clipboard holds %q", cb.got)
	}
	if got := Read(el); got != "draft text" {
		t.Fatalf("element changed although every strategy was rejected: %q", got)
	}
	if len(out.Attempts) != len(Ladder) {
		t.Fatalf("got %d attempts, want %d", len(out.Attempts), len(Ladder))
	}
}

func TestWrite_ClipboardFailure(t *testing.T) {
	el, cb, w := setup(t, "#rich", 0)
	cb.err = errors.New("no display")
	out := w.Write(context.Background(), el, "refined")
	if out.Status != Failed || out.Err == nil {
		t.Fatalf("got %s, err %v", out, out.Err)
	}
	if !strings.Contains(out.Err.Error(), "no display") {
		t.Fatalf("error lost: %v", out.Err)
	}
}

func TestWrite_ErrorsAreRecordedAndLadderContinues(t *testing.T) {
	doc := memdom.MustParse(`<body><div id="x" contenteditable="true" data-accept="" data-direct="throws">a</div></body>`, "")
	cb := &fakeClipboard{}
	out := NewWriter(WithClipboard(cb)).Write(context.Background(), doc.Find("#x"), "b")
	var direct Attempt
	for _, a := range out.Attempts {
		if a.Strategy == StrategyDirect {
			direct = a
		}
	}
	if direct.Result != ResultErrored || direct.Err == "" {
		t.Fatalf("direct attempt: %+v", direct)
	}
	if out.Status != AppliedWithFallback {
		t.Fatalf("ladder stopped at an erroring step: %s", out)
	}
}

func TestWrite_Detached(t *testing.T) {
	doc := memdom.MustParse(fixture, "")
	el := doc.Find("#rich")
	doc.Find("form").Remove()
	cb := &fakeClipboard{}
	out := NewWriter(WithClipboard(cb)).Write(context.Background(), el, "x")
	if out.Status != Failed || !errors.Is(out.Err, dom.ErrDetached) {
		t.Fatalf("got %s, %v", out, out.Err)
	}
	if len(out.Attempts) != 0 || cb.got != "" {
		t.Fatal("detached element should fail before any strategy")
	}
}

func TestWrite_AlreadyHoldsText(t *testing.T) {
	el, _, w := setup(t, "#plain", 0)
	out := w.Write(context.Background(), el, "draft text")
	if out.Status != Applied || out.Strategy != StrategyNone || len(out.Attempts) != 0 {
		t.Fatalf("got %s", out)
	}
}

func TestWrite_CancelledContext(t *testing.T) {
	el, cb, w := setup(t, "#rich", memdom.AllChannels)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := w.Write(ctx, el, "x")
	if out.Status != Failed || !errors.Is(out.Err, context.Canceled) {
		t.Fatalf("got %s, %v", out, out.Err)
	}
	if Read(el) != "draft text" || cb.got != "" {
		t.Fatal("cancelled write touched the element or clipboard")
	}
}

func TestWrite_CustomCompare(t *testing.T) {
	el, _, _ := setup(t, "#rich", memdom.BeforeInput)
	trimmed := func(got, want string) bool { return strings.TrimSpace(got) == strings.TrimSpace(want) }
	w := NewWriter(WithClipboard(&fakeClipboard{}), WithCompare(trimmed))
	out := w.Write(context.Background(), el, "  draft text\n")
	if out.Status != Applied || len(out.Attempts) != 0 {
		t.Fatalf("custom comparator ignored: %s", out)
	}
}

func TestWrite_EventsDispatched(t *testing.T) {
	el, _, w := setup(t, "#plain", memdom.Native)
	w.Write(context.Background(), el, "new")
	var types []dom.EventType
	for _, ev := range el.Events() {
		types = append(types, ev.Type)
	}
	if !reflect.DeepEqual(types, []dom.EventType{dom.EventInput, dom.EventChange}) {
		t.Fatalf("events: %v", types)
	}
	if !el.Focused() {
		t.Fatal("element not focused before writing")
	}
}

func TestOutcomeString(t *testing.T) {
	o := Outcome{Status: Applied, Attempts: []Attempt{{StrategyNative, ResultSkipped, ""}, {StrategyBeforeInput, ResultApplied, ""}}}
	if got := o.String(); got != "applied native_setter:skipped beforeinput:applied" {
		t.Fatalf("got %q", got)
	}
}
