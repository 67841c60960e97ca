package injector

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/dom/memdom"
	"github.com/hazyhaar/promptify/internal/idgen"
	"github.com/hazyhaar/promptify/platform"
)

const composer = `<body>
<main id="page">
  <form id="form">
    <div id="wrap">
      <div id="prompt" contenteditable="true">hi</div>
    </div>
    <button data-testid="send-button">Send</button>
  </form>
</main>
</body>`

func newInjector(d *platform.Descriptor) *Injector {
	return New(Config{Descriptor: d, IDs: idgen.Sequence("trg_")})
}

func attrID(el dom.Element) string {
	v, _ := el.Attribute("id")
	return v
}

func TestAnchor(t *testing.T) {
	tests := []struct {
		name string
		html string
		desc *platform.Descriptor
		want string
	}{
		{
			name: "ancestor holding send button",
			html: composer,
			desc: &platform.Descriptor{},
			want: "form",
		},
		{
			name: "container selector wins",
			html: composer,
			desc: &platform.Descriptor{ContainerSelector: "#wrap"},
			want: "wrap",
		},
		{
			name: "descriptor submit selector",
			html: `<body><section id="s"><div id="p"><textarea id="prompt"></textarea></div><span class="go"></span></section></body>`,
			desc: &platform.Descriptor{SubmitSelectors: []string{"span.go"}},
			want: "s",
		},
		{
			name: "no send button falls back to parent",
			html: `<body><div id="outer"><div id="parent"><textarea id="prompt"></textarea></div></div></body>`,
			desc: &platform.Descriptor{},
			want: "parent",
		},
		{
			name: "button only at body level falls back to parent",
			html: `<body><div id="parent"><textarea id="prompt"></textarea></div><button aria-label="Send now"></button></body>`,
			desc: &platform.Descriptor{},
			want: "parent",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc := memdom.MustParse(tt.html, "")
			a, err := newInjector(tt.desc).Anchor(doc.Find("#prompt"))
			if err != nil {
				t.Fatal(err)
			}
			if got := attrID(a); got != tt.want {
				t.Fatalf("anchor: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAnchor_HopLimit(t *testing.T) {
	html := `<body><div id="top"><button data-testid="send-button"></button>`
	for range 12 {
		html += "<div>"
	}
	html += `<textarea id="prompt"></textarea>`
	for range 12 {
		html += "</div>"
	}
	html += "</div></body>"
	doc := memdom.MustParse(html, "")
	el := doc.Find("#prompt")
	a, err := newInjector(&platform.Descriptor{}).Anchor(el)
	if err != nil {
		t.Fatal(err)
	}
	if p, _ := el.Parent(); !dom.Same(a, p) {
		t.Fatalf("search past ten ancestors: anchored on %s#%s", a.Tag(), attrID(a))
	}
}

func TestInject_Idempotent(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	inj := newInjector(&platform.Descriptor{})
	el := doc.Find("#prompt")

	first, err := inj.Inject(el, nil)
	if err != nil {
		t.Fatal(err)
	}
	for range 5 {
		again, err := inj.Inject(el, nil)
		if err != nil {
			t.Fatal(err)
		}
		if again != first {
			t.Fatal("second Inject created a new trigger")
		}
	}
	if n := len(mustQuery(t, doc, "["+dom.AttrTrigger+"]")); n != 1 {
		t.Fatalf("got %d triggers in the page, want 1", n)
	}
	if !inj.Has(el) {
		t.Fatal("Has reports no trigger after Inject")
	}
	if v, _ := first.Button.Attribute(dom.AttrTriggerFor); v != el.ID() {
		t.Fatalf("trigger points at %q, want %q", v, el.ID())
	}
}

func TestInject_AdoptsLeftoverButton(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	el := doc.Find("#prompt")
	if _, err := newInjector(&platform.Descriptor{}).Inject(el, nil); err != nil {
		t.Fatal(err)
	}
	fresh := newInjector(&platform.Descriptor{})
	tr, err := fresh.Inject(el, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n := len(mustQuery(t, doc, "["+dom.AttrTrigger+"]")); n != 1 {
		t.Fatalf("got %d triggers after re-install, want 1", n)
	}
	if tr.ID != "trg_1" {
		t.Fatalf("adopted id %q", tr.ID)
	}
}

func TestInject_ReplacesTriggerOfDetachedTarget(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	inj := newInjector(&platform.Descriptor{})
	old := doc.Find("#prompt")
	first, _ := inj.Inject(old, nil)

	doc.Find("#wrap").Remove()
	if inj.Has(old) {
		t.Fatal("Has true for detached target")
	}
	if err := doc.Insert("#form", `<div id="wrap2"><div id="prompt2" contenteditable="true"></div></div>`); err != nil {
		t.Fatal(err)
	}
	if n := inj.Prune(); n != 1 {
		t.Fatalf("Prune removed %d, want 1", n)
	}
	if first.Button.Connected() {
		t.Fatal("stale trigger still in the page")
	}
	if _, err := inj.Inject(doc.Find("#prompt2"), nil); err != nil {
		t.Fatal(err)
	}
	if n := len(mustQuery(t, doc, "["+dom.AttrTrigger+"]")); n != 1 {
		t.Fatalf("got %d triggers, want 1", n)
	}
}

func TestInject_Detached(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	el := doc.Find("#prompt")
	doc.Find("#form").Remove()
	if _, err := newInjector(&platform.Descriptor{}).Inject(el, nil); !errors.Is(err, dom.ErrDetached) {
		t.Fatalf("got %v, want ErrDetached", err)
	}
}

func TestActivate(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	inj := newInjector(&platform.Descriptor{})

	release := make(chan struct{})
	entered := make(chan struct{})
	var calls int
	var mu sync.Mutex
	tr, err := inj.Inject(doc.Find("#prompt"), func(ctx context.Context, t *Trigger) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(entered)
		<-release
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() { done <- inj.Activate(context.Background(), tr.ID) }()
	<-entered

	if err := inj.Activate(context.Background(), tr.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Activate: got %v, want ErrBusy", err)
	}
	close(release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(time.Second):
		t.Fatal("handler did not return")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("handler ran %d times, want 1", calls)
	}

	if err := inj.Activate(context.Background(), "nope"); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("unknown id: got %v", err)
	}
}

func TestSetBusy(t *testing.T) {
	doc := memdom.MustParse(composer, "")
	inj := newInjector(&platform.Descriptor{})
	tr, _ := inj.Inject(doc.Find("#prompt"), func(context.Context, *Trigger) {
		t.Error("handler ran while busy")
	})

	if err := tr.SetBusy(true); err != nil {
		t.Fatal(err)
	}
	if s, _ := tr.Button.TextContent(); s != LabelBusy {
		t.Fatalf("label %q", s)
	}
	if _, ok := tr.Button.Attribute("disabled"); !ok {
		t.Fatal("busy trigger not disabled")
	}
	if err := inj.Activate(context.Background(), tr.ID); !errors.Is(err, ErrBusy) {
		t.Fatalf("Activate while busy: %v", err)
	}

	tr.SetBusy(false)
	if s, _ := tr.Button.TextContent(); s != LabelIdle {
		t.Fatalf("label %q", s)
	}
	if _, ok := tr.Button.Attribute("disabled"); ok {
		t.Fatal("idle trigger still disabled")
	}
}

func mustQuery(t *testing.T, r dom.Root, sel string) []dom.Element {
	t.Helper()
	els, err := r.QueryAll(sel)
	if err != nil {
		t.Fatal(err)
	}
	return els
}
