package watcher

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/dom/memdom"
	"github.com/hazyhaar/promptify/platform"
)

var desc = &platform.Descriptor{
	ID:             "test",
	Hosts:          []string{"chat.example"},
	InputSelectors: []string{"#prompt"},
}

// watch starts a watcher on doc, wiring document changes to Notify.
func watch(t *testing.T, doc *memdom.Document) *Watcher {
	t.Helper()
	w := New(Config{Document: doc, Descriptor: desc, Window: 10 * time.Millisecond})
	unsub := doc.Subscribe(func() { w.Notify(Record{Op: OpInsert}) })
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		unsub()
		w.Stop()
	})
	return w
}

func triggers(t *testing.T, doc *memdom.Document) int {
	t.Helper()
	els, err := doc.QueryAll("[" + dom.AttrTrigger + "]")
	if err != nil {
		t.Fatal(err)
	}
	return len(els)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

func TestStart_StateMachine(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><main></main></body>`, "https://chat.example/")
	w := New(Config{Document: doc, Descriptor: desc})
	if w.State() != Idle {
		t.Fatalf("new watcher in state %s", w.State())
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w.State() != Watching {
		t.Fatalf("state after Start: %s", w.State())
	}
	if err := w.Start(context.Background()); !errors.Is(err, ErrStarted) {
		t.Fatalf("second Start: %v", err)
	}
	w.Stop()
	if w.State() != Watching {
		t.Fatal("watcher went back to Idle")
	}
}

func TestStart_NoDescriptor(t *testing.T) {
	doc := memdom.MustParse(`<body></body>`, "https://elsewhere.example/")
	w := New(Config{Document: doc})
	if err := w.Start(context.Background()); !errors.Is(err, ErrNoDescriptor) {
		t.Fatalf("got %v", err)
	}
	if w.State() != Idle {
		t.Fatal("unmatched page left Idle")
	}
}

func TestInitialScan(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><form><div id="prompt" contenteditable="true"></div></form></body>`, "")
	w := watch(t, doc)
	waitFor(t, time.Second, func() bool { return triggers(t, doc) == 1 })
	if s := w.Stats(); s.Hits == 0 || s.Injections != 1 {
		t.Fatalf("stats: %+v", s)
	}
	w.Stop()
}

func TestDelayedInsertion(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><main id="app"></main></body>`, "https://chat.example/")
	w := watch(t, doc)

	time.Sleep(200 * time.Millisecond)
	if triggers(t, doc) != 0 {
		t.Fatal("trigger injected before the input existed")
	}
	if err := doc.Insert("#app", `<form><div id="prompt" contenteditable="true"></div><button data-testid="send-button"></button></form>`); err != nil {
		t.Fatal(err)
	}

	waitFor(t, time.Second, func() bool { return triggers(t, doc) == 1 })
	el := doc.Find("#prompt")
	if !w.Injector().Has(el) {
		t.Fatal("injector does not know the trigger")
	}
	btn := doc.Find("[" + dom.AttrTrigger + "]")
	if p, _ := btn.Parent(); p.Tag() != "form" {
		t.Fatalf("trigger anchored on <%s>, want the form holding the send button", p.Tag())
	}
	w.Stop()
}

func TestRepeatedBatchesSingleTrigger(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><form id="f"><div id="prompt" contenteditable="true"></div></form></body>`, "")
	w := watch(t, doc)
	waitFor(t, time.Second, func() bool { return triggers(t, doc) == 1 })

	for i := range 20 {
		w.Notify(Record{Op: OpAttr})
		if i%5 == 0 {
			doc.Insert("#f", `<span>noise</span>`)
		}
		time.Sleep(3 * time.Millisecond)
	}
	waitFor(t, time.Second, func() bool { return w.Stats().Batches >= 2 })
	time.Sleep(50 * time.Millisecond)

	if n := triggers(t, doc); n != 1 {
		t.Fatalf("got %d triggers after repeated batches, want 1", n)
	}
	if s := w.Stats(); s.Injections != 1 {
		t.Fatalf("injections: %d, want 1", s.Injections)
	}
	w.Stop()
}

func TestReinjectAfterRerender(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><main id="app"><form id="f"><div id="prompt" contenteditable="true"></div></form></main></body>`, "")
	w := watch(t, doc)
	waitFor(t, time.Second, func() bool { return triggers(t, doc) == 1 })

	doc.Find("#f").Remove()
	doc.Insert("#app", `<form id="g"><div id="prompt" contenteditable="true"></div></form>`)

	waitFor(t, time.Second, func() bool { return w.Stats().Injections == 2 })
	if n := triggers(t, doc); n != 1 {
		t.Fatalf("got %d triggers after re-render, want 1", n)
	}
	if !w.Injector().Has(doc.Find("#prompt")) {
		t.Fatal("new input has no trigger")
	}
	w.Stop()
}

func TestBatchesDuringInjectionAreDeferred(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><form id="f"><div id="prompt" contenteditable="true"></div></form></body>`, "")
	var appends atomic.Int32
	entered := make(chan struct{})
	release := make(chan struct{})
	doc.OnAppendTrigger(func(dom.TriggerSpec) {
		if appends.Add(1) == 1 {
			close(entered)
			<-release
		}
	})

	w := New(Config{Document: doc, Descriptor: desc, Window: 5 * time.Millisecond})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("injection never started")
	}
	for range 5 {
		w.Notify(Record{Op: OpInsert})
		time.Sleep(15 * time.Millisecond)
	}
	waitFor(t, time.Second, func() bool { return w.Stats().Skipped >= 3 })
	if s := w.Stats(); s.Injections != 0 || s.Hits != 1 {
		t.Fatalf("stats while blocked: %+v", s)
	}

	close(release)
	waitFor(t, time.Second, func() bool { return w.Stats().Injections == 1 })
	// The deferred batches collapse into one pass after the injection.
	waitFor(t, time.Second, func() bool { return w.Stats().Hits >= 2 })

	if s := w.Stats(); s.Injections != 1 || s.Failures != 0 {
		t.Fatalf("stats: %+v", s)
	}
	if n := appends.Load(); n != 1 {
		t.Fatalf("AppendTrigger called %d times, want 1", n)
	}
	if n := triggers(t, doc); n != 1 {
		t.Fatalf("got %d triggers, want 1", n)
	}
	w.Stop()
}

func TestTextOnlyBatchSkipsLocate(t *testing.T) {
	defer goleak.VerifyNone(t)

	doc := memdom.MustParse(`<body><form><div id="prompt" contenteditable="true"></div></form></body>`, "")
	w := New(Config{Document: doc, Descriptor: desc, Window: 5 * time.Millisecond})
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	waitFor(t, time.Second, func() bool { return w.Stats().Injections == 1 })
	hits := w.Stats().Hits

	w.Notify(Record{Op: OpText}, Record{Op: OpText})
	waitFor(t, time.Second, func() bool { return w.Stats().Skipped == 1 })
	if got := w.Stats().Hits; got != hits {
		t.Fatalf("typing ran a locate pass: hits %d -> %d", hits, got)
	}

	w.Notify(Record{Op: OpText}, Record{Op: OpAttr})
	waitFor(t, time.Second, func() bool { return w.Stats().Hits == hits+1 })
	w.Stop()
}
