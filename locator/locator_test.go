package locator

import (
	"testing"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/dom/memdom"
	"github.com/hazyhaar/promptify/platform"
)

var desc = &platform.Descriptor{
	ID:             "test",
	Hosts:          []string{"chat.example"},
	InputSelectors: []string{"#primary", "textarea.fallback"},
	ShadowHosts:    []string{"x-outer", "x-inner", "x-third"},
}

func id(el dom.Element) string {
	v, _ := el.Attribute("id")
	return v
}

func TestLocate_Flat(t *testing.T) {
	doc := memdom.MustParse(`<body>
		<textarea class="fallback" id="second"></textarea>
		<div id="primary" contenteditable="true"></div>
	</body>`, "")
	el, ok := New(Config{}).Locate(doc, desc)
	if !ok || id(el) != "primary" {
		t.Fatalf("selector order not honoured: got %v", el)
	}
}

func TestLocate_SelectorFallback(t *testing.T) {
	doc := memdom.MustParse(`<body><textarea class="fallback" id="fb"></textarea></body>`, "")
	el, ok := New(Config{}).Locate(doc, desc)
	if !ok || id(el) != "fb" {
		t.Fatalf("got %v, %v", el, ok)
	}
}

const nested = `<body>
<x-outer>
  <template shadowrootmode="open">
    <x-inner>
      <template shadowrootmode="open">
        <x-third>
          <template shadowrootmode="open"><textarea class="fallback" id="level3"></textarea></template>
        </x-third>
        <textarea class="fallback" id="level2"></textarea>
      </template>
    </x-inner>
  </template>
</x-outer>
</body>`

func TestLocate_ShadowDepth(t *testing.T) {
	doc := memdom.MustParse(nested, "")

	el, ok := New(Config{}).Locate(doc, desc)
	if !ok || id(el) != "level2" {
		t.Fatalf("default depth: got %v, %v; want level2", el, ok)
	}

	if _, ok := New(Config{MaxShadowDepth: 1}).Locate(doc, desc); ok {
		t.Fatal("depth 1 must not reach a second-level shadow root")
	}
	if _, ok := New(Config{MaxShadowDepth: -1}).Locate(doc, desc); ok {
		t.Fatal("negative depth must disable the shadow walk")
	}
}

func TestLocate_BeyondBoundNotFound(t *testing.T) {
	doc := memdom.MustParse(`<body>
<x-outer><template shadowrootmode="open">
  <x-inner><template shadowrootmode="open">
    <x-third><template shadowrootmode="open"><textarea class="fallback" id="deep"></textarea></template></x-third>
  </template></x-inner>
</template></x-outer>
</body>`, "")
	if _, ok := New(Config{}).Locate(doc, desc); ok {
		t.Fatal("third-level root found with default depth 2")
	}
	el, ok := New(Config{MaxShadowDepth: 3}).Locate(doc, desc)
	if !ok || id(el) != "deep" {
		t.Fatalf("depth 3: got %v, %v", el, ok)
	}
}

func TestLocate_OnlyAllowListedHosts(t *testing.T) {
	doc := memdom.MustParse(`<body>
<x-unknown><template shadowrootmode="open"><textarea class="fallback"></textarea></template></x-unknown>
</body>`, "")
	if _, ok := New(Config{}).Locate(doc, desc); ok {
		t.Fatal("entered a shadow host outside the allow-list")
	}
}

func TestLocate_DefaultHostsMergeWithDescriptor(t *testing.T) {
	doc := memdom.MustParse(`<body>
<rich-textarea><template shadowrootmode="open"><div id="primary" contenteditable="true"></div></template></rich-textarea>
</body>`, "")
	el, ok := New(Config{}).Locate(doc, desc)
	if !ok || id(el) != "primary" {
		t.Fatalf("default shadow host ignored: %v, %v", el, ok)
	}
}

func TestLocate_BadSelectorIsNoMatch(t *testing.T) {
	doc := memdom.MustParse(`<body><textarea class="fallback" id="ok"></textarea></body>`, "")
	d := &platform.Descriptor{InputSelectors: []string{"[[broken", "textarea"}}
	el, ok := New(Config{}).Locate(doc, d)
	if !ok || id(el) != "ok" {
		t.Fatalf("got %v, %v", el, ok)
	}
}

func TestLocate_Stable(t *testing.T) {
	doc := memdom.MustParse(nested, "")
	l := New(Config{})
	first, _ := l.Locate(doc, desc)
	for range 10 {
		el, ok := l.Locate(doc, desc)
		if !ok || !dom.Same(el, first) {
			t.Fatal("Locate returned a different element on an unchanged page")
		}
	}
}

func TestLocate_NoCache(t *testing.T) {
	doc := memdom.MustParse(`<body><main></main></body>`, "")
	l := New(Config{})
	if _, ok := l.Locate(doc, desc); ok {
		t.Fatal("found input on an empty page")
	}
	if err := doc.Insert("main", `<div id="primary" contenteditable="true"></div>`); err != nil {
		t.Fatal(err)
	}
	if _, ok := l.Locate(doc, desc); !ok {
		t.Fatal("late element not found")
	}
}

func TestProbe(t *testing.T) {
	doc := memdom.MustParse(nested, "")
	ms := New(Config{MaxShadowDepth: 3}).Probe(doc, desc)
	depths := map[string]int{}
	for _, m := range ms {
		depths[id(m.Element)] = m.Depth
	}
	if depths["level2"] != 2 || depths["level3"] != 3 {
		t.Fatalf("probe depths: %v", depths)
	}
}
