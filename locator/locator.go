// Package locator finds a descriptor's input element in a live page.
//
// A flat pass runs the descriptor's selectors against the document. When
// that finds nothing, the locator walks into the open shadow roots of an
// allow-list of host elements, down to a fixed depth. Nothing is cached:
// every call walks the current structure.
package locator

import (
	"log/slog"

	"github.com/hazyhaar/promptify/dom"
	"github.com/hazyhaar/promptify/platform"
)

// DefaultMaxShadowDepth is how many nested shadow roots are entered.
const DefaultMaxShadowDepth = 2

// DefaultShadowHosts are always considered, in addition to a descriptor's own.
var DefaultShadowHosts = []string{
	"rich-textarea",
	"cib-serp",
	"cib-action-bar",
	"cib-text-input",
}

// Config controls the shadow walk.
type Config struct {
	// MaxShadowDepth bounds the number of nested shadow roots entered.
	// Zero means DefaultMaxShadowDepth; negative disables the shadow walk.
	MaxShadowDepth int
	// ShadowHosts replaces DefaultShadowHosts when non-nil.
	ShadowHosts []string
	Logger      *slog.Logger
}

func (c *Config) defaults() {
	if c.MaxShadowDepth == 0 {
		c.MaxShadowDepth = DefaultMaxShadowDepth
	}
	if c.ShadowHosts == nil {
		c.ShadowHosts = DefaultShadowHosts
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Locator finds input elements.
type Locator struct {
	cfg Config
}

// New returns a Locator.
func New(cfg Config) *Locator {
	cfg.defaults()
	return &Locator{cfg: cfg}
}

// MaxShadowDepth reports the configured bound.
func (l *Locator) MaxShadowDepth() int { return l.cfg.MaxShadowDepth }

// Locate returns the first element matching one of d's input selectors.
// Query errors count as "no match".
func (l *Locator) Locate(root dom.Root, d *platform.Descriptor) (dom.Element, bool) {
	if root == nil || d == nil {
		return nil, false
	}
	if el, ok := l.match(root, d.InputSelectors); ok {
		return el, true
	}
	if l.cfg.MaxShadowDepth < 0 {
		return nil, false
	}
	hosts := l.hosts(d)
	if len(hosts) == 0 {
		return nil, false
	}
	return l.walk(root, d.InputSelectors, hosts, 1)
}

// Match is one located element together with the selector that found it
// and the shadow depth it sits at.
type Match struct {
	Selector string
	Depth    int
	Element  dom.Element
}

// Probe reports, for each input selector, where it matches. It is a
// diagnostic for saved snapshots and does not stop at the first hit.
func (l *Locator) Probe(root dom.Root, d *platform.Descriptor) []Match {
	var out []Match
	hosts := l.hosts(d)
	var visit func(r dom.Root, depth int)
	visit = func(r dom.Root, depth int) {
		for _, sel := range d.InputSelectors {
			els, err := r.QueryAll(sel)
			if err != nil {
				continue
			}
			for _, el := range els {
				out = append(out, Match{Selector: sel, Depth: depth, Element: el})
			}
		}
		if depth >= l.cfg.MaxShadowDepth {
			return
		}
		for _, h := range l.shadowRoots(r, hosts) {
			visit(h, depth+1)
		}
	}
	visit(root, 0)
	return out
}

func (l *Locator) walk(root dom.Root, selectors, hosts []string, depth int) (dom.Element, bool) {
	if depth > l.cfg.MaxShadowDepth {
		return nil, false
	}
	roots := l.shadowRoots(root, hosts)
	for _, sr := range roots {
		if el, ok := l.match(sr, selectors); ok {
			l.cfg.Logger.Debug("locator: found in shadow root", "depth", depth, "tag", el.Tag())
			return el, true
		}
	}
	for _, sr := range roots {
		if el, ok := l.walk(sr, selectors, hosts, depth+1); ok {
			return el, true
		}
	}
	return nil, false
}

func (l *Locator) shadowRoots(root dom.Root, hosts []string) []dom.Root {
	var out []dom.Root
	for _, sel := range hosts {
		els, err := root.QueryAll(sel)
		if err != nil {
			continue
		}
		for _, h := range els {
			if sr, ok := h.ShadowRoot(); ok {
				out = append(out, sr)
			}
		}
	}
	return out
}

func (l *Locator) match(root dom.Root, selectors []string) (dom.Element, bool) {
	for _, sel := range selectors {
		els, err := root.QueryAll(sel)
		if err != nil {
			l.cfg.Logger.Debug("locator: query failed", "selector", sel, "error", err)
			continue
		}
		if len(els) > 0 {
			return els[0], true
		}
	}
	return nil, false
}

func (l *Locator) hosts(d *platform.Descriptor) []string {
	if len(d.ShadowHosts) == 0 {
		return l.cfg.ShadowHosts
	}
	seen := make(map[string]bool, len(l.cfg.ShadowHosts)+len(d.ShadowHosts))
	var out []string
	for _, list := range [][]string{l.cfg.ShadowHosts, d.ShadowHosts} {
		for _, h := range list {
			if !seen[h] {
				seen[h] = true
				out = append(out, h)
			}
		}
	}
	return out
}
