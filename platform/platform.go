// Package platform holds the table of supported chat sites.
//
// A Descriptor is a flat record: where the input lives (selectors, shadow
// hosts), where to anchor the trigger (container and submit hints), and
// optional read/write overrides. The registry is assembled once at start-up
// and read concurrently afterwards; it never changes while pages are
// being watched.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/hazyhaar/promptify/adapter"
	"github.com/hazyhaar/promptify/dom"
)

// ReadFunc overrides how a descriptor reads its input.
type ReadFunc func(el dom.Element) string

// WriteFunc overrides how a descriptor writes its input.
type WriteFunc func(ctx context.Context, el dom.Element, text string) adapter.Outcome

// Descriptor identifies one supported site variant.
type Descriptor struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	// Hosts are origin patterns "host[/path-prefix]". A pattern accepts an
	// origin whose hostname equals host or is a subdomain of it and whose
	// path is the prefix or lies below it ("/chat" accepts "/chat/1" but
	// not "/chatbots").
	Hosts []string `yaml:"hosts"`
	// InputSelectors are tried in order; the first match wins.
	InputSelectors []string `yaml:"input_selectors"`
	// ContainerSelector names the logical wrapper around the input.
	ContainerSelector string `yaml:"container_selector,omitempty"`
	// SubmitSelectors recognise the send button when searching for an anchor.
	SubmitSelectors []string `yaml:"submit_selectors,omitempty"`
	// ShadowHosts extend the locator's allow-list of shadow hosts.
	ShadowHosts []string `yaml:"shadow_hosts,omitempty"`

	Read  ReadFunc  `yaml:"-"`
	Write WriteFunc `yaml:"-"`
}

// ReadText reads el through the descriptor's override or the adapter default.
func (d *Descriptor) ReadText(el dom.Element) string {
	if d.Read != nil {
		return d.Read(el)
	}
	return adapter.Read(el)
}

// WriteText writes el through the descriptor's override or w.
func (d *Descriptor) WriteText(ctx context.Context, w *adapter.Writer, el dom.Element, text string) adapter.Outcome {
	if d.Write != nil {
		return d.Write(ctx, el, text)
	}
	return w.Write(ctx, el, text)
}

// Matches reports whether any host pattern accepts origin.
func (d *Descriptor) Matches(origin string) bool {
	host, path := splitOrigin(origin)
	if host == "" {
		return false
	}
	for _, h := range d.Hosts {
		p := parsePattern(h)
		if hostCovers(p.host, host) && pathCovers(p.path, path) {
			return true
		}
	}
	return false
}

func (d *Descriptor) validate() error {
	if d.ID == "" {
		return errors.New("platform: descriptor has no id")
	}
	if len(d.Hosts) == 0 {
		return fmt.Errorf("platform: %s: no host patterns", d.ID)
	}
	if len(d.InputSelectors) == 0 {
		return fmt.Errorf("platform: %s: no input selectors", d.ID)
	}
	for _, h := range d.Hosts {
		if parsePattern(h).host == "" {
			return fmt.Errorf("platform: %s: empty host in pattern %q", d.ID, h)
		}
	}
	return nil
}

type pattern struct {
	host string
	path string
}

func parsePattern(s string) pattern {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	host, path, _ := strings.Cut(s, "/")
	if path = strings.TrimRight(path, "/"); path != "" {
		path = "/" + path
	}
	return pattern{host: strings.TrimPrefix(host, "www."), path: path}
}

// splitOrigin accepts a full URL or a bare "host/path" and returns the
// lower-cased hostname and path.
func splitOrigin(origin string) (host, path string) {
	origin = strings.TrimSpace(origin)
	if strings.Contains(origin, "://") {
		u, err := url.Parse(origin)
		if err != nil {
			return "", ""
		}
		return strings.ToLower(u.Hostname()), u.EscapedPath()
	}
	if i := strings.IndexAny(origin, "?#"); i >= 0 {
		origin = origin[:i]
	}
	host, path, _ = strings.Cut(origin, "/")
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return strings.ToLower(host), "/" + path
}

// hostCovers reports whether pattern host p accepts hostname h.
func hostCovers(p, h string) bool {
	return h == p || strings.HasSuffix(h, "."+p)
}

// pathCovers reports whether path is prefix or a descendant of it, on a
// segment boundary.
func pathCovers(prefix, path string) bool {
	if prefix == "" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix) && path[len(prefix)] == '/'
}

// overlaps reports whether some origin could match both patterns.
func overlaps(a, b pattern) bool {
	if !hostCovers(a.host, b.host) && !hostCovers(b.host, a.host) {
		return false
	}
	return pathCovers(a.path, b.path) || pathCovers(b.path, a.path)
}
