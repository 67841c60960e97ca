package platform

import (
	"fmt"
	"sync"
)

// Registry is an ordered set of descriptors whose host patterns are
// pairwise disjoint.
type Registry struct {
	mu    sync.RWMutex
	descs []*Descriptor
	byID  map[string]*Descriptor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Descriptor)}
}

// Register adds d. It fails when the id is taken or when one of d's host
// patterns overlaps a pattern of an already registered descriptor, since
// then some origin would match both.
func (r *Registry) Register(d Descriptor) error {
	if err := d.validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, dup := r.byID[d.ID]; dup {
		return fmt.Errorf("platform: register %s: duplicate id", d.ID)
	}
	for _, h := range d.Hosts {
		p := parsePattern(h)
		for _, other := range r.descs {
			for _, oh := range other.Hosts {
				if overlaps(p, parsePattern(oh)) {
					return fmt.Errorf("platform: register %s: pattern %q overlaps %s (%q)", d.ID, h, other.ID, oh)
				}
			}
		}
	}
	stored := d
	stored.Hosts = append([]string(nil), d.Hosts...)
	stored.InputSelectors = append([]string(nil), d.InputSelectors...)
	stored.SubmitSelectors = append([]string(nil), d.SubmitSelectors...)
	stored.ShadowHosts = append([]string(nil), d.ShadowHosts...)
	r.descs = append(r.descs, &stored)
	r.byID[d.ID] = &stored
	return nil
}

// MustRegister panics on error. NewBuiltinRegistry uses it for the
// compiled-in table, where a conflict is a programming error.
func (r *Registry) MustRegister(ds ...Descriptor) *Registry {
	for _, d := range ds {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Identify returns the descriptor whose host pattern accepts origin.
func (r *Registry) Identify(origin string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, d := range r.descs {
		if d.Matches(origin) {
			return d, true
		}
	}
	return nil, false
}

// Get returns the descriptor registered under id.
func (r *Registry) Get(id string) (*Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.byID[id]
	return d, ok
}

// All lists descriptors in registration order.
func (r *Registry) All() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*Descriptor(nil), r.descs...)
}

// Len reports the number of registered descriptors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descs)
}
