package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Target is an open tab.
type Target struct {
	ID    string `json:"id"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Targets lists the page targets of the browser.
func (m *Manager) Targets(ctx context.Context) ([]Target, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	res, err := proto.TargetGetTargets{}.Call(b.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("browser: list targets: %w", err)
	}
	out := make([]Target, 0, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		if string(info.Type) != "page" {
			continue
		}
		out = append(out, Target{ID: string(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return out, nil
}

// Page returns the rod page for target id.
func (m *Manager) Page(ctx context.Context, id string) (*rod.Page, error) {
	b := m.Browser()
	if b == nil {
		return nil, ErrNotStarted
	}
	p, err := b.Context(ctx).PageFromTarget(proto.TargetTargetID(id))
	if err != nil {
		return nil, fmt.Errorf("browser: page %s: %w", id, err)
	}
	return p, nil
}
