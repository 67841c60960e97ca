package session

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/promptify/dom/cdpdom"
)

//go:embed observer.js
var observerJS string

// Attach starts a session on a live tab: it adds the runtime binding,
// registers the page script for every future document, evaluates it on
// the current one and routes binding calls to Deliver.
func Attach(ctx context.Context, page *rod.Page, url string, cfg Config) (*Session, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	doc := cdpdom.New(ctx, page, url, cdpdom.WithLogger(cfg.Logger))
	cfg.Document = doc
	s, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := (proto.RuntimeAddBinding{Name: cdpdom.BindingName}).Call(page); err != nil {
		s.logger.Warn("session: addBinding failed (may already exist)", "error", err)
	}
	if _, err := page.EvalOnNewDocument(fmt.Sprintf("(%s)()", observerJS)); err != nil {
		return nil, fmt.Errorf("session: register page script: %w", err)
	}
	if err := doc.Install(); err != nil {
		s.logger.Warn("session: helper install deferred", "error", err)
	}

	if err := s.Start(ctx); err != nil {
		return nil, err
	}

	wait := page.Context(s.ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != cdpdom.BindingName {
			return
		}
		if err := s.Deliver(e.Payload); err != nil {
			s.logger.Debug("session: deliver", "error", err)
		}
	})
	go wait()

	if _, err := page.Context(s.ctx).Eval(observerJS); err != nil {
		s.Stop()
		return nil, fmt.Errorf("session: inject page script: %w", err)
	}
	s.logger.Debug("session: page script injected", "url", url)
	return s, nil
}
