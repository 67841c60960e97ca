package main

import (
	"context"
	"errors"
	"os"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/promptify/adapter"
	"github.com/hazyhaar/promptify/browser"
	"github.com/hazyhaar/promptify/config"
	"github.com/hazyhaar/promptify/confirm"
	"github.com/hazyhaar/promptify/locator"
	"github.com/hazyhaar/promptify/server"
	"github.com/hazyhaar/promptify/session"
)

func (a *app) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Attach to the browser and keep Refine buttons on supported chat pages",
		Long: `run connects to Chromium (browser.remote) or launches it, watches every
tab whose URL matches a platform descriptor and serves the local control
API on server.addr until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runDaemon(cmd.Context())
		},
	}
}

func (a *app) newLocator() *locator.Locator {
	depth := a.cfg.ShadowDepth()
	if depth == 0 {
		// An explicit zero means no shadow walk; the locator reads zero as default.
		depth = -1
	}
	return locator.New(locator.Config{
		MaxShadowDepth: depth,
		ShadowHosts:    a.cfg.Locator.ShadowHosts,
		Logger:         a.logger,
	})
}

// terminalGate serialises confirmations: sessions share one terminal.
func (a *app) terminalGate() confirm.Gate {
	var mu sync.Mutex
	tg := confirm.TerminalGate{In: os.Stdin, Out: os.Stderr, Title: "Refined Prompt Preview"}
	return confirm.GateFunc(func(ctx context.Context, candidate string) (string, bool, error) {
		mu.Lock()
		defer mu.Unlock()
		return tg.Confirm(ctx, candidate)
	})
}

func (a *app) runDaemon(ctx context.Context) error {
	log := a.logger

	st, err := a.openStores()
	if err != nil {
		return err
	}
	defer st.Close()

	if keep := a.cfg.Store.HistoryRetention; keep > 0 {
		n, err := st.history.Cleanup(ctx, keep)
		if err != nil {
			log.Warn("promptify: history cleanup", "error", err)
		} else if n > 0 {
			log.Info("promptify: history cleanup", "deleted", n)
		}
	}

	reg, err := a.registry()
	if err != nil {
		return err
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:   a.cfg.Browser.Remote,
		Bin:         a.cfg.Browser.Bin,
		Headless:    a.cfg.Browser.Headless,
		UserDataDir: a.cfg.Browser.UserDataDir,
		Stealth:     a.cfg.Browser.Stealth,
		Logger:      log,
	})
	if _, err := mgr.Start(ctx); err != nil {
		return err
	}
	defer mgr.Close()

	for _, u := range a.cfg.Browser.Open {
		if _, err := mgr.Open(ctx, u); err != nil {
			log.Warn("promptify: open", "url", u, "error", err)
		}
	}

	base := session.Config{
		Locator:   a.newLocator(),
		Relay:     a.newRelay(st.settings),
		Writer:    adapter.NewWriter(adapter.WithLogger(log)),
		History:   st.history,
		Window:    a.cfg.Watcher.Window,
		MaxBuffer: a.cfg.Watcher.MaxBuffer,
		Logger:    log,
	}
	if a.cfg.Confirm.Mode == config.ConfirmTerminal {
		base.Gate = a.terminalGate()
	}

	sup := session.NewSupervisor(session.SupervisorConfig{
		Registry: reg,
		Targets:  mgr,
		Attach:   session.RodAttacher(mgr, base),
		Interval: a.cfg.Browser.ScanEvery,
		Logger:   log,
	})

	var srv *server.Server
	if !a.cfg.Server.Disabled {
		srv, err = server.New(server.Config{
			Addr:     a.cfg.Server.Addr,
			Sessions: sup,
			Settings: st.settings,
			History:  st.history,
			Logger:   log,
		})
		if err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sup.Run(gctx) })
	if srv != nil {
		g.Go(func() error { return srv.ListenAndServe(gctx) })
	}

	log.Info("promptify: running", "platforms", reg.Len(), "confirm", a.cfg.Confirm.Mode, "api", !a.cfg.Server.Disabled)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("promptify: stopped")
	return nil
}
