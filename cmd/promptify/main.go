// Command promptify rewrites chat prompts in place.
//
// Usage:
//
//	promptify run                         # attach to the browser and serve the control API
//	promptify refine "make this better"   # one-shot rewrite with terminal confirmation
//	promptify config set provider openai  # edit the stored settings
//	promptify probe page.html --origin https://chatgpt.com
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/promptify/config"
	"github.com/hazyhaar/promptify/platform"
)

// app carries the state shared by subcommands after the root pre-run.
type app struct {
	configPath string
	logLevel   string
	envFile    string

	logger *slog.Logger
	cfg    *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "promptify",
		Short: "Rewrite chat prompts in place",
		Long: `promptify attaches to a Chromium browser, adds a Refine button next to
the prompt box of supported chat sites and replaces the draft with a
rewritten version after you confirm it.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.prepare(cmd)
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "path to config.yaml (default "+config.DefaultPath+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file with PROMPTIFY_* overrides")

	root.AddCommand(
		a.newRunCmd(),
		a.newRefineCmd(),
		a.newConfigCmd(),
		a.newPlatformsCmd(),
		a.newProbeCmd(),
		a.newHistoryCmd(),
	)
	return root
}

func (a *app) prepare(cmd *cobra.Command) error {
	a.logger = slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: parseLevel(a.logLevel)}))
	slog.SetDefault(a.logger)

	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("promptify: load %s: %w", a.envFile, err)
		}
	}

	path, optional := a.configPath, false
	if path == "" {
		path, optional = config.DefaultPath, true
	}
	cfg, err := config.LoadFile(path, optional)
	if err != nil {
		return err
	}
	a.cfg = cfg
	return nil
}

func (a *app) registry() (*platform.Registry, error) {
	return platform.NewBuiltinRegistry(a.cfg.Descriptors...)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
