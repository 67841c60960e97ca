package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/promptify/adapter"
	"github.com/hazyhaar/promptify/confirm"
	"github.com/hazyhaar/promptify/flow"
	"github.com/hazyhaar/promptify/history"
	"github.com/hazyhaar/promptify/internal/horosafe"
	"github.com/hazyhaar/promptify/relay"
)

// MaxPromptChars bounds a prompt given to refine.
const MaxPromptChars = 5000

var (
	errEmptyPrompt = errors.New("promptify: prompt is empty")
	errCancelled   = errors.New("promptify: cancelled")
)

func (a *app) newRefineCmd() *cobra.Command {
	var (
		file        string
		yes         bool
		toClipboard bool
	)
	cmd := &cobra.Command{
		Use:   "refine [text]",
		Short: "Rewrite a prompt from the terminal",
		Long: `refine sends a prompt to the rewriting service, lets you review and edit
the result in the terminal (ctrl+s accepts, esc cancels) and prints it.

The prompt comes from the arguments, --file, or standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args, file)
			if err != nil {
				return err
			}
			var gate confirm.Gate = confirm.TerminalGate{
				In:    cmd.InOrStdin(),
				Out:   cmd.ErrOrStderr(),
				Title: "Refined Prompt Preview",
			}
			if yes {
				gate = confirm.GateFunc(func(_ context.Context, c string) (string, bool, error) { return c, true, nil })
			}
			out, err := a.refine(cmd, prompt, gate)
			if err != nil {
				return err
			}
			if toClipboard {
				if err := (adapter.SystemClipboard{}).WriteAll(out); err != nil {
					a.logger.Warn("promptify: clipboard", "error", err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the prompt from a file (- for stdin)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "accept the rewrite without review")
	cmd.Flags().BoolVar(&toClipboard, "copy", false, "also copy the result to the clipboard")
	return cmd
}

func (a *app) refine(cmd *cobra.Command, prompt string, gate confirm.Gate) (string, error) {
	ctx := cmd.Context()
	st, err := a.openStores()
	if err != nil {
		return "", err
	}
	defer st.Close()

	start := time.Now()
	ev := history.Event{Origin: "cli", PlatformID: "cli"}
	defer func() {
		ev.Duration = time.Since(start)
		st.history.Record(ev)
	}()

	resp := a.newRelay(st.settings).Send(ctx, relay.Message{Type: relay.TypeRefinePrompt, Prompt: prompt})
	if !resp.Success {
		ev.Status, ev.Error = history.StatusTransportFailure, resp.Error
		return "", errors.New(flow.FailureMessage(resp))
	}

	text, ok, err := gate.Confirm(ctx, resp.Refined)
	if err != nil {
		ev.Status, ev.Error = history.StatusFailed, err.Error()
		return "", fmt.Errorf("promptify: confirm: %w", err)
	}
	if !ok {
		ev.Status = history.StatusCancelled
		return "", errCancelled
	}
	ev.Status = history.StatusApplied
	return text, nil
}

// readPrompt takes the prompt from args, then file, then in.
func readPrompt(in io.Reader, args []string, file string) (string, error) {
	var raw string
	switch {
	case len(args) > 0:
		raw = strings.Join(args, " ")
	case file != "" && file != "-":
		f, err := os.Open(file)
		if err != nil {
			return "", fmt.Errorf("promptify: %w", err)
		}
		defer f.Close()
		data, err := horosafe.LimitedReadAll(f, 4*MaxPromptChars)
		if err != nil {
			return "", fmt.Errorf("promptify: read %s: %w", file, err)
		}
		raw = string(data)
	default:
		data, err := horosafe.LimitedReadAll(in, 4*MaxPromptChars)
		if err != nil {
			return "", fmt.Errorf("promptify: read stdin: %w", err)
		}
		raw = string(data)
	}
	p := strings.TrimSpace(raw)
	if p == "" {
		return "", errEmptyPrompt
	}
	if n := utf8.RuneCountInString(p); n > MaxPromptChars {
		return "", fmt.Errorf("promptify: prompt is %d characters, limit %d", n, MaxPromptChars)
	}
	return p, nil
}
