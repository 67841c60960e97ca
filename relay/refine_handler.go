package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hazyhaar/promptify/refine"
	"github.com/hazyhaar/promptify/settings"
)

// RefineConfig configures RefineHandler.
type RefineConfig struct {
	Settings settings.Store
	// HTTPClient is reused across requests. Default: a fresh client.
	HTTPClient *http.Client
	// Timeout bounds the HTTP round trip. Default: refine.DefaultTimeout.
	Timeout time.Duration
	Logger  *slog.Logger
}

// RefineHandler answers TypeRefinePrompt: it loads the effective settings
// on every call, so edits apply to the next request without a restart,
// and returns the rewritten prompt bytes unchanged.
func RefineHandler(cfg RefineConfig) Handler {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var msg Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			return nil, fmt.Errorf("relay: decode message: %w", err)
		}

		s, err := settings.Effective(ctx, cfg.Settings)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		if err := s.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}

		client, err := refine.New(refine.Config{
			Endpoint:   s.APIURL,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
			Logger:     cfg.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}

		cfg.Logger.Debug("relay: refine", "provider", s.Provider, "model", s.Model, "endpoint", s.APIURL, "chars", len(msg.Prompt))
		out, err := client.Refine(ctx, refine.Request{
			Prompt:   msg.Prompt,
			Provider: s.Provider,
			Model:    s.Model,
			APIKey:   s.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return []byte(out), nil
	}
}
