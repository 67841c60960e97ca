// Package refine is the HTTP client for the prompt rewriting service.
//
// The service takes {prompt, model_provider, model_name, api_key} and
// answers {refined_prompt}. The prompt is sent and the answer returned
// unchanged: this package never looks inside either.
package refine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/promptify/internal/horosafe"
)

// DefaultTimeout bounds one round trip.
const DefaultTimeout = 30 * time.Second

// Request is the body POSTed to the service.
type Request struct {
	Prompt   string `json:"prompt"`
	Provider string `json:"model_provider"`
	Model    string `json:"model_name,omitempty"`
	APIKey   string `json:"api_key,omitempty"`
}

type response struct {
	Refined *string `json:"refined_prompt"`
}

// Config configures a Client.
type Config struct {
	Endpoint string
	// Timeout bounds a Refine call. Default: 30s.
	Timeout time.Duration
	// HTTPClient is shared between clients so connections are reused.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client talks to one rewriting service endpoint.
type Client struct {
	endpoint string
	timeout  time.Duration
	http     *http.Client
	logger   *slog.Logger
}

// New validates cfg.Endpoint and returns a Client.
func New(cfg Config) (*Client, error) {
	if err := horosafe.ValidateEndpoint(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("refine: endpoint %q: %w", cfg.Endpoint, err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{
		endpoint: cfg.Endpoint,
		timeout:  cfg.Timeout,
		http:     cfg.HTTPClient,
		logger:   cfg.Logger,
	}, nil
}

// Endpoint returns the service URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Refine sends req and returns the rewritten prompt. There are no retries.
func (c *Client) Refine(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return "", ErrEmptyPrompt
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("refine: encode request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("refine: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, horosafe.MaxResponseBody)
	if err != nil {
		return "", c.transportError(ctx, err)
	}
	c.logger.Debug("refine: response", "status", resp.StatusCode, "bytes", len(data), "elapsed", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if out.Refined == nil {
		return "", fmt.Errorf("%w: no refined_prompt field", ErrBadResponse)
	}
	return *out.Refined, nil
}

func (c *Client) transportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w after %s", ErrTimeout, c.timeout)
	}
	if errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("refine: %w", context.Canceled)
	}
	return &NetworkError{Endpoint: c.endpoint, Err: err}
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
