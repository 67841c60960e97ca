// Package relay carries tagged requests from a page session to the code
// that talks to the network, and carries the answer back as a value.
//
// Handlers are registered per message type and share the bytes-in,
// bytes-out signature, so a handler can be a local function or a remote
// transport without the caller knowing.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/promptify/refine"
)

// TypeRefinePrompt asks for a prompt to be rewritten.
const TypeRefinePrompt = "REFINE_PROMPT"

// DefaultTimeout bounds one Send.
const DefaultTimeout = 30 * time.Second

// Handler processes one message payload.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// Message is a tagged request.
type Message struct {
	Type   string `json:"type"`
	Prompt string `json:"prompt"`
}

// Code classifies a failed Response.
type Code string

const (
	CodeTimeout     Code = "timeout"
	CodeStatus      Code = "status"
	CodeNetwork     Code = "network"
	CodeConfig      Code = "config"
	CodeUnknownType Code = "unknown_type"
	CodeCancelled   Code = "cancelled"
	CodeInternal    Code = "internal"
)

// Response is the answer to a Message. Exactly one of Refined (with
// Success) or Error is meaningful.
type Response struct {
	Success bool   `json:"success"`
	Refined string `json:"refined,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    Code   `json:"code,omitempty"`
	// Status is the upstream HTTP status for CodeStatus.
	Status int `json:"status,omitempty"`
	// Hint is a remedy for well-known upstream statuses.
	Hint string `json:"hint,omitempty"`
}

// ErrUnknownType is returned for a message type with no handler.
var ErrUnknownType = errors.New("relay: unknown message type")

// ErrConfig wraps settings that cannot produce a request.
var ErrConfig = errors.New("relay: invalid settings")

// Relay dispatches messages to handlers.
type Relay struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option { return func(r *Relay) { r.timeout = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Relay) { r.logger = l } }

// New returns a Relay with no handlers.
func New(opts ...Option) *Relay {
	r := &Relay{
		handlers: make(map[string]Handler),
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle registers h for msgType, replacing any previous handler.
func (r *Relay) Handle(msgType string, h Handler) {
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
}

// Send delivers msg and waits for the answer or the timeout.
func (r *Relay) Send(ctx context.Context, msg Message) Response {
	r.mu.RLock()
	h, ok := r.handlers[msg.Type]
	r.mu.RUnlock()
	if !ok {
		return failure(fmt.Errorf("%w: %q", ErrUnknownType, msg.Type))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return failure(fmt.Errorf("relay: encode: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := h(ctx, payload)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, refine.ErrTimeout) {
			err = fmt.Errorf("%w after %s", refine.ErrTimeout, r.timeout)
		}
		resp := failure(err)
		r.logger.Warn("relay: request failed", "type", msg.Type, "code", resp.Code, "error", err, "elapsed", time.Since(start))
		return resp
	}
	r.logger.Info("relay: request done", "type", msg.Type, "elapsed", time.Since(start))
	return Response{Success: true, Refined: string(out)}
}

func failure(err error) Response {
	resp := Response{Error: err.Error(), Code: classify(err)}
	var se *refine.StatusError
	if errors.As(err, &se) {
		resp.Status = se.Code
		resp.Hint = se.Hint()
	}
	return resp
}

func classify(err error) Code {
	var (
		se *refine.StatusError
		ne *refine.NetworkError
	)
	switch {
	case errors.Is(err, refine.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCancelled
	case errors.As(err, &se):
		return CodeStatus
	case errors.As(err, &ne), errors.Is(err, refine.ErrBadResponse):
		return CodeNetwork
	case errors.Is(err, ErrConfig):
		return CodeConfig
	case errors.Is(err, ErrUnknownType):
		return CodeUnknownType
	}
	return CodeInternal
}
