package refine

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout is returned when the service did not answer in time.
	ErrTimeout = errors.New("refine: request timed out")
	// ErrEmptyPrompt is returned for a blank prompt; no request is sent.
	ErrEmptyPrompt = errors.New("refine: empty prompt")
	// ErrBadResponse is returned when a 2xx body is not the expected JSON.
	ErrBadResponse = errors.New("refine: malformed response")
)

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API Error: %d - %s", e.Code, e.Body)
}

// Hint is a short remedy for well-known status codes, or "".
func (e *StatusError) Hint() string {
	switch {
	case e.Code == http.StatusTooManyRequests:
		return "the provider is rate limiting requests, wait a moment and retry"
	case e.Code == http.StatusUnauthorized || e.Code == http.StatusForbidden:
		return "check the API key in the settings"
	case e.Code >= 500:
		return "the rewriting service failed, check its logs"
	}
	return ""
}

// NetworkError is a failure to reach the service or read its answer.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("refine: %s unreachable: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
