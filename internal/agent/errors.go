package agent

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrMaxIterations is returned when the model keeps requesting tools
	// past the iteration ceiling
	ErrMaxIterations = errors.New("max iterations reached without final response")

	// ErrEmptyResponse is returned when the model's final answer is empty
	ErrEmptyResponse = errors.New("model returned an empty response")
)

// UpstreamError is an LLM failure: non-2xx status, transport error or timeout.
// StatusCode is 0 when no HTTP response was received.
type UpstreamError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("AI API error: %d %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("AI API error: %s", e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// RateLimited reports an upstream 429
func (e *UpstreamError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// PaymentRequired reports an upstream 402
func (e *UpstreamError) PaymentRequired() bool {
	return e.StatusCode == http.StatusPaymentRequired
}

// ConfigurationError is a missing or invalid setting detected at request start
type ConfigurationError struct {
	Field string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s not configured", e.Field)
}
