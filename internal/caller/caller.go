/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package caller holds the provider-specific adapters that perform the
// actual remote model invocation and normalize the result.
package caller

import (
	"context"
	"fmt"
	"time"

	"github.com/foundation29org/lapin/internal/backend"
)

// Usage is the token accounting a provider reports for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// normalize fills in TotalTokens for providers that omit it.
func (u *Usage) normalize() {
	if u.TotalTokens == 0 {
		u.TotalTokens = u.PromptTokens + u.CompletionTokens
	}
}

// Response is the normalized result of one model call.
type Response struct {
	// Text is the generated completion text.
	Text string

	Usage Usage

	// Raw is the unparsed provider response body.
	Raw []byte

	// ModelID is the provider-side model identifier that served the call.
	ModelID string

	Latency time.Duration
}

// Caller performs the remote call for one provider family.
type Caller interface {
	// Call sends the prompt to the remote model and returns the
	// normalized response. The returned error is a *CallError.
	Call(ctx context.Context, prompt string) (*Response, error)

	Provider() backend.Provider
}

// ErrorCategory classifies a failed call for retry decisions and metrics.
type ErrorCategory string

const (
	ErrCategoryRateLimit  ErrorCategory = "RATE_LIMIT"   // retryable
	ErrCategoryServer     ErrorCategory = "SERVER_ERROR" // retryable
	ErrCategoryInvalidReq ErrorCategory = "INVALID_REQ"  // not retryable
	ErrCategoryAuth       ErrorCategory = "AUTH_ERROR"   // not retryable
	ErrCategoryUnknown    ErrorCategory = "UNKNOWN"      // not retryable
)

// CallError is the error type every caller returns on failure.
type CallError struct {
	Category ErrorCategory
	Message  string
	RawError error // original cause, if any
}

func (e *CallError) Error() string {
	return e.Message
}

func (e *CallError) Unwrap() error {
	return e.RawError
}

// IsRetryable reports whether the failure category is worth retrying.
func (e *CallError) IsRetryable() bool {
	return e.Category == ErrCategoryRateLimit || e.Category == ErrCategoryServer
}

// ForConfig selects the caller implementation for a backend config through
// an explicit provider mapping. No reflection, no dynamic lookup.
func ForConfig(cfg backend.Config) (Caller, error) {
	switch cfg.Provider {
	case backend.ProviderOpenAI, backend.ProviderGroq, backend.ProviderAzure, backend.ProviderVertex, backend.ProviderAnthropic:
		return NewHTTPCaller(cfg, HTTPOptions{}), nil
	case backend.ProviderBedrock:
		return NewBedrockCaller(cfg), nil
	default:
		return nil, fmt.Errorf("no caller for provider %q", cfg.Provider)
	}
}
