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

package caller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/backend"
	"github.com/foundation29org/lapin/internal/util/logging"
)

const anthropicAPIVersion = "2023-06-01"

// HTTPOptions tunes the shared HTTP behavior of all HTTP-family callers.
type HTTPOptions struct {
	Timeout         time.Duration // request timeout (default: 5 minutes)
	MaxIdleConns    int           // maximum idle connections (default: 100)
	IdleConnTimeout time.Duration // idle connection timeout (default: 90 seconds)

	// Retry configuration (set MaxRetries > 0 to enable). Resty applies
	// exponential backoff with jitter between attempts.
	MaxRetries     int
	InitialBackoff time.Duration // default: 1 second
	MaxBackoff     time.Duration // default: 60 seconds
}

// HTTPCaller serves every provider reachable over a plain HTTPS chat API:
// OpenAI, Groq, Azure ML endpoints and Vertex speak the OpenAI
// chat-completions shape; Anthropic speaks its messages shape.
type HTTPCaller struct {
	client *resty.Client
	cfg    backend.Config
}

func NewHTTPCaller(cfg backend.Config, opts HTTPOptions) *HTTPCaller {
	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.MaxIdleConns == 0 {
		opts.MaxIdleConns = 100
	}
	if opts.IdleConnTimeout == 0 {
		opts.IdleConnTimeout = 90 * time.Second
	}
	if opts.MaxRetries > 0 {
		if opts.InitialBackoff == 0 {
			opts.InitialBackoff = 1 * time.Second
		}
		if opts.MaxBackoff == 0 {
			opts.MaxBackoff = 60 * time.Second
		}
	}

	client := resty.New().
		SetTimeout(opts.Timeout).
		SetHeader("Content-Type", "application/json")

	// Start from Go's secure transport defaults and raise the idle
	// connection caps for batch workloads.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = opts.MaxIdleConns
	transport.MaxIdleConnsPerHost = opts.MaxIdleConns
	transport.IdleConnTimeout = opts.IdleConnTimeout
	transport.ResponseHeaderTimeout = 30 * time.Second
	client.SetTransport(transport)

	switch cfg.Provider {
	case backend.ProviderAnthropic:
		client.SetHeader("x-api-key", cfg.APIKey)
		client.SetHeader("anthropic-version", anthropicAPIVersion)
	default:
		if cfg.APIKey != "" {
			client.SetAuthToken(cfg.APIKey)
		}
	}

	if opts.MaxRetries > 0 {
		client.SetRetryCount(opts.MaxRetries).
			SetRetryWaitTime(opts.InitialBackoff).
			SetRetryMaxWaitTime(opts.MaxBackoff)

		client.AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true // network errors
			}
			statusCode := r.StatusCode()
			return statusCode == http.StatusTooManyRequests || statusCode >= 500
		})

		client.AddRetryHook(func(resp *resty.Response, err error) {
			klog.V(logging.INFO).Infof("Retrying call to %s (attempt %d/%d)",
				cfg.Alias, resp.Request.Attempt, opts.MaxRetries)
		})
	}

	return &HTTPCaller{client: client, cfg: cfg}
}

func (c *HTTPCaller) Provider() backend.Provider {
	return c.cfg.Provider
}

// chat-completions wire shapes (OpenAI and compatibles)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Anthropic messages wire shapes

type anthropicRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type anthropicResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Call sends the prompt and normalizes the provider response.
func (c *HTTPCaller) Call(ctx context.Context, prompt string) (*Response, error) {
	if c.cfg.EndpointURL == "" {
		return nil, &CallError{
			Category: ErrCategoryInvalidReq,
			Message:  fmt.Sprintf("backend %q has no endpoint URL (missing environment variable?)", c.cfg.Alias),
		}
	}

	var body any
	messages := []chatMessage{{Role: "user", Content: prompt}}
	if c.cfg.Provider == backend.ProviderAnthropic {
		body = anthropicRequest{
			Model:       c.cfg.Model,
			MaxTokens:   c.cfg.MaxTokens,
			Temperature: c.cfg.Temperature,
			Messages:    messages,
		}
	} else {
		body = chatCompletionRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		}
	}

	klog.V(logging.DEBUG).Infof("Sending model call to %s, alias=%s, model=%s",
		c.cfg.EndpointURL, c.cfg.Alias, c.cfg.Model)

	start := time.Now()
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		Post(c.cfg.EndpointURL)
	if err != nil {
		return nil, c.requestError(ctx, err)
	}
	latency := time.Since(start)

	if resp.StatusCode() != http.StatusOK {
		return nil, errorFromStatus(resp.StatusCode(), resp.Body())
	}

	if resp.Request.Attempt > 1 {
		klog.V(logging.INFO).Infof("Call to %s succeeded after %d retries", c.cfg.Alias, resp.Request.Attempt-1)
	}

	out, cerr := c.parse(resp.Body())
	if cerr != nil {
		return nil, cerr
	}
	out.Latency = latency

	klog.V(logging.DEBUG).Infof("Received response for alias=%s, tokens=%d, latency=%s",
		c.cfg.Alias, out.Usage.TotalTokens, latency)
	return out, nil
}

func (c *HTTPCaller) parse(body []byte) (*Response, *CallError) {
	if c.cfg.Provider == backend.ProviderAnthropic {
		var parsed anthropicResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, &CallError{
				Category: ErrCategoryServer,
				Message:  fmt.Sprintf("failed to parse response body: %v", err),
				RawError: err,
			}
		}
		text := ""
		for _, block := range parsed.Content {
			if block.Type == "text" {
				text += block.Text
			}
		}
		usage := Usage{
			PromptTokens:     parsed.Usage.InputTokens,
			CompletionTokens: parsed.Usage.OutputTokens,
		}
		usage.normalize()
		return &Response{Text: text, Usage: usage, Raw: body, ModelID: parsed.Model}, nil
	}

	var parsed chatCompletionResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &CallError{
			Category: ErrCategoryServer,
			Message:  fmt.Sprintf("failed to parse response body: %v", err),
			RawError: err,
		}
	}
	if len(parsed.Choices) == 0 {
		return nil, &CallError{
			Category: ErrCategoryServer,
			Message:  "response contains no choices",
		}
	}
	usage := parsed.Usage
	usage.normalize()
	return &Response{
		Text:    parsed.Choices[0].Message.Content,
		Usage:   usage,
		Raw:     body,
		ModelID: parsed.Model,
	}, nil
}

// requestError maps request-level failures (network, timeout, cancellation).
func (c *HTTPCaller) requestError(ctx context.Context, err error) *CallError {
	if errors.Is(ctx.Err(), context.Canceled) {
		return &CallError{
			Category: ErrCategoryUnknown,
			Message:  "request cancelled",
			RawError: err,
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &CallError{
			Category: ErrCategoryServer,
			Message:  "request timeout",
			RawError: err,
		}
	}
	return &CallError{
		Category: ErrCategoryServer,
		Message:  fmt.Sprintf("failed to execute request: %v", err),
		RawError: err,
	}
}

// errorFromStatus parses an error body and maps the status to a category.
func errorFromStatus(statusCode int, body []byte) *CallError {
	// OpenAI-style error envelope; Anthropic uses the same field names.
	var errorResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		message = errorResp.Error.Message
	}

	category := categoryFromStatus(statusCode)
	klog.V(logging.INFO).Infof("Model call failed with status=%d, category=%s, message=%s", statusCode, category, message)

	return &CallError{
		Category: category,
		Message:  fmt.Sprintf("HTTP %d: %s", statusCode, message),
		RawError: fmt.Errorf("status code: %d, body: %s", statusCode, string(body)),
	}
}

func categoryFromStatus(statusCode int) ErrorCategory {
	switch statusCode {
	case http.StatusBadRequest:
		return ErrCategoryInvalidReq
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrCategoryAuth
	case http.StatusTooManyRequests:
		return ErrCategoryRateLimit
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return ErrCategoryServer
	default:
		if statusCode >= 500 {
			return ErrCategoryServer
		}
		return ErrCategoryUnknown
	}
}
