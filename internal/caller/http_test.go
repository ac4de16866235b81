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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/foundation29org/lapin/internal/backend"
)

func openAIStyleServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(handler))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPCallerChatCompletion(t *testing.T) {
	var gotAuth string
	var gotReq chatCompletionRequest

	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": "gpt-4-turbo",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "diagnosis list"}},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	})

	cfg := backend.Config{
		Alias:       "gpt4turbo",
		Provider:    backend.ProviderOpenAI,
		Model:       "gpt-4-turbo",
		EndpointURL: srv.URL,
		APIKey:      "sk-test",
		Temperature: 0.2,
		MaxTokens:   100,
	}
	c := NewHTTPCaller(cfg, HTTPOptions{})

	resp, err := c.Call(context.Background(), "patient case")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "diagnosis list" {
		t.Errorf("got text %q", resp.Text)
	}
	if resp.Usage.TotalTokens != 15 || resp.Usage.PromptTokens != 10 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("usage wrong: %+v", resp.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("got auth header %q", gotAuth)
	}
	if gotReq.Model != "gpt-4-turbo" {
		t.Errorf("got model %q in request", gotReq.Model)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Content != "patient case" {
		t.Errorf("prompt not forwarded: %+v", gotReq.Messages)
	}
}

func TestHTTPCallerNormalizesMissingTotal(t *testing.T) {
	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
			"usage": map[string]int{"prompt_tokens": 7, "completion_tokens": 3},
		})
	})

	c := NewHTTPCaller(backend.Config{
		Provider: backend.ProviderGroq, EndpointURL: srv.URL,
	}, HTTPOptions{})

	resp, err := c.Call(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Usage.TotalTokens != 10 {
		t.Errorf("got total %d, want prompt+completion=10", resp.Usage.TotalTokens)
	}
}

func TestHTTPCallerAnthropicShape(t *testing.T) {
	var gotKey, gotVersion string

	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-opus-20240229",
			"content": []map[string]string{
				{"type": "text", "text": "severity: "},
				{"type": "text", "text": "high"},
			},
			"usage": map[string]int{"input_tokens": 12, "output_tokens": 4},
		})
	})

	c := NewHTTPCaller(backend.Config{
		Alias:       "c3opus",
		Provider:    backend.ProviderAnthropic,
		Model:       "claude-3-opus-20240229",
		EndpointURL: srv.URL,
		APIKey:      "ak-test",
		MaxTokens:   200,
	}, HTTPOptions{})

	resp, err := c.Call(context.Background(), "case")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text != "severity: high" {
		t.Errorf("got text %q", resp.Text)
	}
	if resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 4 || resp.Usage.TotalTokens != 16 {
		t.Errorf("usage wrong: %+v", resp.Usage)
	}
	if gotKey != "ak-test" {
		t.Errorf("x-api-key not set, got %q", gotKey)
	}
	if gotVersion == "" {
		t.Error("anthropic-version header not set")
	}
}

func TestHTTPCallerStatusMapping(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorCategory
	}{
		{http.StatusBadRequest, ErrCategoryInvalidReq},
		{http.StatusUnauthorized, ErrCategoryAuth},
		{http.StatusForbidden, ErrCategoryAuth},
		{http.StatusTooManyRequests, ErrCategoryRateLimit},
		{http.StatusInternalServerError, ErrCategoryServer},
		{http.StatusServiceUnavailable, ErrCategoryServer},
		{http.StatusTeapot, ErrCategoryUnknown},
	}

	for _, tc := range cases {
		srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "nope", "type": "test"},
			})
		})

		c := NewHTTPCaller(backend.Config{
			Provider: backend.ProviderOpenAI, EndpointURL: srv.URL,
		}, HTTPOptions{})

		_, err := c.Call(context.Background(), "x")
		if err == nil {
			t.Fatalf("status %d: expected error", tc.status)
		}
		var cerr *CallError
		if !errors.As(err, &cerr) {
			t.Fatalf("status %d: error is not a CallError: %v", tc.status, err)
		}
		if cerr.Category != tc.want {
			t.Errorf("status %d: got category %s, want %s", tc.status, cerr.Category, tc.want)
		}
	}
}

func TestHTTPCallerErrorBodyMessage(t *testing.T) {
	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "rate limit reached for model"},
		})
	})

	c := NewHTTPCaller(backend.Config{
		Provider: backend.ProviderGroq, EndpointURL: srv.URL,
	}, HTTPOptions{})

	_, err := c.Call(context.Background(), "x")
	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if cerr.Message != "HTTP 429: rate limit reached for model" {
		t.Errorf("got message %q", cerr.Message)
	}
	if !cerr.IsRetryable() {
		t.Error("rate limit errors should be retryable")
	}
}

func TestHTTPCallerEmptyEndpoint(t *testing.T) {
	c := NewHTTPCaller(backend.Config{
		Alias: "llama3_8b", Provider: backend.ProviderAzure,
	}, HTTPOptions{})

	_, err := c.Call(context.Background(), "x")
	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if cerr.Category != ErrCategoryInvalidReq {
		t.Errorf("got category %s, want %s", cerr.Category, ErrCategoryInvalidReq)
	}
}

func TestHTTPCallerContextTimeout(t *testing.T) {
	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	})

	c := NewHTTPCaller(backend.Config{
		Provider: backend.ProviderOpenAI, EndpointURL: srv.URL,
	}, HTTPOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Call(ctx, "x")
	var cerr *CallError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if cerr.Category != ErrCategoryServer {
		t.Errorf("timeout should map to server category, got %s", cerr.Category)
	}
}

func TestHTTPCallerRetriesOn429(t *testing.T) {
	attempts := 0
	srv := openAIStyleServer(t, func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"content": "ok"}},
			},
			"usage": map[string]int{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
		})
	})

	c := NewHTTPCaller(backend.Config{
		Provider: backend.ProviderOpenAI, EndpointURL: srv.URL,
	}, HTTPOptions{
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
	})

	resp, err := c.Call(context.Background(), "x")
	if err != nil {
		t.Fatalf("unexpected error after retries: %v", err)
	}
	if resp.Text != "ok" {
		t.Errorf("got text %q", resp.Text)
	}
	if attempts != 3 {
		t.Errorf("got %d attempts, want 3", attempts)
	}
}

func TestForConfigMapping(t *testing.T) {
	for _, provider := range []backend.Provider{
		backend.ProviderOpenAI, backend.ProviderGroq, backend.ProviderAzure,
		backend.ProviderVertex, backend.ProviderAnthropic,
	} {
		c, err := ForConfig(backend.Config{Provider: provider})
		if err != nil {
			t.Fatalf("provider %s: %v", provider, err)
		}
		if _, ok := c.(*HTTPCaller); !ok {
			t.Errorf("provider %s: expected HTTPCaller, got %T", provider, c)
		}
	}

	c, err := ForConfig(backend.Config{Provider: backend.ProviderBedrock})
	if err != nil {
		t.Fatalf("bedrock: %v", err)
	}
	if _, ok := c.(*BedrockCaller); !ok {
		t.Errorf("bedrock: expected BedrockCaller, got %T", c)
	}

	if _, err := ForConfig(backend.Config{Provider: "smoke-signals"}); err == nil {
		t.Error("expected error for unknown provider")
	}
}
