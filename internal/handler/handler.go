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

// Package handler is the facade over backend resolution, rate tracking and
// the provider callers: one GetResponse call resolves an alias, invokes the
// model and records usage.
package handler

import (
	"context"
	"fmt"
	"time"

	"k8s.io/klog/v2"

	"github.com/foundation29org/lapin/internal/backend"
	"github.com/foundation29org/lapin/internal/caller"
	"github.com/foundation29org/lapin/internal/prompt"
	"github.com/foundation29org/lapin/internal/tracker"
)

// BackendCallError wraps a caller failure, preserving the cause for
// errors.Is/As inspection.
type BackendCallError struct {
	Alias string
	Cause error
}

func (e *BackendCallError) Error() string {
	return fmt.Sprintf("backend call to %q failed: %v", e.Alias, e.Cause)
}

func (e *BackendCallError) Unwrap() error {
	return e.Cause
}

// Options tune handler behavior.
type Options struct {
	// PauseOnLimit makes GetResponse block while the tracker reports the
	// model near a ceiling. Off by default: the original behavior logs the
	// warning and proceeds.
	PauseOnLimit bool

	// PausePollInterval is how often a blocked call re-checks the tracker.
	PausePollInterval time.Duration

	// CallTimeout bounds one remote call. Zero disables.
	CallTimeout time.Duration
}

// Handler resolves aliases and performs model calls. Safe for concurrent
// use: the registries it holds do their own locking and callers are
// per-call.
type Handler struct {
	backends *backend.Registry
	trackers *tracker.Registry
	opts     Options

	// newCaller is swapped in tests.
	newCaller func(backend.Config) (caller.Caller, error)
}

func New(backends *backend.Registry, trackers *tracker.Registry, opts Options) *Handler {
	if opts.PausePollInterval == 0 {
		opts.PausePollInterval = 2 * time.Second
	}
	return &Handler{
		backends:  backends,
		trackers:  trackers,
		opts:      opts,
		newCaller: caller.ForConfig,
	}
}

// GetResponse resolves alias, consults the tracker, performs the call and
// records usage. On success it returns the raw normalized response and its
// text; onlyText callers simply ignore the response.
//
// An unknown alias fails before any caller is constructed. Caller failures
// come back wrapped in *BackendCallError.
func (h *Handler) GetResponse(ctx context.Context, prompt, alias string) (*caller.Response, string, error) {
	cfg, err := h.backends.Resolve(alias)
	if err != nil {
		return nil, "", err
	}

	c, err := h.newCaller(cfg)
	if err != nil {
		return nil, "", err
	}

	// Seed the tracker's ceilings from the config the first time the model
	// is seen; SetLimits is idempotent for equal limits.
	if cfg.RPMLimit > 0 || cfg.TPMLimit > 0 {
		h.trackers.SetLimits(cfg.Model, tracker.Limits{RPM: cfg.RPMLimit, TPM: cfg.TPMLimit})
	}

	if err := h.waitForTracker(ctx, cfg.Model, prompt); err != nil {
		return nil, "", err
	}

	callCtx := ctx
	if h.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, h.opts.CallTimeout)
		defer cancel()
	}

	resp, err := c.Call(callCtx, prompt)
	if err != nil {
		h.trackers.RecordUsage(cfg.Model, 0, 0, false)
		return nil, "", &BackendCallError{Alias: alias, Cause: err}
	}

	h.trackers.RecordUsage(cfg.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, true)
	return resp, resp.Text, nil
}

// waitForTracker applies the advisory pause policy. With PauseOnLimit off
// it only logs; with it on it polls until the window frees or ctx ends.
func (h *Handler) waitForTracker(ctx context.Context, model, promptText string) error {
	pause, reason := h.trackers.ShouldPause(model)
	if !pause {
		return nil
	}

	estimated := prompt.EstimateTokens(promptText)
	klog.Warningf("Model %s near rate limit (%s), pending prompt ~%d tokens", model, reason, estimated)

	if !h.opts.PauseOnLimit {
		return nil
	}

	ticker := time.NewTicker(h.opts.PausePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if pause, _ = h.trackers.ShouldPause(model); !pause {
				return nil
			}
		}
	}
}

// GetText is GetResponse for callers that only want the completion text.
func (h *Handler) GetText(ctx context.Context, prompt, alias string) (string, error) {
	_, text, err := h.GetResponse(ctx, prompt, alias)
	return text, err
}

// ListAvailableModels returns every registered alias, sorted.
func (h *Handler) ListAvailableModels() []string {
	return h.backends.Aliases()
}
