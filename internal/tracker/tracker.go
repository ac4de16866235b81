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

// Package tracker keeps per-model usage counters over a trailing window and
// answers advisory "should we pause" queries against configured ceilings.
// Trackers are shared long-lived mutable state; the registry guards all
// mutation with a lock so concurrent batch tasks can record usage safely.
package tracker

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Limits are the per-model advisory ceilings. Zero disables a check.
type Limits struct {
	RPM int // requests per minute
	RPD int // requests per day
	TPM int // tokens per minute
	TPD int // tokens per day
}

// DefaultBuffer is the fraction of a ceiling at which usage counts as
// approaching the limit.
const DefaultBuffer = 0.9

// retention bounds the trailing window kept per tracker.
const retention = 24 * time.Hour

type usageEntry struct {
	at     time.Time
	tokens int
}

// Tracker accumulates usage for one model name. Counters only grow within
// the retention window; old entries are dropped on each write.
type Tracker struct {
	limits Limits

	entries []usageEntry

	promptTokens     int64
	completionTokens int64
	totalTokens      int64
	successCount     int
	failedCount      int

	now func() time.Time // test hook
}

// Snapshot is a read-only view of a tracker's current window.
type Snapshot struct {
	RequestsLastMinute int
	RequestsLastDay    int
	TokensLastMinute   int
	TokensLastDay      int
	PromptTokens       int64
	CompletionTokens   int64
	TotalTokens        int64
	SuccessCount       int
	FailedCount        int
}

func newTracker(limits Limits) *Tracker {
	return &Tracker{limits: limits, now: time.Now}
}

func (t *Tracker) record(promptTokens, completionTokens int, ok bool) {
	now := t.now()
	tokens := promptTokens + completionTokens
	t.entries = append(t.entries, usageEntry{at: now, tokens: tokens})

	t.promptTokens += int64(promptTokens)
	t.completionTokens += int64(completionTokens)
	t.totalTokens += int64(tokens)
	if ok {
		t.successCount++
	} else {
		t.failedCount++
	}

	t.dropOldEntries(now)
}

func (t *Tracker) dropOldEntries(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.entries); i++ {
		if t.entries[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		t.entries = append(t.entries[:0], t.entries[i:]...)
	}
}

func (t *Tracker) snapshot() Snapshot {
	now := t.now()
	minuteAgo := now.Add(-time.Minute)

	s := Snapshot{
		PromptTokens:     t.promptTokens,
		CompletionTokens: t.completionTokens,
		TotalTokens:      t.totalTokens,
		SuccessCount:     t.successCount,
		FailedCount:      t.failedCount,
	}
	for _, e := range t.entries {
		s.RequestsLastDay++
		s.TokensLastDay += e.tokens
		if e.at.After(minuteAgo) {
			s.RequestsLastMinute++
			s.TokensLastMinute += e.tokens
		}
	}
	return s
}

// shouldPause reports whether current usage is at or above buffer*limit for
// any configured ceiling, with a reason naming each ceiling that is close.
func (t *Tracker) shouldPause(buffer float64) (bool, string) {
	s := t.snapshot()

	var near []string
	check := func(used, limit int, name string) {
		if limit > 0 && float64(used) >= buffer*float64(limit) {
			near = append(near, fmt.Sprintf("%s %d/%d", name, used, limit))
		}
	}
	check(s.RequestsLastMinute, t.limits.RPM, "rpm")
	check(s.RequestsLastDay, t.limits.RPD, "rpd")
	check(s.TokensLastMinute, t.limits.TPM, "tpm")
	check(s.TokensLastDay, t.limits.TPD, "tpd")

	if len(near) == 0 {
		return false, ""
	}
	return true, "rate limits approaching: " + strings.Join(near, ", ")
}

// Registry owns one tracker per model name, created lazily on first use.
// It is injected into the model handler rather than held as package state.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	limits   map[string]Limits
	buffer   float64
}

func NewRegistry() *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		limits:   make(map[string]Limits),
		buffer:   DefaultBuffer,
	}
}

// SetLimits configures the limits a model's tracker is created with.
// Calling it after the tracker exists updates the live tracker too.
func (r *Registry) SetLimits(model string, limits Limits) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limits[model] = limits
	if t, ok := r.trackers[model]; ok {
		t.limits = limits
	}
}

// get assumes r.mu is held.
func (r *Registry) get(model string) *Tracker {
	t, ok := r.trackers[model]
	if !ok {
		t = newTracker(r.limits[model])
		r.trackers[model] = t
	}
	return t
}

// RecordUsage adds one request's token usage to the model's tracker.
// Unknown models get a fresh zeroed tracker; this never fails.
func (r *Registry) RecordUsage(model string, promptTokens, completionTokens int, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.get(model).record(promptTokens, completionTokens, ok)
}

// ShouldPause reports whether recent usage for the model is approaching a
// configured ceiling. The answer is advisory; callers decide whether to block.
func (r *Registry) ShouldPause(model string) (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(model).shouldPause(r.buffer)
}

// Snapshot returns the model's current window counts.
func (r *Registry) Snapshot(model string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(model).snapshot()
}
