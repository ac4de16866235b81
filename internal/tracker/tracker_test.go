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

package tracker

import (
	"sync"
	"testing"
	"time"
)

func TestUnknownModelNeverPauses(t *testing.T) {
	r := NewRegistry()
	pause, reason := r.ShouldPause("never-seen")
	if pause {
		t.Errorf("fresh tracker should not pause, reason: %s", reason)
	}
}

func TestRecordUsageAccumulates(t *testing.T) {
	r := NewRegistry()
	r.RecordUsage("m", 10, 5, true)
	r.RecordUsage("m", 20, 10, true)
	r.RecordUsage("m", 0, 0, false)

	s := r.Snapshot("m")
	if s.PromptTokens != 30 || s.CompletionTokens != 15 || s.TotalTokens != 45 {
		t.Errorf("token counters wrong: %+v", s)
	}
	if s.SuccessCount != 2 || s.FailedCount != 1 {
		t.Errorf("success/failure counters wrong: %+v", s)
	}
	if s.RequestsLastMinute != 3 {
		t.Errorf("got %d requests in last minute, want 3", s.RequestsLastMinute)
	}
}

func TestShouldPauseOnRPM(t *testing.T) {
	r := NewRegistry()
	r.SetLimits("m", Limits{RPM: 10})

	for i := 0; i < 8; i++ {
		r.RecordUsage("m", 1, 1, true)
	}
	if pause, _ := r.ShouldPause("m"); pause {
		t.Fatal("should not pause at 8/10 with 0.9 buffer")
	}

	r.RecordUsage("m", 1, 1, true)
	pause, reason := r.ShouldPause("m")
	if !pause {
		t.Fatal("should pause at 9/10 with 0.9 buffer")
	}
	if reason == "" {
		t.Error("pause must carry a reason")
	}
}

func TestShouldPauseOnTPM(t *testing.T) {
	r := NewRegistry()
	r.SetLimits("m", Limits{TPM: 1000})

	r.RecordUsage("m", 800, 150, true)
	pause, reason := r.ShouldPause("m")
	if !pause {
		t.Fatalf("950 tokens against TPM 1000 should pause, got %q", reason)
	}
}

func TestOldUsageLeavesTheMinuteWindow(t *testing.T) {
	r := NewRegistry()
	r.SetLimits("m", Limits{RPM: 5})

	// Backdate the clock so the recorded usage lands outside the minute.
	past := time.Now().Add(-2 * time.Minute)
	r.mu.Lock()
	tr := r.get("m")
	tr.now = func() time.Time { return past }
	r.mu.Unlock()

	for i := 0; i < 10; i++ {
		r.RecordUsage("m", 1, 1, true)
	}

	r.mu.Lock()
	tr.now = time.Now
	r.mu.Unlock()

	s := r.Snapshot("m")
	if s.RequestsLastMinute != 0 {
		t.Errorf("got %d requests in last minute, want 0", s.RequestsLastMinute)
	}
	if s.RequestsLastDay != 10 {
		t.Errorf("got %d requests in last day, want 10", s.RequestsLastDay)
	}
	if pause, _ := r.ShouldPause("m"); pause {
		t.Error("stale usage must not trigger the RPM ceiling")
	}
}

func TestConcurrentRecordUsage(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordUsage("m", 2, 3, true)
		}()
	}
	wg.Wait()

	s := r.Snapshot("m")
	if s.TotalTokens != 250 {
		t.Errorf("got %d total tokens, want 250", s.TotalTokens)
	}
	if s.SuccessCount != 50 {
		t.Errorf("got %d successes, want 50", s.SuccessCount)
	}
}
