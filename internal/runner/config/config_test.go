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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewConfigValidates(t *testing.T) {
	if err := NewConfig().Validate(); err != nil {
		t.Fatalf("defaults must be valid: %v", err)
	}
}

func TestLoadFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `model_alias: c3sonnet
batch_size: 8
rpm_limit: 30
min_batch_interval: 10s
item_timeout: 2m
pause_on_limit: true
judge_kind: semantic
metrics_address: ":9191"
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := NewConfig()
	if err := cfg.LoadFromYAML(path); err != nil {
		t.Fatalf("LoadFromYAML: %v", err)
	}
	if cfg.ModelAlias != "c3sonnet" || cfg.BatchSize != 8 || cfg.RPMLimit != 30 {
		t.Errorf("loaded config wrong: %+v", cfg)
	}
	if cfg.MinBatchInterval != 10*time.Second || cfg.ItemTimeout != 2*time.Minute {
		t.Errorf("durations not parsed: %+v", cfg)
	}
	if !cfg.PauseOnLimit || cfg.JudgeKind != "semantic" || cfg.MetricsAddress != ":9191" {
		t.Errorf("loaded config wrong: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFromYAMLMissingFile(t *testing.T) {
	cfg := NewConfig()
	if err := cfg.LoadFromYAML("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*RunnerConfig)
	}{
		{"empty alias", func(c *RunnerConfig) { c.ModelAlias = "" }},
		{"zero batch size", func(c *RunnerConfig) { c.BatchSize = 0 }},
		{"negative interval", func(c *RunnerConfig) { c.MinBatchInterval = -time.Second }},
		{"unknown judge", func(c *RunnerConfig) { c.JudgeKind = "vibes" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
