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

// The batch runner's configuration definitions.

package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RunnerConfig struct {
	ModelAlias       string        `json:"model_alias" yaml:"model_alias" mapstructure:"model_alias"`
	BatchSize        int           `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`
	RPMLimit         int           `json:"rpm_limit" yaml:"rpm_limit" mapstructure:"rpm_limit"`
	MinBatchInterval time.Duration `json:"min_batch_interval" yaml:"min_batch_interval" mapstructure:"min_batch_interval"`
	ItemTimeout      time.Duration `json:"item_timeout" yaml:"item_timeout" mapstructure:"item_timeout"`
	PauseOnLimit     bool          `json:"pause_on_limit" yaml:"pause_on_limit" mapstructure:"pause_on_limit"`
	JudgeKind        string        `json:"judge_kind" yaml:"judge_kind" mapstructure:"judge_kind"`
	RedisAddress     string        `json:"redis_address" yaml:"redis_address" mapstructure:"redis_address"`
	MetricsAddress   string        `json:"metrics_address" yaml:"metrics_address" mapstructure:"metrics_address"`
}

// LoadFromYAML loads the configuration from a YAML file.
func (c *RunnerConfig) LoadFromYAML(filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return err
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(c); err != nil {
		return err
	}
	return nil
}

// Validate rejects values the batch orchestrator cannot run with.
func (c *RunnerConfig) Validate() error {
	if c.ModelAlias == "" {
		return fmt.Errorf("model_alias must be set")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch_size must be positive, got %d", c.BatchSize)
	}
	if c.MinBatchInterval < 0 {
		return fmt.Errorf("min_batch_interval must not be negative, got %s", c.MinBatchInterval)
	}
	switch c.JudgeKind {
	case "severity", "semantic":
	default:
		return fmt.Errorf("judge_kind must be severity or semantic, got %q", c.JudgeKind)
	}
	return nil
}

// NewConfig returns a new RunnerConfig with default values.
func NewConfig() *RunnerConfig {
	return &RunnerConfig{
		ModelAlias:       "gpt4o",
		BatchSize:        5,
		RPMLimit:         0,
		MinBatchInterval: 5 * time.Second,
		ItemTimeout:      0,
		PauseOnLimit:     false,
		JudgeKind:        "severity",
		RedisAddress:     "",
		MetricsAddress:   ":9090",
	}
}
