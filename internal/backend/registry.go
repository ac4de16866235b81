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

package backend

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrConfigurationNotFound is returned when an alias has no registered config.
var ErrConfigurationNotFound = errors.New("backend configuration not found")

// Registry maps model aliases to backend configs. Registration happens at
// process start; lookups are read-only for the lifetime of the process.
type Registry struct {
	mu      sync.RWMutex
	configs map[string]Config
}

func NewRegistry() *Registry {
	return &Registry{configs: make(map[string]Config)}
}

// Register adds a config under its alias. Last registration wins, which lets
// callers override a built-in alias before any run starts.
func (r *Registry) Register(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.configs[cfg.Alias] = cfg
}

// Resolve returns the config registered under alias, or an error wrapping
// ErrConfigurationNotFound for an unknown alias.
func (r *Registry) Resolve(alias string) (Config, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.configs[alias]
	if !ok {
		return Config{}, fmt.Errorf("%w: %q", ErrConfigurationNotFound, alias)
	}
	return cfg, nil
}

// Aliases returns all registered aliases, sorted.
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	aliases := make([]string, 0, len(r.configs))
	for alias := range r.configs {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// DefaultRegistry builds the registry with every supported backend declared.
// The alias table is explicit; adding a model means adding a line here.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	// Azure ML endpoints. Deployment names are fixed per endpoint; the
	// llama3 deployments live behind their own endpoint/key pair.
	r.Register(azureConfig("llama2_7b", "Llama-2-7b-chat-dxgpt", "AZURE_ML_ENDPOINT", "AZURE_ML_API_KEY"))
	r.Register(azureConfig("llama3_8b", "llama-3-8b-chat-dxgpt", "AZURE_ML_ENDPOINT_3", "AZURE_ML_API_KEY_3"))
	r.Register(azureConfig("llama3_70b", "llama-3-70b-chat-dxgpt", "AZURE_ML_ENDPOINT_3", "AZURE_ML_API_KEY_3"))

	// AWS Bedrock.
	r.Register(bedrockConfig("c3sonnet", "anthropic.claude-3-sonnet-20240229-v1:0"))
	r.Register(bedrockConfig("c3haiku", "anthropic.claude-3-haiku-20240307-v1:0"))

	// OpenAI.
	r.Register(openAIConfig("gpt4turbo", "gpt-4-turbo"))
	r.Register(openAIConfig("gpt4o", "gpt-4o"))

	// Groq-hosted open models. Groq publishes hard free-tier limits, so
	// these carry advisory RPM/TPM ceilings for the tracker.
	r.Register(groqConfig("llama3_8b_groq", "llama3-8b-8192", 30, 30000))
	r.Register(groqConfig("llama3_70b_groq", "llama3-70b-8192", 30, 6000))
	r.Register(groqConfig("mixtral_groq", "mixtral-8x7b-32768", 30, 5000))

	// Vertex through its OpenAI-compatible endpoint.
	r.Register(vertexConfig("geminipro", "gemini-1.5-pro"))

	// Anthropic direct.
	r.Register(anthropicConfig("c3opus", "claude-3-opus-20240229"))

	return r
}
