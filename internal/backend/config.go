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

// Backend configuration descriptors: one immutable Config per model alias,
// describing how to reach one model through one provider.

package backend

import (
	"os"
)

// Provider identifies the provider family a backend config belongs to.
// The family determines which caller implementation handles the call.
type Provider string

const (
	ProviderAzure     Provider = "azure"
	ProviderBedrock   Provider = "bedrock"
	ProviderOpenAI    Provider = "openai"
	ProviderVertex    Provider = "vertex"
	ProviderGroq      Provider = "groq"
	ProviderAnthropic Provider = "anthropic"
)

// Config describes how to reach one model through one provider. Configs are
// constructed once at registry-load time and never mutated afterwards.
//
// Credentials and endpoint URLs are read from process environment variables
// at construction time. A missing variable yields an empty string rather
// than a hard failure; the error surfaces at the actual remote call.
type Config struct {
	// Alias is the unique short key this config is registered under.
	Alias string

	Provider Provider

	// Model is the provider-side model identifier (deployment name for
	// Azure, model ID for Bedrock, model name for OpenAI-style APIs).
	Model string

	// Connection parameters.
	EndpointURL string
	APIKey      string
	Region      string

	// AWS credentials (Bedrock only).
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// Generation parameters.
	Temperature float64
	MaxTokens   int

	// Advisory per-model limits consumed by the usage tracker.
	// Zero means the limit is not tracked.
	RPMLimit int
	TPMLimit int
}

// env reads an environment variable, defaulting to "" when unset so that a
// missing credential is diagnosed by the remote call rather than at startup.
func env(name string) string {
	return os.Getenv(name)
}

const (
	defaultTemperature = 0
	defaultMaxTokens   = 800
)

// azureConfig builds a config for a model served from an Azure ML endpoint.
// Each endpoint has its own env var pair, matching how deployments are
// provisioned (one endpoint per model family).
func azureConfig(alias, deployment, endpointEnv, keyEnv string) Config {
	return Config{
		Alias:       alias,
		Provider:    ProviderAzure,
		Model:       deployment,
		EndpointURL: env(endpointEnv),
		APIKey:      env(keyEnv),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

func bedrockConfig(alias, modelID string) Config {
	return Config{
		Alias:              alias,
		Provider:           ProviderBedrock,
		Model:              modelID,
		Region:             "us-east-1",
		AWSAccessKeyID:     env("BEDROCK_USER_KEY"),
		AWSSecretAccessKey: env("BEDROCK_USER_SECRET"),
		Temperature:        defaultTemperature,
		MaxTokens:          2000,
	}
}

func openAIConfig(alias, model string) Config {
	return Config{
		Alias:       alias,
		Provider:    ProviderOpenAI,
		Model:       model,
		EndpointURL: "https://api.openai.com/v1/chat/completions",
		APIKey:      env("OPENAI_API_KEY"),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

func groqConfig(alias, model string, rpm, tpm int) Config {
	return Config{
		Alias:       alias,
		Provider:    ProviderGroq,
		Model:       model,
		EndpointURL: "https://api.groq.com/openai/v1/chat/completions",
		APIKey:      env("GROQ_API_KEY"),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
		RPMLimit:    rpm,
		TPMLimit:    tpm,
	}
}

func vertexConfig(alias, model string) Config {
	return Config{
		Alias:       alias,
		Provider:    ProviderVertex,
		Model:       model,
		EndpointURL: env("VERTEX_ENDPOINT"),
		APIKey:      env("VERTEX_API_KEY"),
		Temperature: defaultTemperature,
		MaxTokens:   defaultMaxTokens,
	}
}

func anthropicConfig(alias, model string) Config {
	return Config{
		Alias:       alias,
		Provider:    ProviderAnthropic,
		Model:       model,
		EndpointURL: "https://api.anthropic.com/v1/messages",
		APIKey:      env("ANTHROPIC_API_KEY"),
		Temperature: defaultTemperature,
		MaxTokens:   2000,
	}
}
