// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import "fmt"

// ProviderType identifies the LLM provider backend.
type ProviderType string

const (
	ProviderAnthropic ProviderType = "anthropic"
	ProviderOpenAI    ProviderType = "openai"
	ProviderGemini    ProviderType = "gemini"
	ProviderOllama    ProviderType = "ollama"
)

// ModelConfig configures a single model binding: provider, model name, and
// inference parameters. A RoleConfig is a ModelConfig that may leave fields
// empty to inherit from DefaultModel.
type ModelConfig struct {
	Provider ProviderType `yaml:"provider,omitempty"`

	// Model is the model identifier, e.g. "claude-sonnet-4-20250514".
	Model string `yaml:"model,omitempty"`

	// APIKey authenticates with the provider. Supports ${VAR} expansion;
	// normally left empty and supplied via <PROVIDER>_API_KEY env vars.
	APIKey string `yaml:"api_key,omitempty"`

	BaseURL string `yaml:"base_url,omitempty"`

	Temperature *float64 `yaml:"temperature,omitempty"`

	MaxTokens int `yaml:"max_tokens,omitempty"`

	// MaxRetries bounds the LLM client's exponential-backoff retry loop
	// for transient errors (§4.2 "bounded-attempt retry").
	MaxRetries int `yaml:"max_retries,omitempty"`

	// TimeoutSeconds bounds each individual HTTP call.
	TimeoutSeconds int `yaml:"timeout_seconds,omitempty"`
}

func (m *ModelConfig) setDefaults(fallback *ModelConfig) {
	if m.Provider == "" {
		m.Provider = fallback.Provider
	}
	if m.Model == "" {
		m.Model = fallback.Model
	}
	if m.APIKey == "" {
		m.APIKey = fallback.APIKey
	}
	if m.BaseURL == "" {
		m.BaseURL = fallback.BaseURL
	}
	if m.Temperature == nil {
		m.Temperature = fallback.Temperature
	}
	if m.MaxTokens == 0 {
		m.MaxTokens = fallback.MaxTokens
	}
	if m.MaxRetries == 0 {
		m.MaxRetries = fallback.MaxRetries
	}
	if m.TimeoutSeconds == 0 {
		m.TimeoutSeconds = fallback.TimeoutSeconds
	}
}

func (m *ModelConfig) validate() error {
	switch m.Provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOllama:
	default:
		return fmt.Errorf("unsupported provider %q (supported: anthropic, openai, gemini, ollama)", m.Provider)
	}
	if m.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// LLMConfig configures model selection for every role the engine calls
// into an LLM for (spec.md §6: "llm.<role>.model").
type LLMConfig struct {
	// DefaultModel is used for any role without its own override.
	DefaultModel ModelConfig `yaml:"default_model,omitempty"`

	QueryGeneration *ModelConfig `yaml:"query_generation,omitempty"`
	Refinement      *ModelConfig `yaml:"refinement,omitempty"`
	Analysis        *ModelConfig `yaml:"analysis,omitempty"`
	Synthesis       *ModelConfig `yaml:"synthesis,omitempty"`
	Extraction      *ModelConfig `yaml:"extraction,omitempty"`
	Hypothesis      *ModelConfig `yaml:"hypothesis,omitempty"`
}

func (c *LLMConfig) SetDefaults() {
	if c.DefaultModel.Provider == "" {
		c.DefaultModel.Provider = ProviderAnthropic
	}
	if c.DefaultModel.Model == "" {
		c.DefaultModel.Model = "claude-sonnet-4-20250514"
	}
	if c.DefaultModel.MaxTokens == 0 {
		c.DefaultModel.MaxTokens = 4096
	}
	if c.DefaultModel.MaxRetries == 0 {
		c.DefaultModel.MaxRetries = 3
	}
	if c.DefaultModel.TimeoutSeconds == 0 {
		c.DefaultModel.TimeoutSeconds = 120
	}
	if c.DefaultModel.Temperature == nil {
		t := 0.7
		c.DefaultModel.Temperature = &t
	}

	for _, role := range c.roles() {
		if *role == nil {
			*role = &ModelConfig{}
		}
		(*role).setDefaults(&c.DefaultModel)
	}
}

func (c *LLMConfig) Validate() error {
	if err := c.DefaultModel.validate(); err != nil {
		return fmt.Errorf("default_model: %w", err)
	}
	return nil
}

// ForRole returns the resolved model config for a given pipeline role.
func (c *LLMConfig) ForRole(role Role) ModelConfig {
	switch role {
	case RoleQueryGeneration:
		if c.QueryGeneration != nil {
			return *c.QueryGeneration
		}
	case RoleRefinement:
		if c.Refinement != nil {
			return *c.Refinement
		}
	case RoleAnalysis:
		if c.Analysis != nil {
			return *c.Analysis
		}
	case RoleSynthesis:
		if c.Synthesis != nil {
			return *c.Synthesis
		}
	case RoleExtraction:
		if c.Extraction != nil {
			return *c.Extraction
		}
	case RoleHypothesis:
		if c.Hypothesis != nil {
			return *c.Hypothesis
		}
	}
	return c.DefaultModel
}

// roles returns pointers-to-pointers for every optional role override, so
// SetDefaults can allocate and fill them uniformly.
func (c *LLMConfig) roles() []**ModelConfig {
	return []**ModelConfig{
		&c.QueryGeneration,
		&c.Refinement,
		&c.Analysis,
		&c.Synthesis,
		&c.Extraction,
		&c.Hypothesis,
	}
}
