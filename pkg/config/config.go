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

// Package config provides configuration loading and management for the
// deep research engine.
//
// The engine is config-first: LLM roles, research budgets, and source
// integrations are defined in YAML and the runtime builds them from it.
//
// Example config:
//
//	llm:
//	  default_model:
//	    provider: anthropic
//	    model: claude-sonnet-4-20250514
//	    api_key: ${ANTHROPIC_API_KEY}
//	  synthesis:
//	    model: claude-opus-4-20250514
//
//	research:
//	  max_tasks: 5
//	  max_retries_per_task: 2
//	  min_results_per_task: 3
//	  max_concurrent_tasks: 4
//	  max_time_minutes: 15
//	  max_cost_dollars: 5.0
//	  hypothesis_branching:
//	    enabled: false
//	    mode: planning_aid
//
//	databases:
//	  federal_jobs:
//	    enabled: true
package config

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/observability"
)

// Role identifies which stage of the pipeline an LLM call belongs to.
// Each role may be bound to a different model via its own field on
// Config.LLM, resolved by LLMConfig.ForRole.
type Role string

const (
	RoleQueryGeneration Role = "query_generation"
	RoleRefinement      Role = "refinement"
	RoleAnalysis        Role = "analysis"
	RoleSynthesis       Role = "synthesis"
	RoleExtraction      Role = "extraction"
	RoleHypothesis      Role = "hypothesis"
)

// Config is the root configuration structure.
type Config struct {
	// Name of this configuration (for logging/display).
	Name string `yaml:"name,omitempty"`

	// LLM configures model selection per role.
	LLM LLMConfig `yaml:"llm,omitempty"`

	// Research configures budgets and behavior of the orchestrator.
	Research ResearchConfig `yaml:"research,omitempty"`

	// Databases configures the ~10 source integrations (the name "databases"
	// is kept from spec.md's external-interface key, not a SQL database).
	Databases map[string]*SourceConfig `yaml:"databases,omitempty"`

	// Logger configures logging behavior.
	Logger *LoggerConfig `yaml:"logger,omitempty"`

	// Observability configures metrics/tracing export.
	Observability *observability.Config `yaml:"observability,omitempty"`

	// OutputDir is the root directory under which run directories are
	// written (default "data/research_output").
	OutputDir string `yaml:"output_dir,omitempty"`

	// LogDir is the directory for the API request log (default "data/logs").
	LogDir string `yaml:"log_dir,omitempty"`
}

// SetDefaults applies default values to the config.
func (c *Config) SetDefaults() {
	if c.Databases == nil {
		c.Databases = make(map[string]*SourceConfig)
	}
	if c.OutputDir == "" {
		c.OutputDir = "data/research_output"
	}
	if c.LogDir == "" {
		c.LogDir = "data/logs"
	}

	c.LLM.SetDefaults()
	c.Research.SetDefaults()

	for name, db := range c.Databases {
		if db == nil {
			c.Databases[name] = &SourceConfig{}
			db = c.Databases[name]
		}
		db.SetDefaults()
	}

	if c.Logger == nil {
		c.Logger = &LoggerConfig{}
	}
	c.Logger.SetDefaults()

	if c.Observability == nil {
		c.Observability = &observability.Config{}
	}
	c.Observability.SetDefaults()
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if err := c.LLM.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("llm: %v", err))
	}

	if err := c.Research.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("research: %v", err))
	}

	for name, db := range c.Databases {
		if db == nil {
			continue
		}
		if err := db.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("databases.%s: %v", name, err))
		}
	}

	if c.Logger != nil {
		if err := c.Logger.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("logger: %v", err))
		}
	}

	if c.Observability != nil {
		if err := c.Observability.Validate(); err != nil {
			errs = append(errs, fmt.Sprintf("observability: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// SourceEnabled reports whether the named source integration is enabled.
// Unknown sources default to enabled so new integrations need no config
// entry to participate.
func (c *Config) SourceEnabled(name string) bool {
	db, ok := c.Databases[name]
	if !ok {
		return true
	}
	return db.Enabled == nil || *db.Enabled
}
