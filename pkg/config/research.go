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

import (
	"fmt"
	"time"
)

// HypothesisMode selects between the two branching modes of §4.7.
type HypothesisMode string

const (
	// HypothesisPlanningAid appends hypotheses to the report without
	// executing them (default mode when hypothesis branching is enabled).
	HypothesisPlanningAid HypothesisMode = "planning_aid"

	// HypothesisExecuted turns each hypothesis into a sub-task with
	// sources pre-filtered (opt-in, 3-4x cost multiplier per spec).
	HypothesisExecuted HypothesisMode = "executed"
)

// HypothesisBranchingConfig toggles the optional Hypothesis Generator.
type HypothesisBranchingConfig struct {
	Enabled bool           `yaml:"enabled,omitempty"`
	Mode    HypothesisMode `yaml:"mode,omitempty"`
}

func (c *HypothesisBranchingConfig) SetDefaults() {
	if c.Mode == "" {
		c.Mode = HypothesisPlanningAid
	}
}

func (c *HypothesisBranchingConfig) Validate() error {
	switch c.Mode {
	case HypothesisPlanningAid, HypothesisExecuted:
		return nil
	default:
		return fmt.Errorf("invalid hypothesis_branching.mode %q (valid: planning_aid, executed)", c.Mode)
	}
}

// ResearchConfig configures the orchestrator's budgets and behavior
// (spec.md §6 "research.*" keys).
type ResearchConfig struct {
	// MaxTasks bounds how many subtasks the decomposer may produce.
	MaxTasks int `yaml:"max_tasks,omitempty"`

	// MaxRetriesPerTask bounds the accumulator's retry loop (§4.9).
	MaxRetriesPerTask int `yaml:"max_retries_per_task,omitempty"`

	// MinResultsPerTask is the accumulation success threshold.
	MinResultsPerTask int `yaml:"min_results_per_task,omitempty"`

	// MaxConcurrentTasks is the parallel executor's semaphore size (§4.5).
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks,omitempty"`

	// MaxTimeMinutes is the run's wall-clock budget (§5).
	MaxTimeMinutes int `yaml:"max_time_minutes,omitempty"`

	// MaxCostDollars is the run's cost budget (§5, §8 property 6).
	MaxCostDollars float64 `yaml:"max_cost_dollars,omitempty"`

	HypothesisBranching HypothesisBranchingConfig `yaml:"hypothesis_branching,omitempty"`

	// EntityStore configures the opt-in cross-run entity dedup store.
	EntityStore EntityStoreConfig `yaml:"entity_store,omitempty"`
}

// EntityStoreConfig toggles the optional embedded entity store that
// survives across runs, letting the decomposer-independent MergeEntities
// pass (within-run, exact-name) be followed by a cross-run near-duplicate
// check (spec.md §9 "a future version may add LLM-driven dedup").
type EntityStoreConfig struct {
	Enabled bool `yaml:"enabled,omitempty"`

	// PersistPath is the directory chromem-go persists its collection to.
	// Empty means in-memory only (cleared when the process exits).
	PersistPath string `yaml:"persist_path,omitempty"`

	// SimilarityThreshold is the minimum cosine similarity for two entities
	// to be considered the same real-world entity across runs.
	SimilarityThreshold float64 `yaml:"similarity_threshold,omitempty"`
}

func (c *EntityStoreConfig) SetDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.85
	}
}

func (c *EntityStoreConfig) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("entity_store.similarity_threshold must be in [0, 1]")
	}
	return nil
}

func (c *ResearchConfig) SetDefaults() {
	if c.MaxTasks == 0 {
		c.MaxTasks = 5
	}
	if c.MaxRetriesPerTask == 0 {
		c.MaxRetriesPerTask = 2
	}
	if c.MinResultsPerTask == 0 {
		c.MinResultsPerTask = 3
	}
	if c.MaxConcurrentTasks == 0 {
		c.MaxConcurrentTasks = 4
	}
	if c.MaxTimeMinutes == 0 {
		c.MaxTimeMinutes = 15
	}
	if c.MaxCostDollars == 0 {
		c.MaxCostDollars = 5.0
	}
	c.HypothesisBranching.SetDefaults()
	c.EntityStore.SetDefaults()
}

func (c *ResearchConfig) Validate() error {
	if c.MaxTasks < 1 {
		return fmt.Errorf("max_tasks must be >= 1")
	}
	if c.MaxRetriesPerTask < 0 {
		return fmt.Errorf("max_retries_per_task must be >= 0")
	}
	if c.MinResultsPerTask < 0 {
		return fmt.Errorf("min_results_per_task must be >= 0")
	}
	if c.MaxConcurrentTasks < 1 {
		return fmt.Errorf("max_concurrent_tasks must be >= 1")
	}
	if c.MaxTimeMinutes < 1 {
		return fmt.Errorf("max_time_minutes must be >= 1")
	}
	if c.MaxCostDollars <= 0 {
		return fmt.Errorf("max_cost_dollars must be > 0")
	}
	if err := c.HypothesisBranching.Validate(); err != nil {
		return err
	}
	return c.EntityStore.Validate()
}

// TimeBudget returns MaxTimeMinutes as a time.Duration.
func (c *ResearchConfig) TimeBudget() time.Duration {
	return time.Duration(c.MaxTimeMinutes) * time.Minute
}
