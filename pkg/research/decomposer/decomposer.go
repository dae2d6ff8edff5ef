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

// Package decomposer splits a research question into independently
// executable subtasks (spec §4.6). It plans only; it never executes.
package decomposer

import (
	"context"
	"fmt"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/schemagen"
)

// minTasks is the decomposition floor; spec §6 only exposes a configurable
// ceiling (research.max_tasks), so the minimum stays fixed.
const minTasks = 3

// defaultMaxTasks mirrors config.ResearchConfig's own default, used only
// when a Decomposer is built with maxTasks <= 0 (e.g. in tests that don't
// go through config.SetDefaults).
const defaultMaxTasks = 5

// schema mirrors the required output shape; jsonschema tags drive the
// structured-output constraint passed to the LLM.
type taskSpec struct {
	Query     string `json:"query" jsonschema:"required,description=Free-text subtask query"`
	Rationale string `json:"rationale" jsonschema:"required,description=One-sentence reason this subtask matters"`
	Priority  int    `json:"priority" jsonschema:"required,description=1 is highest priority"`
}

type decomposition struct {
	Tasks []taskSpec `json:"tasks" jsonschema:"required"`
}

// Decomposer produces a task list for a research question.
type Decomposer struct {
	client   *llm.Client
	store    *prompt.Store
	maxTasks int
}

// New builds a Decomposer. client should be resolved for the
// config.RoleAnalysis role (spec §6 per-role model selection). maxTasks comes from
// cfg.Research.MaxTasks; a value <= 0 falls back to defaultMaxTasks.
func New(client *llm.Client, store *prompt.Store, maxTasks int) *Decomposer {
	if maxTasks <= 0 {
		maxTasks = defaultMaxTasks
	}
	return &Decomposer{client: client, store: store, maxTasks: maxTasks}
}

// Decompose returns at most maxTasks ordered model.Task values, unexecuted
// (status model.TaskPending), ready for the orchestrator to schedule. The
// prompt asks for at least minTasks; a shorter list from the model is
// returned as it is.
func (d *Decomposer) Decompose(ctx context.Context, question string) ([]model.Task, error) {
	text, err := d.store.Render("decompose_task.tmpl", map[string]any{
		"Question": question,
		"MinTasks": minTasks,
		"MaxTasks": d.maxTasks,
	})
	if err != nil {
		return nil, fmt.Errorf("decomposer: rendering prompt: %w", err)
	}

	schemaJSON, err := schemagen.Of(&decomposition{})
	if err != nil {
		return nil, fmt.Errorf("decomposer: building schema: %w", err)
	}

	var out decomposition
	if _, err := d.client.Structured(ctx, []llm.Message{{Role: "user", Content: text}}, "decomposition", schemaJSON, &out); err != nil {
		return nil, fmt.Errorf("decomposer: %w", err)
	}

	if len(out.Tasks) > d.maxTasks {
		out.Tasks = out.Tasks[:d.maxTasks]
	}

	tasks := make([]model.Task, 0, len(out.Tasks))
	for i, ts := range out.Tasks {
		tasks = append(tasks, model.Task{
			Ordinal:   i,
			Query:     ts.Query,
			Rationale: ts.Rationale,
			Priority:  ts.Priority,
			Status:    model.TaskPending,
		})
	}
	return tasks, nil
}
