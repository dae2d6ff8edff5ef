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

// Package hypothesis generates investigative pathways per task (spec
// §4.7), adaptively sized to the question. Hypotheses either stay a
// planning aid or are promoted to sub-tasks by ToTask - there is no
// separate "execute a hypothesis" code path, since executing a
// hypothesis is defined as executing a task with a pre-seeded source
// set (spec §4.7 "must support both without duplicated code").
package hypothesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/schemagen"
)

const maxHypotheses = 5

type hypothesisSpec struct {
	PathwayName      string   `json:"pathway_name" jsonschema:"required,description=Short name for this investigative pathway"`
	Description      string   `json:"description" jsonschema:"required"`
	Priority         int      `json:"priority" jsonschema:"required,description=1 is highest priority"`
	Confidence       float64  `json:"confidence" jsonschema:"required,description=0 to 1"`
	Sources          []string `json:"sources" jsonschema:"description=Subset of the available source names"`
	Signals          []string `json:"signals" jsonschema:"description=Keywords that would confirm this pathway"`
	ExpectedEntities []string `json:"expected_entities,omitempty"`
	Rationale        string   `json:"rationale" jsonschema:"required"`
}

type hypothesesOut struct {
	Hypotheses []hypothesisSpec `json:"hypotheses" jsonschema:"required"`
}

// Generator produces hypotheses for a single task.
type Generator struct {
	client *llm.Client
	store  *prompt.Store
}

// New builds a Generator. client should be resolved for the
// config.RoleHypothesis role.
func New(client *llm.Client, store *prompt.Store) *Generator {
	return &Generator{client: client, store: store}
}

// Generate returns 1-5 hypotheses for task, given the names of sources
// registered in the process (so the model can only recommend real
// sources).
func (g *Generator) Generate(ctx context.Context, task model.Task, sourceNames []string) ([]model.Hypothesis, error) {
	text, err := g.store.Render("generate_hypotheses.tmpl", map[string]any{
		"Query":       task.Query,
		"SourceNames": strings.Join(sourceNames, ", "),
	})
	if err != nil {
		return nil, fmt.Errorf("hypothesis: rendering prompt: %w", err)
	}

	schemaJSON, err := schemagen.Of(&hypothesesOut{})
	if err != nil {
		return nil, fmt.Errorf("hypothesis: building schema: %w", err)
	}

	var out hypothesesOut
	if _, err := g.client.Structured(ctx, []llm.Message{{Role: "user", Content: text}}, "hypotheses", schemaJSON, &out); err != nil {
		return nil, fmt.Errorf("hypothesis: %w", err)
	}

	if len(out.Hypotheses) > maxHypotheses {
		out.Hypotheses = out.Hypotheses[:maxHypotheses]
	}

	allowed := make(map[string]bool, len(sourceNames))
	for _, n := range sourceNames {
		allowed[n] = true
	}

	hyps := make([]model.Hypothesis, 0, len(out.Hypotheses))
	for _, h := range out.Hypotheses {
		sources := make([]string, 0, len(h.Sources))
		for _, s := range h.Sources {
			if allowed[s] {
				sources = append(sources, s)
			}
		}
		hyps = append(hyps, model.Hypothesis{
			PathwayName:      h.PathwayName,
			Description:      h.Description,
			Priority:         h.Priority,
			Confidence:       h.Confidence,
			Sources:          sources,
			Signals:          h.Signals,
			ExpectedEntities: h.ExpectedEntities,
			Rationale:        h.Rationale,
		})
	}
	return hyps, nil
}

// ToTask promotes a hypothesis into an executable sub-task: executing a
// hypothesis is executing a task whose source set is pre-seeded from the
// hypothesis's recommended sources (spec §4.7). ordinal is the new
// task's position in the run's task list. The returned source list is
// the pre-seeded set the orchestrator must restrict the parallel
// executor to when it runs this task - it is not stored on model.Task
// itself, since Task has no source-restriction field of its own (an
// unrestricted task considers every registered source).
func ToTask(ordinal int, parentQuery string, h model.Hypothesis) (model.Task, []string) {
	task := model.Task{
		Ordinal:          ordinal,
		Query:            h.Description,
		Rationale:        fmt.Sprintf("hypothesis %q for %q: %s", h.PathwayName, parentQuery, h.Rationale),
		Priority:         h.Priority,
		Status:           model.TaskPending,
		ParentHypothesis: h.PathwayName,
	}
	return task, h.Sources
}
