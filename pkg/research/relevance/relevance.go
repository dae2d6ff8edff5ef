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

// Package relevance filters a batch of candidate results against a task
// query with one LLM call per batch (spec §4.8). The key invariant,
// traced to a real bug in the system this was ported from: filter
// per-item, never discard the whole batch because the model judged it
// "mostly junk".
package relevance

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/schemagen"
)

type evaluationOut struct {
	RelevantIndices   []int  `json:"relevant_indices" jsonschema:"required"`
	Scores            []int  `json:"scores" jsonschema:"required,description=0 to 10, one per candidate, same order"`
	OffTopicReason    string `json:"off_topic_reason,omitempty"`
	ReformulationHint string `json:"reformulation_hint,omitempty"`
}

// Filter scores and filters a batch of raw results against a task query.
type Filter struct {
	client *llm.Client
	store  *prompt.Store
}

// New builds a Filter. client should be resolved for the
// config.RoleAnalysis role.
func New(client *llm.Client, store *prompt.Store) *Filter {
	return &Filter{client: client, store: store}
}

// Apply judges candidates against query and returns the evaluation plus
// the subset of candidates at RelevantIndices, in the order the model
// returned them - the caller keeps only these items but stores the full
// evaluation (with every score) for diagnostics (spec §4.8).
func (f *Filter) Apply(ctx context.Context, query string, candidates []model.RawResult) (model.RelevanceEvaluation, []model.RawResult, error) {
	if len(candidates) == 0 {
		return model.RelevanceEvaluation{}, nil, nil
	}

	var block strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&block, "[%d] %s — %s\n%s\n\n", i, c.Title, c.URL, c.SnippetText)
	}

	text, err := f.store.Render("relevance_filter.tmpl", map[string]any{
		"Query":        query,
		"Count":        len(candidates),
		"ResultsBlock": block.String(),
	})
	if err != nil {
		return model.RelevanceEvaluation{}, nil, fmt.Errorf("relevance: rendering prompt: %w", err)
	}

	schemaJSON, err := schemagen.Of(&evaluationOut{})
	if err != nil {
		return model.RelevanceEvaluation{}, nil, fmt.Errorf("relevance: building schema: %w", err)
	}

	var out evaluationOut
	if _, err := f.client.Structured(ctx, []llm.Message{{Role: "user", Content: text}}, "relevance_evaluation", schemaJSON, &out); err != nil {
		return model.RelevanceEvaluation{}, nil, fmt.Errorf("relevance: %w", err)
	}

	eval := model.RelevanceEvaluation{
		RelevantIndices:   out.RelevantIndices,
		Scores:            out.Scores,
		OffTopicReason:    out.OffTopicReason,
		ReformulationHint: out.ReformulationHint,
	}

	kept := make([]model.RawResult, 0, len(out.RelevantIndices))
	for _, idx := range out.RelevantIndices {
		if idx < 0 || idx >= len(candidates) {
			continue // defend against an out-of-range index from the model
		}
		kept = append(kept, candidates[idx])
	}
	return eval, kept, nil
}
