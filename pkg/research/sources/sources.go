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

// Package sources holds the concrete Source Integration Plugins (spec §4.4).
// Every source shares the relevance->query-gen->execute shape through
// sourceapi.Source; what differs per source is how query generation prompts
// the LLM and how Execute reaches the underlying data.
package sources

import (
	"context"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
)

// queryGenDeps is what every HTTP-backed source needs to run its
// LLM-driven query generator, factored out so each source file only states
// its name/description/schema.
type queryGenDeps struct {
	client *llm.Client
	store  *prompt.Store
}

func (d *queryGenDeps) generateQuery(ctx context.Context, sourceName, description, question string, params any) (*model.QueryPlan, error) {
	text, err := d.store.Render("generate_source_query.tmpl", map[string]any{
		"SourceName":        sourceName,
		"SourceDescription":  description,
		"Query":              question,
	})
	if err != nil {
		return nil, err
	}

	schemaJSON, err := jsonSchemaOf(params)
	if err != nil {
		return nil, err
	}

	var out struct {
		Params    map[string]string `json:"params"`
		Reasoning string             `json:"reasoning"`
	}
	if _, err := d.client.Structured(ctx, []llm.Message{{Role: "user", Content: text}}, sourceName+"_query", schemaJSON, &out); err != nil {
		return nil, err
	}
	if len(out.Params) == 0 {
		return nil, nil
	}
	return &model.QueryPlan{SourceName: sourceName, Params: out.Params, Reasoning: out.Reasoning}, nil
}

// keywordRelevant is the cheap relevance gate used by most HTTP sources
// (spec §4.4 "a cheap test - keyword or tiny LLM prompt - to avoid wasting
// calls"). It returns true only when the question contains at least one of
// keywords (case-insensitive substring match), and false otherwise.
func keywordRelevant(question string, keywords []string) bool {
	q := strings.ToLower(question)
	for _, k := range keywords {
		if strings.Contains(q, strings.ToLower(k)) {
			return true
		}
	}
	return false
}
