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

// Package synthesis produces the final markdown report plus its JSON
// sidecar from a run's aggregated entities, claims, and coverage metadata
// (spec §4.12). The hedging/coverage/limitations requirements live in the
// prompt template; this package's own job is assembling the three text
// blocks the template renders and building the sidecar structure.
package synthesis

import (
	"context"
	"fmt"
	"strings"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
)

// Sidecar is the structured JSON companion to the markdown report (spec
// §4.12 "markdown + a structured JSON sidecar").
type Sidecar struct {
	Entities []model.Entity         `json:"entities"`
	Claims   []model.Claim          `json:"claims"`
	Coverage model.CoverageMetadata `json:"coverage_metadata"`
}

// Synthesizer runs the final report-writing LLM call.
type Synthesizer struct {
	client *llm.Client
	store  *prompt.Store
}

// New builds a Synthesizer. client should be resolved for
// config.RoleSynthesis.
func New(client *llm.Client, store *prompt.Store) *Synthesizer {
	return &Synthesizer{client: client, store: store}
}

// Synthesize renders the report prompt over run's aggregated state and
// returns the markdown body plus its sidecar. The sidecar's coverage field
// is exactly what the orchestrator computed; Synthesize does not
// recompute it.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, entities []model.Entity, claims []model.Claim, coverage model.CoverageMetadata) (string, Sidecar, error) {
	text, err := s.store.Render("synthesize_report.tmpl", map[string]any{
		"Question":      question,
		"EntitiesBlock": entitiesBlock(entities),
		"ClaimsBlock":   claimsBlock(claims, entities),
		"CoverageBlock": coverageBlock(coverage),
	})
	if err != nil {
		return "", Sidecar{}, fmt.Errorf("synthesis: rendering prompt: %w", err)
	}

	reply, _, err := s.client.Chat(ctx, []llm.Message{{Role: "user", Content: text}})
	if err != nil {
		return "", Sidecar{}, fmt.Errorf("synthesis: %w", err)
	}

	return reply, Sidecar{Entities: entities, Claims: claims, Coverage: coverage}, nil
}

func entitiesBlock(entities []model.Entity) string {
	if len(entities) == 0 {
		return "No entities extracted."
	}
	var b strings.Builder
	b.WriteString("Entities:\n")
	for _, e := range entities {
		fmt.Fprintf(&b, "- %s (%s, risk=%s, confidence=%.2f)\n", e.CanonicalName, e.Type, e.DisambiguationRisk, e.LLMConfidence)
	}
	return b.String()
}

func claimsBlock(claims []model.Claim, entities []model.Entity) string {
	if len(claims) == 0 {
		return "No claims extracted."
	}
	names := make(map[string]string, len(entities))
	for _, e := range entities {
		names[e.ID] = e.CanonicalName
	}

	var b strings.Builder
	b.WriteString("Claims:\n")
	for _, c := range claims {
		obj := c.ObjectLiteral
		if obj == "" {
			obj = names[c.ObjectEntityID]
		}
		fmt.Fprintf(&b, "- %s %s %s [tier=%s, source_count=%d, domain_diversity=%d, confidence=%.2f]\n",
			names[c.SubjectEntityID], c.Predicate, obj, c.PredicateTier, c.SourceCount, c.DomainDiversity, c.LLMConfidence)
	}
	return b.String()
}

func coverageBlock(cov model.CoverageMetadata) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Queries executed: %d\n", cov.QueriesExecuted)
	fmt.Fprintf(&b, "Sources used: %s\n", strings.Join(cov.SourcesUsed, ", "))
	if len(cov.SourcesSkipped) > 0 {
		b.WriteString("Sources skipped:\n")
		for _, sk := range cov.SourcesSkipped {
			fmt.Fprintf(&b, "  - %s: %s\n", sk.Name, sk.Reason)
		}
	}
	if len(cov.DomainHistogram) > 0 {
		b.WriteString("Domain histogram:\n")
		for d, n := range cov.DomainHistogram {
			fmt.Fprintf(&b, "  - %s: %d\n", d, n)
		}
	}
	if len(cov.KnownGaps) > 0 {
		fmt.Fprintf(&b, "Known gaps: %s\n", strings.Join(cov.KnownGaps, "; "))
	}
	return b.String()
}
