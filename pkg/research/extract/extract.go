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

// Package extract turns a task's accumulated results into entities and
// claims (spec §4.10) with one LLM call, then computes source_count and
// domain_diversity by joining each claim's evidence back against the
// results - these are never extracted directly from the model, only
// computed.
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/schemagen"
	"github.com/kadirpekel/deepresearch/pkg/utils"
)

// maxResultsBlockTokens bounds the ResultsBlock's size so a task that has
// accumulated many results (especially long local-document snippets) can't
// build a prompt that blows past the extraction model's context window
// before the call is even attempted. Results beyond the budget are dropped
// from the prompt, not from task.AccumulatedResults itself.
const maxResultsBlockTokens = 12000

type entitySpec struct {
	CanonicalName      string   `json:"canonical_name" jsonschema:"required"`
	Type               string   `json:"type" jsonschema:"required"`
	Aliases            []string `json:"aliases,omitempty"`
	DisambiguationRisk string   `json:"disambiguation_risk" jsonschema:"required,enum=low|medium|high"`
	Confidence         float64  `json:"confidence" jsonschema:"required"`
}

type claimSpec struct {
	Subject       string  `json:"subject" jsonschema:"required"`
	Predicate     string  `json:"predicate" jsonschema:"required"`
	Object        string  `json:"object,omitempty"`
	PredicateTier string  `json:"predicate_tier" jsonschema:"required,enum=strong|weak|meta"`
	EvidenceRefs  []int   `json:"evidence_refs" jsonschema:"required,description=indices into the results block"`
	Confidence    float64 `json:"confidence" jsonschema:"required"`
}

type extractionOut struct {
	Entities []entitySpec `json:"entities"`
	Claims   []claimSpec  `json:"claims"`
}

// Extractor runs the entity/claim extraction LLM call and its
// post-processing.
type Extractor struct {
	client *llm.Client
	store  *prompt.Store
}

// New builds an Extractor. client should be resolved for the
// config.RoleExtraction role.
func New(client *llm.Client, store *prompt.Store) *Extractor {
	return &Extractor{client: client, store: store}
}

// Extract runs extraction over task's accumulated results and returns the
// entities and claims found. Evidence references in the returned claims
// are result URLs (results have no other stable identity, and URL is
// already the dedup key used by the accumulator). Claims whose model-
// reported evidence_refs are all out of range are dropped rather than
// kept with zero evidence - spec §8's claim-groundedness invariant bars a
// claim with no resolvable evidence reference.
func (e *Extractor) Extract(ctx context.Context, task model.Task) ([]model.Entity, []model.Claim, error) {
	results := task.AccumulatedResults
	if len(results) == 0 {
		return nil, nil, nil
	}

	results, block := e.buildResultsBlock(results)

	text, err := e.store.Render("extract_entities_claims.tmpl", map[string]any{
		"Query":        task.Query,
		"ResultCount":  len(results),
		"ResultsBlock": block,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("extract: rendering prompt: %w", err)
	}

	schemaJSON, err := schemagen.Of(&extractionOut{})
	if err != nil {
		return nil, nil, fmt.Errorf("extract: building schema: %w", err)
	}

	var out extractionOut
	if _, err := e.client.Structured(ctx, []llm.Message{{Role: "user", Content: text}}, "entity_claim_extraction", schemaJSON, &out); err != nil {
		return nil, nil, fmt.Errorf("extract: %w", err)
	}

	entities := make([]model.Entity, 0, len(out.Entities))
	byName := make(map[string]string) // canonical_name -> entity ID, for subject/object resolution
	for _, es := range out.Entities {
		id := uuid.NewString()
		firstSeen := ""
		if len(results) > 0 {
			firstSeen = results[0].URL
		}
		entities = append(entities, model.Entity{
			ID:                  id,
			CanonicalName:       es.CanonicalName,
			Type:                es.Type,
			Aliases:             es.Aliases,
			FirstSeenEvidenceID: firstSeen,
			DisambiguationRisk:  model.DisambiguationRisk(es.DisambiguationRisk),
			LLMConfidence:       es.Confidence,
		})
		byName[es.CanonicalName] = id
	}

	claims := make([]model.Claim, 0, len(out.Claims))
	for _, cs := range out.Claims {
		evidenceIDs := make([]string, 0, len(cs.EvidenceRefs))
		sourceNames := make(map[string]struct{})
		domains := make(map[string]struct{})
		for _, idx := range cs.EvidenceRefs {
			if idx < 0 || idx >= len(results) {
				continue // spec §8: a claim's evidence must resolve to a stored result
			}
			r := results[idx]
			evidenceIDs = append(evidenceIDs, r.URL)
			sourceNames[r.SourceName] = struct{}{}
			domains[r.Domain] = struct{}{}
		}
		if len(evidenceIDs) == 0 {
			continue // every claim must cite at least one evidence reference
		}

		claim := model.Claim{
			ID:              uuid.NewString(),
			SubjectEntityID: resolveSubject(cs.Subject, byName),
			Predicate:       cs.Predicate,
			PredicateTier:   model.PredicateTier(cs.PredicateTier),
			EvidenceIDs:     evidenceIDs,
			SourceCount:     len(sourceNames),
			DomainDiversity: len(domains),
			LLMConfidence:   cs.Confidence,
		}
		if id, ok := byName[cs.Object]; ok {
			claim.ObjectEntityID = id
		} else {
			claim.ObjectLiteral = cs.Object
		}
		claims = append(claims, claim)
	}

	return entities, claims, nil
}

// buildResultsBlock renders results as the numbered block the extraction
// prompt and its evidence_refs index into, stopping once maxResultsBlockTokens
// is reached. It returns the (possibly truncated) results slice alongside the
// block text so callers keep using the same indices the model was shown. If
// the model's encoding can't be resolved, extraction proceeds unbounded
// rather than fail a call over a token estimate.
func (e *Extractor) buildResultsBlock(results []model.RawResult) ([]model.RawResult, string) {
	counter, err := utils.NewTokenCounter(e.client.Model())
	if err != nil {
		var block strings.Builder
		for i, r := range results {
			fmt.Fprintf(&block, "[%d] %s — %s (%s)\n%s\n\n", i, r.Title, r.URL, r.SourceName, r.SnippetText)
		}
		return results, block.String()
	}

	var block strings.Builder
	tokens := 0
	included := make([]model.RawResult, 0, len(results))
	for i, r := range results {
		entry := fmt.Sprintf("[%d] %s — %s (%s)\n%s\n\n", i, r.Title, r.URL, r.SourceName, r.SnippetText)
		entryTokens := counter.Count(entry)
		if i > 0 && tokens+entryTokens > maxResultsBlockTokens {
			break
		}
		block.WriteString(entry)
		tokens += entryTokens
		included = append(included, r)
	}
	return included, block.String()
}

func resolveSubject(name string, byName map[string]string) string {
	if id, ok := byName[name]; ok {
		return id
	}
	return name
}

// MergeEntities merges entity lists from multiple tasks by exact
// canonical-name match (spec §4.10). High-risk duplicates (two entities
// sharing a name but disagreeing on type) are kept distinct and flagged
// rather than merged, since automatic merging across a type mismatch is
// exactly the kind of silent conflation disambiguation_risk exists to
// surface.
func MergeEntities(batches ...[]model.Entity) []model.Entity {
	merged := make(map[string]model.Entity)
	order := make([]string, 0)
	for _, batch := range batches {
		for _, e := range batch {
			existing, ok := merged[e.CanonicalName]
			if !ok {
				merged[e.CanonicalName] = e
				order = append(order, e.CanonicalName)
				continue
			}
			if existing.Type != e.Type {
				existing.DisambiguationRisk = model.RiskHigh
			}
			existing.Aliases = mergeAliases(existing.Aliases, e.Aliases)
			if e.LLMConfidence > existing.LLMConfidence {
				existing.LLMConfidence = e.LLMConfidence
			}
			merged[e.CanonicalName] = existing
		}
	}
	out := make([]model.Entity, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}
	return out
}

func mergeAliases(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range b {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
