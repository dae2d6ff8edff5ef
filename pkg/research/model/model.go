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

// Package model holds the shared, serializable data types of a research run
// (spec §3). Every pipeline package reads and writes these types; none of
// them know how a run directory is laid out on disk (see pkg/research/rundir)
// or how an LLM call is made (see pkg/research/llm).
package model

import "time"

// TaskStatus is the lifecycle state of a Task (spec §4.11).
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
	TaskSkipped   TaskStatus = "skipped"
)

// RunStatus is the lifecycle state of a Run (spec §4.11).
type RunStatus string

const (
	RunInitializing RunStatus = "initializing"
	RunDecomposing  RunStatus = "decomposing"
	RunExecuting    RunStatus = "executing"
	RunExtracting   RunStatus = "extracting"
	RunSynthesizing RunStatus = "synthesizing"
	RunFinalized    RunStatus = "finalized"
	RunAborted      RunStatus = "aborted"
)

// DisambiguationRisk flags how confidently an Entity's canonical name was
// resolved against prior mentions.
type DisambiguationRisk string

const (
	RiskLow    DisambiguationRisk = "low"
	RiskMedium DisambiguationRisk = "medium"
	RiskHigh   DisambiguationRisk = "high"
)

// PredicateTier encodes how literally the source text supports a Claim.
type PredicateTier string

const (
	TierStrong PredicateTier = "strong"
	TierWeak   PredicateTier = "weak"
	TierMeta   PredicateTier = "meta"
)

// RawResult is a normalized search hit. URL is the deduplication key and
// SnippetText is stored verbatim, never summarized (spec §3).
type RawResult struct {
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	SnippetText string            `json:"snippet_text"`
	SourceName  string            `json:"source_name"`
	Domain      string            `json:"domain"`
	FetchedAt   time.Time         `json:"fetched_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// QueryPlan is the source-specific parameter dictionary produced by an
// integration's query generator.
type QueryPlan struct {
	SourceName string            `json:"source_name"`
	Params     map[string]string `json:"params"`
	Reasoning  string            `json:"reasoning"`
}

// RelevanceEvaluation is the output of one relevance-filter call over a
// batch of candidate results (spec §4.8).
type RelevanceEvaluation struct {
	RelevantIndices   []int   `json:"relevant_indices"`
	Scores            []int   `json:"scores"`
	OffTopicReason    string  `json:"off_topic_reason,omitempty"`
	ReformulationHint string  `json:"reformulation_hint,omitempty"`
	Cost              float64 `json:"cost_dollars"`
}

// QueryAttempt records one reformulation of a task's query, kept so
// tasks/<ordinal>/query_history.json can show the full trail (spec §6).
type QueryAttempt struct {
	Attempt           int       `json:"attempt"`
	Query             string    `json:"query"`
	Reason            string    `json:"reason,omitempty"`
	CandidateCount    int       `json:"candidate_count"`
	AccumulatedAfter  int       `json:"accumulated_after"`
	At                time.Time `json:"at"`
}

// SourceSelection records which integration handled one attempt of a task,
// and what it produced or failed with.
type SourceSelection struct {
	SourceName string     `json:"source_name"`
	Plan       *QueryPlan `json:"plan,omitempty"`
	ResultCount int       `json:"result_count"`
	Error      string     `json:"error,omitempty"`
	Retryable  bool       `json:"retryable,omitempty"`
}

// Hypothesis is a named investigative pathway proposed for a task (spec §3,
// §4.7). It may remain a planning aid or be promoted into a sub-Task.
type Hypothesis struct {
	PathwayName      string   `json:"pathway_name"`
	Description      string   `json:"description"`
	Priority         int      `json:"priority"`
	Confidence       float64  `json:"confidence"`
	Sources          []string `json:"sources"`
	Signals          []string `json:"signals"`
	ExpectedEntities []string `json:"expected_entities"`
	Rationale        string   `json:"rationale"`
	Executed         bool     `json:"executed"`
}

// Task is a subtask of the research question (spec §3). AccumulatedResults
// only ever grows across retries within a task — see the accumulator
// package for the code that enforces this.
type Task struct {
	Ordinal            int                 `json:"ordinal"`
	Query              string              `json:"query"`
	Rationale          string              `json:"rationale,omitempty"`
	Priority           int                 `json:"priority,omitempty"`
	Status             TaskStatus          `json:"status"`
	RetryCount         int                 `json:"retry_count"`
	AccumulatedResults []RawResult         `json:"accumulated_results"`
	Hypotheses         []Hypothesis        `json:"hypotheses,omitempty"`
	RelevanceScores    []RelevanceEvaluation `json:"relevance_scores,omitempty"`
	Entities           []Entity            `json:"entities,omitempty"`
	Claims             []Claim             `json:"claims,omitempty"`
	QueryHistory       []QueryAttempt      `json:"query_history"`
	SourceSelections   []SourceSelection   `json:"source_selections,omitempty"`
	ParentHypothesis   string              `json:"parent_hypothesis,omitempty"`
	FailureReason      string              `json:"failure_reason,omitempty"`
}

// Entity is a canonicalized mention surfaced by extraction (spec §3). It is
// unique by CanonicalName within a run.
type Entity struct {
	ID                   string             `json:"id"`
	CanonicalName        string             `json:"canonical_name"`
	Type                 string             `json:"type"`
	Aliases              []string           `json:"aliases,omitempty"`
	FirstSeenEvidenceID  string             `json:"first_seen_evidence_id"`
	DisambiguationRisk   DisambiguationRisk `json:"disambiguation_risk"`
	LLMConfidence        float64            `json:"llm_confidence"`
}

// Claim is a subject-predicate-object assertion grounded in evidence (spec
// §3). SourceCount and DomainDiversity are computed by post-processing, not
// extracted directly from the model.
type Claim struct {
	ID              string        `json:"id"`
	SubjectEntityID string        `json:"subject_entity_id"`
	Predicate       string        `json:"predicate"`
	ObjectEntityID  string        `json:"object_entity_id,omitempty"`
	ObjectLiteral   string        `json:"object_literal,omitempty"`
	PredicateTier   PredicateTier `json:"predicate_tier"`
	EvidenceIDs     []string      `json:"evidence_ids"`
	SourceCount     int           `json:"source_count"`
	DomainDiversity int           `json:"domain_diversity"`
	LLMConfidence   float64       `json:"llm_confidence"`
}

// CoverageMetadata is the record of what was searched, what returned
// results, and what is missing (spec §3, §9).
type CoverageMetadata struct {
	SourcesUsed     []string       `json:"sources_used"`
	SourcesSkipped  []SkippedSource `json:"sources_skipped,omitempty"`
	QueriesExecuted int            `json:"queries_executed"`
	DomainHistogram map[string]int `json:"domain_histogram"`
	KnownGaps       []string       `json:"known_gaps,omitempty"`
}

// SkippedSource names an integration that did not contribute to the run and
// why, surfaced verbatim in the report's Limitations section.
type SkippedSource struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// CostSnapshot is a point-in-time rollup of the cost tracker, frozen into
// cost.json at finalize.
type CostSnapshot struct {
	TotalDollars   float64            `json:"total_dollars"`
	PerModelDollars map[string]float64 `json:"per_model_dollars"`
	PerAPICalls     map[string]int     `json:"per_api_calls"`
	UnknownCostCalls int               `json:"unknown_cost_calls"`
}

// Run is the top-level record of one end-to-end execution (spec §3). Once
// Status reaches Finalized or Aborted the run directory is never mutated
// again.
type Run struct {
	ID              string           `json:"id"`
	Question        string           `json:"question"`
	Status          RunStatus        `json:"status"`
	Tasks           []Task           `json:"tasks"`
	Hypotheses      []Hypothesis     `json:"hypotheses,omitempty"`
	Entities        []Entity         `json:"entities"`
	Claims          []Claim          `json:"claims"`
	Cost            CostSnapshot     `json:"cost"`
	StartedAt       time.Time        `json:"started_at"`
	FinishedAt      time.Time        `json:"finished_at,omitempty"`
	Coverage        CoverageMetadata `json:"coverage_metadata"`
	ReportMarkdown  string           `json:"-"`
	AbortReason     string           `json:"abort_reason,omitempty"`
}

// Duration returns the wall-clock length of the run. Zero if not finished.
func (r *Run) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
