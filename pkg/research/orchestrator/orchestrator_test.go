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

package orchestrator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// fakeSource is a single-result source double, identical in shape to the
// one used across the accumulator/relevance/hypothesis test suites.
type fakeSource struct {
	name    string
	results []model.RawResult
}

func (f *fakeSource) Metadata() sourceapi.Metadata {
	return sourceapi.Metadata{Name: f.name}
}
func (f *fakeSource) IsRelevant(context.Context, string) bool { return true }
func (f *fakeSource) GenerateQuery(context.Context, string) (*model.QueryPlan, error) {
	return &model.QueryPlan{SourceName: f.name}, nil
}
func (f *fakeSource) Execute(context.Context, *model.QueryPlan, int) ([]model.RawResult, error) {
	return f.results, nil
}

// rateLimitedSource serves callsBeforeLimit successful calls, then returns a
// rate_limit IntegrationError on every call after that - a source double
// for spec scenario E4 ("rate-limit mid-run").
type rateLimitedSource struct {
	name             string
	callsBeforeLimit int32
	calls            int32
	results          []model.RawResult
}

func (f *rateLimitedSource) Metadata() sourceapi.Metadata            { return sourceapi.Metadata{Name: f.name} }
func (f *rateLimitedSource) IsRelevant(context.Context, string) bool { return true }
func (f *rateLimitedSource) GenerateQuery(context.Context, string) (*model.QueryPlan, error) {
	return &model.QueryPlan{SourceName: f.name}, nil
}
func (f *rateLimitedSource) Execute(context.Context, *model.QueryPlan, int) ([]model.RawResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n > f.callsBeforeLimit {
		return nil, &sourceapi.IntegrationError{Source: f.name, Kind: sourceapi.KindRateLimit, Retryable: false, Err: fmt.Errorf("429 too many requests")}
	}
	return f.results, nil
}

// roleResponse pairs a body substring marker with the canned ollama-shaped
// reply to return when a request body contains it. Checked in order, first
// match wins, so put more specific markers first.
type roleResponse struct {
	marker string
	body   string
}

// newDispatchServer serves every LLM role from one endpoint, since
// config.LLMConfig.ForRole inherits BaseURL from DefaultModel when a role
// has no override of its own (every role ends up pointed at this one
// server). Client.Structured embeds the schema name into a system message
// ("...schema named \"decomposition\"..."), and Client.Chat's plain calls
// are distinguished by template-specific prompt text - both survive into
// the raw outgoing request body, which is all a substring match needs.
func newDispatchServer(t *testing.T, responses []roleResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		for _, rr := range responses {
			if strings.Contains(body, rr.marker) {
				w.Header().Set("Content-Type", "application/json")
				w.Write([]byte(rr.body))
				return
			}
		}
		t.Fatalf("dispatch server: no matching response for request body: %s", body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestConfig(t *testing.T, baseURL string) *config.Config {
	t.Helper()
	cfg := &config.Config{
		LLM: config.LLMConfig{
			DefaultModel: config.ModelConfig{
				Provider: config.ProviderOllama,
				Model:    "llama3",
				BaseURL:  baseURL,
			},
		},
	}
	cfg.SetDefaults()
	cfg.Research.MinResultsPerTask = 1
	cfg.Research.MaxRetriesPerTask = 1
	return cfg
}

const decompositionTwoTasks = `{"message":{"role":"assistant","content":"{\"tasks\":[{\"query\":\"task one\",\"rationale\":\"r1\",\"priority\":1},{\"query\":\"task two\",\"rationale\":\"r2\",\"priority\":2}]}"},"prompt_eval_count":1,"eval_count":1}`

const relevanceAllRelevant = `{"message":{"role":"assistant","content":"{\"relevant_indices\":[0],\"scores\":[9]}"},"prompt_eval_count":1,"eval_count":1}`

const extractionOneClaim = `{"message":{"role":"assistant","content":"{\"entities\":[{\"canonical_name\":\"Acme Corp\",\"type\":\"organization\",\"disambiguation_risk\":\"low\",\"confidence\":0.9}],\"claims\":[{\"subject\":\"Acme Corp\",\"predicate\":\"received funding from\",\"object\":\"Example Agency\",\"predicate_tier\":\"strong\",\"evidence_refs\":[0],\"confidence\":0.8}]}"},"prompt_eval_count":1,"eval_count":1}`

const synthesisReport = `{"message":{"role":"assistant","content":"## Research Coverage\nfoo\n\n## Limitations\nbar"},"prompt_eval_count":1,"eval_count":1}`

const hypothesesOne = `{"message":{"role":"assistant","content":"{\"hypotheses\":[{\"pathway_name\":\"funding trail\",\"description\":\"follow the money\",\"priority\":1,\"confidence\":0.7,\"sources\":[\"s1\"],\"signals\":[\"grant\"],\"expected_entities\":[\"Acme Corp\"],\"rationale\":\"likely to surface award records\"}]}"},"prompt_eval_count":1,"eval_count":1}`

func newRegistry(t *testing.T) *sourceapi.Registry {
	t.Helper()
	reg := sourceapi.NewRegistry()
	err := reg.RegisterSource(&fakeSource{name: "s1", results: []model.RawResult{
		{URL: "https://a.example/1", Title: "a", SourceName: "s1", Domain: "a.example"},
	}})
	require.NoError(t, err)
	return reg
}

// newRateLimitRegistry registers a source that rate-limits after its first
// call alongside a steady one, so the second decomposed task is the first
// to observe the rate-limited source already disabled.
func newRateLimitRegistry(t *testing.T) (*sourceapi.Registry, *rateLimitedSource) {
	t.Helper()
	flaky := &rateLimitedSource{name: "flaky", callsBeforeLimit: 1, results: []model.RawResult{
		{URL: "https://flaky.example/1", Title: "f", SourceName: "flaky", Domain: "flaky.example"},
	}}
	reg := sourceapi.NewRegistry()
	require.NoError(t, reg.RegisterSource(flaky))
	require.NoError(t, reg.RegisterSource(&fakeSource{name: "s1", results: []model.RawResult{
		{URL: "https://a.example/1", Title: "a", SourceName: "s1", Domain: "a.example"},
	}}))
	return reg, flaky
}

// TestOrchestrator_Run_DisablesRateLimitedSourceAcrossTasks covers spec
// scenario E4 end-to-end through the orchestrator (not just the
// accumulator): a source that rate-limits while executing task 1 must be
// excluded from task 2 entirely, and the run still finishes successfully
// off the surviving source.
func TestOrchestrator_Run_DisablesRateLimitedSourceAcrossTasks(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionTwoTasks},
		{marker: "relevance_evaluation", body: relevanceAllRelevant},
		{marker: "entity_claim_extraction", body: extractionOneClaim},
		{marker: "Write the final research report", body: synthesisReport},
	})
	cfg := newTestConfig(t, srv.URL)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	reg, flaky := newRateLimitRegistry(t)
	o, err := New(cfg, tracker, reg, store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "who funds Acme Corp?")
	require.NoError(t, err)

	assert.Equal(t, model.RunFinalized, run.Status)
	require.Len(t, run.Tasks, 2)
	for _, task := range run.Tasks {
		assert.Equal(t, model.TaskSucceeded, task.Status, "the run must still succeed off the surviving source")
	}

	assert.Equal(t, int32(2), atomic.LoadInt32(&flaky.calls),
		"flaky serves task 1's call, fails task 2's first call, and is never called again")

	require.Len(t, run.Coverage.SourcesSkipped, 1)
	assert.Equal(t, "flaky", run.Coverage.SourcesSkipped[0].Name)
	assert.Contains(t, run.Coverage.SourcesUsed, "s1")
}

func TestOrchestrator_Run_HappyPath(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionTwoTasks},
		{marker: "relevance_evaluation", body: relevanceAllRelevant},
		{marker: "entity_claim_extraction", body: extractionOneClaim},
		{marker: "Write the final research report", body: synthesisReport},
	})
	cfg := newTestConfig(t, srv.URL)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	o, err := New(cfg, tracker, newRegistry(t), store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "who funds Acme Corp?")
	require.NoError(t, err)

	assert.Equal(t, model.RunFinalized, run.Status)
	assert.Empty(t, run.AbortReason)
	require.Len(t, run.Tasks, 2)
	for _, task := range run.Tasks {
		assert.Equal(t, model.TaskSucceeded, task.Status)
		assert.NotEmpty(t, task.AccumulatedResults)
	}
	assert.NotEmpty(t, run.Entities)
	assert.NotEmpty(t, run.Claims)
	assert.Contains(t, run.ReportMarkdown, "Research Coverage")
	assert.Contains(t, run.Coverage.SourcesUsed, "s1")
	assert.Equal(t, 2, run.Coverage.QueriesExecuted)
	assert.False(t, run.FinishedAt.IsZero())
}

func TestOrchestrator_Run_AbortsWhenDecompositionFails(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: `{"message":{"role":"assistant","content":"not json at all"},"prompt_eval_count":1,"eval_count":1}`},
	})
	cfg := newTestConfig(t, srv.URL)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	o, err := New(cfg, tracker, newRegistry(t), store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "a question")
	require.NoError(t, err, "decomposition failure aborts the run, it does not propagate as a Go error")

	assert.Equal(t, model.RunAborted, run.Status)
	assert.Contains(t, run.AbortReason, "decomposition failed")
	assert.Empty(t, run.Tasks)
}

func TestOrchestrator_Run_SkipsTasksWhenBudgetExhausted(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionTwoTasks},
		{marker: "Write the final research report", body: synthesisReport},
	})
	cfg := newTestConfig(t, srv.URL)
	cfg.Research.MaxCostDollars = -1 // forces budgetExceeded true from the first check
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	o, err := New(cfg, tracker, newRegistry(t), store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "a question")
	require.NoError(t, err)

	require.Len(t, run.Tasks, 2)
	for _, task := range run.Tasks {
		assert.Equal(t, model.TaskSkipped, task.Status)
		assert.Contains(t, task.FailureReason, "budget")
	}
	assert.Contains(t, run.AbortReason, "budget")
	// extraction/synthesis still run over an empty task set; the run still
	// reaches a terminal status rather than getting stuck mid-pipeline.
	assert.Equal(t, model.RunFinalized, run.Status)
	assert.Empty(t, run.Entities)
}

func TestOrchestrator_Run_HypothesisPlanningAidDoesNotAddTasks(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionTwoTasks},
		{marker: "relevance_evaluation", body: relevanceAllRelevant},
		{marker: "entity_claim_extraction", body: extractionOneClaim},
		{marker: "hypotheses", body: hypothesesOne},
		{marker: "Write the final research report", body: synthesisReport},
	})
	cfg := newTestConfig(t, srv.URL)
	cfg.Research.HypothesisBranching.Enabled = true
	cfg.Research.HypothesisBranching.Mode = config.HypothesisPlanningAid
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	o, err := New(cfg, tracker, newRegistry(t), store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "who funds Acme Corp?")
	require.NoError(t, err)

	assert.Equal(t, model.RunFinalized, run.Status)
	require.Len(t, run.Tasks, 2, "planning_aid mode must never promote a hypothesis into an executed sub-task")
	assert.NotEmpty(t, run.Hypotheses)
	for _, task := range run.Tasks {
		assert.NotEmpty(t, task.Hypotheses)
	}
}

func TestOrchestrator_Run_HypothesisExecutedModePromotesSubTasks(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionTwoTasks},
		{marker: "relevance_evaluation", body: relevanceAllRelevant},
		{marker: "entity_claim_extraction", body: extractionOneClaim},
		{marker: "hypotheses", body: hypothesesOne},
		{marker: "Write the final research report", body: synthesisReport},
	})
	cfg := newTestConfig(t, srv.URL)
	cfg.Research.HypothesisBranching.Enabled = true
	cfg.Research.HypothesisBranching.Mode = config.HypothesisExecuted
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)
	tracker, err := costtracker.New("")
	require.NoError(t, err)

	o, err := New(cfg, tracker, newRegistry(t), store, nil)
	require.NoError(t, err)

	run, err := o.Run(context.Background(), "who funds Acme Corp?")
	require.NoError(t, err)

	assert.Equal(t, model.RunFinalized, run.Status)
	// 2 decomposed tasks, each producing 1 hypothesis promoted to a sub-task.
	require.Len(t, run.Tasks, 4)
	var promoted int
	for _, task := range run.Tasks {
		if task.ParentHypothesis != "" {
			promoted++
			assert.Equal(t, model.TaskSucceeded, task.Status)
		}
	}
	assert.Equal(t, 2, promoted)
}

func TestBuildCoverage_DerivesFieldsFromTaskState(t *testing.T) {
	o := &Orchestrator{}
	run := &model.Run{
		Tasks: []model.Task{
			{
				Query:        "task one",
				Status:       model.TaskSucceeded,
				QueryHistory: []model.QueryAttempt{{Attempt: 0}},
				SourceSelections: []model.SourceSelection{
					{SourceName: "s1", ResultCount: 2},
					{SourceName: "s2", Error: "rate limited", Retryable: true},
				},
				AccumulatedResults: []model.RawResult{
					{URL: "https://a.example/1", Domain: "a.example"},
					{URL: "https://b.example/2"}, // no Domain set; falls back to URL host
				},
			},
			{
				Query:         "task two",
				Status:        model.TaskFailed,
				FailureReason: "exhausted retries with zero accumulated results",
			},
		},
	}

	cov := o.buildCoverage(run)

	assert.Equal(t, []string{"s1"}, cov.SourcesUsed)
	require.Len(t, cov.SourcesSkipped, 1)
	assert.Equal(t, "s2", cov.SourcesSkipped[0].Name)
	assert.Equal(t, "rate limited", cov.SourcesSkipped[0].Reason)
	assert.Equal(t, 1, cov.QueriesExecuted)
	assert.Equal(t, 1, cov.DomainHistogram["a.example"])
	assert.Equal(t, 1, cov.DomainHistogram["b.example"])
	require.Len(t, cov.KnownGaps, 1)
	assert.Contains(t, cov.KnownGaps[0], "task two")
}
