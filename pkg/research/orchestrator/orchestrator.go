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

// Package orchestrator drives one end-to-end run of the engine (spec
// §4.11): decompose -> (optionally) branch hypotheses -> accumulate
// results per task -> extract entities/claims -> synthesize a report.
// It is the work-queue state machine spec §9 asks for, not true
// recursion: hypothesis sub-tasks are appended to the same flat task
// list the top-level decomposition produced, so cancellation and
// tracing never have to unwind a call stack.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/accumulator"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
	"github.com/kadirpekel/deepresearch/pkg/research/decomposer"
	"github.com/kadirpekel/deepresearch/pkg/research/entitystore"
	"github.com/kadirpekel/deepresearch/pkg/research/executor"
	"github.com/kadirpekel/deepresearch/pkg/research/extract"
	"github.com/kadirpekel/deepresearch/pkg/research/hypothesis"
	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/relevance"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
	"github.com/kadirpekel/deepresearch/pkg/research/synthesis"
)

// Orchestrator owns one configuration's worth of wired components and can
// run many research questions against them; it holds no per-run state
// itself (spec §5 "runs are independent").
type Orchestrator struct {
	cfg     *config.Config
	tracker *costtracker.Tracker
	sources *sourceapi.Registry

	decomposer  *decomposer.Decomposer
	hypotheses  *hypothesis.Generator
	accumulator *accumulator.Accumulator
	extractor   *extract.Extractor
	synthesizer *synthesis.Synthesizer
	entities    *entitystore.Store
}

// New wires every pipeline component from cfg, resolving a model per role
// (spec §6 "llm.<role>.model") and sharing tracker across all of them so
// every external call lands in one append-only log. metrics receives
// RecordLLMCall/RecordLLMTokens/RecordLLMError for every client and
// RecordToolCall/RecordToolError for every source-integration call (spec
// §1.5); a nil metrics wires the no-op recorder, so the orchestrator works
// identically whether or not observability is enabled.
func New(cfg *config.Config, tracker *costtracker.Tracker, sources *sourceapi.Registry, store *prompt.Store, metrics observability.Recorder) (*Orchestrator, error) {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	clientFor := func(role config.Role) (*llm.Client, error) {
		c, err := llm.New(cfg.LLM.ForRole(role), tracker)
		if err != nil {
			return nil, err
		}
		c.SetMetrics(metrics)
		return c, nil
	}

	decomposeClient, err := clientFor(config.RoleAnalysis)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building decomposer client: %w", err)
	}
	relevanceClient, err := clientFor(config.RoleAnalysis)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building relevance client: %w", err)
	}
	reformulateClient, err := clientFor(config.RoleRefinement)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building reformulation client: %w", err)
	}
	hypothesisClient, err := clientFor(config.RoleHypothesis)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building hypothesis client: %w", err)
	}
	extractionClient, err := clientFor(config.RoleExtraction)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building extraction client: %w", err)
	}
	synthesisClient, err := clientFor(config.RoleSynthesis)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building synthesis client: %w", err)
	}

	exec := executor.New(cfg.Research.MaxConcurrentTasks)
	exec.SetMetrics(metrics)
	filter := relevance.New(relevanceClient, store)
	acc := accumulator.New(exec, filter, reformulateClient, store, cfg.Research.MaxRetriesPerTask, cfg.Research.MinResultsPerTask, 20)

	entities, err := entitystore.New(cfg.Research.EntityStore)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: building entity store: %w", err)
	}

	return &Orchestrator{
		cfg:         cfg,
		tracker:     tracker,
		sources:     sources,
		decomposer:  decomposer.New(decomposeClient, store, cfg.Research.MaxTasks),
		hypotheses:  hypothesis.New(hypothesisClient, store),
		accumulator: acc,
		extractor:   extract.New(extractionClient, store),
		synthesizer: synthesis.New(synthesisClient, store),
		entities:    entities,
	}, nil
}

// budgetExceeded reports whether run has exhausted its time or cost
// budget (spec §4.11 "running -> skipped when global cost/time budget
// exceeded", §5 "the orchestrator checks both before scheduling each
// task").
func (o *Orchestrator) budgetExceeded(run *model.Run) bool {
	if time.Since(run.StartedAt) > o.cfg.Research.TimeBudget() {
		return true
	}
	if o.tracker != nil && o.tracker.TotalCost() > o.cfg.Research.MaxCostDollars {
		return true
	}
	return false
}

// Run executes the full pipeline for question and returns the finished
// Run record. It never returns an error for per-task failures - those
// surface as model.TaskFailed/TaskSkipped entries and a populated
// Run.AbortReason - it only returns an error for the unrecoverable
// failures spec §6 names: a prompt template error (missing template or
// undefined variable) surfaced at decomposition time, returned alongside
// the aborted Run. LLM-client construction errors are returned by New.
func (o *Orchestrator) Run(ctx context.Context, question string) (*model.Run, error) {
	run := &model.Run{
		ID:        uuid.NewString(),
		Question:  question,
		Status:    model.RunInitializing,
		StartedAt: time.Now(),
	}

	run.Status = model.RunDecomposing
	tasks, err := o.decomposer.Decompose(ctx, question)
	if err != nil {
		run.Status = model.RunAborted
		run.AbortReason = fmt.Sprintf("decomposition failed: %v", err)
		run.FinishedAt = time.Now()
		var notFound *prompt.ErrTemplateNotFound
		var undefined *prompt.ErrUndefinedVariable
		if errors.As(err, &notFound) || errors.As(err, &undefined) {
			return run, err
		}
		return run, nil
	}
	run.Tasks = tasks

	// disabledSources is shared across every task and hypothesis sub-task in
	// this run: once a source rate-limits, it is skipped for the remainder
	// of the run (spec §4.13, §7, scenario E4), not just the task it
	// rate-limited on.
	disabledSources := make(map[string]bool)

	run.Status = model.RunExecuting
	o.executeTasks(ctx, run, disabledSources)

	if o.cfg.Research.HypothesisBranching.Enabled {
		o.runHypotheses(ctx, run, disabledSources)
	}

	run.Status = model.RunExtracting
	o.extractAll(ctx, run)

	coverage := o.buildCoverage(run)
	run.Coverage = coverage

	run.Status = model.RunSynthesizing
	report, _, err := o.synthesizer.Synthesize(ctx, question, run.Entities, run.Claims, coverage)
	if err != nil {
		run.Status = model.RunAborted
		run.AbortReason = fmt.Sprintf("synthesis failed: %v", err)
	} else {
		run.ReportMarkdown = report
		run.Status = model.RunFinalized
	}

	if o.tracker != nil {
		stats := o.tracker.Stats()
		run.Cost = model.CostSnapshot{
			TotalDollars:     stats.TotalCostDollars,
			PerModelDollars:  stats.PerModelDollars,
			PerAPICalls:      stats.CallsPerAPI,
			UnknownCostCalls: stats.UnknownCostCalls,
		}
	}
	run.FinishedAt = time.Now()
	return run, nil
}

// executeTasks runs the accumulator's retry loop for each pending task in
// run, in ordinal order, checking the budget before each one (spec §5,
// §4.11). Once the budget is exceeded every remaining pending task is
// marked skipped rather than run. disabledSources is shared across every
// task so a source that rate-limits on task N is excluded starting with
// task N's next attempt, through every later task too.
func (o *Orchestrator) executeTasks(ctx context.Context, run *model.Run, disabledSources map[string]bool) {
	budgetHit := false
	for i := range run.Tasks {
		task := &run.Tasks[i]
		if task.Status != model.TaskPending {
			continue
		}
		if budgetHit || o.budgetExceeded(run) {
			budgetHit = true
			task.Status = model.TaskSkipped
			task.FailureReason = "run budget (time or cost) exhausted before this task could be scheduled"
			continue
		}
		task.Status = model.TaskRunning
		*task = o.accumulator.Run(ctx, *task, o.sources.List(), disabledSources)
	}
	if budgetHit {
		run.AbortReason = "run budget (time or cost) exhausted; remaining tasks skipped"
	}
}

// runHypotheses generates hypotheses for every task that produced at
// least one accumulated result (a task with zero results has nothing to
// branch on), and - in executed mode - promotes each hypothesis into a
// new task run through the same accumulator pipeline (spec §4.7).
func (o *Orchestrator) runHypotheses(ctx context.Context, run *model.Run, disabledSources map[string]bool) {
	mode := o.cfg.Research.HypothesisBranching.Mode
	sourceNames := make([]string, 0)
	for _, meta := range o.sources.Metadatas() {
		sourceNames = append(sourceNames, meta.Name)
	}

	var promoted []model.Task
	for i := range run.Tasks {
		task := &run.Tasks[i]
		if len(task.AccumulatedResults) == 0 {
			continue
		}
		hyps, err := o.hypotheses.Generate(ctx, *task, sourceNames)
		if err != nil {
			continue // hypothesis generation is optional; a failure here never aborts the run
		}
		task.Hypotheses = hyps
		run.Hypotheses = append(run.Hypotheses, hyps...)

		if mode != config.HypothesisExecuted {
			continue
		}
		for _, h := range hyps {
			if o.budgetExceeded(run) {
				break
			}
			subTask, restrictedSources := hypothesis.ToTask(len(run.Tasks)+len(promoted), task.Query, h)
			sel := selectSources(o.sources, restrictedSources)
			subTask.Status = model.TaskRunning
			subTask = o.accumulator.Run(ctx, subTask, sel, disabledSources)
			promoted = append(promoted, subTask)
		}
	}
	run.Tasks = append(run.Tasks, promoted...)
}

// selectSources resolves restricted source names against reg, falling
// back to every registered source if the hypothesis named none (a
// hypothesis with an empty recommended-sources list is not restricted to
// nothing; it simply declined to narrow the search).
func selectSources(reg *sourceapi.Registry, names []string) []sourceapi.Source {
	if len(names) == 0 {
		return reg.List()
	}
	out := make([]sourceapi.Source, 0, len(names))
	for _, n := range names {
		if s, ok := reg.Get(n); ok {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return reg.List()
	}
	return out
}

// extractAll runs entity/claim extraction over every task that
// accumulated at least one result, merges entities across tasks by exact
// canonical name (spec §4.10), and concatenates claims - claims are
// never merged, only entities are.
func (o *Orchestrator) extractAll(ctx context.Context, run *model.Run) {
	var entityBatches [][]model.Entity
	for i := range run.Tasks {
		task := &run.Tasks[i]
		if len(task.AccumulatedResults) == 0 {
			continue
		}
		entities, claims, err := o.extractor.Extract(ctx, *task)
		if err != nil {
			task.FailureReason = fmt.Sprintf("%s; extraction failed: %v", task.FailureReason, err)
			continue
		}
		task.Entities = entities
		task.Claims = claims
		entityBatches = append(entityBatches, entities)
		run.Claims = append(run.Claims, claims...)
	}
	run.Entities = extract.MergeEntities(entityBatches...)
	o.resolveAgainstEntityStore(ctx, run)
}

// resolveAgainstEntityStore is a no-op when the entity store is disabled
// (o.entities is nil). When enabled, it folds each of this run's merged
// entities into a matching entity from a prior run, if the embedded
// similarity search finds one above the configured threshold, remapping
// every claim that referenced the run-local ID so subject/object
// resolution keeps working after the remap. Every entity is remembered
// afterward, whether or not it resolved, so later runs accumulate a
// growing index instead of only ever matching the first run.
func (o *Orchestrator) resolveAgainstEntityStore(ctx context.Context, run *model.Run) {
	if o.entities == nil {
		return
	}
	remap := make(map[string]string)
	for i := range run.Entities {
		e := &run.Entities[i]
		matchedID, ok, err := o.entities.Resolve(ctx, *e)
		if err != nil {
			continue // a lookup failure just means this entity stays run-local
		}
		if ok && matchedID != e.ID {
			remap[e.ID] = matchedID
			e.ID = matchedID
		}
		if err := o.entities.Remember(ctx, *e); err != nil {
			continue
		}
	}
	if len(remap) == 0 {
		return
	}
	for i := range run.Claims {
		c := &run.Claims[i]
		if to, ok := remap[c.SubjectEntityID]; ok {
			c.SubjectEntityID = to
		}
		if to, ok := remap[c.ObjectEntityID]; ok {
			c.ObjectEntityID = to
		}
	}
}

// buildCoverage computes run's CoverageMetadata from its tasks' source
// selections and accumulated results (spec §3, §9 - coverage is always
// computed from what actually happened, never asserted by the LLM).
func (o *Orchestrator) buildCoverage(run *model.Run) model.CoverageMetadata {
	usedSet := make(map[string]bool)
	skippedSet := make(map[string]string)
	domainCounts := make(map[string]int)
	queries := 0
	var gaps []string

	for _, task := range run.Tasks {
		queries += len(task.QueryHistory)
		for _, sel := range task.SourceSelections {
			if sel.Error != "" {
				skippedSet[sel.SourceName] = sel.Error
				continue
			}
			if sel.ResultCount > 0 {
				usedSet[sel.SourceName] = true
			}
		}
		for _, r := range task.AccumulatedResults {
			if r.Domain != "" {
				domainCounts[r.Domain]++
			} else if u, err := url.Parse(r.URL); err == nil {
				domainCounts[u.Hostname()]++
			}
		}
		if task.Status == model.TaskFailed {
			gaps = append(gaps, fmt.Sprintf("task %q: %s", task.Query, task.FailureReason))
		}
		if task.Status == model.TaskSkipped {
			gaps = append(gaps, fmt.Sprintf("task %q: skipped (%s)", task.Query, task.FailureReason))
		}
	}

	used := make([]string, 0, len(usedSet))
	for name := range usedSet {
		used = append(used, name)
	}
	sort.Strings(used)

	skipped := make([]model.SkippedSource, 0, len(skippedSet))
	for name, reason := range skippedSet {
		skipped = append(skipped, model.SkippedSource{Name: name, Reason: reason})
	}
	sort.Slice(skipped, func(i, j int) bool { return skipped[i].Name < skipped[j].Name })

	return model.CoverageMetadata{
		SourcesUsed:     used,
		SourcesSkipped:  skipped,
		QueriesExecuted: queries,
		DomainHistogram: domainCounts,
		KnownGaps:       gaps,
	}
}
