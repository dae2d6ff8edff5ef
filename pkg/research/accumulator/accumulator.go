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

// Package accumulator runs the per-task retry loop (spec §4.9): execute,
// filter, accumulate (monotonically), reformulate on thin results,
// repeat until the task has enough results or runs out of retries.
package accumulator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/research/executor"
	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/relevance"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// Accumulator wires the parallel executor, relevance filter, and
// reformulation call into the retry loop.
type Accumulator struct {
	executor *executor.Executor
	filter   *relevance.Filter
	client   *llm.Client // resolved for the config.RoleRefinement role
	store    *prompt.Store

	MaxRetries        int
	MinResultsPerTask int
	ResultLimit       int // per-source result cap passed to the executor
}

// New builds an Accumulator. MaxRetries/MinResultsPerTask come from
// config.ResearchConfig; a MaxRetries of 0 means "try once, never retry".
func New(exec *executor.Executor, filter *relevance.Filter, client *llm.Client, store *prompt.Store, maxRetries, minResults, resultLimit int) *Accumulator {
	if resultLimit <= 0 {
		resultLimit = 20
	}
	return &Accumulator{
		executor:          exec,
		filter:            filter,
		client:            client,
		store:             store,
		MaxRetries:        maxRetries,
		MinResultsPerTask: minResults,
		ResultLimit:       resultLimit,
	}
}

// Run executes task's retry loop in place: it mutates task.Query (on
// reformulation), task.AccumulatedResults (monotonically), task.QueryHistory,
// task.SourceSelections, and task.RelevanceScores, and returns the final
// task. Invariants enforced here: AccumulatedResults never shrinks between
// attempts (spec §8 property 1), and retries are capped at MaxRetries
// regardless of how thin the results stay (spec §4.9).
//
// disabled tracks sources that have hit a rate_limit error anywhere in the
// run so far (spec §4.13, §7, scenario E4: "rate-limit mid-run" -> source
// marked skipped for remainder of run). It is owned by the caller and
// shared across every task in the run, so a source disabled on task 1's
// second attempt is also excluded from task 2 onward; Run both reads it
// (to exclude already-disabled sources from this task's attempts) and
// writes it (when one of sources rate-limits during this task).
func (a *Accumulator) Run(ctx context.Context, task model.Task, sources []sourceapi.Source, disabled map[string]bool) model.Task {
	originalTask := task.Query
	attempts := 0

	for attempts < a.MaxRetries+1 && len(task.AccumulatedResults) < a.MinResultsPerTask {
		if ctx.Err() != nil {
			task.FailureReason = ctx.Err().Error()
			break
		}

		active := make([]sourceapi.Source, 0, len(sources))
		for _, s := range sources {
			if !disabled[s.Metadata().Name] {
				active = append(active, s)
			}
		}

		outcomes := a.executor.Run(ctx, task.Query, active, a.ResultLimit)

		var candidates []model.RawResult
		for _, o := range outcomes {
			sel := model.SourceSelection{SourceName: o.SourceName, Plan: o.Plan, ResultCount: len(o.Results)}
			if o.Err != nil {
				sel.Error = o.Err.Error()
				if ierr, ok := o.Err.(*sourceapi.IntegrationError); ok {
					sel.Retryable = ierr.Retryable
					if ierr.Kind == sourceapi.KindRateLimit {
						disabled[o.SourceName] = true
					}
				}
			}
			task.SourceSelections = append(task.SourceSelections, sel)
			candidates = append(candidates, o.Results...)
		}
		// sources settle in arbitrary order; merge deterministically so
		// relevance-index diagnostics are reproducible (spec §5 ordering
		// guarantees).
		sort.SliceStable(candidates, func(i, j int) bool {
			if candidates[i].SourceName != candidates[j].SourceName {
				return candidates[i].SourceName < candidates[j].SourceName
			}
			return candidates[i].URL < candidates[j].URL
		})

		eval, relevant, err := a.filter.Apply(ctx, task.Query, candidates)
		if err != nil {
			task.FailureReason = fmt.Sprintf("relevance filter: %v", err)
			attempts++
			continue
		}
		task.RelevanceScores = append(task.RelevanceScores, eval)

		task.AccumulatedResults = model.DedupByURL(task.AccumulatedResults, relevant)

		task.QueryHistory = append(task.QueryHistory, model.QueryAttempt{
			Attempt:          attempts,
			Query:            task.Query,
			Reason:           eval.OffTopicReason,
			CandidateCount:   len(candidates),
			AccumulatedAfter: len(task.AccumulatedResults),
			At:               time.Now(),
		})

		attempts++
		if len(task.AccumulatedResults) < a.MinResultsPerTask && attempts < a.MaxRetries+1 {
			reformulated, rerr := a.reformulate(ctx, task.Query, originalTask, eval)
			if rerr == nil && strings.TrimSpace(reformulated) != "" {
				task.Query = strings.TrimSpace(reformulated)
			}
		}
	}

	task.RetryCount = attempts - 1
	if attempts > a.MaxRetries {
		task.RetryCount = a.MaxRetries
	}

	// spec §4.11 task state transitions: succeeded on reaching the
	// threshold OR on exhausting retries with any accumulated results;
	// failed only when retries are exhausted with zero results.
	switch {
	case len(task.AccumulatedResults) >= a.MinResultsPerTask:
		task.Status = model.TaskSucceeded
	case len(task.AccumulatedResults) > 0:
		task.Status = model.TaskSucceeded
		if task.FailureReason == "" {
			task.FailureReason = "exhausted retries below min_results_per_task"
		}
	default:
		task.Status = model.TaskFailed
		if task.FailureReason == "" {
			task.FailureReason = "exhausted retries with zero accumulated results"
		}
	}
	return task
}

func (a *Accumulator) reformulate(ctx context.Context, query, originalTask string, eval model.RelevanceEvaluation) (string, error) {
	text, err := a.store.Render("reformulate_query.tmpl", map[string]any{
		"Query":        query,
		"Reason":       eval.OffTopicReason,
		"Hint":         eval.ReformulationHint,
		"OriginalTask": originalTask,
	})
	if err != nil {
		return "", err
	}
	reply, _, err := a.client.Chat(ctx, []llm.Message{{Role: "user", Content: text}})
	return reply, err
}
