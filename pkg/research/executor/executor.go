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

// Package executor runs selected source integrations concurrently under a
// bounded semaphore (spec §4.5). Each integration runs its own
// relevance->query-gen->execute pipeline sequentially; integrations run in
// parallel with respect to each other and share no mutable state.
package executor

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// Outcome is one integration's result: either a list of raw results, or an
// error. Never both. A nil Results with a nil Err means the integration
// found nothing relevant to execute (not a failure).
type Outcome struct {
	SourceName string
	Results    []model.RawResult
	Plan       *model.QueryPlan
	Err        error
}

// Executor runs a set of sources concurrently, bounded by MaxConcurrency.
type Executor struct {
	MaxConcurrency int
	metrics        observability.Recorder
}

// New builds an Executor with the given concurrency bound. A value <= 0
// falls back to 4, the low end of spec §4.5's "default 4-8" range.
func New(maxConcurrency int) *Executor {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	return &Executor{MaxConcurrency: maxConcurrency, metrics: observability.NoopMetrics{}}
}

// SetMetrics wires m into every subsequent Run call's per-source timing
// (spec §1.5's ambient observability, the source-integration counterpart
// to llm.Client.SetMetrics). Passing nil restores the no-op recorder.
func (e *Executor) SetMetrics(m observability.Recorder) {
	if m == nil {
		m = observability.NoopMetrics{}
	}
	e.metrics = m
}

// Run executes the relevance->query-gen->execute pipeline for every source
// in sources, concurrently, and returns one Outcome per source that passed
// its relevance gate. Sources whose IsRelevant returns false are silently
// skipped - they are not failures, just not candidates for this question.
//
// Run never returns an error itself; individual failures are carried in
// each Outcome so the caller (the accumulator's retry loop) decides what
// to do with a partial result set.
func (e *Executor) Run(ctx context.Context, question string, sources []sourceapi.Source, limit int) []Outcome {
	sem := make(chan struct{}, e.MaxConcurrency)
	outcomes := make([]Outcome, len(sources))

	metrics := e.metrics
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return nil
			}
			defer func() { <-sem }()

			name := src.Metadata().Name

			if !src.IsRelevant(gctx, question) {
				return nil
			}

			plan, err := src.GenerateQuery(gctx, question)
			if err != nil {
				outcomes[i] = Outcome{SourceName: name, Err: err}
				metrics.RecordToolError(name, errorKind(err))
				return nil
			}
			if plan == nil {
				outcomes[i] = Outcome{SourceName: name}
				return nil
			}

			start := time.Now()
			results, err := src.Execute(gctx, plan, limit)
			metrics.RecordToolCall(name, time.Since(start))
			if err != nil {
				metrics.RecordToolError(name, errorKind(err))
			}
			outcomes[i] = Outcome{SourceName: name, Plan: plan, Results: results, Err: err}
			return nil
		})
	}
	// errgroup.Wait's error is always nil here: every goroutine above
	// handles its own failure by recording it in outcomes rather than
	// returning it, so one source's error never cancels its siblings.
	_ = g.Wait()

	out := make([]Outcome, 0, len(sources))
	for i, src := range sources {
		o := outcomes[i]
		if o.SourceName == "" {
			o.SourceName = src.Metadata().Name
		}
		if o.Results == nil && o.Err == nil && o.Plan == nil {
			continue // not relevant, nothing to report
		}
		out = append(out, o)
	}
	return out
}

// errorKind extracts a source integration's ErrorKind as a metrics label,
// falling back to "unknown" for an error a source returned directly rather
// than wrapping in sourceapi.IntegrationError.
func errorKind(err error) string {
	if ierr, ok := err.(*sourceapi.IntegrationError); ok {
		return string(ierr.Kind)
	}
	return "unknown"
}
