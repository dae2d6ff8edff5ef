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

// Package rundir writes a finished Run to the on-disk layout spec.md §6
// names: one directory per run under the configured output root, written
// once at finalize/abort and never mutated again (model.Run's own
// "append-only" contract). It owns none of the run's in-memory state -
// every field it serializes was already computed by the orchestrator.
package rundir

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/utils"
)

// Writer writes run directories under BaseDir (spec §6
// "data/research_output/<timestamp>_<slug>/").
type Writer struct {
	BaseDir string
}

// New builds a Writer rooted at baseDir.
func New(baseDir string) *Writer {
	return &Writer{BaseDir: baseDir}
}

// event is one line of events.jsonl, the append-only execution trace.
type event struct {
	At     time.Time `json:"at"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail,omitempty"`
}

// decomposedTask is the "tasks as planned" view written to
// decomposition.json - the task's original query before any retry
// reformulated it, not its final execution state.
type decomposedTask struct {
	Ordinal   int    `json:"ordinal"`
	Query     string `json:"query"`
	Rationale string `json:"rationale,omitempty"`
	Priority  int    `json:"priority,omitempty"`
}

// WriteRun serializes run (and the frozen config it ran under) to a new
// directory under w.BaseDir, and returns the directory's path. run must
// already be in a terminal status (model.RunFinalized or model.RunAborted);
// WriteRun does not check this itself, since it has no opinion on the
// orchestrator's state machine - it only writes what it is given.
func (w *Writer) WriteRun(cfg *config.Config, run *model.Run) (string, error) {
	dir := filepath.Join(w.BaseDir, dirName(run))

	if err := writeJSON(filepath.Join(dir, "run_config.json"), redactConfig(cfg)); err != nil {
		return "", fmt.Errorf("rundir: writing run_config.json: %w", err)
	}

	decomposition := make([]decomposedTask, 0, len(run.Tasks))
	for _, task := range run.Tasks {
		decomposition = append(decomposition, decomposedTask{
			Ordinal:   task.Ordinal,
			Query:     plannedQuery(task),
			Rationale: task.Rationale,
			Priority:  task.Priority,
		})
	}
	if err := writeJSON(filepath.Join(dir, "decomposition.json"), decomposition); err != nil {
		return "", fmt.Errorf("rundir: writing decomposition.json: %w", err)
	}

	for _, task := range run.Tasks {
		taskDir := filepath.Join(dir, "tasks", strconv.Itoa(task.Ordinal))
		writes := map[string]any{
			"query_history.json": task.QueryHistory,
			"raw_results.json":    task.AccumulatedResults,
			"relevance.json":      task.RelevanceScores,
			"entities.json":       task.Entities,
			"claims.json":         task.Claims,
		}
		for name, v := range writes {
			if err := writeJSON(filepath.Join(taskDir, name), v); err != nil {
				return "", fmt.Errorf("rundir: writing tasks/%d/%s: %w", task.Ordinal, name, err)
			}
		}
	}

	if len(run.Hypotheses) > 0 {
		if err := writeJSON(filepath.Join(dir, "hypotheses.json"), run.Hypotheses); err != nil {
			return "", fmt.Errorf("rundir: writing hypotheses.json: %w", err)
		}
	}

	if err := writeJSON(filepath.Join(dir, "coverage.json"), run.Coverage); err != nil {
		return "", fmt.Errorf("rundir: writing coverage.json: %w", err)
	}

	if err := writeMarkdown(filepath.Join(dir, "report.md"), run.ReportMarkdown); err != nil {
		return "", fmt.Errorf("rundir: writing report.md: %w", err)
	}

	if err := writeJSON(filepath.Join(dir, "cost.json"), run.Cost); err != nil {
		return "", fmt.Errorf("rundir: writing cost.json: %w", err)
	}

	if err := writeEvents(filepath.Join(dir, "events.jsonl"), run); err != nil {
		return "", fmt.Errorf("rundir: writing events.jsonl: %w", err)
	}

	return dir, nil
}

// plannedQuery returns a task's original query, before any reformulation
// attempt rewrote it in place.
func plannedQuery(task model.Task) string {
	if len(task.QueryHistory) > 0 {
		return task.QueryHistory[0].Query
	}
	return task.Query
}

func dirName(run *model.Run) string {
	ts := run.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return ts.UTC().Format("20060102T150405Z") + "_" + slugify(run.Question)
}

var nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a free-text question into a filesystem-safe, readable
// directory suffix, truncated so the directory name stays reasonable even
// for a long question.
func slugify(s string) string {
	slug := nonSlugChars.ReplaceAllString(strings.ToLower(s), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		slug = "run"
	}
	const maxLen = 60
	if len(slug) > maxLen {
		slug = strings.Trim(slug[:maxLen], "-")
	}
	return slug
}

// redactConfig returns a copy of cfg with every model's API key masked
// (spec §6 "API keys ... must be masked as prefix***suffix"). cfg itself
// is never mutated.
func redactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.LLM.DefaultModel = redactModel(cfg.LLM.DefaultModel)
	out.LLM.QueryGeneration = redactModelPtr(cfg.LLM.QueryGeneration)
	out.LLM.Refinement = redactModelPtr(cfg.LLM.Refinement)
	out.LLM.Analysis = redactModelPtr(cfg.LLM.Analysis)
	out.LLM.Synthesis = redactModelPtr(cfg.LLM.Synthesis)
	out.LLM.Extraction = redactModelPtr(cfg.LLM.Extraction)
	out.LLM.Hypothesis = redactModelPtr(cfg.LLM.Hypothesis)
	return out
}

func redactModel(m config.ModelConfig) config.ModelConfig {
	m.APIKey = costtracker.MaskCredential(m.APIKey)
	return m
}

func redactModelPtr(m *config.ModelConfig) *config.ModelConfig {
	if m == nil {
		return nil
	}
	redacted := redactModel(*m)
	return &redacted
}

// writeEvents derives a coarse execution trace from data the orchestrator
// already recorded - there is no separate live event bus, so this is a
// reconstruction, not a true append-as-it-happens log.
func writeEvents(path string, run *model.Run) error {
	events := []event{{At: run.StartedAt, Kind: "run_started", Detail: run.Question}}

	for _, task := range run.Tasks {
		for _, attempt := range task.QueryHistory {
			events = append(events, event{
				At:   attempt.At,
				Kind: "task_query_attempt",
				Detail: fmt.Sprintf("ordinal=%d attempt=%d accumulated=%d",
					task.Ordinal, attempt.Attempt, attempt.AccumulatedAfter),
			})
		}
		finishedAt := run.FinishedAt
		if len(task.QueryHistory) > 0 {
			finishedAt = task.QueryHistory[len(task.QueryHistory)-1].At
		}
		events = append(events, event{
			At:     finishedAt,
			Kind:   "task_" + string(task.Status),
			Detail: fmt.Sprintf("ordinal=%d", task.Ordinal),
		})
	}

	events = append(events, event{At: run.FinishedAt, Kind: "run_" + string(run.Status), Detail: run.AbortReason})

	sort.SliceStable(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })

	if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, e := range events {
		line, err := json.Marshal(e)
		if err != nil {
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return err
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func writeMarkdown(path, body string) error {
	if _, err := utils.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(body), 0644)
}
