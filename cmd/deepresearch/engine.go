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

package main

import (
	"fmt"
	"path/filepath"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/observability"
	"github.com/kadirpekel/deepresearch/pkg/research/costtracker"
	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/orchestrator"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/rundir"
	"github.com/kadirpekel/deepresearch/pkg/research/sources"
	"github.com/kadirpekel/deepresearch/pkg/utils"
)

// engine bundles the long-lived, cfg-derived components run_research (spec
// §6) needs: a cost tracker backing every LLM call, the wired orchestrator,
// and the writer that serializes a finished run to disk. One engine is
// built per process invocation of run/serve and reused across every
// question it handles, mirroring the orchestrator's own "no per-run state"
// contract.
type engine struct {
	cfg     *config.Config
	tracker *costtracker.Tracker
	orch    *orchestrator.Orchestrator
	writer  *rundir.Writer
}

// newEngine wires the full pipeline from cfg: cost tracker -> prompt store
// -> source registry (via the query-generation-role LLM client) ->
// orchestrator (which resolves its own per-role clients internally).
// metrics is forwarded to every LLM client and the executor (spec §1.5); it
// may be nil, which wires the no-op recorder throughout.
func newEngine(cfg *config.Config, metrics observability.Recorder) (*engine, error) {
	if _, err := utils.EnsureDir(cfg.LogDir); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	tracker, err := costtracker.New(filepath.Join(cfg.LogDir, "api_requests.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("creating cost tracker: %w", err)
	}

	store, err := prompt.NewStore(nil)
	if err != nil {
		return nil, fmt.Errorf("loading prompt templates: %w", err)
	}

	queryClient, err := llm.New(cfg.LLM.ForRole(config.RoleQueryGeneration), tracker)
	if err != nil {
		return nil, fmt.Errorf("creating query-generation client: %w", err)
	}

	registry, err := sources.Build(cfg, queryClient, store)
	if err != nil {
		return nil, fmt.Errorf("building source registry: %w", err)
	}

	orch, err := orchestrator.New(cfg, tracker, registry, store, metrics)
	if err != nil {
		return nil, fmt.Errorf("wiring orchestrator: %w", err)
	}

	return &engine{
		cfg:     cfg,
		tracker: tracker,
		orch:    orch,
		writer:  rundir.New(cfg.OutputDir),
	}, nil
}

func (e *engine) Close() error {
	return e.tracker.Close()
}
