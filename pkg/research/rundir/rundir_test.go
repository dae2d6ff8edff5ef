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

package rundir

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

func sampleRun() *model.Run {
	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &model.Run{
		ID:         "run-1",
		Question:   "Who funds Acme Corp's lobbying efforts?",
		Status:     model.RunFinalized,
		StartedAt:  started,
		FinishedAt: started.Add(2 * time.Minute),
		Tasks: []model.Task{
			{
				Ordinal: 0,
				Query:   "a sharper rewritten query",
				Status:  model.TaskSucceeded,
				QueryHistory: []model.QueryAttempt{
					{Attempt: 0, Query: "who funds Acme Corp", At: started.Add(1 * time.Second)},
					{Attempt: 1, Query: "a sharper rewritten query", At: started.Add(2 * time.Second)},
				},
				AccumulatedResults: []model.RawResult{{URL: "https://a.example/1", SourceName: "s1"}},
				Entities:           []model.Entity{{ID: "e1", CanonicalName: "Acme Corp"}},
				Claims:             []model.Claim{{ID: "c1", SubjectEntityID: "e1", Predicate: "received funding from"}},
			},
		},
		Entities: []model.Entity{{ID: "e1", CanonicalName: "Acme Corp"}},
		Claims:   []model.Claim{{ID: "c1", SubjectEntityID: "e1", Predicate: "received funding from"}},
		Coverage: model.CoverageMetadata{SourcesUsed: []string{"s1"}, QueriesExecuted: 2},
		Cost:     model.CostSnapshot{TotalDollars: 0.05},
		ReportMarkdown: "## Research Coverage\none source.\n",
	}
}

func sampleConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.LLM.DefaultModel.APIKey = "sk-ant-abcdef1234567890"
	return cfg
}

func TestWriteRun_WritesEveryNamedArtifact(t *testing.T) {
	tmp := t.TempDir()
	w := New(tmp)

	dir, err := w.WriteRun(sampleConfig(), sampleRun())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "20260102T030405Z_who-funds-acme-corp-s-lobbying-efforts"), dir)

	for _, rel := range []string{
		"run_config.json",
		"decomposition.json",
		"coverage.json",
		"report.md",
		"cost.json",
		"events.jsonl",
		filepath.Join("tasks", "0", "query_history.json"),
		filepath.Join("tasks", "0", "raw_results.json"),
		filepath.Join("tasks", "0", "relevance.json"),
		filepath.Join("tasks", "0", "entities.json"),
		filepath.Join("tasks", "0", "claims.json"),
	} {
		_, err := os.Stat(filepath.Join(dir, rel))
		assert.NoError(t, err, "expected %s to exist", rel)
	}

	// hypotheses.json is only written when the run actually used hypothesis
	// branching (spec §6 "if enabled").
	_, err = os.Stat(filepath.Join(dir, "hypotheses.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestWriteRun_DecompositionUsesOriginalPlannedQuery(t *testing.T) {
	tmp := t.TempDir()
	w := New(tmp)
	dir, err := w.WriteRun(sampleConfig(), sampleRun())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "decomposition.json"))
	require.NoError(t, err)

	var tasks []decomposedTask
	require.NoError(t, json.Unmarshal(data, &tasks))
	require.Len(t, tasks, 1)
	assert.Equal(t, "who funds Acme Corp", tasks[0].Query, "decomposition.json must record the task as planned, not as reformulated")
}

func TestWriteRun_MasksAPIKeyInRunConfig(t *testing.T) {
	tmp := t.TempDir()
	w := New(tmp)
	dir, err := w.WriteRun(sampleConfig(), sampleRun())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "run_config.json"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-ant-abcdef1234567890")
	assert.Contains(t, string(data), "sk-a***7890")
}

func TestWriteRun_EventsAreChronologicallyOrdered(t *testing.T) {
	tmp := t.TempDir()
	w := New(tmp)
	dir, err := w.WriteRun(sampleConfig(), sampleRun())
	require.NoError(t, err)

	f, err := os.Open(filepath.Join(dir, "events.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var times []time.Time
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e struct {
			At time.Time `json:"at"`
		}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		times = append(times, e.At)
	}
	require.NoError(t, scanner.Err())
	require.True(t, len(times) >= 3)
	for i := 1; i < len(times); i++ {
		assert.False(t, times[i].Before(times[i-1]), "events.jsonl must be in chronological order")
	}
}

func TestWriteRun_HypothesesFileWrittenWhenPresent(t *testing.T) {
	tmp := t.TempDir()
	w := New(tmp)
	run := sampleRun()
	run.Hypotheses = []model.Hypothesis{{PathwayName: "funding trail"}}

	dir, err := w.WriteRun(sampleConfig(), run)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "hypotheses.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "funding trail")
}
