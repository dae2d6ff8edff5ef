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

package synthesis

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
)

func newTestClient(t *testing.T, body string) *llm.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	client, err := llm.New(config.ModelConfig{
		Provider: config.ProviderOllama,
		Model:    "llama3",
		BaseURL:  srv.URL,
	}, nil)
	require.NoError(t, err)
	return client
}

func TestSynthesizer_Synthesize_ReturnsMarkdownAndSidecar(t *testing.T) {
	body := `{"message":{"role":"assistant","content":"## Research Coverage\n...\n## Limitations\n..."},"prompt_eval_count":1,"eval_count":1}`
	client := newTestClient(t, body)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)

	s := New(client, store)
	entities := []model.Entity{{ID: "e1", CanonicalName: "Acme Corp", Type: "organization"}}
	claims := []model.Claim{{ID: "c1", SubjectEntityID: "e1", Predicate: "received", ObjectLiteral: "$4M", SourceCount: 1, PredicateTier: model.TierWeak}}
	coverage := model.CoverageMetadata{SourcesUsed: []string{"federal_jobs"}, QueriesExecuted: 3}

	report, sidecar, err := s.Synthesize(context.Background(), "who funds Acme Corp", entities, claims, coverage)
	require.NoError(t, err)
	assert.Contains(t, report, "Research Coverage")
	assert.Contains(t, report, "Limitations")
	assert.Equal(t, entities, sidecar.Entities)
	assert.Equal(t, claims, sidecar.Claims)
	assert.Equal(t, coverage, sidecar.Coverage)
}

func TestClaimsBlock_ResolvesEntityNamesAndHonorsLiteralObjects(t *testing.T) {
	entities := []model.Entity{{ID: "e1", CanonicalName: "Acme Corp"}}
	claims := []model.Claim{{SubjectEntityID: "e1", Predicate: "received", ObjectLiteral: "$4M", SourceCount: 2, PredicateTier: model.TierStrong}}
	block := claimsBlock(claims, entities)
	assert.Contains(t, block, "Acme Corp received $4M")
	assert.Contains(t, block, "source_count=2")
}

func TestCoverageBlock_ListsSkippedSourcesAndGaps(t *testing.T) {
	cov := model.CoverageMetadata{
		SourcesUsed:    []string{"federal_jobs"},
		SourcesSkipped: []model.SkippedSource{{Name: "clearance_jobs", Reason: "rate limited"}},
		KnownGaps:      []string{"no coverage of state-level filings"},
	}
	block := coverageBlock(cov)
	assert.Contains(t, block, "clearance_jobs: rate limited")
	assert.Contains(t, block, "no coverage of state-level filings")
}
