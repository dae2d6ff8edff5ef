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
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/config"
)

type roleResponse struct {
	marker string
	body   string
}

func newDispatchServer(t *testing.T, responses []roleResponse) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		body := string(raw)
		for _, rr := range responses {
			if strings.Contains(body, rr.marker) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(rr.body))
				return
			}
		}
		t.Fatalf("dispatch server: no matching response for request body: %s", body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

const decompositionOneTask = `{"message":{"role":"assistant","content":"{\"tasks\":[{\"query\":\"task one\",\"rationale\":\"r1\",\"priority\":1}]}"},"prompt_eval_count":1,"eval_count":1}`
const relevanceAllRelevant = `{"message":{"role":"assistant","content":"{\"relevant_indices\":[],\"scores\":[]}"},"prompt_eval_count":1,"eval_count":1}`
const extractionEmpty = `{"message":{"role":"assistant","content":"{\"entities\":[],\"claims\":[]}"},"prompt_eval_count":1,"eval_count":1}`
const synthesisReport = `{"message":{"role":"assistant","content":"## Research Coverage\nno sources returned results.\n"},"prompt_eval_count":1,"eval_count":1}`

func testEngine(t *testing.T, baseURL string) *engine {
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
	cfg.Research.MinResultsPerTask = 0
	cfg.Research.MaxRetriesPerTask = 1
	cfg.OutputDir = filepath.Join(t.TempDir(), "runs")
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")

	e, err := newEngine(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestHandleRun_RejectsMissingQuestion(t *testing.T) {
	e := testEngine(t, "http://unused.invalid")

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader([]byte(`{}`)))
	w := httptest.NewRecorder()

	handleRun(e)(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleRun_ExecutesResearchAndWritesRunDir(t *testing.T) {
	srv := newDispatchServer(t, []roleResponse{
		{marker: "decomposition", body: decompositionOneTask},
		{marker: "relevance_evaluation", body: relevanceAllRelevant},
		{marker: "entity_claim_extraction", body: extractionEmpty},
		{marker: "Write the final research report", body: synthesisReport},
	})
	e := testEngine(t, srv.URL)

	payload, err := json.Marshal(runRequest{Question: "who funds Acme Corp?"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/runs", bytes.NewReader(payload))
	w := httptest.NewRecorder()

	handleRun(e)(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp runResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "finalized", resp.Status)
	assert.NotEmpty(t, resp.RunDir)
	assert.Equal(t, 1, resp.TaskCount)
}
