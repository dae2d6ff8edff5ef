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

package relevance

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

func candidates(n int) []model.RawResult {
	out := make([]model.RawResult, n)
	for i := range out {
		out[i] = model.RawResult{URL: "https://example/" + string(rune('a'+i))}
	}
	return out
}

func TestFilter_Apply_EmptyBatch(t *testing.T) {
	f := New(nil, nil)
	eval, kept, err := f.Apply(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, kept)
	assert.Equal(t, model.RelevanceEvaluation{}, eval)
}

func TestFilter_Apply_KeepsOnlyRelevantIndicesFromMostlyJunkBatch(t *testing.T) {
	// Mostly off-topic batch (5 candidates), only index 2 relevant:
	// the filter must keep that one item, not discard the whole batch.
	body := `{"message":{"role":"assistant","content":"{\"relevant_indices\":[2],\"scores\":[1,0,9,1,2],\"off_topic_reason\":\"batch mostly unrelated\",\"reformulation_hint\":\"narrow to the named program\"}"},"prompt_eval_count":5,"eval_count":5}`
	client := newTestClient(t, body)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)

	f := New(client, store)
	eval, kept, err := f.Apply(context.Background(), "question", candidates(5))
	require.NoError(t, err)
	require.Len(t, kept, 1)
	assert.Equal(t, candidates(5)[2].URL, kept[0].URL)
	assert.Len(t, eval.Scores, 5, "full score distribution is retained for diagnostics even though only 1 item is kept")
	assert.NotEmpty(t, eval.OffTopicReason)
}

func TestFilter_Apply_DropsOutOfRangeIndices(t *testing.T) {
	body := `{"message":{"role":"assistant","content":"{\"relevant_indices\":[0,99],\"scores\":[8,1]}"},"prompt_eval_count":1,"eval_count":1}`
	client := newTestClient(t, body)
	store, err := prompt.NewStore(nil)
	require.NoError(t, err)

	f := New(client, store)
	_, kept, err := f.Apply(context.Background(), "q", candidates(2))
	require.NoError(t, err)
	require.Len(t, kept, 1, "index 99 is out of range for a 2-item batch and must be dropped, not cause a panic")
}
