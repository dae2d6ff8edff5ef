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

package sources

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

func TestHTTPJSONSource_IsRelevant_NoKeywordsAlwaysTrue(t *testing.T) {
	s := NewGeneralWebSource(nil, nil, "http://example.invalid")
	assert.True(t, s.IsRelevant(context.Background(), "literally anything"))
}

func TestHTTPJSONSource_IsRelevant_KeywordGate(t *testing.T) {
	s := NewFederalJobsSource(nil, nil, "http://example.invalid")
	assert.True(t, s.IsRelevant(context.Background(), "looking for a federal hiring announcement"))
	assert.False(t, s.IsRelevant(context.Background(), "what's the capital of France"))
}

func TestHTTPJSONSource_Execute_ParsesAndNormalizesHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"SearchResult":[{"PositionURI":"https://jobs.example.gov/123","PositionTitle":"Analyst","OrganizationName":"example.gov"}]}`))
	}))
	defer srv.Close()

	s := NewFederalJobsSource(nil, nil, srv.URL)
	plan := &model.QueryPlan{SourceName: "federal_jobs", Params: map[string]string{"Keywords": "analyst"}}
	results, err := s.Execute(context.Background(), plan, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "https://jobs.example.gov/123", results[0].URL)
	assert.Equal(t, "Analyst", results[0].Title)
	assert.Equal(t, "federal_jobs", results[0].SourceName)
}

func TestHTTPJSONSource_Execute_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewFederalJobsSource(nil, nil, srv.URL)
	_, err := s.Execute(context.Background(), &model.QueryPlan{Params: map[string]string{}}, 10)
	require.Error(t, err)
	var ierr *sourceapi.IntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, sourceapi.KindRateLimit, ierr.Kind)
	assert.False(t, ierr.Retryable)
}

func TestHTTPJSONSource_Execute_EmptyResultsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"SearchResult":[]}`))
	}))
	defer srv.Close()

	s := NewFederalJobsSource(nil, nil, srv.URL)
	results, err := s.Execute(context.Background(), &model.QueryPlan{Params: map[string]string{}}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestHTTPJSONSource_Execute_NilPlan(t *testing.T) {
	s := NewFederalJobsSource(nil, nil, "http://example.invalid")
	_, err := s.Execute(context.Background(), nil, 10)
	require.Error(t, err)
	var ierr *sourceapi.IntegrationError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, sourceapi.KindEmpty, ierr.Kind)
}
