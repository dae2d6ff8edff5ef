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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kadirpekel/deepresearch/pkg/httpclient"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// httpJSONSource is the shared shape of every paginated JSON-API-backed
// source (federal job boards, contract databases, records search): GET a
// URL built from the generated query plan, decode a JSON array of hits,
// normalize each into a model.RawResult. Concrete sources configure it
// rather than reimplementing Execute (spec §9 "instances of a single
// record type").
type httpJSONSource struct {
	meta        sourceapi.Metadata
	keywords    []string
	queryParams any // pointer to a struct describing this source's schema
	deps        *queryGenDeps

	baseURL string
	client  *httpclient.Client
	cursor  int // per-instance paging cursor, never shared across sources

	// buildURL turns generated params into the request URL.
	buildURL func(baseURL string, params map[string]string, offset, limit int) string
	// parseHits turns the decoded JSON body into normalized results.
	parseHits func(body []byte) ([]hit, error)
}

type hit struct {
	URL     string
	Title   string
	Snippet string
	Domain  string
}

func newHTTPJSONSource(meta sourceapi.Metadata, keywords []string, queryParams any, deps *queryGenDeps, baseURL string) *httpJSONSource {
	return &httpJSONSource{
		meta:        meta,
		keywords:    keywords,
		queryParams: queryParams,
		deps:        deps,
		baseURL:     baseURL,
		client:      httpclient.New(httpclient.WithMaxRetries(0)),
	}
}

func (s *httpJSONSource) Metadata() sourceapi.Metadata { return s.meta }

func (s *httpJSONSource) IsRelevant(ctx context.Context, question string) bool {
	if len(s.keywords) == 0 {
		return true // no keyword gate configured: always a candidate (e.g. general web fallback)
	}
	return keywordRelevant(question, s.keywords)
}

func (s *httpJSONSource) GenerateQuery(ctx context.Context, question string) (*model.QueryPlan, error) {
	return s.deps.generateQuery(ctx, s.meta.Name, s.meta.Description, question, s.queryParams)
}

func (s *httpJSONSource) Execute(ctx context.Context, plan *model.QueryPlan, limit int) ([]model.RawResult, error) {
	if plan == nil {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindEmpty, Err: fmt.Errorf("no query plan")}
	}

	reqURL := s.buildURL(s.baseURL, plan.Params, s.cursor, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindTransport, Retryable: true, Err: err}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		if re, ok := err.(*httpclient.RetryableError); ok && re.StatusCode == http.StatusTooManyRequests {
			return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindRateLimit, Retryable: false, Err: err}
		}
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindTransport, Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindRateLimit, Retryable: false, Err: fmt.Errorf("http 429")}
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindAuth, Retryable: false, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}
	if resp.StatusCode >= 400 {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindTransport, Retryable: true, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindTransport, Retryable: true, Err: err}
	}

	hits, err := s.parseHits(body)
	if err != nil {
		return nil, &sourceapi.IntegrationError{Source: s.meta.Name, Kind: sourceapi.KindSchemaMismatch, Retryable: false, Err: err}
	}
	if len(hits) == 0 {
		return nil, nil // spec §4.13: zero results is a coverage gap, not an error
	}

	s.cursor += len(hits)

	out := make([]model.RawResult, 0, len(hits))
	now := time.Now()
	for _, h := range hits {
		if h.URL == "" {
			continue
		}
		domain := h.Domain
		if domain == "" {
			if u, perr := url.Parse(h.URL); perr == nil {
				domain = u.Hostname()
			}
		}
		out = append(out, model.RawResult{
			URL:         h.URL,
			Title:       h.Title,
			SnippetText: h.Snippet,
			SourceName:  s.meta.Name,
			Domain:      domain,
			FetchedAt:   now,
		})
	}
	return out, nil
}

func genericJSONParser(arrayPath string) func([]byte) ([]hit, error) {
	return func(body []byte) ([]hit, error) {
		var raw map[string]json.RawMessage
		if err := json.Unmarshal(body, &raw); err != nil {
			var arr []map[string]any
			if err2 := json.Unmarshal(body, &arr); err2 != nil {
				return nil, err
			}
			return mapsToHits(arr), nil
		}
		items, ok := raw[arrayPath]
		if !ok {
			return nil, nil
		}
		var arr []map[string]any
		if err := json.Unmarshal(items, &arr); err != nil {
			return nil, err
		}
		return mapsToHits(arr), nil
	}
}

func mapsToHits(arr []map[string]any) []hit {
	out := make([]hit, 0, len(arr))
	for _, m := range arr {
		out = append(out, hit{
			URL:     str(m, "url", "link", "PositionURI"),
			Title:   str(m, "title", "name", "PositionTitle"),
			Snippet: str(m, "snippet", "description", "summary", "QualificationSummary"),
			Domain:  str(m, "domain", "agency", "OrganizationName"),
		})
	}
	return out
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func urlEncode(params map[string]string) url.Values {
	v := url.Values{}
	for k, val := range params {
		v.Set(k, val)
	}
	return v
}

func trimTrailingSlash(s string) string {
	return strings.TrimRight(s, "/")
}
