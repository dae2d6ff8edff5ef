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
	"fmt"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// federalJobsParams is the per-source schema reflected into the
// query-generation prompt (spec §4.4 example: "a job search takes
// keywords, clearance levels, date window").
type federalJobsParams struct {
	Keywords     string `json:"keywords" jsonschema:"required,description=Space-separated search keywords"`
	LocationName string `json:"location_name,omitempty" jsonschema:"description=City and state, e.g. Washington, DC"`
	PostedDays   int    `json:"posted_days,omitempty" jsonschema:"description=Only jobs posted within this many days,default=60"`
}

// NewFederalJobsSource models a federal civilian job board (e.g. USAJOBS).
func NewFederalJobsSource(client *llm.Client, store *prompt.Store, baseURL string) sourceapi.Source {
	meta := sourceapi.Metadata{
		Name:               "federal_jobs",
		Description:        "U.S. federal civilian job postings, searchable by keyword, location, and agency.",
		Categories:         []string{"jobs", "government", "careers"},
		RequiresCredential: true,
		RateLimitHint:      "~5 req/s per API key",
	}
	s := newHTTPJSONSource(meta, []string{"job", "career", "position", "hiring", "employment", "federal"},
		&federalJobsParams{}, &queryGenDeps{client: client, store: store}, baseURL)
	s.buildURL = func(base string, params map[string]string, offset, limit int) string {
		v := urlEncode(params)
		v.Set("ResultsPerPage", fmt.Sprintf("%d", limit))
		v.Set("Page", fmt.Sprintf("%d", offset/max(limit, 1)+1))
		return trimTrailingSlash(base) + "/search?" + v.Encode()
	}
	s.parseHits = genericJSONParser("SearchResult")
	return s
}
