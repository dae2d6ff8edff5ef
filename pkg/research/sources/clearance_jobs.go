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

// clearanceJobsParams mirrors a cleared defense-contractor job board's
// search form (spec §4.4: "a clearance jobs search takes keywords,
// clearance levels, date window").
type clearanceJobsParams struct {
	Keywords        string `json:"keywords" jsonschema:"required,description=Space-separated search keywords"`
	ClearanceLevel  string `json:"clearance_level,omitempty" jsonschema:"enum=secret|top_secret|ts_sci|none,description=Minimum clearance level required"`
	PostedDays      int    `json:"posted_days,omitempty" jsonschema:"description=Only jobs posted within this many days,default=30"`
}

// NewClearanceJobsSource models a cleared-defense-contractor job board.
func NewClearanceJobsSource(client *llm.Client, store *prompt.Store, baseURL string) sourceapi.Source {
	meta := sourceapi.Metadata{
		Name:               "clearance_jobs",
		Description:        "Job postings requiring U.S. government security clearance, from defense contractors.",
		Categories:         []string{"jobs", "defense", "clearance", "careers"},
		RequiresCredential: true,
		RateLimitHint:      "~2 req/s per API key",
	}
	s := newHTTPJSONSource(meta, []string{"clearance", "classified", "defense", "contractor", "secret", "ts/sci"},
		&clearanceJobsParams{}, &queryGenDeps{client: client, store: store}, baseURL)
	s.buildURL = func(base string, params map[string]string, offset, limit int) string {
		v := urlEncode(params)
		v.Set("limit", fmt.Sprintf("%d", limit))
		v.Set("offset", fmt.Sprintf("%d", offset))
		return trimTrailingSlash(base) + "/jobs/search?" + v.Encode()
	}
	s.parseHits = genericJSONParser("results")
	return s
}
