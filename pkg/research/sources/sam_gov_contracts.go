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

// contractsParams mirrors a federal contract-award search (spec §4.4
// example: "a contracting search takes keywords + required posted-date
// range").
type contractsParams struct {
	Keywords     string `json:"keywords" jsonschema:"required,description=Search keywords"`
	PostedFrom   string `json:"posted_from" jsonschema:"required,description=ISO date, start of posting window"`
	PostedTo     string `json:"posted_to" jsonschema:"required,description=ISO date, end of posting window"`
	AgencyFilter string `json:"agency_filter,omitempty" jsonschema:"description=Restrict to a specific contracting agency"`
}

// NewContractAwardsSource models a federal contract award/solicitation
// database.
func NewContractAwardsSource(client *llm.Client, store *prompt.Store, baseURL string) sourceapi.Source {
	meta := sourceapi.Metadata{
		Name:               "contract_awards",
		Description:        "Federal contract solicitations and awards, searchable by keyword, agency, and posted-date window.",
		Categories:         []string{"government", "contracting", "procurement"},
		RequiresCredential: true,
		RateLimitHint:      "~10 req/min per API key",
	}
	s := newHTTPJSONSource(meta, []string{"contract", "contractor", "procurement", "solicitation", "award", "rfp"},
		&contractsParams{}, &queryGenDeps{client: client, store: store}, baseURL)
	s.buildURL = func(base string, params map[string]string, offset, limit int) string {
		v := urlEncode(params)
		v.Set("limit", fmt.Sprintf("%d", limit))
		v.Set("offset", fmt.Sprintf("%d", offset))
		return trimTrailingSlash(base) + "/opportunities/search?" + v.Encode()
	}
	s.parseHits = genericJSONParser("opportunitiesData")
	return s
}
