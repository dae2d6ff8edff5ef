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

// congressionalRecordParams searches floor statements, hearings, and bill
// text by keyword and congress/session.
type congressionalRecordParams struct {
	Keywords string `json:"keywords" jsonschema:"required,description=Search keywords"`
	Congress int    `json:"congress,omitempty" jsonschema:"description=Congress number, e.g. 118"`
	Chamber  string `json:"chamber,omitempty" jsonschema:"enum=house|senate|both,default=both"`
}

// NewCongressionalRecordSource models a legislative record search (bills,
// hearings, floor statements).
func NewCongressionalRecordSource(client *llm.Client, store *prompt.Store, baseURL string) sourceapi.Source {
	meta := sourceapi.Metadata{
		Name:               "congressional_record",
		Description:        "U.S. Congress bills, hearing transcripts, and floor statements, searchable by keyword.",
		Categories:         []string{"government", "legislation", "oversight"},
		RequiresCredential: true,
		RateLimitHint:      "1000 req/hour",
	}
	s := newHTTPJSONSource(meta, []string{"congress", "bill", "hearing", "senator", "representative", "legislation", "oversight"},
		&congressionalRecordParams{}, &queryGenDeps{client: client, store: store}, baseURL)
	s.buildURL = func(base string, params map[string]string, offset, limit int) string {
		v := urlEncode(params)
		v.Set("limit", fmt.Sprintf("%d", limit))
		v.Set("offset", fmt.Sprintf("%d", offset))
		return trimTrailingSlash(base) + "/records?" + v.Encode()
	}
	s.parseHits = genericJSONParser("results")
	return s
}
