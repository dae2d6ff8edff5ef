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

// webSearchParams is the fallback general-web search, always relevant
// (spec E1: "1-2 sources selected (general web)" for trivial factual
// queries).
type webSearchParams struct {
	Query string `json:"query" jsonschema:"required,description=Web search query"`
}

// NewGeneralWebSource models a general-purpose web search API, the
// catch-all source every research question can fall back to.
func NewGeneralWebSource(client *llm.Client, store *prompt.Store, baseURL string) sourceapi.Source {
	meta := sourceapi.Metadata{
		Name:               "general_web",
		Description:        "General web search, useful for any question not covered by a specialized source.",
		Categories:         []string{"web", "general"},
		RequiresCredential: true,
		RateLimitHint:      "~1 req/s per API key",
	}
	s := newHTTPJSONSource(meta, nil, &webSearchParams{}, &queryGenDeps{client: client, store: store}, baseURL)
	s.buildURL = func(base string, params map[string]string, offset, limit int) string {
		v := urlEncode(params)
		v.Set("num", fmt.Sprintf("%d", limit))
		v.Set("start", fmt.Sprintf("%d", offset))
		return trimTrailingSlash(base) + "/search?" + v.Encode()
	}
	s.parseHits = genericJSONParser("items")
	return s
}
