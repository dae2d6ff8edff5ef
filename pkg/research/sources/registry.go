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
	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// defaultBaseURLs gives every HTTP-backed source a working endpoint out of
// the box; cfg.Databases[name].BaseURL overrides it per spec.md §6.
var defaultBaseURLs = map[string]string{
	"federal_jobs":         "https://data.usajobs.gov/api",
	"clearance_jobs":       "https://api.clearancejobs.example/v1",
	"congressional_record": "https://api.congress.gov/v3",
	"contract_awards":      "https://api.sam.gov/prod/opportunities/v2",
	"general_web":          "https://api.generalweb.example",
}

func baseURL(cfg *config.Config, name string) string {
	if db, ok := cfg.Databases[name]; ok && db != nil && db.BaseURL != "" {
		return db.BaseURL
	}
	return defaultBaseURLs[name]
}

// Build constructs a Registry from cfg, registering every enabled source
// with its resolved base URL. client should be resolved for
// config.RoleQueryGeneration - every source's query generator is an LLM
// call, distinct from the decomposition/relevance/synthesis roles (spec
// §4.4).
//
// Sources disabled via databases.<name>.enabled=false are skipped. A
// source that declares RequiresCredential and has a credential_env
// configured whose environment variable is empty is also skipped (spec
// §6 "missing credentials disable the affected integration"). A source
// with no credential_env configured at all is left enabled - that means
// this deployment isn't enforcing a credential for it, not that the
// credential is missing.
func Build(cfg *config.Config, client *llm.Client, store *prompt.Store) (*sourceapi.Registry, error) {
	reg := sourceapi.NewRegistry()

	entries := map[string]func() sourceapi.Source{
		"federal_jobs":         func() sourceapi.Source { return NewFederalJobsSource(client, store, baseURL(cfg, "federal_jobs")) },
		"clearance_jobs":       func() sourceapi.Source { return NewClearanceJobsSource(client, store, baseURL(cfg, "clearance_jobs")) },
		"congressional_record": func() sourceapi.Source { return NewCongressionalRecordSource(client, store, baseURL(cfg, "congressional_record")) },
		"contract_awards":      func() sourceapi.Source { return NewContractAwardsSource(client, store, baseURL(cfg, "contract_awards")) },
		"general_web":          func() sourceapi.Source { return NewGeneralWebSource(client, store, baseURL(cfg, "general_web")) },
		"local_documents": func() sourceapi.Source {
			root := ""
			if db, ok := cfg.Databases["local_documents"]; ok && db != nil {
				root = db.RootDir
			}
			return NewLocalDocumentsSource(client, store, root)
		},
	}

	// deterministic registration order; Metadatas() itself sorts by name,
	// so the source list the hypothesis generator reasons over is
	// reproducible.
	order := []string{"federal_jobs", "clearance_jobs", "congressional_record", "contract_awards", "general_web", "local_documents"}

	for _, name := range order {
		if !cfg.SourceEnabled(name) {
			continue
		}
		src := entries[name]()
		if db := cfg.Databases[name]; src.Metadata().RequiresCredential && db != nil && db.CredentialEnv != "" {
			if _, ok := db.Credential(); !ok {
				continue
			}
		}
		if err := reg.RegisterSource(src); err != nil {
			return nil, err
		}
	}

	return reg, nil
}
