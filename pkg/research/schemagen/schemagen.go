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

// Package schemagen reflects Go structs into the JSON schema text passed to
// llm.Client.Structured. Every component that needs JSON-schema-constrained
// structured output (source query generation, decomposition, hypothesis
// generation, relevance filtering, entity/claim extraction, synthesis)
// shares this one reflector rather than hand-writing schema literals.
package schemagen

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// Of reflects v (a pointer to a struct tagged with `jsonschema:"..."`) into
// JSON schema text.
func Of(v any) (string, error) {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
