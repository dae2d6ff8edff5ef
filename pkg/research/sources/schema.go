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
	"github.com/kadirpekel/deepresearch/pkg/research/schemagen"
)

// jsonSchemaOf reflects a Go struct (tagged with `jsonschema:"..."`) into the
// JSON schema text passed to llm.Client.Structured, one per source's
// parameter space (spec §4.4 "a per-source JSON schema describing the
// source's parameter space").
func jsonSchemaOf(v any) (string, error) {
	return schemagen.Of(v)
}
