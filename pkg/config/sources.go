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

package config

import "os"

// SourceConfig configures a single source integration
// (spec.md §6 "databases.<source>.*").
type SourceConfig struct {
	// Enabled toggles the source. Defaults to true (see Config.SourceEnabled).
	Enabled *bool `yaml:"enabled,omitempty"`

	// CredentialEnv names the environment variable holding this source's
	// API key/token, read once at process start (§6 "Integration credentials").
	CredentialEnv string `yaml:"credential_env,omitempty"`

	// BaseURL overrides the source's built-in default endpoint. Mainly
	// useful for pointing a source at a test double or a mirror.
	BaseURL string `yaml:"base_url,omitempty"`

	// RootDir is used only by the local_documents source: the directory
	// walked for PDF/DOCX/XLSX files.
	RootDir string `yaml:"root_dir,omitempty"`
}

func (c *SourceConfig) SetDefaults() {
	if c.Enabled == nil {
		t := true
		c.Enabled = &t
	}
}

func (c *SourceConfig) Validate() error {
	return nil
}

// Credential resolves the configured credential, if any. Returns ("", false)
// when CredentialEnv is unset or the environment variable is empty.
// sources.Build calls it only when CredentialEnv is set, and on false skips
// registering the source instead of failing.
func (c *SourceConfig) Credential() (string, bool) {
	if c == nil || c.CredentialEnv == "" {
		return "", false
	}
	v := os.Getenv(c.CredentialEnv)
	if v == "" {
		return "", false
	}
	return v, true
}
