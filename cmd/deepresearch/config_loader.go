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

package main

import (
	"context"
	"fmt"

	"github.com/kadirpekel/deepresearch/pkg/config"
)

// loadConfig loads the engine config from path, or falls back to a
// zero-config default (spec.md's defaults throughout, with the API key
// for the default provider pulled straight from its environment variable
// since there is no file for ${VAR} expansion to run against).
func loadConfig(ctx context.Context, path string) (*config.Config, func() error, error) {
	if path != "" {
		cfg, loader, err := config.LoadConfigFile(ctx, path)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
		closeFn := func() error { return nil }
		if loader != nil {
			closeFn = loader.Close
		}
		return cfg, closeFn, nil
	}

	cfg := &config.Config{}
	cfg.SetDefaults()
	if cfg.LLM.DefaultModel.APIKey == "" {
		cfg.LLM.DefaultModel.APIKey = config.GetProviderAPIKey(string(cfg.LLM.DefaultModel.Provider))
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid zero-config: %w", err)
	}

	return cfg, func() error { return nil }, nil
}
