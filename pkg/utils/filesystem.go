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

// Package utils provides small filesystem and token-counting helpers shared
// across the research engine.
package utils

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir (and any parents) if it does not already exist and
// returns the cleaned path. Used by the run-directory writer and by any
// component that needs a durable spot on disk (API request log, etc.).
func EnsureDir(dir string) (string, error) {
	if dir == "" {
		dir = "."
	}
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, 0755); err != nil {
		return "", fmt.Errorf("failed to create directory '%s': %w", clean, err)
	}
	return clean, nil
}
