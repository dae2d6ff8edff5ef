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
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

func TestLocalDocumentsSource_IsRelevant(t *testing.T) {
	s := NewLocalDocumentsSource(nil, nil, "/some/dir")
	assert.True(t, s.IsRelevant(context.Background(), "anything at all"))

	empty := NewLocalDocumentsSource(nil, nil, "")
	assert.False(t, empty.IsRelevant(context.Background(), "anything"))
}

func TestLocalDocumentsSource_Execute_SkipsUnsupportedExtensions(t *testing.T) {
	// docx/pdf/xlsx binary formats aren't constructible without their
	// writer libraries, so this exercises the walk path against a file
	// the walk skips (unsupported extension is skipped, not an error)
	// and confirms no match yields an empty, non-error result.
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("irrelevant plain text file"), 0o644))

	s := NewLocalDocumentsSource(nil, nil, dir).(*localDocumentsSource)
	results, err := s.Execute(context.Background(), &model.QueryPlan{Params: map[string]string{"keywords": "contract"}}, 10)
	require.NoError(t, err)
	assert.Empty(t, results, "a .txt file is not in the supported extension set, so it contributes no hits")
}

func TestLocalDocumentsSource_Execute_NoPlan(t *testing.T) {
	s := NewLocalDocumentsSource(nil, nil, t.TempDir())
	_, err := s.Execute(context.Background(), nil, 10)
	require.Error(t, err)
}

func TestLocalDocumentsSource_Execute_EmptyKeywords(t *testing.T) {
	s := NewLocalDocumentsSource(nil, nil, t.TempDir())
	_, err := s.Execute(context.Background(), &model.QueryPlan{Params: map[string]string{}}, 10)
	require.Error(t, err)
}

func TestMatchSnippet(t *testing.T) {
	content := "the quick brown fox jumps over the lazy dog near the riverbank at dawn"
	snippet, ok := matchSnippet(content, []string{"fox"})
	require.True(t, ok)
	assert.Contains(t, snippet, "fox")

	_, ok = matchSnippet(content, []string{"zebra"})
	assert.False(t, ok)
}
