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

package entitystore

import (
	"context"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

// fakeEmbed is a deterministic bag-of-words embedding: no network call, no
// API key, but texts sharing more words land closer in cosine space - enough
// to exercise Resolve's threshold logic without calling OpenAI.
func fakeEmbed(ctx context.Context, text string) ([]float32, error) {
	const dims = 16
	vec := make([]float32, dims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		vec[int(h.Sum32()%dims)]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec, nil
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}

func newTestStore(t *testing.T, threshold float64) *Store {
	t.Helper()
	s, err := newWithEmbedder(config.EntityStoreConfig{Enabled: true, SimilarityThreshold: threshold}, fakeEmbed)
	require.NoError(t, err)
	return s
}

func TestNew_DisabledReturnsNilStore(t *testing.T) {
	s, err := New(config.EntityStoreConfig{Enabled: false})
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestNilStore_ResolveAndRememberAreNoops(t *testing.T) {
	var s *Store

	id, ok, err := s.Resolve(context.Background(), model.Entity{ID: "e1", CanonicalName: "Acme Corp"})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)

	require.NoError(t, s.Remember(context.Background(), model.Entity{ID: "e1", CanonicalName: "Acme Corp"}))
}

func TestStore_Resolve_EmptyStoreReturnsNoMatch(t *testing.T) {
	s := newTestStore(t, 0.5)

	_, ok, err := s.Resolve(context.Background(), model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: "organization"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_RememberThenResolve_MatchesNearDuplicateAcrossRuns(t *testing.T) {
	s := newTestStore(t, 0.5)
	ctx := context.Background()

	original := model.Entity{ID: "run1-e1", CanonicalName: "Acme Corp", Type: "organization", Aliases: []string{"Acme"}}
	require.NoError(t, s.Remember(ctx, original))

	nextRun := model.Entity{ID: "run2-e7", CanonicalName: "Acme Corp", Type: "organization", Aliases: []string{"Acme Inc"}}
	matchedID, ok, err := s.Resolve(ctx, nextRun)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, original.ID, matchedID)
}

func TestStore_Resolve_DoesNotMatchUnrelatedEntity(t *testing.T) {
	s := newTestStore(t, 0.9)
	ctx := context.Background()

	require.NoError(t, s.Remember(ctx, model.Entity{ID: "run1-e1", CanonicalName: "Acme Corp", Type: "organization"}))

	_, ok, err := s.Resolve(ctx, model.Entity{ID: "run2-e3", CanonicalName: "Jane Smith", Type: "person"})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_Remember_PersistsWhenPathConfigured(t *testing.T) {
	dir := t.TempDir()
	s, err := newWithEmbedder(config.EntityStoreConfig{
		Enabled:     true,
		PersistPath: dir,
	}, fakeEmbed)
	require.NoError(t, err)

	require.NoError(t, s.Remember(context.Background(), model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: "organization"}))

	_, err = os.Stat(filepath.Join(dir, "entities.gob"))
	require.NoError(t, err)
}

func TestNew_LoadsExistingPersistedDB(t *testing.T) {
	dir := t.TempDir()

	first, err := newWithEmbedder(config.EntityStoreConfig{Enabled: true, PersistPath: dir, SimilarityThreshold: 0.5}, fakeEmbed)
	require.NoError(t, err)
	require.NoError(t, first.Remember(context.Background(), model.Entity{ID: "e1", CanonicalName: "Acme Corp", Type: "organization"}))

	second, err := newWithEmbedder(config.EntityStoreConfig{Enabled: true, PersistPath: dir, SimilarityThreshold: 0.5}, fakeEmbed)
	require.NoError(t, err)

	_, ok, err := second.Resolve(context.Background(), model.Entity{ID: "e2", CanonicalName: "Acme Corp", Type: "organization"})
	require.NoError(t, err)
	assert.True(t, ok)
}
