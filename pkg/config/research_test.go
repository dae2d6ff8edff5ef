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

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResearchConfig_SetDefaults(t *testing.T) {
	c := &ResearchConfig{}
	c.SetDefaults()

	assert.Equal(t, 5, c.MaxTasks)
	assert.Equal(t, 2, c.MaxRetriesPerTask)
	assert.Equal(t, 3, c.MinResultsPerTask)
	assert.Equal(t, 4, c.MaxConcurrentTasks)
	assert.Equal(t, 15, c.MaxTimeMinutes)
	assert.Equal(t, 5.0, c.MaxCostDollars)
	assert.Equal(t, HypothesisPlanningAid, c.HypothesisBranching.Mode)
	assert.Equal(t, 0.85, c.EntityStore.SimilarityThreshold)
	assert.False(t, c.EntityStore.Enabled)
}

func TestResearchConfig_SetDefaults_PreservesExplicitValues(t *testing.T) {
	c := &ResearchConfig{
		MaxTasks: 10,
		EntityStore: EntityStoreConfig{
			Enabled:             true,
			SimilarityThreshold: 0.5,
		},
	}
	c.SetDefaults()

	assert.Equal(t, 10, c.MaxTasks)
	assert.True(t, c.EntityStore.Enabled)
	assert.Equal(t, 0.5, c.EntityStore.SimilarityThreshold)
}

func TestEntityStoreConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		threshold float64
		wantErr   bool
	}{
		{name: "zero_is_valid", threshold: 0, wantErr: false},
		{name: "one_is_valid", threshold: 1, wantErr: false},
		{name: "mid_range_is_valid", threshold: 0.85, wantErr: false},
		{name: "negative_is_invalid", threshold: -0.1, wantErr: true},
		{name: "above_one_is_invalid", threshold: 1.1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := EntityStoreConfig{SimilarityThreshold: tt.threshold}
			err := c.Validate()
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestResearchConfig_Validate_PropagatesEntityStoreError(t *testing.T) {
	c := &ResearchConfig{
		MaxTasks:           1,
		MaxConcurrentTasks: 1,
		MaxTimeMinutes:     1,
		MaxCostDollars:     1,
		EntityStore:        EntityStoreConfig{SimilarityThreshold: 2},
	}
	c.HypothesisBranching.SetDefaults()

	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_store.similarity_threshold")
}
