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

// Package entitystore is the opt-in, off-by-default cross-run entity dedup
// store (research.entity_store). Within one run, extract.MergeEntities
// already collapses entities by exact canonical-name match; this package
// extends that across runs by embedding each entity's name/type/aliases and
// looking up the nearest previously-seen entity by cosine similarity, using
// chromem-go as an embedded vector index so no external service is required.
package entitystore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"

	"github.com/kadirpekel/deepresearch/pkg/config"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

const collectionName = "entities"

// Store resolves entities against everything it has seen across prior
// runs. A nil *Store is valid and every method on it is a no-op, so callers
// don't need to branch on whether the store is enabled.
type Store struct {
	db        *chromem.DB
	col       *chromem.Collection
	persist   string
	threshold float64
}

// New builds a Store from cfg. It returns (nil, nil) when the store is
// disabled (the default) - callers pass the result straight into
// orchestrator.New without checking cfg.Research.EntityStore.Enabled
// themselves.
func New(cfg config.EntityStoreConfig) (*Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	apiKey := os.Getenv("OPENAI_API_KEY")
	embed := chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small)
	return newWithEmbedder(cfg, embed)
}

// newWithEmbedder builds a Store against an arbitrary embedding function,
// the same seam the vector-store provider this package is grounded on uses
// to substitute an identity function for pre-computed vectors - here it lets
// tests substitute a deterministic fake instead of calling OpenAI.
func newWithEmbedder(cfg config.EntityStoreConfig, embed chromem.EmbeddingFunc) (*Store, error) {
	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("entitystore: creating persist dir: %w", err)
		}
		dbPath := filepath.Join(cfg.PersistPath, "entities.gob")
		if existing, statErr := os.Stat(dbPath); statErr == nil && !existing.IsDir() {
			loaded, err := chromem.NewPersistentDB(dbPath, false)
			if err != nil {
				return nil, fmt.Errorf("entitystore: loading %s: %w", dbPath, err)
			}
			db = loaded
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("entitystore: opening collection: %w", err)
	}

	return &Store{db: db, col: col, persist: cfg.PersistPath, threshold: cfg.SimilarityThreshold}, nil
}

// Resolve returns the ID of the nearest entity already in the store whose
// similarity to e meets the configured threshold, so the caller can fold e
// into it instead of treating it as newly discovered. ok is false when the
// store is empty, disabled, or nothing crosses the threshold.
func (s *Store) Resolve(ctx context.Context, e model.Entity) (id string, ok bool, err error) {
	if s == nil {
		return "", false, nil
	}
	if s.col.Count() == 0 {
		return "", false, nil
	}

	results, err := s.col.Query(ctx, entityText(e), 1, nil, nil)
	if err != nil {
		return "", false, fmt.Errorf("entitystore: querying: %w", err)
	}
	if len(results) == 0 || results[0].Similarity < float32(s.threshold) {
		return "", false, nil
	}
	return results[0].ID, true, nil
}

// Remember upserts e under its own ID so future runs can resolve against
// it. Callers remember every entity a run produced, whether or not it was
// itself resolved against a prior one, so aliases accumulate over time.
func (s *Store) Remember(ctx context.Context, e model.Entity) error {
	if s == nil {
		return nil
	}
	doc := chromem.Document{
		ID:      e.ID,
		Content: entityText(e),
		Metadata: map[string]string{
			"canonical_name": e.CanonicalName,
			"type":           e.Type,
		},
	}
	if err := s.col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("entitystore: remembering %s: %w", e.CanonicalName, err)
	}
	return s.persistIfConfigured()
}

func (s *Store) persistIfConfigured() error {
	if s.persist == "" {
		return nil
	}
	dbPath := filepath.Join(s.persist, "entities.gob")
	//nolint:staticcheck // matching the vector-store export call this package is grounded on
	if err := s.db.Export(dbPath, false, ""); err != nil {
		return fmt.Errorf("entitystore: persisting: %w", err)
	}
	return nil
}

func entityText(e model.Entity) string {
	parts := append([]string{e.CanonicalName, e.Type}, e.Aliases...)
	return strings.Join(parts, " ")
}
