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

// Package sourceapi defines the uniform four-operation contract every data
// source integration implements (spec §4.4), and the registry that holds
// them. Sources are modeled as instances of one interface rather than an
// inheritance hierarchy (spec §9 "Per-source query shape").
package sourceapi

import (
	"context"
	"fmt"
	"sort"

	"github.com/kadirpekel/deepresearch/pkg/registry"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
)

// Metadata describes a source for LLM-driven selection (spec §3). It is
// stable for the life of the process.
type Metadata struct {
	Name              string
	Description       string
	Categories        []string
	RequiresCredential bool
	RateLimitHint     string
}

// ErrorKind classifies an IntegrationError (spec §7).
type ErrorKind string

const (
	KindTransport      ErrorKind = "transport"
	KindRateLimit      ErrorKind = "rate_limit"
	KindAuth           ErrorKind = "auth"
	KindSchemaMismatch ErrorKind = "schema_mismatch"
	KindEmpty          ErrorKind = "empty"
)

// IntegrationError wraps every per-source failure (spec §4.4, §7). Only
// KindTransport is retryable, and only at the call site inside Execute.
type IntegrationError struct {
	Source    string
	Kind      ErrorKind
	Retryable bool
	Err       error
}

func (e *IntegrationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}
func (e *IntegrationError) Unwrap() error { return e.Err }

// Source is the contract every integration implements (spec §4.4 table).
type Source interface {
	// Metadata never fails.
	Metadata() Metadata

	// IsRelevant is a cheap test (keyword or tiny LLM prompt) run before
	// spending a full query-generation call. Returns false on uncertainty.
	IsRelevant(ctx context.Context, question string) bool

	// GenerateQuery produces a query plan via an LLM call constrained by
	// this source's parameter schema, or nil if the source cannot help.
	GenerateQuery(ctx context.Context, question string) (*model.QueryPlan, error)

	// Execute runs the real I/O and returns normalized results. limit
	// bounds result count; the integration dedups against its own paging
	// cursor internally.
	Execute(ctx context.Context, plan *model.QueryPlan, limit int) ([]model.RawResult, error)
}

// Registry holds every registered Source, immutable after startup (spec §5).
type Registry struct {
	base *registry.BaseRegistry[Source]
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{base: registry.NewBaseRegistry[Source]()}
}

// RegisterSource adds a source under its own metadata name.
func (r *Registry) RegisterSource(s Source) error {
	name := s.Metadata().Name
	if name == "" {
		return fmt.Errorf("sourceapi: source has empty name")
	}
	return r.base.Register(name, s)
}

// Get returns a registered source by name.
func (r *Registry) Get(name string) (Source, bool) {
	return r.base.Get(name)
}

// List returns every registered source.
func (r *Registry) List() []Source {
	return r.base.List()
}

// Metadatas returns every registered source's metadata, sorted by name, for
// the hypothesis generator to reason over source selection.
func (r *Registry) Metadatas() []Metadata {
	sources := r.base.List()
	out := make([]Metadata, 0, len(sources))
	for _, s := range sources {
		out = append(out, s.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
