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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"

	"github.com/kadirpekel/deepresearch/pkg/research/llm"
	"github.com/kadirpekel/deepresearch/pkg/research/model"
	"github.com/kadirpekel/deepresearch/pkg/research/prompt"
	"github.com/kadirpekel/deepresearch/pkg/research/sourceapi"
)

// localDocumentsParams is the schema for the local corpus source: unlike
// the HTTP sources it takes free-text search terms rather than
// API-specific filters.
type localDocumentsParams struct {
	Keywords string `json:"keywords" jsonschema:"required,description=Space-separated terms to search for within local document text"`
}

// localDocumentsSource answers from a directory of PDF/DOCX/XLSX files
// supplied by the operator (e.g. case files, leaked document dumps,
// court exhibits) rather than a remote API (spec §4.4's source examples
// include "a local document corpus"). It implements sourceapi.Source
// directly since its execution shape (filesystem walk + text search) has
// nothing in common with the paginated-HTTP-API sources.
type localDocumentsSource struct {
	rootDir string
	deps    *queryGenDeps
}

// NewLocalDocumentsSource scans rootDir (recursively) for .pdf, .docx,
// and .xlsx files at query time. It never caches extracted text across
// calls: corpora used by this kind of research task are typically small
// (tens to low hundreds of files).
func NewLocalDocumentsSource(client *llm.Client, store *prompt.Store, rootDir string) sourceapi.Source {
	return &localDocumentsSource{
		rootDir: rootDir,
		deps:    &queryGenDeps{client: client, store: store},
	}
}

func (s *localDocumentsSource) Metadata() sourceapi.Metadata {
	return sourceapi.Metadata{
		Name:               "local_documents",
		Description:        "Locally supplied corpus of PDF, Word, and Excel documents, searched by keyword.",
		Categories:         []string{"documents", "local", "files"},
		RequiresCredential: false,
		RateLimitHint:      "none (local filesystem)",
	}
}

// IsRelevant is always true when a corpus is configured: the operator
// chose to supply these documents, so any question may be answerable
// from them.
func (s *localDocumentsSource) IsRelevant(ctx context.Context, question string) bool {
	return s.rootDir != ""
}

func (s *localDocumentsSource) GenerateQuery(ctx context.Context, question string) (*model.QueryPlan, error) {
	return s.deps.generateQuery(ctx, "local_documents", "Locally supplied document corpus", question, &localDocumentsParams{})
}

func (s *localDocumentsSource) Execute(ctx context.Context, plan *model.QueryPlan, limit int) ([]model.RawResult, error) {
	if plan == nil {
		return nil, &sourceapi.IntegrationError{Source: "local_documents", Kind: sourceapi.KindEmpty, Err: fmt.Errorf("no query plan")}
	}
	terms := strings.Fields(strings.ToLower(plan.Params["keywords"]))
	if len(terms) == 0 {
		return nil, &sourceapi.IntegrationError{Source: "local_documents", Kind: sourceapi.KindEmpty, Err: fmt.Errorf("empty keywords")}
	}

	var paths []string
	err := filepath.WalkDir(s.rootDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".pdf", ".docx", ".xlsx":
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, &sourceapi.IntegrationError{Source: "local_documents", Kind: sourceapi.KindTransport, Retryable: true, Err: err}
	}

	out := make([]model.RawResult, 0, limit)
	now := time.Now()
	for _, path := range paths {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if len(out) >= limit {
			break
		}
		content, err := extractText(path)
		if err != nil || content == "" {
			continue
		}
		snippet, ok := matchSnippet(content, terms)
		if !ok {
			continue
		}
		out = append(out, model.RawResult{
			URL:         "file://" + path,
			Title:       filepath.Base(path),
			SnippetText: snippet,
			SourceName:  "local_documents",
			Domain:      "local",
			FetchedAt:   now,
		})
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// extractText dispatches to the format-specific extractor by extension.
func extractText(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return extractPDFText(path)
	case ".docx":
		return extractDocxText(path)
	case ".xlsx":
		return extractXLSXText(path)
	default:
		return "", fmt.Errorf("unsupported extension: %s", filepath.Ext(path))
	}
}

func extractPDFText(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return "", err
	}

	reader, err := pdf.NewReader(file, info.Size())
	if err != nil {
		return "", err
	}

	var parts []string
	for pageNum := 1; pageNum <= reader.NumPage(); pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		if strings.TrimSpace(text) != "" {
			parts = append(parts, text)
		}
	}
	return strings.Join(parts, "\n"), nil
}

func extractDocxText(path string) (string, error) {
	doc, err := docx.ReadDocxFile(path)
	if err != nil {
		return "", err
	}
	defer doc.Close()
	return doc.Editable().GetContent(), nil
}

func extractXLSXText(path string) (string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	var parts []string
	for _, sheet := range f.GetSheetList() {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		for _, row := range rows {
			for _, cell := range row {
				if c := strings.TrimSpace(cell); c != "" {
					parts = append(parts, c)
				}
			}
		}
	}
	return strings.Join(parts, "\n"), nil
}

// matchSnippet returns a window of text around the first matched term,
// or ok=false if none of the terms appear.
func matchSnippet(content string, terms []string) (string, bool) {
	lower := strings.ToLower(content)
	idx := -1
	for _, t := range terms {
		if i := strings.Index(lower, t); i >= 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}
	start := idx - 150
	if start < 0 {
		start = 0
	}
	end := idx + 150
	if end > len(content) {
		end = len(content)
	}
	return strings.TrimSpace(content[start:end]), true
}
