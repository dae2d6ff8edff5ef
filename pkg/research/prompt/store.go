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

// Package prompt decouples prompt strings from code (spec §4.1). Templates
// are plain text/template files loaded once at startup and rendered per
// call; there is no autoescaping, since targets are LLM prompts, not HTML.
package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
)

//go:embed templates/*.tmpl
var defaultTemplates embed.FS

// ErrTemplateNotFound is raised at Store construction when a referenced
// template file does not exist.
type ErrTemplateNotFound struct {
	Path string
}

func (e *ErrTemplateNotFound) Error() string {
	return fmt.Sprintf("prompt: template not found: %s", e.Path)
}

// ErrUndefinedVariable is raised at render time when a template references a
// variable not present in the vars map.
type ErrUndefinedVariable struct {
	Path string
	Name string
}

func (e *ErrUndefinedVariable) Error() string {
	return fmt.Sprintf("prompt: template %s references undefined variable %q", e.Path, e.Name)
}

// Store holds every prompt template, parsed once at construction (fail-fast,
// spec §4.1 "Templates are validated at process start").
type Store struct {
	templates map[string]*template.Template
}

// NewStore parses every *.tmpl file under fsys (or the engine's built-in
// templates if fsys is nil) and returns a Store ready to render.
func NewStore(fsys fs.FS) (*Store, error) {
	if fsys == nil {
		sub, err := fs.Sub(defaultTemplates, "templates")
		if err != nil {
			return nil, fmt.Errorf("prompt: embedded templates unavailable: %w", err)
		}
		fsys = sub
	}

	s := &Store{templates: make(map[string]*template.Template)}

	err := fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".tmpl") {
			return nil
		}
		raw, err := fs.ReadFile(fsys, path)
		if err != nil {
			return fmt.Errorf("prompt: reading %s: %w", path, err)
		}
		tmpl, err := template.New(path).Option("missingkey=error").Parse(string(raw))
		if err != nil {
			return fmt.Errorf("prompt: parsing %s: %w", path, err)
		}
		s.templates[path] = tmpl
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Render executes the named template against vars. templatePath is relative
// to the template root, e.g. "decompose_task.tmpl".
func (s *Store) Render(templatePath string, vars map[string]any) (string, error) {
	tmpl, ok := s.templates[templatePath]
	if !ok {
		return "", &ErrTemplateNotFound{Path: templatePath}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		// text/template's missingkey=error wraps the variable name in its
		// own message; surface it as our typed error for callers that
		// branch on undefined-variable vs. other execution failures.
		if name, ok := missingKeyName(err); ok {
			return "", &ErrUndefinedVariable{Path: templatePath, Name: name}
		}
		return "", fmt.Errorf("prompt: rendering %s: %w", templatePath, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// Names returns every loaded template path, used by the static
// template-completeness check (spec §8 property 8).
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	return names
}

func missingKeyName(err error) (string, bool) {
	msg := err.Error()
	const marker = "map has no entry for key \""
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return "", false
	}
	rest := msg[idx+len(marker):]
	end := strings.Index(rest, "\"")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
