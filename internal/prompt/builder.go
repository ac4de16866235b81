/*
Copyright 2026 Foundation 29

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package prompt assembles reusable prompt templates in two phases: named
// sections are substituted into a meta-template once, leaving exactly one
// placeholder for the per-item payload; the finished template then renders
// one prompt per item with no further parsing cost.
package prompt

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// UnresolvedSectionError reports meta-template placeholders that have no
// loaded section and were not designated as the payload hole.
type UnresolvedSectionError struct {
	Sections []string
}

func (e *UnresolvedSectionError) Error() string {
	return fmt.Sprintf("meta-template references unloaded sections: %s", strings.Join(e.Sections, ", "))
}

// AmbiguousPlaceholderError reports that more than one placeholder would
// remain after substitution and no payload placeholder was designated.
type AmbiguousPlaceholderError struct {
	Placeholders []string
}

func (e *AmbiguousPlaceholderError) Error() string {
	return fmt.Sprintf("more than one placeholder remains after substitution: %s", strings.Join(e.Placeholders, ", "))
}

// ErrNoPayloadPlaceholder is returned when substitution leaves no hole for
// the per-item payload.
var ErrNoPayloadPlaceholder = fmt.Errorf("no placeholder remains for the payload")

// ErrNotBuilt is returned by ToPrompt before a successful Build.
var ErrNotBuilt = fmt.Errorf("template not built")

// SectionStore loads section text from an external store by key.
// Implemented by promptstore.Store.
type SectionStore interface {
	Get(ctx context.Context, key string) (string, error)
}

// TransformFunc renders tabular rows into section text.
type TransformFunc func(rows [][]string) string

// Template is the built, immutable form a Builder produces. It is safe for
// concurrent use; rendering is string concatenation only.
type Template struct {
	// segments alternate literal text and payload holes: every index in
	// holes marks a segment rendered as the payload.
	segments []string
	holes    map[int]bool
	payload  string
}

// ToPrompt fills the payload placeholder and returns a ready-to-send prompt.
func (t *Template) ToPrompt(payload string) (string, error) {
	if t == nil {
		return "", ErrNotBuilt
	}
	var b strings.Builder
	for i, seg := range t.segments {
		if t.holes[i] {
			b.WriteString(payload)
		} else {
			b.WriteString(seg)
		}
	}
	return b.String(), nil
}

// PayloadPlaceholder returns the name of the remaining placeholder.
func (t *Template) PayloadPlaceholder() string {
	return t.payload
}

// String renders the template with the payload placeholder left in place.
func (t *Template) String() string {
	var b strings.Builder
	for i, seg := range t.segments {
		if t.holes[i] {
			b.WriteString("{" + t.payload + "}")
		} else {
			b.WriteString(seg)
		}
	}
	return b.String()
}

// Builder accumulates sections and a meta-template, then builds a Template.
// Builders are not safe for concurrent use; the Template they produce is.
type Builder struct {
	sections     map[string]string
	metaTemplate string
	built        *Template
}

func NewBuilder() *Builder {
	return &Builder{sections: make(map[string]string)}
}

// LoadSectionFromText registers literal text under a section name.
// Last write wins.
func (b *Builder) LoadSectionFromText(name, text string) *Builder {
	b.sections[name] = text
	return b
}

// LoadSectionFromTable registers the rendering of tabular rows under a
// section name.
func (b *Builder) LoadSectionFromTable(name string, rows [][]string, transform TransformFunc) *Builder {
	b.sections[name] = transform(rows)
	return b
}

// LoadSectionFromStore fetches section text from an external store.
func (b *Builder) LoadSectionFromStore(ctx context.Context, name string, store SectionStore, key string) error {
	text, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("loading section %q from store: %w", name, err)
	}
	b.sections[name] = text
	return nil
}

// SetMetaTemplate sets the format string whose {name} placeholders are
// resolved at build time. "{{" and "}}" escape literal braces.
func (b *Builder) SetMetaTemplate(s string) *Builder {
	b.metaTemplate = s
	return b
}

// Build substitutes every loaded section into the meta-template. Exactly one
// placeholder must remain unresolved; it becomes the per-item payload hole.
// Building twice with the same sections yields the same template.
func (b *Builder) Build() (*Template, error) {
	return b.build("")
}

// BuildFor is Build with the payload placeholder named explicitly. Any other
// unresolved placeholder is then an error rather than an ambiguity.
func (b *Builder) BuildFor(payloadName string) (*Template, error) {
	if payloadName == "" {
		return nil, fmt.Errorf("payload placeholder name must not be empty")
	}
	return b.build(payloadName)
}

func (b *Builder) build(payloadName string) (*Template, error) {
	segments, names, err := parseMetaTemplate(b.metaTemplate)
	if err != nil {
		return nil, err
	}

	// Classify placeholders found in the meta-template. Section content is
	// deliberately never re-scanned, so braces inside sections (JSON format
	// examples and the like) cannot masquerade as placeholders.
	var unresolved []string
	seen := map[string]bool{}
	for _, name := range names {
		if _, ok := b.sections[name]; ok || seen[name] {
			continue
		}
		seen[name] = true
		unresolved = append(unresolved, name)
	}
	sort.Strings(unresolved)

	if payloadName != "" {
		var stray []string
		for _, name := range unresolved {
			if name != payloadName {
				stray = append(stray, name)
			}
		}
		if len(stray) > 0 {
			return nil, &UnresolvedSectionError{Sections: stray}
		}
		if !seen[payloadName] {
			return nil, ErrNoPayloadPlaceholder
		}
	} else {
		if len(unresolved) == 0 {
			return nil, ErrNoPayloadPlaceholder
		}
		if len(unresolved) > 1 {
			return nil, &AmbiguousPlaceholderError{Placeholders: unresolved}
		}
		payloadName = unresolved[0]
	}

	t := &Template{holes: make(map[int]bool), payload: payloadName}
	for _, seg := range segments {
		if seg.placeholder == "" {
			t.segments = append(t.segments, seg.text)
			continue
		}
		if seg.placeholder == payloadName {
			t.segments = append(t.segments, "")
			t.holes[len(t.segments)-1] = true
			continue
		}
		t.segments = append(t.segments, b.sections[seg.placeholder])
	}

	b.built = t
	return t, nil
}

// Template returns the last built template, or nil.
func (b *Builder) Template() *Template {
	return b.built
}

type segment struct {
	text        string // literal text, escapes already unfolded
	placeholder string // non-empty for placeholder segments
}

// parseMetaTemplate splits a format string into literal and placeholder
// segments. Placeholder syntax is {name}; "{{" and "}}" produce literal
// braces, mirroring the str.format convention the prompt files were
// authored against.
func parseMetaTemplate(s string) ([]segment, []string, error) {
	var segments []segment
	var names []string
	var literal strings.Builder

	flush := func() {
		if literal.Len() > 0 {
			segments = append(segments, segment{text: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(s); {
		switch {
		case strings.HasPrefix(s[i:], "{{"):
			literal.WriteByte('{')
			i += 2
		case strings.HasPrefix(s[i:], "}}"):
			literal.WriteByte('}')
			i += 2
		case s[i] == '}':
			return nil, nil, fmt.Errorf("unmatched %q at offset %d in meta-template", "}", i)
		case s[i] == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, nil, fmt.Errorf("unmatched %q at offset %d in meta-template", "{", i)
			}
			name := s[i+1 : i+end]
			if name == "" || strings.ContainsAny(name, "{ \t\n") {
				return nil, nil, fmt.Errorf("invalid placeholder %q at offset %d in meta-template", s[i:i+end+1], i)
			}
			flush()
			segments = append(segments, segment{placeholder: name})
			names = append(names, name)
			i += end + 1
		default:
			literal.WriteByte(s[i])
			i++
		}
	}
	flush()
	return segments, names, nil
}
