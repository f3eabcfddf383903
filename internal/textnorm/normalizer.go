/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

// Package textnorm rewrites Russian text into a form that synthesizes more
// naturally: spaced punctuation, expanded abbreviations and spelled-out units.
// Normalize is deterministic and idempotent.
package textnorm

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// rule is a regexp rewrite that only applies where the match is not glued to
// a neighbouring letter or digit. Go's \b is ASCII-only, so Cyrillic word
// edges are checked by hand.
type rule struct {
	pattern     *regexp.Regexp
	replacement string
	checkAfter  bool
}

// Normalizer holds the precompiled rewrite pipeline.
type Normalizer struct {
	punctuation   *regexp.Regexp
	whitespace    *regexp.Regexp
	abbreviations []rule
	units         []rule
}

// New creates a Normalizer with the Russian abbreviation and unit tables.
func New() *Normalizer {
	return &Normalizer{
		punctuation: regexp.MustCompile(`[.!?,;:]+\s*`),
		whitespace:  regexp.MustCompile(`\s+`),
		abbreviations: []rule{
			{pattern: regexp.MustCompile(`(?i)и\s+т\.\s*д\.?`), replacement: "и так далее", checkAfter: true},
			{pattern: regexp.MustCompile(`(?i)т\.\s*д\.?`), replacement: "так далее", checkAfter: true},
			{pattern: regexp.MustCompile(`(?i)т\.\s*к\.?`), replacement: "так как", checkAfter: true},
			{pattern: regexp.MustCompile(`(?i)т\.\s*п\.?`), replacement: "тому подобное", checkAfter: true},
		},
		units: []rule{
			{pattern: regexp.MustCompile(`(\d+)\s*%`), replacement: "${1} процентов"},
			{pattern: regexp.MustCompile(`(\d+)\s*км`), replacement: "${1} километров", checkAfter: true},
			{pattern: regexp.MustCompile(`(\d+)\s*м`), replacement: "${1} метров", checkAfter: true},
		},
	}
}

var defaultNormalizer = New()

// Normalize applies the default pipeline.
func Normalize(text string) string {
	return defaultNormalizer.Normalize(text)
}

// Normalize runs punctuation spacing, abbreviation expansion, unit expansion,
// whitespace collapsing and trimming, in that order.
func (n *Normalizer) Normalize(text string) string {
	if text == "" {
		return text
	}

	out := n.spacePunctuation(text)
	for _, r := range n.abbreviations {
		out = r.apply(out)
	}
	for _, r := range n.units {
		out = r.apply(out)
	}
	out = n.whitespace.ReplaceAllString(out, " ")

	return strings.TrimSpace(out)
}

// spacePunctuation leaves exactly one space after each punctuation run.
// A single separator between two digits (3.5, 1,5, 12:30) is left alone.
func (n *Normalizer) spacePunctuation(text string) string {
	matches := n.punctuation.FindAllStringIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + len(matches))

	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		run := strings.TrimRightFunc(text[start:end], unicode.IsSpace)

		b.WriteString(text[last:start])
		if len(run) == 1 && end == start+1 && digitBefore(text, start) && digitAfter(text, end) {
			b.WriteString(run)
		} else {
			b.WriteString(run)
			b.WriteByte(' ')
		}
		last = end
	}
	b.WriteString(text[last:])

	return b.String()
}

func (r rule) apply(text string) string {
	matches := r.pattern.FindAllStringSubmatchIndex(text, -1)
	if matches == nil {
		return text
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		if wordRuneBefore(text, start) || (r.checkAfter && wordRuneAfter(text, end)) {
			continue
		}
		b.WriteString(text[last:start])
		b.Write(r.pattern.ExpandString(nil, r.replacement, text, m))
		last = end
	}
	b.WriteString(text[last:])

	return b.String()
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func wordRuneBefore(text string, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:pos])
	return isWordRune(r)
}

func wordRuneAfter(text string, pos int) bool {
	if pos >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[pos:])
	return isWordRune(r)
}

func digitBefore(text string, pos int) bool {
	if pos == 0 {
		return false
	}
	r, _ := utf8.DecodeLastRuneInString(text[:pos])
	return unicode.IsDigit(r)
}

func digitAfter(text string, pos int) bool {
	if pos >= len(text) {
		return false
	}
	r, _ := utf8.DecodeRuneInString(text[pos:])
	return unicode.IsDigit(r)
}
