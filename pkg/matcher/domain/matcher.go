/*
 * Copyright (C) 2020-2022, IrineSistiana
 *
 * This file is part of ipset-dns.
 *
 * ipset-dns is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * ipset-dns is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package domain

import (
	"fmt"
	"regexp"

	"github.com/gobwas/glob"
)

var _ Matcher = ExactMatcher("")
var _ Matcher = (*GlobMatcher)(nil)
var _ Matcher = (*RegexMatcher)(nil)

const (
	MatcherExact  = "exact"
	MatcherGlob   = "glob"
	MatcherRegexp = "regexp"
)

// ExactMatcher matches a name that is byte-for-byte equal to it.
// It is case-sensitive.
type ExactMatcher string

func (m ExactMatcher) Match(s string) bool {
	return string(m) == s
}

func (m ExactMatcher) String() string {
	return string(m)
}

// GlobMatcher is a shell-style glob (`*`, `?`, `[...]`, `{a,b}`).
// The glob must span the whole name. `*` also matches dots,
// so "*.example.com" matches "a.b.example.com".
// Braces are alternation, not literals. Escape them as `\{` and `\}`
// to match a literal brace.
type GlobMatcher struct {
	src string
	g   glob.Glob
}

func NewGlobMatcher(pattern string) (*GlobMatcher, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid glob pattern %q, %w", pattern, err)
	}
	return &GlobMatcher{src: pattern, g: g}, nil
}

func (m *GlobMatcher) Match(s string) bool {
	return m.g.Match(s)
}

func (m *GlobMatcher) String() string {
	return PrefixGlob + m.src
}

// RegexMatcher matches a name if the expression is found anywhere in it.
// Unlike GlobMatcher it is not anchored. Use ^ and $ for that.
type RegexMatcher struct {
	reg *regexp.Regexp
}

func NewRegexMatcher(expr string) (*RegexMatcher, error) {
	reg, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid regexp %q, %w", expr, err)
	}
	return &RegexMatcher{reg: reg}, nil
}

func (m *RegexMatcher) Match(s string) bool {
	return m.reg.MatchString(s)
}

func (m *RegexMatcher) String() string {
	return PrefixRegexp + m.reg.String()
}
