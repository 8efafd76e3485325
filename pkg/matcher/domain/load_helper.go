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
	"strings"
)

const (
	PrefixGlob   = "g:"
	PrefixRegexp = "r:"
)

// SplitTypeAndPattern splits a pattern source string into its matcher
// kind and the pattern itself. A source without a known prefix is an
// exact pattern and is returned unchanged.
func SplitTypeAndPattern(s string) (typ, pattern string) {
	switch {
	case strings.HasPrefix(s, PrefixGlob):
		return MatcherGlob, s[len(PrefixGlob):]
	case strings.HasPrefix(s, PrefixRegexp):
		return MatcherRegexp, s[len(PrefixRegexp):]
	default:
		return MatcherExact, s
	}
}

// ParsePattern compiles a pattern source string.
// "g:" selects a glob, "r:" a regexp, anything else is an exact name.
// A glob must match the whole name and treats "{a,b}" as alternation.
// A regexp matches if it is found
// anywhere in the name, unless the expression anchors itself.
func ParsePattern(s string) (Matcher, error) {
	typ, pattern := SplitTypeAndPattern(s)
	switch typ {
	case MatcherGlob:
		return NewGlobMatcher(pattern)
	case MatcherRegexp:
		return NewRegexMatcher(pattern)
	default:
		return ExactMatcher(pattern), nil
	}
}

// BatchParse parses multiple pattern source strings using ParsePattern.
// It stops at the first invalid one.
func BatchParse(ss []string) ([]Matcher, error) {
	ms := make([]Matcher, 0, len(ss))
	for _, s := range ss {
		m, err := ParsePattern(s)
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern %s: %w", s, err)
		}
		ms = append(ms, m)
	}
	return ms, nil
}
