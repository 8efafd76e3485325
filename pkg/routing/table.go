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

package routing

import (
	"fmt"
	"net/netip"

	"github.com/IrineSistiana/ipset-dns/pkg/ipset"
	"github.com/IrineSistiana/ipset-dns/pkg/matcher/domain"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

type Family uint8

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return fmt.Sprintf("family(%d)", uint8(f))
	}
}

// FamilyOf returns the family of addr. IPv4-mapped IPv6 addresses are IPv6.
func FamilyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return FamilyV4
	}
	return FamilyV6
}

// Rule routes names matched by Matcher to the set SetName.
type Rule struct {
	SetName string
	Matcher domain.Matcher
}

// Table holds the rules of both families. It is read-only after NewTable
// returns and is safe for concurrent use.
type Table struct {
	v4 []Rule
	v6 []Rule
}

// NewTable builds a Table from set name -> pattern source strings mappings.
// See domain.ParsePattern for the pattern format. If any set name or
// pattern is invalid, no table is returned.
func NewTable(v4, v6 map[string][]string) (*Table, error) {
	r4, err := buildRules(v4)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FamilyV4, err)
	}
	r6, err := buildRules(v6)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", FamilyV6, err)
	}
	return &Table{v4: r4, v6: r6}, nil
}

func buildRules(sets map[string][]string) ([]Rule, error) {
	// Rules are ordered by set name, then by their position in the list.
	setNames := maps.Keys(sets)
	slices.Sort(setNames)

	var rules []Rule
	for _, setName := range setNames {
		if err := ipset.CheckSetName(setName); err != nil {
			return nil, err
		}
		ms, err := domain.BatchParse(sets[setName])
		if err != nil {
			return nil, fmt.Errorf("set %s: %w", setName, err)
		}
		for _, m := range ms {
			rules = append(rules, Rule{SetName: setName, Matcher: m})
		}
	}
	return rules, nil
}

func (t *Table) rules(f Family) []Rule {
	switch f {
	case FamilyV4:
		return t.v4
	case FamilyV6:
		return t.v6
	default:
		return nil
	}
}

// Resolve returns the names of all sets whose rules of family f match name.
// Each set name appears once. An empty result means no rule matches.
func (t *Table) Resolve(f Family, name string) []string {
	var setNames []string
	for _, r := range t.rules(f) {
		if r.Matcher.Match(name) {
			setNames = append(setNames, r.SetName)
		}
	}
	// rules are sorted by set name, so duplicates are adjacent.
	return slices.Compact(setNames)
}

// Len returns the number of rules of family f.
func (t *Table) Len(f Family) int {
	return len(t.rules(f))
}

// SetNames returns the sorted, distinct set names of family f.
func (t *Table) SetNames(f Family) []string {
	var setNames []string
	for _, r := range t.rules(f) {
		setNames = append(setNames, r.SetName)
	}
	return slices.Compact(setNames)
}

// Rules returns a copy of the rules of family f.
func (t *Table) Rules(f Family) []Rule {
	return slices.Clone(t.rules(f))
}
