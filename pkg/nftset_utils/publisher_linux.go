//go:build linux

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

package nftset_utils

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/nftables"
	"go.uber.org/zap"
)

// Publisher adds addresses to named sets of one nftables table.
// Every Publish uses its own netlink connection, so it is
// safe for concurrent use.
type Publisher struct {
	table  *nftables.Table
	logger *zap.Logger
}

func NewPublisher(opts PublisherOpts) (*Publisher, error) {
	if len(opts.TableName) == 0 {
		return nil, errors.New("missing table name")
	}
	f, ok := ParseTableFamily(opts.TableFamily)
	if !ok {
		return nil, fmt.Errorf("unsupported nftables family [%s]", opts.TableFamily)
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Publisher{
		table:  &nftables.Table{Name: opts.TableName, Family: f},
		logger: lg,
	}, nil
}

// ParseTableFamily parses a table family name. An empty name is "inet".
func ParseTableFamily(s string) (nftables.TableFamily, bool) {
	switch s {
	case "", "inet":
		return nftables.TableFamilyINet, true
	case "ip":
		return nftables.TableFamilyIPv4, true
	case "ip6":
		return nftables.TableFamilyIPv6, true
	default:
		return 0, false
	}
}

// Publish adds addr to the set setName. If the set has the interval
// flag, addr is added as a single address interval.
func (p *Publisher) Publish(setName string, addr netip.Addr) error {
	if !addr.IsValid() {
		return errors.New("invalid address")
	}

	c, err := nftables.New()
	if err != nil {
		return fmt.Errorf("failed to open netlink, %w", err)
	}

	set, err := c.GetSetByName(p.table, setName)
	if err != nil {
		return fmt.Errorf("failed to get set %s, %w", setName, err)
	}

	elems := []nftables.SetElement{{Key: addr.AsSlice()}}
	if set.Interval {
		if end := addr.Next(); end.IsValid() {
			elems = append(elems, nftables.SetElement{Key: end.AsSlice(), IntervalEnd: true})
		}
	}
	if err := c.SetAddElements(set, elems); err != nil {
		return fmt.Errorf("failed to add elems to set %s, %w", setName, err)
	}
	if err := c.Flush(); err != nil {
		return fmt.Errorf("failed to flush set %s, %w", setName, err)
	}
	p.logger.Debug("nftset add sent", zap.String("table", p.table.Name), zap.String("set", setName), zap.Stringer("addr", addr))
	return nil
}
