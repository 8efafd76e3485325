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

package ipset

import (
	"math/rand"
	"net"
	"net/netip"
	"os"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
)

func skipTest(t *testing.T) {
	if os.Getenv("TEST_IPSET") == "" {
		t.SkipNow()
	}
}

func prepareSet(t *testing.T) (func(), string, string) {
	t.Helper()
	n4 := "test" + strconv.Itoa(rand.Intn(1e6))
	n6 := "test" + strconv.Itoa(rand.Intn(1e6))
	require.NoError(t, netlink.IpsetCreate(n4, "hash:ip", netlink.IpsetCreateOptions{
		Family: netlink.FAMILY_V4,
	}))
	require.NoError(t, netlink.IpsetCreate(n6, "hash:ip", netlink.IpsetCreateOptions{
		Family: netlink.FAMILY_V6,
	}))
	return func() {
		_ = netlink.IpsetDestroy(n4)
		_ = netlink.IpsetDestroy(n6)
	}, n4, n6
}

func Test_Publish(t *testing.T) {
	skipTest(t)

	done, n4, n6 := prepareSet(t)
	defer done()

	p := NewPublisher(nil)
	require.NoError(t, p.Publish(n4, netip.MustParseAddr("127.0.0.1")))
	require.NoError(t, p.Publish(n6, netip.MustParseAddr("::2")))

	l, err := netlink.IpsetList(n4)
	require.NoError(t, err)
	require.Len(t, l.Entries, 1)
	require.True(t, l.Entries[0].IP.Equal(net.ParseIP("127.0.0.1")))

	l, err = netlink.IpsetList(n6)
	require.NoError(t, err)
	require.Len(t, l.Entries, 1)
	require.True(t, l.Entries[0].IP.Equal(net.ParseIP("::2")))
}
