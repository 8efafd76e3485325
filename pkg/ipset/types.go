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

// Kernel ABI constants, see linux/netfilter/ipset/ip_set.h
// and linux/netfilter/nfnetlink.h.
const (
	// Protocol is the ipset protocol version.
	Protocol uint8 = 6

	// MaxNameLen is the max length of set names, including the NUL.
	MaxNameLen = 32

	// CmdAdd adds an element to a set.
	CmdAdd uint16 = 9

	// NFNLSubsysIPSet is the nfnetlink subsystem id of ipset.
	NFNLSubsysIPSet uint16 = 6

	nfnetlinkV0 uint8 = 0
)

// Attributes at command level.
const (
	AttrProtocol uint16 = 1
	AttrSetName  uint16 = 2
	AttrData     uint16 = 7
)

// CADT and IP specific attributes.
const (
	AttrIP         uint16 = 1
	AttrIPAddrIPv4 uint16 = 1
	AttrIPAddrIPv6 uint16 = 2
)

// Linux address families. They differ from other systems' AF_INET6.
const (
	familyInet  uint8 = 2
	familyInet6 uint8 = 10
)

// nfgenmsgLen is the size of struct nfgenmsg.
const nfgenmsgLen = 4
