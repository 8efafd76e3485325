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
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/mdlayher/netlink"
)

var (
	ErrInvalidSetName = errors.New("invalid set name")
	ErrInvalidAddr    = errors.New("invalid address")
)

// CheckSetName checks that name fits into an ipset name attribute.
// The name plus its terminating NUL must not exceed MaxNameLen.
func CheckSetName(name string) error {
	switch {
	case len(name) == 0:
		return fmt.Errorf("%w: empty name", ErrInvalidSetName)
	case len(name)+1 > MaxNameLen:
		return fmt.Errorf("%w: %q has %d bytes, max is %d", ErrInvalidSetName, name, len(name), MaxNameLen-1)
	case strings.IndexByte(name, 0) >= 0:
		return fmt.Errorf("%w: %q contains NUL", ErrInvalidSetName, name)
	}
	return nil
}

// NewAddMessage builds the nfnetlink request that adds addr to the ipset setName.
// IPv4-mapped IPv6 addresses are sent as IPv6, as they were received.
func NewAddMessage(setName string, addr netip.Addr) (netlink.Message, error) {
	if err := CheckSetName(setName); err != nil {
		return netlink.Message{}, err
	}
	if !addr.IsValid() {
		return netlink.Message{}, ErrInvalidAddr
	}

	family := familyInet
	addrAttr := AttrIPAddrIPv4
	if addr.Is6() {
		family = familyInet6
		addrAttr = AttrIPAddrIPv6
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint8(AttrProtocol, Protocol)
	ae.String(AttrSetName, setName)
	ae.Nested(AttrData, func(nae *netlink.AttributeEncoder) error {
		nae.Nested(AttrIP, func(nae *netlink.AttributeEncoder) error {
			// As4/As16 are already in network byte order.
			nae.Bytes(addrAttr|netlink.NetByteOrder, addr.AsSlice())
			return nil
		})
		return nil
	})
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, fmt.Errorf("failed to encode attributes, %w", err)
	}

	data := make([]byte, nfgenmsgLen, nfgenmsgLen+len(attrs))
	data[0] = family
	data[1] = nfnetlinkV0
	binary.BigEndian.PutUint16(data[2:4], 0) // res_id
	data = append(data, attrs...)

	return netlink.Message{
		Header: netlink.Header{
			Length: uint32(headerLen + len(data)),
			Type:   netlink.HeaderType(CmdAdd | NFNLSubsysIPSet<<8),
			Flags:  netlink.Request,
		},
		Data: data,
	}, nil
}

// headerLen is the size of struct nlmsghdr.
const headerLen = 16
