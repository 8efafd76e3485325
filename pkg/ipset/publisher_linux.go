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
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Publish sends one "add element" request for addr to the ipset setName.
// A nil error only means the kernel accepted the message. Nothing
// confirms that the element was added.
func (p *Publisher) Publish(setName string, addr netip.Addr) error {
	msg, err := NewAddMessage(setName, addr)
	if err != nil {
		return err
	}

	// A nil config binds the socket with a kernel assigned port id.
	c, err := netlink.Dial(unix.NETLINK_NETFILTER, nil)
	if err != nil {
		return fmt.Errorf("failed to open netlink socket, %w", err)
	}
	defer c.Close()

	if _, err := c.Send(msg); err != nil {
		return fmt.Errorf("failed to send ipset message to %s, %w", setName, err)
	}
	p.logger.Debug(
		"ipset add sent",
		zap.String("set", setName),
		zap.Stringer("addr", addr),
		zap.Uint32("len", msg.Header.Length),
	)
	return nil
}
