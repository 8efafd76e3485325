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

package utils

import (
	"context"
	"net"
	"syscall"
)

type ControlFunc func(network, address string, c syscall.RawConn) error

type ListenerSocketOpts struct {
	SO_REUSEADDR bool
	SO_REUSEPORT bool
	SO_RCVBUF    int
}

// ListenUDP opens a udp socket on addr with opts applied before bind.
func ListenUDP(ctx context.Context, network, addr string, opts ListenerSocketOpts) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: ListenerControl(opts)}
	c, err := lc.ListenPacket(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	return c.(*net.UDPConn), nil
}
