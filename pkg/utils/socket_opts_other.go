//go:build !(linux || darwin || freebsd || netbsd || openbsd)

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
	"errors"
	"syscall"
)

func ListenerControl(opt ListenerSocketOpts) ControlFunc {
	return func(network, address string, c syscall.RawConn) error {
		if opt.SO_REUSEADDR || opt.SO_REUSEPORT {
			return errors.New("port reuse is not supported on this platform")
		}
		return nil
	}
}
