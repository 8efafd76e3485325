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

package pool

import (
	"github.com/miekg/dns"
)

// msgBufPool holds bufs that can carry any dns message received over udp.
var msgBufPool = NewBufPool(dns.MaxMsgSize)

// GetMsgBuf returns a buf of dns.MaxMsgSize bytes.
func GetMsgBuf() *[]byte {
	return msgBufPool.Get()
}

// ReleaseMsgBuf puts a buf from GetMsgBuf back to the pool.
func ReleaseMsgBuf(b *[]byte) {
	msgBufPool.Release(b)
}
