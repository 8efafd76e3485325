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
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
)

func TestBufPool(t *testing.T) {
	p := NewBufPool(512)
	b := p.Get()
	assert.Len(t, *b, 512)
	assert.Equal(t, 512, cap(*b))

	*b = (*b)[:12]
	p.Release(b)
	b = p.Get()
	assert.Len(t, *b, 512)

	assert.Panics(t, func() {
		other := make([]byte, 1024)
		p.Release(&other)
	})
	assert.Panics(t, func() { NewBufPool(0) })
}

func TestMsgBuf(t *testing.T) {
	b := GetMsgBuf()
	defer ReleaseMsgBuf(b)
	assert.Len(t, *b, dns.MaxMsgSize)
}
