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
	"fmt"
	"sync"
)

// BufPool hands out byte slices of one fixed size.
type BufPool struct {
	size int
	p    sync.Pool
}

func NewBufPool(size int) *BufPool {
	if size <= 0 {
		panic(fmt.Sprintf("pool.NewBufPool: invalid buf size %d", size))
	}
	bp := &BufPool{size: size}
	bp.p.New = func() any {
		b := make([]byte, size)
		return &b
	}
	return bp
}

// Get returns a buf with length and capacity of the pool size.
func (p *BufPool) Get() *[]byte {
	return p.p.Get().(*[]byte)
}

// Release puts b back to the pool. It panics if b was not from a pool
// of the same size.
func (p *BufPool) Release(b *[]byte) {
	if cap(*b) != p.size {
		panic("unexpected cap size")
	}
	*b = (*b)[:p.size]
	p.p.Put(b)
}
