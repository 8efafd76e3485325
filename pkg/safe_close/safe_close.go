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

package safe_close

import "sync"

// SafeClose joins the shutdown of a server's goroutines behind one
// close signal.
//
// Goroutines started by Attach must return after the close signal.
// Any of them may call SendCloseSignal with a fatal error. WaitClosed
// returns that first error once every attached goroutine returned.
type SafeClose struct {
	m           sync.Mutex
	wg          sync.WaitGroup
	closeSignal chan struct{}
	closeErr    error
}

func NewSafeClose() *SafeClose {
	return &SafeClose{
		closeSignal: make(chan struct{}),
	}
}

// SendCloseSignal sends a close signal. Only the first err is kept.
// It is concurrent safe and can be called multiple times.
func (s *SafeClose) SendCloseSignal(err error) {
	s.m.Lock()
	defer s.m.Unlock()
	select {
	case <-s.closeSignal:
	default:
		s.closeErr = err
		close(s.closeSignal)
	}
}

func (s *SafeClose) ReceiveCloseSignal() <-chan struct{} {
	return s.closeSignal
}

// Err returns the first SendCloseSignal error.
func (s *SafeClose) Err() error {
	s.m.Lock()
	defer s.m.Unlock()
	return s.closeErr
}

// Attach runs f in a new goroutine. If s was closed, f will not run.
func (s *SafeClose) Attach(f func(closeSignal <-chan struct{})) {
	s.m.Lock()
	defer s.m.Unlock()
	select {
	case <-s.closeSignal:
		return
	default:
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		f(s.closeSignal)
	}()
}

// WaitClosed waits for the close signal and all attached goroutines.
// It must not be called from an attached goroutine.
func (s *SafeClose) WaitClosed() error {
	<-s.closeSignal
	s.wg.Wait()
	return s.Err()
}
