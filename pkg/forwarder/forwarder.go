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

package forwarder

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/IrineSistiana/ipset-dns/pkg/matcher/domain"
	"github.com/IrineSistiana/ipset-dns/pkg/pool"
	"github.com/IrineSistiana/ipset-dns/pkg/routing"
	"github.com/miekg/dns"
	"go.uber.org/zap"
)

// HeaderSize is the size of the fixed dns header (HFIXEDSZ).
const HeaderSize = 12

var (
	ErrShortQuery = errors.New("did not receive full dns header from client")
	ErrShortReply = errors.New("did not receive full dns header from upstream")
)

// Publisher adds an address to a named kernel set.
type Publisher interface {
	Publish(setName string, addr netip.Addr) error
}

type Opts struct {
	// Logger, optional.
	Logger *zap.Logger

	// Upstream is the address of the upstream resolver. Required.
	Upstream netip.AddrPort

	// Table decides which sets an answer goes to. Required.
	Table *routing.Table

	// Publisher receives one call per (address, set) pair. Required.
	Publisher Publisher

	// UpstreamTimeout limits the wait for the upstream reply.
	// Zero means wait forever.
	UpstreamTimeout time.Duration

	// Metrics, optional.
	Metrics *Metrics
}

// Forwarder relays dns queries to one upstream and publishes the
// addresses of the replies. A Forwarder runs one request cycle at a
// time per Serve call. Multiple Serve calls on different sockets may
// share one Forwarder.
type Forwarder struct {
	opts    Opts
	logger  *zap.Logger
	metrics *Metrics

	m        sync.Mutex
	closed   bool
	upstream map[*net.UDPConn]struct{} // in-flight upstream sockets
}

func NewForwarder(opts Opts) *Forwarder {
	f := &Forwarder{
		opts:     opts,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		upstream: make(map[*net.UDPConn]struct{}),
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	if f.metrics == nil {
		f.metrics = NewMetrics()
	}
	return f
}

// Serve runs request cycles on c until c is closed.
// An error in one cycle is logged and never closes c.
// Serve returns nil once c is closed.
func (f *Forwarder) Serve(c net.PacketConn) error {
	for {
		if err := f.HandleOnce(c); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			f.metrics.ErrTotal.Inc()
			f.logger.Warn("request aborted", zap.Error(err))
		}
	}
}

// HandleOnce runs one full request cycle on c: it reads one query,
// forwards it to the upstream, publishes the addresses of the reply
// and relays the reply to the client.
func (f *Forwarder) HandleOnce(c net.PacketConn) error {
	b := pool.GetMsgBuf()
	defer pool.ReleaseMsgBuf(b)
	buf := *b

	n, clientAddr, err := c.ReadFrom(buf)
	if err != nil {
		return fmt.Errorf("failed to read query, %w", err)
	}
	if n < HeaderSize {
		return fmt.Errorf("%w, got %d bytes from %s", ErrShortQuery, n, clientAddr)
	}
	f.metrics.QueryTotal.Inc()
	start := time.Now()

	// buf is reused for the reply.
	n, err = f.exchange(buf[:n], buf)
	if err != nil {
		return err
	}
	if n < HeaderSize {
		return fmt.Errorf("%w, got %d bytes", ErrShortReply, n)
	}
	reply := buf[:n]

	r := new(dns.Msg)
	if err := r.Unpack(reply); err != nil {
		return fmt.Errorf("failed to parse upstream reply, %w", err)
	}
	f.publishAnswers(r)

	if _, err := c.WriteTo(reply, clientAddr); err != nil {
		return fmt.Errorf("failed to write reply to %s, %w", clientAddr, err)
	}
	f.metrics.ResponseLatency.Observe(float64(time.Since(start).Milliseconds()))
	return nil
}

// Close aborts every in-flight upstream exchange. Cycles that are
// waiting for the upstream, and all later cycles, fail with net.ErrClosed.
// Close does not close the sockets passed to Serve.
func (f *Forwarder) Close() error {
	f.m.Lock()
	defer f.m.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for uc := range f.upstream {
		_ = uc.Close()
	}
	return nil
}

func (f *Forwarder) trackUpstream(uc *net.UDPConn) bool {
	f.m.Lock()
	defer f.m.Unlock()
	if f.closed {
		return false
	}
	f.upstream[uc] = struct{}{}
	return true
}

func (f *Forwarder) untrackUpstream(uc *net.UDPConn) {
	f.m.Lock()
	defer f.m.Unlock()
	delete(f.upstream, uc)
}

// exchange sends q to the upstream over a new socket and reads the reply into b.
func (f *Forwarder) exchange(q, b []byte) (int, error) {
	uc, err := net.DialUDP("udp4", nil, net.UDPAddrFromAddrPort(f.opts.Upstream))
	if err != nil {
		return 0, fmt.Errorf("failed to open upstream socket, %w", err)
	}
	defer uc.Close()
	if !f.trackUpstream(uc) {
		return 0, fmt.Errorf("forwarder closed, %w", net.ErrClosed)
	}
	defer f.untrackUpstream(uc)

	if t := f.opts.UpstreamTimeout; t > 0 {
		_ = uc.SetReadDeadline(time.Now().Add(t))
	}
	if _, err := uc.Write(q); err != nil {
		return 0, fmt.Errorf("failed to write query to upstream, %w", err)
	}
	n, err := uc.Read(b)
	if err != nil {
		return 0, fmt.Errorf("failed to read upstream reply, %w", err)
	}
	return n, nil
}

// publishAnswers publishes every A and AAAA answer of r to the sets
// its owner name resolves to. Publish errors are logged only.
func (f *Forwarder) publishAnswers(r *dns.Msg) {
	for _, rr := range r.Answer {
		var (
			addr   netip.Addr
			ok     bool
			family routing.Family
		)
		switch rr := rr.(type) {
		case *dns.A:
			addr, ok = netip.AddrFromSlice(rr.A.To4())
			family = routing.FamilyV4
		case *dns.AAAA:
			addr, ok = netip.AddrFromSlice(rr.AAAA.To16())
			family = routing.FamilyV6
		default:
			continue
		}
		if !ok {
			f.logger.Warn("invalid address record", zap.Uint16("id", r.Id), zap.Stringer("rr", rr))
			continue
		}

		name := domain.TrimDot(rr.Header().Name)
		setNames := f.opts.Table.Resolve(family, name)
		if len(setNames) == 0 {
			f.logger.Debug("no set matched", zap.Uint16("id", r.Id), zap.String("name", name), zap.Stringer("addr", addr))
			continue
		}
		for _, setName := range setNames {
			if err := f.opts.Publisher.Publish(setName, addr); err != nil {
				f.metrics.PublishErrTotal.Inc()
				f.logger.Warn(
					"failed to add address to set",
					zap.Uint16("id", r.Id),
					zap.String("set", setName),
					zap.String("name", name),
					zap.Stringer("addr", addr),
					zap.Error(err),
				)
				continue
			}
			f.metrics.PublishTotal.Inc()
			f.logger.Debug("address added", zap.Uint16("id", r.Id), zap.String("set", setName), zap.String("name", name), zap.Stringer("addr", addr))
		}
	}
}
