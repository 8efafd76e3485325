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

package coremain

import (
	"io"
	"net"
	"net/http"
	"net/netip"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/nettest"
)

type fakePublisher struct {
	mu    sync.Mutex
	calls []string
}

func (p *fakePublisher) Publish(setName string, addr netip.Addr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, setName+" "+addr.String())
	return nil
}

func (p *fakePublisher) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// startUpstream answers every A query with 192.0.2.1.
func startUpstream(t *testing.T) string {
	t.Helper()
	c, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	go func() {
		b := make([]byte, dns.MaxMsgSize)
		for {
			n, from, err := c.ReadFrom(b)
			if err != nil {
				return
			}
			q := new(dns.Msg)
			if err := q.Unpack(b[:n]); err != nil {
				continue
			}
			r := new(dns.Msg)
			r.SetReply(q)
			rr, _ := dns.NewRR(q.Question[0].Name + " 60 IN A 192.0.2.1")
			r.Answer = append(r.Answer, rr)
			out, _ := r.Pack()
			_, _ = c.WriteTo(out, from)
		}
	}()
	return c.LocalAddr().String()
}

func exchange(t *testing.T, addr, name string) *dns.Msg {
	t.Helper()
	c, err := net.Dial("udp", addr)
	require.NoError(t, err)
	defer c.Close()

	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(name), dns.TypeA)
	b, err := q.Pack()
	require.NoError(t, err)
	_, err = c.Write(b)
	require.NoError(t, err)

	require.NoError(t, c.SetReadDeadline(time.Now().Add(time.Second*3)))
	buf := make([]byte, dns.MaxMsgSize)
	n, err := c.Read(buf)
	require.NoError(t, err)
	r := new(dns.Msg)
	require.NoError(t, r.Unpack(buf[:n]))
	return r
}

func TestServer(t *testing.T) {
	cfg := &Config{
		DNS: startUpstream(t),
		IPv4: map[string][]string{
			"Media": {"g:*.example.com"},
		},
		API:    APIConfig{HTTP: "127.0.0.1:0"},
		RcvBuf: 1 << 16,
	}
	require.NoError(t, cfg.Validate())

	p := new(fakePublisher)
	s, err := newServer(cfg, mlog.Nop(), p)
	require.NoError(t, err)
	defer func() {
		s.GetSafeClose().SendCloseSignal(nil)
		assert.NoError(t, s.GetSafeClose().WaitClosed())
	}()

	addrs := s.Addrs()
	require.Len(t, addrs, 1)

	r := exchange(t, addrs[0].String(), "www.example.com")
	require.Len(t, r.Answer, 1)
	assert.Equal(t, []string{"Media 192.0.2.1"}, p.Calls())

	r = exchange(t, addrs[0].String(), "example.org")
	require.Len(t, r.Answer, 1)
	assert.Len(t, p.Calls(), 1, "unmatched name must not be published")

	get := func(path string) string {
		resp, err := http.Get("http://" + s.apiLn.Addr().String() + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}
	metrics := get("/metrics")
	assert.Contains(t, metrics, "ipset_dns_query_total 2")
	assert.Contains(t, metrics, "ipset_dns_publish_total 1")
	assert.Contains(t, get("/sets"), "ipv4 Media g:*.example.com")
}

func TestServer_workers(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("SO_REUSEPORT is not supported")
	}
	cfg := &Config{
		DNS:       startUpstream(t),
		Workers:   3,
		ReusePort: true,
		IPv4:      map[string][]string{"media": {"g:*"}},
	}
	require.NoError(t, cfg.Validate())

	p := new(fakePublisher)
	s, err := newServer(cfg, mlog.Nop(), p)
	require.NoError(t, err)

	addrs := s.Addrs()
	require.Len(t, addrs, 3)
	for _, addr := range addrs[1:] {
		assert.Equal(t, addrs[0].String(), addr.String())
	}

	for i := 0; i < 5; i++ {
		exchange(t, addrs[0].String(), "a.example.com")
	}
	assert.Len(t, p.Calls(), 5)

	s.GetSafeClose().SendCloseSignal(nil)
	assert.NoError(t, s.GetSafeClose().WaitClosed())
}

func TestNewServer_invalidTable(t *testing.T) {
	cfg := &Config{
		DNS:  "127.0.0.1",
		IPv4: map[string][]string{"media": {"g:[a-"}},
	}
	require.NoError(t, cfg.Validate())
	_, err := newServer(cfg, mlog.Nop(), new(fakePublisher))
	assert.Error(t, err)
}

// startSilentUpstream reads queries and never replies. Every received
// query is signaled on the returned channel.
func startSilentUpstream(t *testing.T) (string, <-chan struct{}) {
	t.Helper()
	c, err := nettest.NewLocalPacketListener("udp4")
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	received := make(chan struct{}, 16)
	go func() {
		b := make([]byte, dns.MaxMsgSize)
		for {
			if _, _, err := c.ReadFrom(b); err != nil {
				return
			}
			select {
			case received <- struct{}{}:
			default:
			}
		}
	}()
	return c.LocalAddr().String(), received
}

func TestServer_closeWithPendingUpstream(t *testing.T) {
	upstream, received := startSilentUpstream(t)
	cfg := &Config{
		DNS:  upstream,
		IPv4: map[string][]string{"media": {"g:*"}},
	}
	require.NoError(t, cfg.Validate())
	require.Zero(t, cfg.UpstreamTimeout)

	s, err := newServer(cfg, mlog.Nop(), new(fakePublisher))
	require.NoError(t, err)

	c, err := net.Dial("udp", s.Addrs()[0].String())
	require.NoError(t, err)
	defer c.Close()
	q := new(dns.Msg)
	q.SetQuestion("a.example.com.", dns.TypeA)
	b, err := q.Pack()
	require.NoError(t, err)
	_, err = c.Write(b)
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(3 * time.Second):
		t.Fatal("query was not forwarded")
	}

	s.GetSafeClose().SendCloseSignal(nil)
	done := make(chan error, 1)
	go func() { done <- s.GetSafeClose().WaitClosed() }()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down while waiting for the upstream")
	}
}
