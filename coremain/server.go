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
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"github.com/IrineSistiana/ipset-dns/pkg/forwarder"
	"github.com/IrineSistiana/ipset-dns/pkg/ipset"
	"github.com/IrineSistiana/ipset-dns/pkg/nftset_utils"
	"github.com/IrineSistiana/ipset-dns/pkg/routing"
	"github.com/IrineSistiana/ipset-dns/pkg/safe_close"
	"github.com/IrineSistiana/ipset-dns/pkg/utils"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const metricsPrefix = "ipset_dns_"

type Server struct {
	cfg    *Config
	logger *zap.Logger // non-nil logger.

	table     *routing.Table
	forwarder *forwarder.Forwarder
	conns     []*net.UDPConn

	httpMux    *chi.Mux
	apiLn      net.Listener
	metricsReg *prometheus.Registry
	sc         *safe_close.SafeClose
}

// NewServer initializes the logger and the set backend from cfg,
// binds the listen sockets and starts serving.
func NewServer(cfg *Config) (*Server, error) {
	lg, err := mlog.NewLogger(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}
	mlog.ReplaceGlobal(lg)

	p, err := newPublisher(cfg, lg)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s backend, %w", cfg.Backend, err)
	}
	return newServer(cfg, lg, p)
}

func newPublisher(cfg *Config, lg *zap.Logger) (forwarder.Publisher, error) {
	switch cfg.Backend {
	case BackendNFTSet:
		p, err := nftset_utils.NewPublisher(nftset_utils.PublisherOpts{
			TableFamily: cfg.NFTSet.Family,
			TableName:   cfg.NFTSet.Table,
			Logger:      lg,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return ipset.NewPublisher(lg), nil
	}
}

func newServer(cfg *Config, lg *zap.Logger, p forwarder.Publisher) (*Server, error) {
	table, err := routing.NewTable(cfg.IPv4, cfg.IPv6)
	if err != nil {
		return nil, fmt.Errorf("failed to load set tables, %w", err)
	}
	for _, f := range [...]routing.Family{routing.FamilyV4, routing.FamilyV6} {
		lg.Info(
			"set table loaded",
			zap.Stringer("family", f),
			zap.Int("set_names", len(table.SetNames(f))),
			zap.Int("patterns", table.Len(f)),
		)
	}

	upstream, err := cfg.UpstreamAddr()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:        cfg,
		logger:     lg,
		table:      table,
		httpMux:    chi.NewRouter(),
		metricsReg: newMetricsReg(),
		sc:         safe_close.NewSafeClose(),
	}
	// This must be called after s.httpMux and s.metricsReg been set.
	s.initHttpMux()

	m := forwarder.NewMetrics()
	m.MustRegister(s.GetMetricsReg())
	s.forwarder = forwarder.NewForwarder(forwarder.Opts{
		Logger:          lg,
		Upstream:        upstream,
		Table:           table,
		Publisher:       p,
		UpstreamTimeout: time.Duration(cfg.UpstreamTimeout) * time.Second,
		Metrics:         m,
	})

	if err := s.listen(); err != nil {
		return nil, err
	}
	if httpAddr := cfg.API.HTTP; len(httpAddr) > 0 {
		l, err := net.Listen("tcp", httpAddr)
		if err != nil {
			s.closeConns()
			return nil, fmt.Errorf("failed to start api server, %w", err)
		}
		s.apiLn = l
	}

	lg.Info("using upstream", zap.Stringer("addr", upstream))
	s.startWorkers()
	if s.apiLn != nil {
		s.startAPIServer()
	}
	return s, nil
}

// listen binds one socket per worker. If the configured port is 0,
// the port of the first socket is used by the others.
func (s *Server) listen() error {
	opts := utils.ListenerSocketOpts{
		SO_REUSEADDR: s.cfg.ReusePort,
		SO_REUSEPORT: s.cfg.ReusePort,
		SO_RCVBUF:    s.cfg.RcvBuf,
	}
	addr := s.cfg.ListenAddr()
	for i := 0; i < s.cfg.Workers; i++ {
		c, err := utils.ListenUDP(context.Background(), "udp4", addr, opts)
		if err != nil {
			s.closeConns()
			return fmt.Errorf("failed to listen on %s, %w", addr, err)
		}
		if i == 0 {
			addr = c.LocalAddr().String()
		}
		s.conns = append(s.conns, c)
	}
	s.logger.Info(
		"listening",
		zap.String("addr", addr),
		zap.Int("workers", len(s.conns)),
		zap.Bool("reuse_port", s.cfg.ReusePort),
	)
	return nil
}

func (s *Server) closeConns() {
	for _, c := range s.conns {
		_ = c.Close()
	}
}

// startWorkers runs one forwarder loop per socket. A worker error
// closes all sockets and the server. On close, cycles waiting for
// the upstream are aborted.
func (s *Server) startWorkers() {
	s.sc.Attach(func(closeSignal <-chan struct{}) {
		g, ctx := errgroup.WithContext(context.Background())
		for _, c := range s.conns {
			c := c
			g.Go(func() error {
				return s.forwarder.Serve(c)
			})
		}
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-closeSignal:
			}
			s.closeConns()
			_ = s.forwarder.Close()
			return nil
		})
		if err := g.Wait(); err != nil {
			s.sc.SendCloseSignal(fmt.Errorf("worker exited, %w", err))
		}
	})
}

func (s *Server) startAPIServer() {
	httpServer := &http.Server{
		Handler:           s.httpMux,
		ReadHeaderTimeout: time.Second * 5,
	}
	s.sc.Attach(func(closeSignal <-chan struct{}) {
		errChan := make(chan error, 1)
		go func() {
			s.logger.Info("starting api http server", zap.Stringer("addr", s.apiLn.Addr()))
			errChan <- httpServer.Serve(s.apiLn)
		}()
		select {
		case err := <-errChan:
			s.sc.SendCloseSignal(fmt.Errorf("api server exited, %w", err))
		case <-closeSignal:
			_ = httpServer.Close()
		}
	})
}

func (s *Server) GetSafeClose() *safe_close.SafeClose {
	return s.sc
}

// Logger returns a non-nil logger.
func (s *Server) Logger() *zap.Logger {
	return s.logger
}

// Addrs returns the bound addresses of the worker sockets.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.conns))
	for _, c := range s.conns {
		addrs = append(addrs, c.LocalAddr())
	}
	return addrs
}

// GetMetricsReg returns a prometheus.Registerer with a prefix of "ipset_dns_"
func (s *Server) GetMetricsReg() prometheus.Registerer {
	return prometheus.WrapRegistererWithPrefix(metricsPrefix, s.metricsReg)
}

func (s *Server) GetAPIRouter() *chi.Mux {
	return s.httpMux
}

func newMetricsReg() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

// initHttpMux initializes api entries. It MUST be called after s.metricsReg being initialized.
func (s *Server) initHttpMux() {
	s.httpMux.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metricsReg, promhttp.HandlerOpts{}))

	s.httpMux.Get("/sets", func(w http.ResponseWriter, req *http.Request) {
		b := new(bytes.Buffer)
		for _, f := range [...]routing.Family{routing.FamilyV4, routing.FamilyV6} {
			for _, r := range s.table.Rules(f) {
				_, _ = fmt.Fprintf(b, "%s %s %s\n", f, r.SetName, r.Matcher)
			}
		}
		_, _ = w.Write(b.Bytes())
	})

	s.httpMux.Route("/debug/pprof", func(r chi.Router) {
		r.Get("/*", pprof.Index)
		r.Get("/cmdline", pprof.Cmdline)
		r.Get("/profile", pprof.Profile)
		r.Get("/symbol", pprof.Symbol)
		r.Get("/trace", pprof.Trace)
	})

	// A helper page for invalid request.
	invalidApiReqHelper := func(w http.ResponseWriter, req *http.Request) {
		b := new(bytes.Buffer)
		_, _ = fmt.Fprintf(b, "Invalid request %s %s\n\n", req.Method, req.RequestURI)
		b.WriteString("Available api urls:\n")
		_ = chi.Walk(s.httpMux, func(method string, route string, handler http.Handler, middlewares ...func(http.Handler) http.Handler) error {
			b.WriteString(method)
			b.WriteByte(' ')
			b.WriteString(route)
			b.WriteByte('\n')
			return nil
		})
		_, _ = w.Write(b.Bytes())
	}
	s.httpMux.NotFound(invalidApiReqHelper)
	s.httpMux.MethodNotAllowed(invalidApiReqHelper)
}
