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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"github.com/kardianos/service"
	"github.com/okzk/sdnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "ipset-dns",
	Short: "A DNS forwarder that adds resolved addresses to kernel ip sets.",
}

func init() {
	sf := new(serverFlags)
	startCmd := &cobra.Command{
		Use:   "start [config_file]",
		Short: "Start ipset-dns main program.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				sf.c = args[0]
			}
			return StartServer(sf)
		},
		SilenceUsage: true,
	}
	registerStartFlags(startCmd.Flags(), sf)
	rootCmd.AddCommand(startCmd)

	rootCmd.AddCommand(newServiceCmd())
}

func AddSubCmd(c *cobra.Command) {
	rootCmd.AddCommand(c)
}

func Run() error {
	return rootCmd.Execute()
}

type serverFlags struct {
	c         string
	dir       string
	asService bool

	// fs holds the flags that override config values.
	fs *pflag.FlagSet
}

// flagKeys maps start flags to config keys.
var flagKeys = map[string]string{
	"listen":           "listen",
	"port":             "port",
	"dns":              "dns",
	"daemon":           "daemon",
	"reuse":            "reuse_port",
	"workers":          "workers",
	"rcvbuf":           "rcvbuf",
	"upstream-timeout": "upstream_timeout",
	"backend":          "backend",
	"log-level":        "log.level",
}

func registerStartFlags(fs *pflag.FlagSet, sf *serverFlags) {
	fs.StringVarP(&sf.c, "config", "c", defaultConfigFile, "config file")
	fs.StringVar(&sf.dir, "dir", "", "working dir")
	fs.BoolVar(&sf.asService, "as-service", false, "start as a system service")

	fs.String("listen", defaultListen, "listen address")
	fs.Uint16P("port", "p", defaultPort, "listen port")
	fs.String("dns", defaultUpstream, "upstream dns server, ip[:port]")
	fs.BoolP("daemon", "d", false, "run in background")
	fs.BoolP("reuse", "r", false, "set SO_REUSEADDR and SO_REUSEPORT on listen sockets")
	fs.Int("workers", 1, "number of workers, requires --reuse if more than one")
	fs.Int("rcvbuf", 0, "SO_RCVBUF of listen sockets, 0 keeps the system default")
	fs.Uint("upstream-timeout", 0, "(sec) upstream read timeout, 0 means no timeout")
	fs.String("backend", BackendIPSet, "set backend, ipset or nftset")
	fs.String("log-level", "info", "log level")
	sf.fs = fs
}

// loadServerConfig changes the working dir if asked and loads the
// config file. Flags that were set take precedence over env and file.
func loadServerConfig(sf *serverFlags) (*Config, error) {
	if len(sf.dir) > 0 {
		if err := os.Chdir(sf.dir); err != nil {
			return nil, fmt.Errorf("failed to change the current working directory, %w", err)
		}
		mlog.L().Info("working directory changed", zap.String("path", sf.dir))
	}

	v := newViper(sf.c)
	if sf.fs != nil {
		for name, key := range flagKeys {
			if err := v.BindPFlag(key, sf.fs.Lookup(name)); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s, %w", name, err)
			}
		}
	}
	return LoadConfig(v)
}

func StartServer(sf *serverFlags) error {
	if sf.asService {
		s, err := service.New(&serverService{f: sf}, svcConfig())
		if err != nil {
			return fmt.Errorf("cannot init service, %w", err)
		}
		return s.Run()
	}

	wd, err := os.Getwd()
	if err != nil {
		return err
	}
	cfg, err := loadServerConfig(sf)
	if err != nil {
		return err
	}

	if cfg.Daemon {
		isParent, err := daemonize(wd)
		if err != nil {
			return fmt.Errorf("failed to start daemon, %w", err)
		}
		if isParent {
			return nil
		}
	}

	s, err := NewServer(cfg)
	if err != nil {
		return err
	}
	go closeOnSignal(s)

	// No-op if not started by systemd.
	_ = sdnotify.Ready()
	err = s.GetSafeClose().WaitClosed()
	_ = sdnotify.Stopping()
	if err != nil {
		s.Logger().Error("server exited", zap.Error(err))
		return err
	}
	s.Logger().Info("server exited")
	return nil
}

func closeOnSignal(s *Server) {
	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(osSignals)
	select {
	case sig := <-osSignals:
		s.Logger().Info("exiting", zap.Stringer("signal", sig))
		s.GetSafeClose().SendCloseSignal(nil)
	case <-s.GetSafeClose().ReceiveCloseSignal():
	}
}
