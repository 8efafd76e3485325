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
	"path/filepath"
	"time"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"github.com/kardianos/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// svcConfig returns the system service definition. args are the
// arguments the service manager starts the executable with.
func svcConfig(args ...string) *service.Config {
	return &service.Config{
		Name:        "ipset-dns",
		DisplayName: "ipset-dns",
		Description: "A DNS forwarder that adds resolved addresses to kernel ip sets",
		Arguments:   args,
	}
}

// serverService runs a Server under the system service manager.
type serverService struct {
	f *serverFlags
	s *Server
}

func (ss *serverService) Start(s service.Service) error {
	mlog.L().Info("starting service", zap.String("platform", s.Platform()))
	cfg, err := loadServerConfig(ss.f)
	if err != nil {
		return err
	}
	if cfg.Daemon {
		mlog.L().Warn("daemon mode is ignored when running as a service")
	}
	server, err := NewServer(cfg)
	if err != nil {
		return err
	}
	ss.s = server
	go func() {
		if err := server.GetSafeClose().WaitClosed(); err != nil {
			server.Logger().Fatal("server exited", zap.Error(err))
		}
		server.Logger().Info("server exited")
	}()
	return nil
}

func (ss *serverService) Stop(_ service.Service) error {
	if ss.s == nil {
		return nil
	}
	ss.s.Logger().Info("service is shutting down")
	ss.s.GetSafeClose().SendCloseSignal(nil)
	return ss.s.GetSafeClose().WaitClosed()
}

func openService(args ...string) (service.Service, error) {
	s, err := service.New(&serverService{}, svcConfig(args...))
	if err != nil {
		return nil, fmt.Errorf("cannot init service, %w", err)
	}
	return s, nil
}

// installArgs returns the arguments of an installed service. The
// service always starts in dir. An empty cfgFile keeps the default.
func installArgs(dir, cfgFile string) []string {
	args := []string{"start", "--as-service", "--dir", dir}
	if len(cfgFile) > 0 {
		args = append(args, "-c", cfgFile)
	}
	return args
}

// serviceDir returns the absolute working dir of the service.
// It defaults to the dir of the current executable.
func serviceDir(dir string) (string, error) {
	if len(dir) > 0 {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return "", fmt.Errorf("cannot solve absolute working dir path, %w", err)
		}
		return abs, nil
	}
	ep, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("cannot solve current executable path, %w", err)
	}
	return filepath.Dir(ep), nil
}

func statusString(s service.Status) string {
	switch s {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// controlCmds are the service sub commands that map to a single
// service.Control action.
var controlCmds = []struct {
	action string
	short  string
}{
	{"uninstall", "Uninstall ipset-dns from system service."},
	{"stop", "Stop ipset-dns system service."},
	{"restart", "Restart ipset-dns system service."},
}

func newServiceCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "service",
		Short: "Manage ipset-dns as a system service.",
	}
	c.AddCommand(newSvcInstallCmd(), newSvcStartCmd(), newSvcStatusCmd())
	for _, cc := range controlCmds {
		action := cc.action
		c.AddCommand(&cobra.Command{
			Use:   action,
			Short: cc.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				s, err := openService()
				if err != nil {
					return err
				}
				return service.Control(s, action)
			},
			DisableFlagsInUseLine: true,
			SilenceUsage:          true,
		})
	}
	return c
}

func newSvcInstallCmd() *cobra.Command {
	var dir, cfgFile string
	c := &cobra.Command{
		Use:   "install [--dir working_dir] [-c config_file]",
		Short: "Install ipset-dns as a system service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wd, err := serviceDir(dir)
			if err != nil {
				return err
			}
			mlog.S().Infof("set service working dir as %s", wd)
			s, err := openService(installArgs(wd, cfgFile)...)
			if err != nil {
				return err
			}
			return s.Install()
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
	c.Flags().StringVar(&dir, "dir", "", "working dir")
	c.Flags().StringVarP(&cfgFile, "config", "c", "", "config path")
	return c
}

// newSvcStartCmd starts the service and reports its status a second later.
func newSvcStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start ipset-dns system service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openService()
			if err != nil {
				return err
			}
			if err := s.Start(); err != nil {
				return err
			}
			mlog.S().Info("service is starting")
			time.Sleep(time.Second)
			st, err := s.Status()
			if err != nil {
				mlog.S().Warnf("cannot get service status, %v", err)
				return nil
			}
			switch st {
			case service.StatusRunning:
				mlog.S().Info("service is running")
			case service.StatusStopped:
				mlog.S().Error("service is stopped, check ipset-dns and system service log for more info")
			default:
				mlog.S().Warn("cannot get service status, system may not support this operation")
			}
			return nil
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
}

func newSvcStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Status of ipset-dns system service.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openService()
			if err != nil {
				return err
			}
			st, err := s.Status()
			if err != nil {
				return fmt.Errorf("cannot get service status, %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), statusString(st))
			return nil
		},
		DisableFlagsInUseLine: true,
		SilenceUsage:          true,
	}
}
