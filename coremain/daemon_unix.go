//go:build linux || darwin || freebsd || netbsd || openbsd

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
	"os/exec"
	"syscall"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"go.uber.org/zap"
)

// envDaemonChild marks the re-executed copy. It must stay outside the
// IPSET_DNS_ namespace that config keys are read from.
const envDaemonChild = "_IPSET_DNS_DAEMON_CHILD"

func isDaemonChild() bool {
	return os.Getenv(envDaemonChild) == "1"
}

// daemonize starts a copy of this process in a new session with stdio
// redirected to the null device. It returns true in the parent, which
// should exit. The copy runs in wd.
func daemonize(wd string) (isParent bool, err error) {
	if isDaemonChild() {
		return false, nil
	}

	exe, err := os.Executable()
	if err != nil {
		return false, fmt.Errorf("cannot solve current executable path, %w", err)
	}
	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return false, err
	}
	defer null.Close()

	cmd := exec.Command(exe, os.Args[1:]...)
	cmd.Dir = wd
	cmd.Env = append(os.Environ(), envDaemonChild+"=1")
	cmd.Stdin, cmd.Stdout, cmd.Stderr = null, null, null
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return false, err
	}
	mlog.L().Info("daemon started", zap.Int("pid", cmd.Process.Pid))
	return true, cmd.Process.Release()
}
