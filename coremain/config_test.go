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
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, s string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(s), 0644))
	return p
}

const tomlConfig = `
dns = "1.1.1.1:5353"
port = 5300
upstream_timeout = 3
rcvbuf = 262144

[log]
level = "debug"

[ipv4]
Media = ["g:*.example.com", "cdn.example.net"]
vpn = ["r:(^|\\.)corp\\.internal$"]

[ipv6]
media6 = ['r:^ads\.']
`

func TestLoadConfig_toml(t *testing.T) {
	cfg, err := LoadConfig(newViper(writeConfig(t, "c.toml", tomlConfig)))
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Listen)
	assert.Equal(t, 5300, cfg.Port)
	assert.Equal(t, 1, cfg.Workers)
	assert.Equal(t, uint(3), cfg.UpstreamTimeout)
	assert.Equal(t, 262144, cfg.RcvBuf)
	assert.Equal(t, BackendIPSet, cfg.Backend)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, map[string][]string{
		"Media": {"g:*.example.com", "cdn.example.net"},
		"vpn":   {`r:(^|\.)corp\.internal$`},
	}, cfg.IPv4)
	assert.Equal(t, map[string][]string{"media6": {`r:^ads\.`}}, cfg.IPv6)

	ap, err := cfg.UpstreamAddr()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("1.1.1.1:5353"), ap)
	assert.Equal(t, "127.0.0.1:5300", cfg.ListenAddr())
}

func TestLoadConfig_yaml(t *testing.T) {
	f := writeConfig(t, "c.yaml", `
dns: 9.9.9.9
backend: nftset
nftset:
  family: ip
  table: filter
ipv4:
  Media:
    - "g:*.example.com"
`)
	cfg, err := LoadConfig(newViper(f))
	require.NoError(t, err)
	assert.Equal(t, defaultPort, cfg.Port)
	assert.Zero(t, cfg.RcvBuf)
	assert.Equal(t, BackendNFTSet, cfg.Backend)
	assert.Equal(t, NFTSetConfig{Family: "ip", Table: "filter"}, cfg.NFTSet)
	assert.Equal(t, map[string][]string{"Media": {"g:*.example.com"}}, cfg.IPv4)
	assert.Empty(t, cfg.IPv6)

	ap, err := cfg.UpstreamAddr()
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddrPort("9.9.9.9:53"), ap)
}

func TestLoadConfig_errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		s    string
	}{
		{"missing file", "", ""},
		{"unknown key", "c.toml", "foo = 1\n"},
		{"unsupported type", "c.json", `{"port": 53}`},
		{"invalid upstream", "c.toml", "dns = \"2001:db8::1\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := filepath.Join(t.TempDir(), "none.toml")
			if len(tt.file) > 0 {
				f = writeConfig(t, tt.file, tt.s)
			}
			_, err := LoadConfig(newViper(f))
			assert.Error(t, err)
		})
	}
}

func TestLoadServerConfig_precedence(t *testing.T) {
	f := writeConfig(t, "c.toml", tomlConfig)

	t.Setenv("IPSET_DNS_PORT", "6000")
	t.Setenv("IPSET_DNS_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("start", pflag.ContinueOnError)
	sf := new(serverFlags)
	registerStartFlags(fs, sf)
	require.NoError(t, fs.Parse(nil))
	sf.c = f

	// env > file
	cfg, err := loadServerConfig(sf)
	require.NoError(t, err)
	assert.Equal(t, 6000, cfg.Port)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "1.1.1.1:5353", cfg.DNS, "unset flag must not override file")

	// flag > env
	fs = pflag.NewFlagSet("start", pflag.ContinueOnError)
	sf = new(serverFlags)
	registerStartFlags(fs, sf)
	require.NoError(t, fs.Parse([]string{"-c", f, "-p", "7000", "-r", "--workers", "2", "--log-level", "error"}))
	cfg, err = loadServerConfig(sf)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.True(t, cfg.ReusePort)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, "error", cfg.Log.Level)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{Listen: "127.0.0.1", Port: 1919, DNS: "8.8.8.8", Workers: 1, Backend: BackendIPSet}
	}
	require.NoError(t, valid().Validate())

	zero := new(Config)
	require.NoError(t, zero.Validate())
	assert.Equal(t, defaultListen, zero.Listen)
	assert.Equal(t, defaultUpstream, zero.DNS)
	assert.Equal(t, 1, zero.Workers)
	assert.Equal(t, BackendIPSet, zero.Backend)

	tests := []struct {
		name string
		fn   func(c *Config)
	}{
		{"ipv6 listen", func(c *Config) { c.Listen = "::1" }},
		{"invalid port", func(c *Config) { c.Port = 70000 }},
		{"ipv6 upstream", func(c *Config) { c.DNS = "[2001:db8::1]:53" }},
		{"invalid upstream", func(c *Config) { c.DNS = "dns.google" }},
		{"negative workers", func(c *Config) { c.Workers = -1 }},
		{"workers without reuse", func(c *Config) { c.Workers = 2 }},
		{"negative rcvbuf", func(c *Config) { c.RcvBuf = -1 }},
		{"unknown backend", func(c *Config) { c.Backend = "pf" }},
		{"nftset without table", func(c *Config) { c.Backend = BackendNFTSet }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.fn(c)
			assert.Error(t, c.Validate())
		})
	}
}
