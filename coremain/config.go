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
	"errors"
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/IrineSistiana/ipset-dns/mlog"
	"github.com/IrineSistiana/ipset-dns/pkg/utils"
	"github.com/mitchellh/mapstructure"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile = "ipset_dns_config.toml"
	defaultListen     = "127.0.0.1"
	defaultPort       = 1919
	defaultUpstream   = "8.8.8.8"
	defaultDNSPort    = 53

	envPrefix = "IPSET_DNS"
)

const (
	BackendIPSet  = "ipset"
	BackendNFTSet = "nftset"
)

type Config struct {
	Listen          string         `yaml:"listen"`
	Port            int            `yaml:"port"`
	DNS             string         `yaml:"dns"` // upstream "ip" or "ip:port", IPv4 only.
	Daemon          bool           `yaml:"daemon"`
	ReusePort       bool           `yaml:"reuse_port"`
	Workers         int            `yaml:"workers"`
	RcvBuf          int            `yaml:"rcvbuf"` // SO_RCVBUF of listen sockets, 0 keeps the system default.
	UpstreamTimeout uint           `yaml:"upstream_timeout"` // (sec) 0 means no timeout.
	Backend         string         `yaml:"backend"`
	NFTSet          NFTSetConfig   `yaml:"nftset"`
	Log             mlog.LogConfig `yaml:"log"`
	API             APIConfig      `yaml:"api"`

	// IPv4 and IPv6 map set names to name patterns.
	// viper folds map keys to lower case, so LoadConfig
	// overwrites them with a case preserving decode of the file.
	IPv4 map[string][]string `yaml:"ipv4"`
	IPv6 map[string][]string `yaml:"ipv6"`
}

type NFTSetConfig struct {
	Family string `yaml:"family"`
	Table  string `yaml:"table"`
}

type APIConfig struct {
	HTTP string `yaml:"http"`
}

type ruleTables struct {
	IPv4 map[string][]string `toml:"ipv4" yaml:"ipv4"`
	IPv6 map[string][]string `toml:"ipv6" yaml:"ipv6"`
}

func decoderOpt(cfg *mapstructure.DecoderConfig) {
	cfg.ErrorUnused = true
	cfg.TagName = "yaml"
	cfg.WeaklyTypedInput = true
}

// newViper returns a viper instance reading file and IPSET_DNS_* env.
func newViper(file string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(file)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys must be known to viper so that env can override them.
	v.SetDefault("listen", defaultListen)
	v.SetDefault("port", defaultPort)
	v.SetDefault("dns", defaultUpstream)
	v.SetDefault("daemon", false)
	v.SetDefault("reuse_port", false)
	v.SetDefault("workers", 1)
	v.SetDefault("rcvbuf", 0)
	v.SetDefault("upstream_timeout", 0)
	v.SetDefault("backend", BackendIPSet)
	v.SetDefault("nftset.family", "inet")
	v.SetDefault("nftset.table", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.production", false)
	v.SetDefault("api.http", "")
	return v
}

// LoadConfig reads the config file of v, decodes and validates it.
func LoadConfig(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file, %w", err)
	}

	cfg := new(Config)
	if err := v.Unmarshal(cfg, decoderOpt); err != nil {
		return nil, fmt.Errorf("failed to parse config file, %w", err)
	}

	rt, err := loadRuleTables(v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}
	cfg.IPv4, cfg.IPv6 = rt.IPv4, rt.IPv6

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config, %w", err)
	}
	return cfg, nil
}

func loadRuleTables(file string) (*ruleTables, error) {
	b, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	rt := new(ruleTables)
	switch ext := strings.ToLower(filepath.Ext(file)); ext {
	case ".toml":
		err = toml.Unmarshal(b, rt)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, rt)
	default:
		return nil, fmt.Errorf("unsupported config file type [%s], set tables require toml or yaml", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse set tables, %w", err)
	}
	return rt, nil
}

// Validate fills zero values with defaults and checks cfg.
func (c *Config) Validate() error {
	utils.SetDefaultString(&c.Listen, defaultListen)
	utils.SetDefaultString(&c.DNS, defaultUpstream)
	utils.SetDefaultString(&c.Backend, BackendIPSet)
	utils.SetDefaultNum(&c.Workers, 1)

	if addr, err := netip.ParseAddr(c.Listen); err != nil || !addr.Is4() {
		return fmt.Errorf("listen address must be an IPv4 address, got [%s]", c.Listen)
	}
	if !utils.CheckNumRange(c.Port, 0, 65535) {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if _, err := c.UpstreamAddr(); err != nil {
		return err
	}
	if c.Workers < 1 {
		return fmt.Errorf("invalid workers %d", c.Workers)
	}
	if c.RcvBuf < 0 {
		return fmt.Errorf("invalid rcvbuf %d", c.RcvBuf)
	}
	if c.Workers > 1 && !c.ReusePort {
		return errors.New("multiple workers require reuse_port")
	}
	switch c.Backend {
	case BackendIPSet:
	case BackendNFTSet:
		if len(c.NFTSet.Table) == 0 {
			return errors.New("nftset backend requires a table name")
		}
	default:
		return fmt.Errorf("unknown backend [%s]", c.Backend)
	}
	return nil
}

// UpstreamAddr returns the upstream server address. Port defaults to 53.
func (c *Config) UpstreamAddr() (netip.AddrPort, error) {
	ap, err := utils.ParseAddrPort(c.DNS, defaultDNSPort)
	if err != nil {
		return netip.AddrPort{}, fmt.Errorf("invalid upstream, %w", err)
	}
	if !ap.Addr().Is4() {
		return netip.AddrPort{}, fmt.Errorf("upstream must be an IPv4 address, got [%s]", c.DNS)
	}
	return ap, nil
}

func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Listen, strconv.Itoa(c.Port))
}
