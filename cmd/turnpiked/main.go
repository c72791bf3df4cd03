// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Command turnpiked runs a TURN relay configured from a YAML file.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/pion/logging"
	"gopkg.in/yaml.v3"

	"github.com/turnpike-io/turnpike"
	"github.com/turnpike-io/turnpike/internal/profiling"
)

type fileConfig struct {
	Realm      string `yaml:"realm"`
	ListenPort uint16 `yaml:"listen_port"`
	PublicIPv4 string `yaml:"public_ipv4"`
	PublicIPv6 string `yaml:"public_ipv6"`

	RelayPortLow  uint16 `yaml:"relay_port_low"`
	RelayPortHigh uint16 `yaml:"relay_port_high"`

	// Users maps usernames to cleartext passwords. Keys are derived at
	// startup, passwords are not kept in memory afterwards.
	Users map[string]string `yaml:"users"`

	// AuthSecret enables time-windowed credentials instead of a static
	// user table. Mutually exclusive with Users.
	AuthSecret string `yaml:"auth_secret"`

	CompactNonces bool   `yaml:"compact_nonces"`
	Software      string `yaml:"software"`

	OffloadInterface string `yaml:"offload_interface"`
	XDPObjectPath    string `yaml:"xdp_object"`

	// TraceFile enables a runtime/trace capture in builds made with
	// the debug tag. Ignored otherwise.
	TraceFile string `yaml:"trace_file"`
}

func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	raw, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}

	if cfg.Realm == "" {
		return cfg, fmt.Errorf("%s: realm is required", path)
	}
	if len(cfg.Users) == 0 && cfg.AuthSecret == "" {
		return cfg, fmt.Errorf("%s: either users or auth_secret is required", path)
	}
	if len(cfg.Users) > 0 && cfg.AuthSecret != "" {
		return cfg, fmt.Errorf("%s: users and auth_secret are mutually exclusive", path)
	}
	if cfg.PublicIPv4 == "" && cfg.PublicIPv6 == "" {
		return cfg, fmt.Errorf("%s: public_ipv4 or public_ipv6 is required", path)
	}

	return cfg, nil
}

func parseAddr(value, field string) (netip.Addr, error) {
	if value == "" {
		return netip.Addr{}, nil
	}

	addr, err := netip.ParseAddr(value)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("%s: %w", field, err)
	}

	return addr, nil
}

func main() {
	configPath := flag.String("config", "/etc/turnpike/turnpiked.yaml", "Path to the configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	publicIPv4, err := parseAddr(cfg.PublicIPv4, "public_ipv4")
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	publicIPv6, err := parseAddr(cfg.PublicIPv6, "public_ipv6")
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()

	if cfg.TraceFile != "" {
		prof := profiling.New(cfg.TraceFile, loggerFactory.NewLogger("trace"))
		defer prof.Close()
	}

	var authHandler turnpike.AuthHandler
	if cfg.AuthSecret != "" {
		authHandler = turnpike.NewTimeWindowedAuthHandler(
			cfg.AuthSecret, cfg.Realm, loggerFactory.NewLogger("auth"))
	} else {
		keys := make(map[string][]byte, len(cfg.Users))
		for username, password := range cfg.Users {
			keys[username] = turnpike.GenerateAuthKey(username, cfg.Realm, password)
		}
		authHandler = func(username, realm string, _ netip.AddrPort) ([]byte, bool) {
			if realm != cfg.Realm {
				return nil, false
			}
			key, ok := keys[username]

			return key, ok
		}
	}

	srv, err := turnpike.NewServer(turnpike.ServerConfig{
		Realm:            cfg.Realm,
		Software:         cfg.Software,
		PublicIPv4:       publicIPv4,
		PublicIPv6:       publicIPv6,
		ListenPort:       cfg.ListenPort,
		RelayPortLow:     cfg.RelayPortLow,
		RelayPortHigh:    cfg.RelayPortHigh,
		AuthHandler:      authHandler,
		CompactNonces:    cfg.CompactNonces,
		OffloadInterface: cfg.OffloadInterface,
		XDPObjectPath:    cfg.XDPObjectPath,
		LoggerFactory:    loggerFactory,
	})
	if err != nil {
		log.Fatalf("failed to start server: %v", err)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs

	if err := srv.Close(); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
