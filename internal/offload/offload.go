// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package offload moves established channel flows off the control
// plane. An Engine mirrors the channel bindings the protocol engine
// creates into a data-path routing table: the XDP engine into kernel
// eBPF maps, the AF_PACKET engine into the in-process fastpath router,
// and the null engine nowhere, leaving all traffic on the slow path.
package offload

import (
	"net/netip"

	"github.com/pion/logging"
)

// Binding is one channel binding as the data path sees it.
type Binding struct {
	Client         netip.AddrPort
	Channel        uint16
	Peer           netip.AddrPort
	AllocationPort uint16
}

// Engine is a fast-path backend. Upsert and Remove are called from the
// control-plane event loop only.
type Engine interface {
	// Name identifies the mechanism ("xdp", "afpacket", "null").
	Name() string

	// Init acquires the engine's resources. An error means the
	// mechanism is unavailable on this host and the next candidate
	// should be probed.
	Init() error

	// Shutdown releases everything Init acquired.
	Shutdown()

	Upsert(b Binding) error
	Remove(b Binding) error

	// Stats returns data-path counters keyed by human-readable name.
	Stats() map[string]uint64
}

// Config carries everything an engine needs to classify traffic.
type Config struct {
	// Interface is the network interface the data path attaches to.
	Interface string

	// ObjectPath points at the compiled XDP ELF object. Empty
	// disables the XDP engine.
	ObjectPath string

	ListenPort         uint16
	AllocationPortLow  uint16
	AllocationPortHigh uint16

	RelayIPv4 netip.Addr
	RelayIPv6 netip.Addr

	LoggerFactory logging.LoggerFactory
}

// Probe initializes the best available engine: xdp, then afpacket,
// then null. It always succeeds because the null engine cannot fail.
func Probe(cfg Config) Engine {
	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	log := loggerFactory.NewLogger("offload")

	for _, engine := range candidates(cfg, log) {
		if err := engine.Init(); err != nil {
			log.Warnf("%s engine unavailable: %v", engine.Name(), err)

			continue
		}
		log.Infof("using %s offload engine", engine.Name())

		return engine
	}

	// Unreachable: the null engine initializes unconditionally.
	null := NewNullEngine(log)
	_ = null.Init()

	return null
}
