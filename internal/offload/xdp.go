// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

//go:build linux

package offload

import (
	"encoding/binary"
	"fmt"
	"net"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/link"
	"github.com/pion/logging"
)

// xdpStatNames indexes the entries of the XDP object's "stats" array
// map. The order matches the counter enum in the XDP program.
var xdpStatNames = []string{ //nolint:gochecknoglobals
	"relayed bytes",
	"not IP",
	"not UDP",
	"no routing table entry",
	"UDP checksum missing",
	"bad ChannelData length",
	"IPv4 options",
}

// XDPEngine attaches a pre-compiled XDP program to the configured
// interface and mirrors channel bindings into its eight routing maps.
// Lookups on the hot path then happen entirely in the kernel; frames
// the program cannot handle fall through (XDP_PASS) to the slow path.
type XDPEngine struct {
	cfg  Config
	coll *ebpf.Collection
	link link.Link
	log  logging.LeveledLogger
}

// NewXDPEngine creates an uninitialized XDP engine.
func NewXDPEngine(cfg Config, log logging.LeveledLogger) *XDPEngine {
	return &XDPEngine{cfg: cfg, log: log}
}

// Name implements Engine.
func (o *XDPEngine) Name() string { return "xdp" }

// Init implements Engine.
func (o *XDPEngine) Init() error {
	if o.cfg.ObjectPath == "" {
		return ErrNoXDPObject
	}
	if o.cfg.Interface == "" {
		return ErrNoInterface
	}
	iface, err := net.InterfaceByName(o.cfg.Interface)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInterface, err) //nolint:errorlint
	}

	spec, err := ebpf.LoadCollectionSpec(o.cfg.ObjectPath)
	if err != nil {
		return err
	}
	coll, err := ebpf.NewCollection(spec)
	if err != nil {
		return err
	}

	prog, ok := coll.Programs["turnpike_router"]
	if !ok {
		coll.Close()

		return ErrMissingProgram
	}
	for _, name := range allRoutingMapNames() {
		if _, ok := coll.Maps[name]; !ok {
			coll.Close()

			return fmt.Errorf("%w: %s", ErrMissingMap, name)
		}
	}

	if err := o.writeRouterConfig(coll); err != nil {
		coll.Close()

		return err
	}

	l, err := link.AttachXDP(link.XDPOptions{
		Program:   prog,
		Interface: iface.Index,
	})
	if err != nil {
		coll.Close()

		return err
	}

	o.coll = coll
	o.link = l
	o.log.Infof("XDP router attached to %s", o.cfg.Interface)

	return nil
}

// writeRouterConfig hands the classification parameters to the XDP
// program through its single-entry "router_config" array map.
func (o *XDPEngine) writeRouterConfig(coll *ebpf.Collection) error {
	cfgMap, ok := coll.Maps["router_config"]
	if !ok {
		return fmt.Errorf("%w: router_config", ErrMissingMap)
	}

	// Layout: listen_port, port_low, port_high (big endian), pad,
	// relay_ipv4, relay_ipv6.
	var value [28]byte
	binary.BigEndian.PutUint16(value[0:2], o.cfg.ListenPort)
	binary.BigEndian.PutUint16(value[2:4], o.cfg.AllocationPortLow)
	binary.BigEndian.PutUint16(value[4:6], o.cfg.AllocationPortHigh)
	if o.cfg.RelayIPv4.IsValid() {
		putAddr(value[8:12], o.cfg.RelayIPv4)
	}
	if o.cfg.RelayIPv6.IsValid() {
		putAddr(value[12:28], o.cfg.RelayIPv6)
	}

	return cfgMap.Put(uint32(0), value)
}

// Shutdown implements Engine.
func (o *XDPEngine) Shutdown() {
	if o.link != nil {
		if err := o.link.Close(); err != nil {
			o.log.Errorf("failed to detach XDP program: %v", err)
		}
		o.link = nil
	}
	if o.coll != nil {
		o.coll.Close()
		o.coll = nil
	}
}

// Upsert implements Engine. Both directions are installed; the
// channel-to-UDP insert goes last so the reverse path never routes a
// flow the forward path does not know yet.
func (o *XDPEngine) Upsert(b Binding) error {
	chanToUDP, udpToChan := o.routingMaps(b)

	cc := encodeClientAndChannel(b.Client, b.Channel)
	pp := encodePortAndPeer(b.AllocationPort, b.Peer)

	if err := udpToChan.Put(pp, cc); err != nil {
		return err
	}

	return chanToUDP.Put(cc, pp)
}

// Remove implements Engine.
func (o *XDPEngine) Remove(b Binding) error {
	chanToUDP, udpToChan := o.routingMaps(b)

	cc := encodeClientAndChannel(b.Client, b.Channel)
	pp := encodePortAndPeer(b.AllocationPort, b.Peer)

	if err := chanToUDP.Delete(cc); err != nil {
		return err
	}

	return udpToChan.Delete(pp)
}

func (o *XDPEngine) routingMaps(b Binding) (*ebpf.Map, *ebpf.Map) {
	chanName, udpName := routingMapNames(b.Client, b.Peer)

	return o.coll.Maps[chanName], o.coll.Maps[udpName]
}

// Stats implements Engine.
func (o *XDPEngine) Stats() map[string]uint64 {
	stats := make(map[string]uint64, len(xdpStatNames))

	statsMap, ok := o.coll.Maps["stats"]
	if !ok {
		return stats
	}
	for i, name := range xdpStatNames {
		var v uint64
		if err := statsMap.Lookup(uint32(i), &v); err != nil { //nolint:gosec // G115
			continue
		}
		stats[name] = v
	}

	return stats
}
