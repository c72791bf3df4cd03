// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"errors"
	"net/netip"
	"sync/atomic"

	"github.com/pion/logging"
)

// Verdict is the router's decision for one packet.
type Verdict int

const (
	// VerdictPass hands the packet to the slow path. New flows and
	// anything the fast path does not understand end up here.
	VerdictPass Verdict = iota
	// VerdictTransmit sends the rewritten packet back out.
	VerdictTransmit
	// VerdictDrop discards the packet. Only used when forwarding it
	// would emit an invalid frame.
	VerdictDrop
)

// TURN channel numbers, RFC 8656 Section 12.
const (
	minChannelNumber = 0x4000
	maxChannelNumber = 0x7FFF
)

func (v Verdict) String() string {
	switch v {
	case VerdictPass:
		return "pass"
	case VerdictTransmit:
		return "transmit"
	case VerdictDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// Config carries the addressing the router needs to classify and
// rewrite packets.
type Config struct {
	// ListenPort is the TURN control port. Packets addressed to it are
	// client-bound ChannelData candidates.
	ListenPort uint16

	// AllocationPortLow and AllocationPortHigh delimit the relay's
	// allocation port range. Packets addressed into it are peer-bound
	// UDP candidates.
	AllocationPortLow  uint16
	AllocationPortHigh uint16

	// RelayIPv4 and RelayIPv6 are the relay's public addresses, used
	// as the source of every rewritten packet. An unset address
	// disables rewrites into that family.
	RelayIPv4 netip.Addr
	RelayIPv6 netip.Addr
}

// Router is the fast-path packet hook. It classifies a frame, consults
// the binding table and rewrites the frame in place when a channel
// binding covers the flow.
//
// Route may be called from multiple receive goroutines. Binding table
// writes stay confined to the control plane; a lookup racing a write
// resolves to a miss and the packet takes the slow path.
type Router struct {
	table *Table
	cfg   Config
	log   logging.LeveledLogger

	relayedBytes atomic.Uint64
	drops        [reasonHeadroomExhausted + 1]atomic.Uint64
}

// NewRouter returns a router over table.
func NewRouter(table *Table, cfg Config, log logging.LeveledLogger) *Router {
	return &Router{table: table, cfg: cfg, log: log}
}

// Table returns the binding table this router consults.
func (r *Router) Table() *Table {
	return r.table
}

// Route classifies and, when possible, rewrites pkt in place. The
// returned error explains pass and drop verdicts; it is nil for
// transmit.
func (r *Router) Route(pkt *Packet) (Verdict, error) {
	relayed, err := r.route(pkt)
	if err != nil {
		verdict := VerdictPass

		var fpErr *Error
		if errors.As(err, &fpErr) {
			verdict = fpErr.Verdict()
			r.drops[fpErr.reason].Add(1)
			if fpErr.IsNoEntry() {
				// Expected for flows without a binding.
				r.log.Debugf("fast path miss: %v", err)
				return verdict, err
			}
		}
		if verdict == VerdictDrop {
			r.log.Warnf("fast path dropped packet: %v", err)
		}

		return verdict, err
	}

	r.relayedBytes.Add(uint64(relayed))

	return VerdictTransmit, nil
}

func (r *Router) route(pkt *Packet) (int, error) {
	frame := pkt.Frame()

	eth, err := ParseEthernet(frame, 0)
	if err != nil {
		return 0, err
	}

	var (
		srcIP  netip.Addr
		udpOff int
	)
	switch eth.EtherType() {
	case EtherTypeIPv4:
		ip, err := ParseIPv4(frame, EthernetHeaderLen)
		if err != nil {
			return 0, err
		}
		if ip.Protocol() != protoUDP {
			return 0, &Error{reason: reasonNotUDP}
		}
		srcIP = addrFrom4(ip.Source())
		udpOff = EthernetHeaderLen + IPv4HeaderLen
	case EtherTypeIPv6:
		ip, err := ParseIPv6(frame, EthernetHeaderLen)
		if err != nil {
			return 0, err
		}
		if ip.NextHeader() != protoUDP {
			return 0, &Error{reason: reasonNotUDP}
		}
		srcIP = addrFrom16(ip.Source())
		udpOff = EthernetHeaderLen + IPv6HeaderLen
	default:
		return 0, &Error{reason: reasonNotIP}
	}

	udp, err := ParseUDP(frame, udpOff)
	if err != nil {
		return 0, err
	}
	// The length field is attacker-controlled. Translators plan frame
	// sizes from it, so it must cover the UDP header and fit inside the
	// bytes actually received.
	udpLen := int(udp.Len())
	if udpLen < UDPHeaderLen || udpOff+udpLen > pkt.Len() {
		return 0, &Error{reason: reasonBadUDPLength}
	}

	var payload int
	dstPort := udp.DestinationPort()
	switch {
	case dstPort >= r.cfg.AllocationPortLow && dstPort <= r.cfg.AllocationPortHigh:
		payload = udpLen - UDPHeaderLen
		if err := r.routeFromUDP(pkt, srcIP, udp); err != nil {
			return 0, err
		}
	case dstPort == r.cfg.ListenPort:
		if udpLen < UDPHeaderLen+ChannelDataHeaderLen {
			return 0, &Error{reason: reasonNotAChannelDataMessage}
		}
		payload = udpLen - UDPHeaderLen - ChannelDataHeaderLen
		if err := r.routeFromChannelData(pkt, srcIP, udp, udpOff); err != nil {
			return 0, err
		}
	default:
		return 0, &Error{reason: reasonNotTurn}
	}

	return payload, nil
}

// routeFromUDP relays peer traffic arriving on an allocation port to
// the owning client as a ChannelData frame.
func (r *Router) routeFromUDP(pkt *Packet, srcIP netip.Addr, udp UDPHeader) error {
	pp := PortAndPeer{
		AllocationPort: udp.DestinationPort(),
		Peer:           netip.AddrPortFrom(srcIP, udp.SourcePort()),
	}
	cc, err := r.table.GetClientAndChannel(pp)
	if err != nil {
		return err
	}

	old, err := snapshotHeaders(pkt.Frame(), false)
	if err != nil {
		return err
	}

	return translateToChannel(pkt, &old, cc, r.relayIPFor(cc.Client.Addr()), r.cfg.ListenPort)
}

// routeFromChannelData relays client ChannelData arriving on the
// control port to the bound peer as plain UDP, or hairpins it straight
// to another client of this relay.
func (r *Router) routeFromChannelData(pkt *Packet, srcIP netip.Addr, udp UDPHeader, udpOff int) error {
	cd, err := ParseChannelData(pkt.Frame(), udpOff+UDPHeaderLen)
	if err != nil {
		return err
	}
	number := cd.Number()
	if number < minChannelNumber || number > maxChannelNumber {
		// STUN control traffic also arrives on this port.
		return &Error{reason: reasonNotAChannelDataMessage}
	}
	// GSO aggregates can carry several frames inside one UDP datagram.
	// The slow path deals with those.
	if cd.Length() != udp.Len()-UDPHeaderLen-ChannelDataHeaderLen {
		return &Error{reason: reasonBadChannelDataLength}
	}

	cc := ClientAndChannel{
		Client:  netip.AddrPortFrom(srcIP, udp.SourcePort()),
		Channel: number,
	}
	pp, err := r.table.GetPortAndPeer(cc)
	if err != nil {
		return err
	}

	old, err := snapshotHeaders(pkt.Frame(), true)
	if err != nil {
		return err
	}

	if r.isRelayIP(pp.Peer.Addr()) {
		// The "peer" is another allocation on this relay: traffic that
		// would leave here only to come straight back. Resolve the far
		// client directly and emit its ChannelData frame.
		hairpin := PortAndPeer{
			AllocationPort: pp.Peer.Port(),
			Peer:           netip.AddrPortFrom(pp.Peer.Addr(), pp.AllocationPort),
		}
		farCC, err := r.table.GetClientAndChannel(hairpin)
		if err != nil {
			return err
		}

		return translateToChannel(pkt, &old, farCC, r.relayIPFor(farCC.Client.Addr()), r.cfg.ListenPort)
	}

	return translateToUDP(pkt, &old, pp, r.relayIPFor(pp.Peer.Addr()))
}

func (r *Router) relayIPFor(dst netip.Addr) netip.Addr {
	if dst.Is4() {
		return r.cfg.RelayIPv4
	}
	return r.cfg.RelayIPv6
}

func (r *Router) isRelayIP(ip netip.Addr) bool {
	return ip == r.cfg.RelayIPv4 || ip == r.cfg.RelayIPv6
}

// RelayedBytes returns the number of payload bytes forwarded on the
// fast path since start.
func (r *Router) RelayedBytes() uint64 {
	return r.relayedBytes.Load()
}

// DropStats returns a per-reason count of packets the router could not
// forward, keyed by a stable label.
func (r *Router) DropStats() map[string]uint64 {
	stats := make(map[string]uint64, len(reasonNames))
	for re, name := range reasonNames {
		stats[name] = r.drops[re].Load()
	}
	return stats
}
