// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"errors"
	"net/netip"
	"sync"
)

// MaxEntriesPerMap bounds each of the eight binding maps. With 64-byte
// keys and values this keeps the whole table under 11 MB, matching the
// budget of the kernel-resident variant.
const MaxEntriesPerMap = 0x10000

// ErrTableFull is returned when a binding map reached MaxEntriesPerMap.
var ErrTableFull = errors.New("binding map is full")

// ClientAndChannel identifies relayed traffic on the client side of an
// allocation: the client's observed socket plus the channel number the
// client bound for the peer.
type ClientAndChannel struct {
	Client  netip.AddrPort
	Channel uint16
}

// PortAndPeer identifies relayed traffic on the peer side of an
// allocation: the relay port the allocation owns plus the peer socket.
type PortAndPeer struct {
	AllocationPort uint16
	Peer           netip.AddrPort
}

// Table holds the four bidirectional binding maps, separated by the
// IPv4/IPv6 combination of client and peer so the router can look up a
// packet without inspecting both families.
//
// Writes must come from a single control plane goroutine. Reads take
// a shared lock; a reader racing a writer sees at most a missing entry
// and falls back to the slow path.
type Table struct {
	mu sync.RWMutex

	chanToUDP44 map[ClientAndChannel]PortAndPeer
	chanToUDP66 map[ClientAndChannel]PortAndPeer
	chanToUDP46 map[ClientAndChannel]PortAndPeer
	chanToUDP64 map[ClientAndChannel]PortAndPeer

	udpToChan44 map[PortAndPeer]ClientAndChannel
	udpToChan66 map[PortAndPeer]ClientAndChannel
	udpToChan46 map[PortAndPeer]ClientAndChannel
	udpToChan64 map[PortAndPeer]ClientAndChannel
}

// NewTable returns an empty binding table.
func NewTable() *Table {
	return &Table{
		chanToUDP44: make(map[ClientAndChannel]PortAndPeer),
		chanToUDP66: make(map[ClientAndChannel]PortAndPeer),
		chanToUDP46: make(map[ClientAndChannel]PortAndPeer),
		chanToUDP64: make(map[ClientAndChannel]PortAndPeer),
		udpToChan44: make(map[PortAndPeer]ClientAndChannel),
		udpToChan66: make(map[PortAndPeer]ClientAndChannel),
		udpToChan46: make(map[PortAndPeer]ClientAndChannel),
		udpToChan64: make(map[PortAndPeer]ClientAndChannel),
	}
}

func normalizeAddrPort(a netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(a.Addr().Unmap(), a.Port())
}

func (t *Table) maps(clientIs4, peerIs4 bool) (map[ClientAndChannel]PortAndPeer, map[PortAndPeer]ClientAndChannel) {
	switch {
	case clientIs4 && peerIs4:
		return t.chanToUDP44, t.udpToChan44
	case !clientIs4 && !peerIs4:
		return t.chanToUDP66, t.udpToChan66
	case clientIs4:
		return t.chanToUDP46, t.udpToChan46
	default:
		return t.chanToUDP64, t.udpToChan64
	}
}

// Insert installs both directions of a channel binding.
func (t *Table) Insert(cc ClientAndChannel, pp PortAndPeer) error {
	cc.Client = normalizeAddrPort(cc.Client)
	pp.Peer = normalizeAddrPort(pp.Peer)

	t.mu.Lock()
	defer t.mu.Unlock()

	c2u, u2c := t.maps(cc.Client.Addr().Is4(), pp.Peer.Addr().Is4())
	if _, exists := c2u[cc]; !exists && len(c2u) >= MaxEntriesPerMap {
		return ErrTableFull
	}
	c2u[cc] = pp
	u2c[pp] = cc

	return nil
}

// Remove deletes both directions of a channel binding. Removing a
// binding that is not installed is a no-op.
func (t *Table) Remove(cc ClientAndChannel, pp PortAndPeer) {
	cc.Client = normalizeAddrPort(cc.Client)
	pp.Peer = normalizeAddrPort(pp.Peer)

	t.mu.Lock()
	defer t.mu.Unlock()

	c2u, u2c := t.maps(cc.Client.Addr().Is4(), pp.Peer.Addr().Is4())
	delete(c2u, cc)
	delete(u2c, pp)
}

// GetPortAndPeer resolves client-bound channel data to the peer it must
// be relayed to. The same-family map is consulted first, then the
// cross-family map.
func (t *Table) GetPortAndPeer(cc ClientAndChannel) (PortAndPeer, error) {
	cc.Client = normalizeAddrPort(cc.Client)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if cc.Client.Addr().Is4() {
		if pp, ok := t.chanToUDP44[cc]; ok {
			return pp, nil
		}
		if pp, ok := t.chanToUDP46[cc]; ok {
			return pp, nil
		}
		return PortAndPeer{}, &Error{reason: reasonNoEntry, Missed: "chan4_to_udp"}
	}
	if pp, ok := t.chanToUDP66[cc]; ok {
		return pp, nil
	}
	if pp, ok := t.chanToUDP64[cc]; ok {
		return pp, nil
	}
	return PortAndPeer{}, &Error{reason: reasonNoEntry, Missed: "chan6_to_udp"}
}

// GetClientAndChannel resolves peer traffic arriving on an allocation
// port to the client and channel it belongs to. The same-family map is
// consulted first, then the cross-family map.
func (t *Table) GetClientAndChannel(pp PortAndPeer) (ClientAndChannel, error) {
	pp.Peer = normalizeAddrPort(pp.Peer)

	t.mu.RLock()
	defer t.mu.RUnlock()

	if pp.Peer.Addr().Is4() {
		if cc, ok := t.udpToChan44[pp]; ok {
			return cc, nil
		}
		if cc, ok := t.udpToChan64[pp]; ok {
			return cc, nil
		}
		return ClientAndChannel{}, &Error{reason: reasonNoEntry, Missed: "udp4_to_chan"}
	}
	if cc, ok := t.udpToChan66[pp]; ok {
		return cc, nil
	}
	if cc, ok := t.udpToChan46[pp]; ok {
		return cc, nil
	}
	return ClientAndChannel{}, &Error{reason: reasonNoEntry, Missed: "udp6_to_chan"}
}

// Len returns the number of installed bindings, counting each binding
// once even though it occupies two map entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.chanToUDP44) + len(t.chanToUDP66) + len(t.chanToUDP46) + len(t.chanToUDP64)
}
