// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package offload

import (
	"encoding/binary"
	"net/netip"
)

// The XDP object and this package share the routing-map layouts: a
// 20-byte key/value holding an address (IPv4 in the first 4 bytes,
// zero padded) and two big-endian 16-bit fields. Ports are stored in
// network byte order so the XDP program compares them against the
// wire without swapping.

type clientAndChannelKey [20]byte

type portAndPeerKey [20]byte

func encodeClientAndChannel(client netip.AddrPort, channel uint16) clientAndChannelKey {
	var k clientAndChannelKey
	putAddr(k[:16], client.Addr())
	binary.BigEndian.PutUint16(k[16:18], client.Port())
	binary.BigEndian.PutUint16(k[18:20], channel)

	return k
}

func encodePortAndPeer(allocationPort uint16, peer netip.AddrPort) portAndPeerKey {
	var k portAndPeerKey
	binary.BigEndian.PutUint16(k[0:2], allocationPort)
	putAddr(k[2:18], peer.Addr())
	binary.BigEndian.PutUint16(k[18:20], peer.Port())

	return k
}

func putAddr(dst []byte, addr netip.Addr) {
	addr = addr.Unmap()
	if addr.Is4() {
		a4 := addr.As4()
		copy(dst, a4[:])

		return
	}
	a16 := addr.As16()
	copy(dst, a16[:])
}

// routingMapNames returns the (channel-to-UDP, UDP-to-channel) map
// pair for a client/peer family combination, mirroring the four-way
// split of the in-process table.
func routingMapNames(client, peer netip.AddrPort) (string, string) {
	client4 := client.Addr().Unmap().Is4()
	peer4 := peer.Addr().Unmap().Is4()

	switch {
	case client4 && peer4:
		return "chan_to_udp_44", "udp_to_chan_44"
	case !client4 && !peer4:
		return "chan_to_udp_66", "udp_to_chan_66"
	case client4:
		return "chan_to_udp_46", "udp_to_chan_46"
	default:
		return "chan_to_udp_64", "udp_to_chan_64"
	}
}

// allRoutingMapNames lists every map the XDP object must export.
func allRoutingMapNames() []string {
	return []string{
		"chan_to_udp_44", "udp_to_chan_44",
		"chan_to_udp_66", "udp_to_chan_66",
		"chan_to_udp_46", "udp_to_chan_46",
		"chan_to_udp_64", "udp_to_chan_64",
	}
}
