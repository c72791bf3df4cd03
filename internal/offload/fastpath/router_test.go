// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"encoding/binary"
	"net/netip"
	"testing"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gvchecksum "gvisor.dev/gvisor/pkg/tcpip/checksum"
)

var (
	relayIPv4 = netip.MustParseAddr("203.0.113.1")
	relayIPv6 = netip.MustParseAddr("2001:db8:face::1")

	clientMAC = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	relayMAC  = [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()

	cfg := Config{
		ListenPort:         3478,
		AllocationPortLow:  49152,
		AllocationPortHigh: 65535,
		RelayIPv4:          relayIPv4,
		RelayIPv6:          relayIPv6,
	}
	log := logging.NewDefaultLoggerFactory().NewLogger("fastpath")

	return NewRouter(NewTable(), cfg, log)
}

// buildUDPFrame assembles a full Ethernet frame carrying a UDP datagram
// from src to dst. The IP family follows the source address.
func buildUDPFrame(t *testing.T, src, dst netip.AddrPort, payload []byte, zeroChecksum bool) []byte {
	t.Helper()

	udpLen := UDPHeaderLen + len(payload)

	var frame []byte
	var udpOff int
	if src.Addr().Is4() {
		frame = make([]byte, EthernetHeaderLen+IPv4HeaderLen+udpLen)
		udpOff = EthernetHeaderLen + IPv4HeaderLen

		ip := frame[EthernetHeaderLen:udpOff]
		ip[0] = 0x45
		binary.BigEndian.PutUint16(ip[2:4], uint16(IPv4HeaderLen+udpLen))
		binary.BigEndian.PutUint16(ip[4:6], 0x1234)
		binary.BigEndian.PutUint16(ip[6:8], 0x4000) // DF
		ip[8] = 64
		ip[9] = protoUDP
		srcIP, dstIP := src.Addr().As4(), dst.Addr().As4()
		copy(ip[12:16], srcIP[:])
		copy(ip[16:20], dstIP[:])
		binary.BigEndian.PutUint16(ip[10:12], ^gvchecksum.Checksum(ip, 0))

		binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv4)
	} else {
		frame = make([]byte, EthernetHeaderLen+IPv6HeaderLen+udpLen)
		udpOff = EthernetHeaderLen + IPv6HeaderLen

		ip := frame[EthernetHeaderLen:udpOff]
		ip[0] = 6 << 4
		binary.BigEndian.PutUint16(ip[4:6], uint16(udpLen))
		ip[6] = protoUDP
		ip[7] = 64
		srcIP, dstIP := src.Addr().As16(), dst.Addr().As16()
		copy(ip[8:24], srcIP[:])
		copy(ip[24:40], dstIP[:])

		binary.BigEndian.PutUint16(frame[12:14], EtherTypeIPv6)
	}

	copy(frame[0:6], relayMAC[:])
	copy(frame[6:12], clientMAC[:])

	udp := frame[udpOff:]
	binary.BigEndian.PutUint16(udp[0:2], src.Port())
	binary.BigEndian.PutUint16(udp[2:4], dst.Port())
	binary.BigEndian.PutUint16(udp[4:6], uint16(udpLen))
	copy(udp[UDPHeaderLen:], payload)

	if !zeroChecksum {
		if src.Addr().Is4() {
			binary.BigEndian.PutUint16(udp[6:8],
				udpChecksum4(src.Addr().As4(), dst.Addr().As4(), src.Port(), dst.Port(), payload))
		} else {
			binary.BigEndian.PutUint16(udp[6:8],
				udpChecksum6(src.Addr().As16(), dst.Addr().As16(), src.Port(), dst.Port(), payload))
		}
	}

	return frame
}

// channelFramed wraps data in a ChannelData header for number.
func channelFramed(number uint16, data []byte) []byte {
	out := make([]byte, 0, ChannelDataHeaderLen+len(data))
	out = binary.BigEndian.AppendUint16(out, number)
	out = binary.BigEndian.AppendUint16(out, uint16(len(data)))
	return append(out, data...)
}

// checkIPv4Header verifies addressing, length, TTL and the header
// checksum of an outgoing IPv4 packet.
func checkIPv4Header(t *testing.T, frame []byte, src, dst netip.Addr, udpLen int) {
	t.Helper()

	require.Equal(t, EtherTypeIPv4, binary.BigEndian.Uint16(frame[12:14]))
	ip := frame[EthernetHeaderLen : EthernetHeaderLen+IPv4HeaderLen]
	assert.Equal(t, byte(0x45), ip[0])
	assert.Equal(t, uint16(IPv4HeaderLen+udpLen), binary.BigEndian.Uint16(ip[2:4]))
	assert.Equal(t, byte(64), ip[8], "TTL must be preserved")
	assert.Equal(t, byte(protoUDP), ip[9])
	assert.Equal(t, src.As4(), [4]byte(ip[12:16]))
	assert.Equal(t, dst.As4(), [4]byte(ip[16:20]))

	hdr := make([]byte, IPv4HeaderLen)
	copy(hdr, ip)
	hdr[10], hdr[11] = 0, 0
	assert.Equal(t, ^gvchecksum.Checksum(hdr, 0), binary.BigEndian.Uint16(ip[10:12]),
		"IPv4 header checksum")
}

func checkIPv6Header(t *testing.T, frame []byte, src, dst netip.Addr, udpLen int) {
	t.Helper()

	require.Equal(t, EtherTypeIPv6, binary.BigEndian.Uint16(frame[12:14]))
	ip := frame[EthernetHeaderLen : EthernetHeaderLen+IPv6HeaderLen]
	assert.Equal(t, byte(6), ip[0]>>4)
	assert.Equal(t, uint16(udpLen), binary.BigEndian.Uint16(ip[4:6]))
	assert.Equal(t, byte(protoUDP), ip[6])
	assert.Equal(t, byte(64), ip[7], "hop limit must be preserved")
	assert.Equal(t, src.As16(), [16]byte(ip[8:24]))
	assert.Equal(t, dst.As16(), [16]byte(ip[24:40]))
}

func checkUDPHeader(t *testing.T, udp []byte, srcPort, dstPort uint16, payloadLen int) {
	t.Helper()

	assert.Equal(t, srcPort, binary.BigEndian.Uint16(udp[0:2]))
	assert.Equal(t, dstPort, binary.BigEndian.Uint16(udp[2:4]))
	assert.Equal(t, uint16(UDPHeaderLen+payloadLen), binary.BigEndian.Uint16(udp[4:6]))
}

func TestRouter_PeerToClientIPv4(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: peer},
	))

	payload := []byte("hello from peer")
	pkt := NewPacket(buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50000), payload, false))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	wantUDPLen := UDPHeaderLen + ChannelDataHeaderLen + len(payload)
	require.Len(t, frame, EthernetHeaderLen+IPv4HeaderLen+wantUDPLen)

	assert.Equal(t, clientMAC, [6]byte(frame[0:6]), "reply goes back out the way it came in")
	assert.Equal(t, relayMAC, [6]byte(frame[6:12]))
	checkIPv4Header(t, frame, relayIPv4, client.Addr(), wantUDPLen)

	udp := frame[EthernetHeaderLen+IPv4HeaderLen:]
	checkUDPHeader(t, udp, 3478, client.Port(), ChannelDataHeaderLen+len(payload))

	wantPayload := channelFramed(0x4001, payload)
	assert.Equal(t, wantPayload, udp[UDPHeaderLen:])
	assert.Equal(t,
		udpChecksum4(relayIPv4.As4(), client.Addr().As4(), 3478, client.Port(), wantPayload),
		binary.BigEndian.Uint16(udp[6:8]),
		"UDP checksum")

	assert.Equal(t, uint64(len(payload)), router.RelayedBytes())
}

func TestRouter_ClientToPeerIPv4(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: peer},
	))

	data := []byte("hello from client")
	pkt := NewPacket(buildUDPFrame(t,
		client, netip.AddrPortFrom(relayIPv4, 3478), channelFramed(0x4001, data), false))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	wantUDPLen := UDPHeaderLen + len(data)
	require.Len(t, frame, EthernetHeaderLen+IPv4HeaderLen+wantUDPLen)

	checkIPv4Header(t, frame, relayIPv4, peer.Addr(), wantUDPLen)

	udp := frame[EthernetHeaderLen+IPv4HeaderLen:]
	checkUDPHeader(t, udp, 50000, peer.Port(), len(data))
	assert.Equal(t, data, udp[UDPHeaderLen:], "framing header must be stripped")
	assert.Equal(t,
		udpChecksum4(relayIPv4.As4(), peer.Addr().As4(), 50000, peer.Port(), data),
		binary.BigEndian.Uint16(udp[6:8]),
		"UDP checksum")

	assert.Equal(t, uint64(len(data)), router.RelayedBytes())
}

func TestRouter_PeerIPv4ToClientIPv6(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("[2001:db8::2]:5555")
	peer := netip.MustParseAddrPort("198.51.100.8:8888")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4010},
		PortAndPeer{AllocationPort: 50001, Peer: peer},
	))

	payload := []byte("cross family data")
	pkt := NewPacket(buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50001), payload, false))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	wantUDPLen := UDPHeaderLen + ChannelDataHeaderLen + len(payload)
	require.Len(t, frame, EthernetHeaderLen+IPv6HeaderLen+wantUDPLen)

	checkIPv6Header(t, frame, relayIPv6, client.Addr(), wantUDPLen)

	udp := frame[EthernetHeaderLen+IPv6HeaderLen:]
	checkUDPHeader(t, udp, 3478, client.Port(), ChannelDataHeaderLen+len(payload))

	wantPayload := channelFramed(0x4010, payload)
	assert.Equal(t, wantPayload, udp[UDPHeaderLen:])
	assert.Equal(t,
		udpChecksum6(relayIPv6.As16(), client.Addr().As16(), 3478, client.Port(), wantPayload),
		binary.BigEndian.Uint16(udp[6:8]),
		"UDP checksum")
}

func TestRouter_ClientIPv6ToPeerIPv4(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("[2001:db8::2]:5555")
	peer := netip.MustParseAddrPort("198.51.100.8:8888")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4010},
		PortAndPeer{AllocationPort: 50001, Peer: peer},
	))

	data := []byte("cross family reply")
	pkt := NewPacket(buildUDPFrame(t,
		client, netip.AddrPortFrom(relayIPv6, 3478), channelFramed(0x4010, data), false))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	wantUDPLen := UDPHeaderLen + len(data)
	require.Len(t, frame, EthernetHeaderLen+IPv4HeaderLen+wantUDPLen)

	checkIPv4Header(t, frame, relayIPv4, peer.Addr(), wantUDPLen)

	udp := frame[EthernetHeaderLen+IPv4HeaderLen:]
	checkUDPHeader(t, udp, 50001, peer.Port(), len(data))
	assert.Equal(t, data, udp[UDPHeaderLen:])
	assert.Equal(t,
		udpChecksum4(relayIPv4.As4(), peer.Addr().As4(), 50001, peer.Port(), data),
		binary.BigEndian.Uint16(udp[6:8]),
		"UDP checksum")
}

func TestRouter_ZeroChecksumPreservedSameFamily(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: peer},
	))

	pkt := NewPacket(buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50000), []byte("abcd"), true))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	udp := frame[EthernetHeaderLen+IPv4HeaderLen:]
	assert.Equal(t, uint16(0), binary.BigEndian.Uint16(udp[6:8]),
		"the sender sent no checksum, so neither do we")
	checkIPv4Header(t, frame, relayIPv4, client.Addr(),
		UDPHeaderLen+ChannelDataHeaderLen+4)
}

func TestRouter_ZeroChecksumCrossFamilyDrops(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("[2001:db8::2]:5555")
	peer := netip.MustParseAddrPort("198.51.100.8:8888")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4010},
		PortAndPeer{AllocationPort: 50001, Peer: peer},
	))

	pkt := NewPacket(buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50001), []byte("abcd"), true))

	verdict, err := router.Route(pkt)
	require.Error(t, err)
	assert.Equal(t, VerdictDrop, verdict,
		"IPv6 mandates a UDP checksum we cannot produce incrementally")
	assert.Equal(t, uint64(1), router.DropStats()["UDP checksum missing"])
}

func TestRouter_MissPasses(t *testing.T) {
	router := newTestRouter(t)

	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	frame := buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50000), []byte("abcd"), false)
	orig := append([]byte(nil), frame...)
	pkt := NewPacket(frame)

	verdict, err := router.Route(pkt)
	require.Error(t, err)
	assert.Equal(t, VerdictPass, verdict)
	requireNoEntry(t, err)
	assert.Equal(t, orig, pkt.Frame(), "a passed packet must not be touched")
}

func TestRouter_StunOnListenPortPasses(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	// Minimal STUN binding request header. Its leading 0x0001 is below
	// the channel number range.
	stun := make([]byte, 20)
	binary.BigEndian.PutUint16(stun[0:2], 0x0001)
	binary.BigEndian.PutUint32(stun[4:8], 0x2112a442)

	frame := buildUDPFrame(t, client, netip.AddrPortFrom(relayIPv4, 3478), stun, false)
	orig := append([]byte(nil), frame...)
	pkt := NewPacket(frame)

	verdict, err := router.Route(pkt)
	require.Error(t, err)
	assert.Equal(t, VerdictPass, verdict)
	assert.Equal(t, orig, pkt.Frame())
}

func TestRouter_NonTurnPortPasses(t *testing.T) {
	router := newTestRouter(t)

	src := netip.MustParseAddrPort("198.51.100.7:7777")
	pkt := NewPacket(buildUDPFrame(t, src, netip.AddrPortFrom(relayIPv4, 9999), []byte("abcd"), false))

	verdict, err := router.Route(pkt)
	require.Error(t, err)
	assert.Equal(t, VerdictPass, verdict)
}

func TestRouter_IPv4OptionsPass(t *testing.T) {
	router := newTestRouter(t)

	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	frame := buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50000), []byte("abcd"), false)
	frame[EthernetHeaderLen] = 0x46 // IHL 6: 4 bytes of options

	verdict, err := router.Route(NewPacket(frame))
	require.Error(t, err)
	assert.Equal(t, VerdictPass, verdict)
}

func TestRouter_AggregatedChannelDataPasses(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: netip.MustParseAddrPort("198.51.100.7:7777")},
	))

	// Two ChannelData frames coalesced into one datagram, as GSO
	// produces. The first length field no longer matches the datagram.
	payload := append(channelFramed(0x4001, []byte("one1")), channelFramed(0x4001, []byte("two2"))...)
	pkt := NewPacket(buildUDPFrame(t, client, netip.AddrPortFrom(relayIPv4, 3478), payload, false))

	verdict, err := router.Route(pkt)
	require.Error(t, err)
	assert.Equal(t, VerdictPass, verdict)
}

// TestRouter_BogusUDPLengthDrops mangles the UDP length field of a
// bound flow. The field drives frame planning, so trusting it would
// emit garbage framing and wrap the relayed-bytes counter.
func TestRouter_BogusUDPLengthDrops(t *testing.T) {
	router := newTestRouter(t)

	client := netip.MustParseAddrPort("91.141.64.64:26098")
	peer := netip.MustParseAddrPort("198.51.100.7:7777")
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: client, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: peer},
	))

	mangled := func(frame []byte, udpLen uint16) *Packet {
		f := append([]byte{}, frame...)
		binary.BigEndian.PutUint16(f[EthernetHeaderLen+IPv4HeaderLen+4:], udpLen)
		return NewPacket(f)
	}

	fromPeer := buildUDPFrame(t, peer, netip.AddrPortFrom(relayIPv4, 50000), []byte("ping"), false)
	for _, udpLen := range []uint16{0, UDPHeaderLen - 1, UDPHeaderLen + 5, 0xFFFF} {
		verdict, err := router.Route(mangled(fromPeer, udpLen))
		require.Error(t, err, "udp length %d", udpLen)
		require.Equal(t, VerdictDrop, verdict, "udp length %d", udpLen)
	}
	assert.Equal(t, uint64(0), router.RelayedBytes())
	assert.Equal(t, uint64(4), router.DropStats()["bad UDP length"])

	t.Run("truncated channel data passes", func(t *testing.T) {
		fromClient := buildUDPFrame(t,
			client, netip.AddrPortFrom(relayIPv4, 3478), channelFramed(0x4001, []byte("pong")), false)
		// Claims fewer bytes than a ChannelData header needs; the slow
		// path owns the reply, nothing is rewritten.
		verdict, err := router.Route(mangled(fromClient, UDPHeaderLen+ChannelDataHeaderLen-1))
		require.Error(t, err)
		require.Equal(t, VerdictPass, verdict)
		assert.Equal(t, uint64(0), router.RelayedBytes())
	})
}

func TestRouter_Hairpin(t *testing.T) {
	router := newTestRouter(t)

	clientA := netip.MustParseAddrPort("10.0.0.1:1111")
	clientB := netip.MustParseAddrPort("10.0.0.2:2222")

	// A's channel points at B's relayed address and vice versa.
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: clientA, Channel: 0x4001},
		PortAndPeer{AllocationPort: 50000, Peer: netip.AddrPortFrom(relayIPv4, 50001)},
	))
	require.NoError(t, router.Table().Insert(
		ClientAndChannel{Client: clientB, Channel: 0x4002},
		PortAndPeer{AllocationPort: 50001, Peer: netip.AddrPortFrom(relayIPv4, 50000)},
	))

	data := []byte("hairpinned")
	pkt := NewPacket(buildUDPFrame(t,
		clientA, netip.AddrPortFrom(relayIPv4, 3478), channelFramed(0x4001, data), false))

	verdict, err := router.Route(pkt)
	require.NoError(t, err)
	require.Equal(t, VerdictTransmit, verdict)

	frame := pkt.Frame()
	wantUDPLen := UDPHeaderLen + ChannelDataHeaderLen + len(data)
	checkIPv4Header(t, frame, relayIPv4, clientB.Addr(), wantUDPLen)

	udp := frame[EthernetHeaderLen+IPv4HeaderLen:]
	checkUDPHeader(t, udp, 3478, clientB.Port(), ChannelDataHeaderLen+len(data))

	wantPayload := channelFramed(0x4002, data)
	assert.Equal(t, wantPayload, udp[UDPHeaderLen:], "B receives the data on its own channel")
	assert.Equal(t,
		udpChecksum4(relayIPv4.As4(), clientB.Addr().As4(), 3478, clientB.Port(), wantPayload),
		binary.BigEndian.Uint16(udp[6:8]),
		"UDP checksum")
}
