// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"net/netip"
)

// headerSnapshot captures every old header field a translator needs,
// taken before any byte of the packet is mutated. Planning on the
// snapshot and writing in one step afterwards means a failed
// translation never leaves a half-rewritten packet behind.
type headerSnapshot struct {
	ethSrc [6]byte
	ethDst [6]byte

	srcIP netip.Addr
	dstIP netip.Addr
	tos   byte
	ttl   byte

	// IPv4 only, zero otherwise.
	ip4ID       uint16
	ip4Frag     uint16
	ip4Checksum uint16

	udpSrc      uint16
	udpDst      uint16
	udpLen      uint16
	udpChecksum uint16

	// Set when the packet carries a ChannelData frame.
	hasChannelData bool
	chanNumber     uint16
	chanLength     uint16
}

func (s *headerSnapshot) ipHeaderLen() int {
	if s.srcIP.Is4() {
		return IPv4HeaderLen
	}
	return IPv6HeaderLen
}

// snapshotHeaders parses Ethernet, IP and UDP (plus ChannelData when
// withChannelData is set) from the frame and returns the immutable
// snapshot translators plan against.
func snapshotHeaders(frame []byte, withChannelData bool) (headerSnapshot, error) {
	var snap headerSnapshot

	eth, err := ParseEthernet(frame, 0)
	if err != nil {
		return snap, err
	}
	snap.ethSrc = eth.Source()
	snap.ethDst = eth.Destination()

	var ipLen int
	switch eth.EtherType() {
	case EtherTypeIPv4:
		ip, err := ParseIPv4(frame, EthernetHeaderLen)
		if err != nil {
			return snap, err
		}
		if ip.Protocol() != protoUDP {
			return snap, &Error{reason: reasonNotUDP}
		}
		snap.srcIP = addrFrom4(ip.Source())
		snap.dstIP = addrFrom4(ip.Destination())
		snap.tos = ip.TOS()
		snap.ttl = ip.TTL()
		snap.ip4ID = ip.ID()
		snap.ip4Frag = ip.FragmentField()
		snap.ip4Checksum = ip.Checksum()
		ipLen = IPv4HeaderLen
	case EtherTypeIPv6:
		ip, err := ParseIPv6(frame, EthernetHeaderLen)
		if err != nil {
			return snap, err
		}
		if ip.NextHeader() != protoUDP {
			return snap, &Error{reason: reasonNotUDP}
		}
		snap.srcIP = addrFrom16(ip.Source())
		snap.dstIP = addrFrom16(ip.Destination())
		snap.tos = ip.TrafficClass()
		snap.ttl = ip.HopLimit()
		ipLen = IPv6HeaderLen
	default:
		return snap, &Error{reason: reasonNotIP}
	}

	udp, err := ParseUDP(frame, EthernetHeaderLen+ipLen)
	if err != nil {
		return snap, err
	}
	snap.udpSrc = udp.SourcePort()
	snap.udpDst = udp.DestinationPort()
	snap.udpLen = udp.Len()
	snap.udpChecksum = udp.Checksum()

	if withChannelData {
		cd, err := ParseChannelData(frame, EthernetHeaderLen+ipLen+UDPHeaderLen)
		if err != nil {
			return snap, err
		}
		snap.hasChannelData = true
		snap.chanNumber = cd.Number()
		snap.chanLength = cd.Length()
	}

	return snap, nil
}

// translateToChannel rewrites a plain UDP packet from a peer into a
// ChannelData framed packet addressed to the client. relayIP is the
// relay's own address in the client's family and becomes the new IP
// source; listenPort becomes the new UDP source.
func translateToChannel(pkt *Packet, old *headerSnapshot, cc ClientAndChannel, relayIP netip.Addr, listenPort uint16) error {
	newIs4 := cc.Client.Addr().Is4()
	oldIs4 := old.srcIP.Is4()

	// IPv6 mandates a UDP checksum. If the incoming IPv4 packet did not
	// carry one there is nothing to update incrementally, so refuse the
	// cross-family rewrite instead of emitting an invalid packet.
	if old.udpChecksum == 0 && !(oldIs4 && newIs4) {
		return &Error{reason: reasonUDPChecksumMissing}
	}

	newIPLen := IPv6HeaderLen
	if newIs4 {
		newIPLen = IPv4HeaderLen
	}

	// A hairpinned packet already carries a ChannelData header; it only
	// needs the channel number swapped, not the frame grown.
	oldHeaders := old.ipHeaderLen()
	newUDPLen := old.udpLen + ChannelDataHeaderLen
	chanLength := old.udpLen - UDPHeaderLen
	if old.hasChannelData {
		oldHeaders += ChannelDataHeaderLen
		newUDPLen = old.udpLen
		chanLength = old.chanLength
	}
	delta := oldHeaders - (newIPLen + ChannelDataHeaderLen)

	csum := NewChecksumUpdate(old.udpChecksum).
		RemoveU16(old.udpSrc).AddU16(listenPort).
		RemoveU16(old.udpDst).AddU16(cc.Client.Port()).
		RemoveU16(old.udpLen).AddU16(newUDPLen).
		RemoveU16(old.udpLen).AddU16(newUDPLen).
		AddU16(cc.Channel).
		AddU16(chanLength)
	if old.hasChannelData {
		csum = csum.RemoveU16(old.chanNumber).RemoveU16(old.chanLength)
	}
	csum = csum.AddUpdate(pseudoHeaderDelta(old.srcIP, relayIP)).
		AddUpdate(pseudoHeaderDelta(old.dstIP, cc.Client.Addr()))

	if err := pkt.AdjustHead(delta); err != nil {
		return err
	}
	frame := pkt.Frame()

	writeEthernet(frame, old, newIs4)

	if newIs4 {
		writeIPv4(frame, old, relayIP, cc.Client.Addr(), newUDPLen+IPv4HeaderLen, oldIs4)
	} else {
		writeIPv6(frame, old, relayIP, cc.Client.Addr(), newUDPLen)
	}

	udp := UDPHeader{b: frame[EthernetHeaderLen+newIPLen : EthernetHeaderLen+newIPLen+UDPHeaderLen]}
	udp.SetSourcePort(listenPort)
	udp.SetDestinationPort(cc.Client.Port())
	udp.SetLen(newUDPLen)
	if old.udpChecksum == 0 {
		// Zero is valid for UDP over IPv4. We did not compute one, so
		// neither do we now.
		udp.SetChecksum(0)
	} else {
		udp.SetChecksum(csum.IntoUDPChecksum())
	}

	cd := ChannelDataHeader{b: frame[EthernetHeaderLen+newIPLen+UDPHeaderLen : EthernetHeaderLen+newIPLen+UDPHeaderLen+ChannelDataHeaderLen]}
	cd.b[0] = byte(cc.Channel >> 8)
	cd.b[1] = byte(cc.Channel)
	cd.b[2] = byte(chanLength >> 8)
	cd.b[3] = byte(chanLength)

	return nil
}

// translateToUDP strips the ChannelData frame from a client packet and
// rewrites it into plain UDP addressed to the peer. relayIP is the
// relay's own address in the peer's family and becomes the new IP
// source; the allocation port becomes the new UDP source.
func translateToUDP(pkt *Packet, old *headerSnapshot, pp PortAndPeer, relayIP netip.Addr) error {
	newIs4 := pp.Peer.Addr().Is4()
	oldIs4 := old.srcIP.Is4()

	if old.udpChecksum == 0 && !(oldIs4 && newIs4) {
		return &Error{reason: reasonUDPChecksumMissing}
	}

	newIPLen := IPv6HeaderLen
	if newIs4 {
		newIPLen = IPv4HeaderLen
	}
	delta := old.ipHeaderLen() + ChannelDataHeaderLen - newIPLen

	newUDPLen := old.udpLen - ChannelDataHeaderLen

	csum := NewChecksumUpdate(old.udpChecksum).
		RemoveU16(old.udpSrc).AddU16(pp.AllocationPort).
		RemoveU16(old.udpDst).AddU16(pp.Peer.Port()).
		RemoveU16(old.udpLen).AddU16(newUDPLen).
		RemoveU16(old.udpLen).AddU16(newUDPLen).
		RemoveU16(old.chanNumber).
		RemoveU16(old.chanLength)
	csum = csum.AddUpdate(pseudoHeaderDelta(old.srcIP, relayIP)).
		AddUpdate(pseudoHeaderDelta(old.dstIP, pp.Peer.Addr()))

	if err := pkt.AdjustHead(delta); err != nil {
		return err
	}
	frame := pkt.Frame()

	writeEthernet(frame, old, newIs4)

	if newIs4 {
		writeIPv4(frame, old, relayIP, pp.Peer.Addr(), newUDPLen+IPv4HeaderLen, oldIs4)
	} else {
		writeIPv6(frame, old, relayIP, pp.Peer.Addr(), newUDPLen)
	}

	udp := UDPHeader{b: frame[EthernetHeaderLen+newIPLen : EthernetHeaderLen+newIPLen+UDPHeaderLen]}
	udp.SetSourcePort(pp.AllocationPort)
	udp.SetDestinationPort(pp.Peer.Port())
	udp.SetLen(newUDPLen)
	if old.udpChecksum == 0 {
		udp.SetChecksum(0)
	} else {
		udp.SetChecksum(csum.IntoUDPChecksum())
	}

	return nil
}

// pseudoHeaderDelta returns the UDP checksum change caused by swapping
// one pseudo header address for another, possibly across families.
func pseudoHeaderDelta(oldAddr, newAddr netip.Addr) ChecksumUpdate {
	var u ChecksumUpdate
	if oldAddr.Is4() {
		a := oldAddr.As4()
		u = u.RemoveU32(uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3]))
	} else {
		u = u.RemoveU128(oldAddr.As16())
	}
	if newAddr.Is4() {
		a := newAddr.As4()
		u = u.AddU32(uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3]))
	} else {
		u = u.AddU128(newAddr.As16())
	}
	return u
}

// writeEthernet writes the new Ethernet header: MACs swapped, the
// EtherType matching the new IP family.
func writeEthernet(frame []byte, old *headerSnapshot, newIs4 bool) {
	eth := EthernetHeader{b: frame[:EthernetHeaderLen]}
	eth.SetDestination(old.ethSrc)
	eth.SetSource(old.ethDst)
	if newIs4 {
		eth.SetEtherType(EtherTypeIPv4)
	} else {
		eth.SetEtherType(EtherTypeIPv6)
	}
}

// writeIPv4 writes the new IPv4 header. When the old packet was IPv4
// too, the header checksum is patched incrementally from the old one;
// otherwise it is summed from scratch.
func writeIPv4(frame []byte, old *headerSnapshot, src, dst netip.Addr, totalLen uint16, oldIs4 bool) {
	ip := IPv4Header{b: frame[EthernetHeaderLen : EthernetHeaderLen+IPv4HeaderLen]}
	ip.SetVersionIHL()
	ip.SetTOS(old.tos)
	binaryPutUint16(ip.b[2:4], totalLen)
	ip.SetID(old.ip4ID)
	ip.SetFragmentField(old.ip4Frag)
	ip.SetTTL(old.ttl)
	ip.SetProtocol(protoUDP)
	s := src.As4()
	d := dst.As4()
	copy(ip.b[12:16], s[:])
	copy(ip.b[16:20], d[:])

	if oldIs4 {
		oldSrc := old.srcIP.As4()
		oldDst := old.dstIP.As4()
		// The ChannelData frame lives inside the UDP payload, so the
		// old UDP length already covers it.
		oldTotal := old.udpLen + IPv4HeaderLen
		ip.SetChecksum(
			NewChecksumUpdate(old.ip4Checksum).
				RemoveU32(beUint32(oldSrc)).AddU32(beUint32(s)).
				RemoveU32(beUint32(oldDst)).AddU32(beUint32(d)).
				RemoveU16(oldTotal).AddU16(totalLen).
				IntoIPChecksum(),
		)
	} else {
		ip.SetChecksum(0)
		ip.SetChecksum(ip.ComputeChecksum())
	}
}

// writeIPv6 writes the new IPv6 header.
func writeIPv6(frame []byte, old *headerSnapshot, src, dst netip.Addr, payloadLen uint16) {
	ip := IPv6Header{b: frame[EthernetHeaderLen : EthernetHeaderLen+IPv6HeaderLen]}
	ip.SetVersionClassFlow(old.tos)
	binaryPutUint16(ip.b[4:6], payloadLen)
	ip.SetNextHeader(protoUDP)
	ip.SetHopLimit(old.ttl)
	s := src.As16()
	d := dst.As16()
	copy(ip.b[8:24], s[:])
	copy(ip.b[24:40], d[:])
}

func beUint32(a [4]byte) uint32 {
	return uint32(a[0])<<24 | uint32(a[1])<<16 | uint32(a[2])<<8 | uint32(a[3])
}

func binaryPutUint16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}
