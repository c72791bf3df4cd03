// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"encoding/binary"
	"net/netip"
)

// Header lengths in bytes. The fast path only ever deals in these
// fixed sizes; an IPv4 header with options is rejected at parse time.
const (
	EthernetHeaderLen    = 14
	IPv4HeaderLen        = 20
	IPv6HeaderLen        = 40
	UDPHeaderLen         = 8
	ChannelDataHeaderLen = 4
)

// EtherType values understood by the router.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeIPv6 uint16 = 0x86DD
)

// IP protocol number for UDP.
const protoUDP = 17

// EthernetHeader is a view over an Ethernet II header.
type EthernetHeader struct {
	b []byte
}

// ParseEthernet returns a view over the Ethernet header at offset.
func ParseEthernet(buf []byte, offset int) (EthernetHeader, error) {
	if len(buf) < offset+EthernetHeaderLen {
		return EthernetHeader{}, &Error{reason: reasonPacketTooShort}
	}
	return EthernetHeader{b: buf[offset : offset+EthernetHeaderLen]}, nil
}

// Destination returns the destination MAC address.
func (h EthernetHeader) Destination() [6]byte { return [6]byte(h.b[0:6]) }

// Source returns the source MAC address.
func (h EthernetHeader) Source() [6]byte { return [6]byte(h.b[6:12]) }

// EtherType returns the EtherType field.
func (h EthernetHeader) EtherType() uint16 { return binary.BigEndian.Uint16(h.b[12:14]) }

// SetDestination writes the destination MAC address.
func (h EthernetHeader) SetDestination(mac [6]byte) { copy(h.b[0:6], mac[:]) }

// SetSource writes the source MAC address.
func (h EthernetHeader) SetSource(mac [6]byte) { copy(h.b[6:12], mac[:]) }

// SetEtherType writes the EtherType field.
func (h EthernetHeader) SetEtherType(t uint16) { binary.BigEndian.PutUint16(h.b[12:14], t) }

// IPv4Header is a view over a 20-byte IPv4 header. Packets carrying
// IP options do not parse; the slow path handles them.
type IPv4Header struct {
	b []byte
}

// ParseIPv4 returns a view over the IPv4 header at offset.
func ParseIPv4(buf []byte, offset int) (IPv4Header, error) {
	if len(buf) < offset+IPv4HeaderLen {
		return IPv4Header{}, &Error{reason: reasonPacketTooShort}
	}
	h := IPv4Header{b: buf[offset : offset+IPv4HeaderLen]}
	if h.b[0]>>4 != 4 {
		return IPv4Header{}, &Error{reason: reasonNotIP}
	}
	if h.b[0]&0x0f != 5 {
		return IPv4Header{}, &Error{reason: reasonIPv4PacketWithOptions}
	}
	return h, nil
}

// TOS returns the type-of-service byte (DSCP and ECN).
func (h IPv4Header) TOS() byte { return h.b[1] }

// TotalLen returns the total length field.
func (h IPv4Header) TotalLen() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }

// ID returns the fragment identification field.
func (h IPv4Header) ID() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }

// FragmentField returns flags and fragment offset as one 16-bit word.
func (h IPv4Header) FragmentField() uint16 { return binary.BigEndian.Uint16(h.b[6:8]) }

// TTL returns the time-to-live field.
func (h IPv4Header) TTL() byte { return h.b[8] }

// Protocol returns the IP protocol number.
func (h IPv4Header) Protocol() byte { return h.b[9] }

// Checksum returns the header checksum.
func (h IPv4Header) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[10:12]) }

// Source returns the source address.
func (h IPv4Header) Source() [4]byte { return [4]byte(h.b[12:16]) }

// Destination returns the destination address.
func (h IPv4Header) Destination() [4]byte { return [4]byte(h.b[16:20]) }

// SetVersionIHL writes version 4 with the fixed 20-byte header length.
func (h IPv4Header) SetVersionIHL() { h.b[0] = 0x45 }

// SetTOS writes the type-of-service byte.
func (h IPv4Header) SetTOS(tos byte) { h.b[1] = tos }

// SetTotalLen writes the total length field and returns the checksum
// delta of the change.
func (h IPv4Header) SetTotalLen(l uint16) ChecksumUpdate {
	old := h.TotalLen()
	binary.BigEndian.PutUint16(h.b[2:4], l)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(l)
}

// SetID writes the fragment identification field.
func (h IPv4Header) SetID(id uint16) { binary.BigEndian.PutUint16(h.b[4:6], id) }

// SetFragmentField writes flags and fragment offset.
func (h IPv4Header) SetFragmentField(f uint16) { binary.BigEndian.PutUint16(h.b[6:8], f) }

// SetTTL writes the time-to-live field.
func (h IPv4Header) SetTTL(ttl byte) { h.b[8] = ttl }

// SetProtocol writes the IP protocol number.
func (h IPv4Header) SetProtocol(p byte) { h.b[9] = p }

// SetChecksum writes the header checksum.
func (h IPv4Header) SetChecksum(c uint16) { binary.BigEndian.PutUint16(h.b[10:12], c) }

// SetSource writes the source address and returns the checksum delta
// of the change.
func (h IPv4Header) SetSource(a [4]byte) ChecksumUpdate {
	old := h.Source()
	copy(h.b[12:16], a[:])

	return ChecksumUpdate{}.
		RemoveU32(binary.BigEndian.Uint32(old[:])).
		AddU32(binary.BigEndian.Uint32(a[:]))
}

// SetDestination writes the destination address and returns the
// checksum delta of the change.
func (h IPv4Header) SetDestination(a [4]byte) ChecksumUpdate {
	old := h.Destination()
	copy(h.b[16:20], a[:])

	return ChecksumUpdate{}.
		RemoveU32(binary.BigEndian.Uint32(old[:])).
		AddU32(binary.BigEndian.Uint32(a[:]))
}

// ComputeChecksum sums the header from scratch with the checksum field
// treated as zero.
func (h IPv4Header) ComputeChecksum() uint16 {
	var sum uint32
	for i := 0; i < IPv4HeaderLen; i += 2 {
		if i == 10 { // checksum field
			continue
		}
		sum += uint32(binary.BigEndian.Uint16(h.b[i : i+2]))
	}
	for sum > 0xffff {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return ^uint16(sum)
}

// IPv6Header is a view over a 40-byte IPv6 header.
type IPv6Header struct {
	b []byte
}

// ParseIPv6 returns a view over the IPv6 header at offset.
func ParseIPv6(buf []byte, offset int) (IPv6Header, error) {
	if len(buf) < offset+IPv6HeaderLen {
		return IPv6Header{}, &Error{reason: reasonPacketTooShort}
	}
	h := IPv6Header{b: buf[offset : offset+IPv6HeaderLen]}
	if h.b[0]>>4 != 6 {
		return IPv6Header{}, &Error{reason: reasonNotIP}
	}
	return h, nil
}

// TrafficClass returns the traffic class byte (DSCP and ECN).
func (h IPv6Header) TrafficClass() byte {
	return h.b[0]<<4 | h.b[1]>>4
}

// PayloadLen returns the payload length field.
func (h IPv6Header) PayloadLen() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }

// NextHeader returns the next header field.
func (h IPv6Header) NextHeader() byte { return h.b[6] }

// HopLimit returns the hop limit field.
func (h IPv6Header) HopLimit() byte { return h.b[7] }

// Source returns the source address.
func (h IPv6Header) Source() [16]byte { return [16]byte(h.b[8:24]) }

// Destination returns the destination address.
func (h IPv6Header) Destination() [16]byte { return [16]byte(h.b[24:40]) }

// SetVersionClassFlow writes version 6, the traffic class and a zero
// flow label.
func (h IPv6Header) SetVersionClassFlow(trafficClass byte) {
	h.b[0] = 6<<4 | trafficClass>>4
	h.b[1] = trafficClass << 4
	h.b[2] = 0
	h.b[3] = 0
}

// SetPayloadLen writes the payload length field and returns the
// checksum delta of the change.
func (h IPv6Header) SetPayloadLen(l uint16) ChecksumUpdate {
	old := h.PayloadLen()
	binary.BigEndian.PutUint16(h.b[4:6], l)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(l)
}

// SetNextHeader writes the next header field.
func (h IPv6Header) SetNextHeader(p byte) { h.b[6] = p }

// SetHopLimit writes the hop limit field.
func (h IPv6Header) SetHopLimit(l byte) { h.b[7] = l }

// SetSource writes the source address and returns the checksum delta
// of the change.
func (h IPv6Header) SetSource(a [16]byte) ChecksumUpdate {
	old := h.Source()
	copy(h.b[8:24], a[:])

	return ChecksumUpdate{}.RemoveU128(old).AddU128(a)
}

// SetDestination writes the destination address and returns the
// checksum delta of the change.
func (h IPv6Header) SetDestination(a [16]byte) ChecksumUpdate {
	old := h.Destination()
	copy(h.b[24:40], a[:])

	return ChecksumUpdate{}.RemoveU128(old).AddU128(a)
}

// UDPHeader is a view over an 8-byte UDP header.
type UDPHeader struct {
	b []byte
}

// ParseUDP returns a view over the UDP header at offset.
func ParseUDP(buf []byte, offset int) (UDPHeader, error) {
	if len(buf) < offset+UDPHeaderLen {
		return UDPHeader{}, &Error{reason: reasonPacketTooShort}
	}
	return UDPHeader{b: buf[offset : offset+UDPHeaderLen]}, nil
}

// SourcePort returns the source port.
func (h UDPHeader) SourcePort() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }

// DestinationPort returns the destination port.
func (h UDPHeader) DestinationPort() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }

// Len returns the UDP length field, header included.
func (h UDPHeader) Len() uint16 { return binary.BigEndian.Uint16(h.b[4:6]) }

// Checksum returns the UDP checksum. Zero means the sender did not
// compute one, which IPv4 permits.
func (h UDPHeader) Checksum() uint16 { return binary.BigEndian.Uint16(h.b[6:8]) }

// SetSourcePort writes the source port and returns the checksum delta
// of the change.
func (h UDPHeader) SetSourcePort(p uint16) ChecksumUpdate {
	old := h.SourcePort()
	binary.BigEndian.PutUint16(h.b[0:2], p)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(p)
}

// SetDestinationPort writes the destination port and returns the
// checksum delta of the change.
func (h UDPHeader) SetDestinationPort(p uint16) ChecksumUpdate {
	old := h.DestinationPort()
	binary.BigEndian.PutUint16(h.b[2:4], p)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(p)
}

// SetLen writes the UDP length field and returns the checksum delta of
// the change. The length is covered twice, once as a header field and
// once in the pseudo header.
func (h UDPHeader) SetLen(l uint16) ChecksumUpdate {
	old := h.Len()
	binary.BigEndian.PutUint16(h.b[4:6], l)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(l).RemoveU16(old).AddU16(l)
}

// SetChecksum writes the UDP checksum.
func (h UDPHeader) SetChecksum(c uint16) { binary.BigEndian.PutUint16(h.b[6:8], c) }

// ChannelDataHeader is a view over the 4-byte TURN ChannelData framing
// header. It has no checksum of its own; the bytes it adds or removes
// show up only in the UDP checksum.
type ChannelDataHeader struct {
	b []byte
}

// ParseChannelData returns a view over the ChannelData header at
// offset.
func ParseChannelData(buf []byte, offset int) (ChannelDataHeader, error) {
	if len(buf) < offset+ChannelDataHeaderLen {
		return ChannelDataHeader{}, &Error{reason: reasonPacketTooShort}
	}
	return ChannelDataHeader{b: buf[offset : offset+ChannelDataHeaderLen]}, nil
}

// Number returns the channel number.
func (h ChannelDataHeader) Number() uint16 { return binary.BigEndian.Uint16(h.b[0:2]) }

// Length returns the application data length.
func (h ChannelDataHeader) Length() uint16 { return binary.BigEndian.Uint16(h.b[2:4]) }

// SetNumber writes the channel number and returns the checksum delta
// this contributes to the UDP checksum.
func (h ChannelDataHeader) SetNumber(n uint16) ChecksumUpdate {
	old := h.Number()
	binary.BigEndian.PutUint16(h.b[0:2], n)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(n)
}

// SetLength writes the application data length and returns the
// checksum delta this contributes to the UDP checksum.
func (h ChannelDataHeader) SetLength(l uint16) ChecksumUpdate {
	old := h.Length()
	binary.BigEndian.PutUint16(h.b[2:4], l)

	return ChecksumUpdate{}.RemoveU16(old).AddU16(l)
}

// addrFrom4 converts a raw IPv4 address to netip form.
func addrFrom4(a [4]byte) netip.Addr { return netip.AddrFrom4(a) }

// addrFrom16 converts a raw IPv6 address to netip form.
func addrFrom16(a [16]byte) netip.Addr { return netip.AddrFrom16(a) }
