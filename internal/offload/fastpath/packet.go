// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

// Headroom is the number of spare bytes a Packet reserves in front of
// the frame. It must cover the largest head growth any translator
// requests, which is the IPv4-UDP to IPv6-ChannelData rewrite
// (24 bytes: 20 more header, 4 of frame).
const Headroom = 32

// Packet is a raw Ethernet frame with reserved headroom so that
// translators can grow or shrink the header section in place without
// moving the payload.
type Packet struct {
	buf  []byte
	head int
}

// NewPacket copies frame into a fresh buffer with Headroom spare bytes
// in front.
func NewPacket(frame []byte) *Packet {
	buf := make([]byte, Headroom+len(frame))
	copy(buf[Headroom:], frame)

	return &Packet{buf: buf, head: Headroom}
}

// PacketFromBuffer wraps buf, treating everything from head onwards as
// the frame. The caller guarantees buf[:head] is spare headroom. This
// is the zero-copy entry point for receive rings that already reserve
// front space.
func PacketFromBuffer(buf []byte, head int) *Packet {
	return &Packet{buf: buf, head: head}
}

// Frame returns the current frame bytes, starting at the Ethernet
// header.
func (p *Packet) Frame() []byte {
	return p.buf[p.head:]
}

// Len returns the current frame length.
func (p *Packet) Len() int {
	return len(p.buf) - p.head
}

// AdjustHead moves the start of the frame by delta bytes, mirroring the
// semantics of bpf_xdp_adjust_head: a negative delta grows the frame at
// the front, a positive delta shrinks it. The payload does not move;
// only the region available for headers changes.
func (p *Packet) AdjustHead(delta int) error {
	head := p.head + delta
	if head < 0 {
		return &Error{reason: reasonHeadroomExhausted}
	}
	if head > len(p.buf) {
		return &Error{reason: reasonPacketTooShort}
	}
	p.head = head

	return nil
}
