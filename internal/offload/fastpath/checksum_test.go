// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import (
	"encoding/binary"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/checksum"
	"gvisor.dev/gvisor/pkg/tcpip/header"
)

// udpChecksum4 computes a UDP-over-IPv4 checksum from scratch,
// independently of the incremental arithmetic under test.
func udpChecksum4(src, dst [4]byte, srcPort, dstPort uint16, payload []byte) uint16 {
	udp := header.UDP(make([]byte, header.UDPMinimumSize+len(payload)))
	udp.Encode(&header.UDPFields{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(header.UDPMinimumSize + len(payload)),
	})
	copy(udp.Payload(), payload)

	xsum := header.PseudoHeaderChecksum(
		header.UDPProtocolNumber,
		tcpip.AddrFrom4(src),
		tcpip.AddrFrom4(dst),
		udp.Length(),
	)
	xsum = checksum.Checksum(payload, xsum)

	return ^udp.CalculateChecksum(xsum)
}

func udpChecksum6(src, dst [16]byte, srcPort, dstPort uint16, payload []byte) uint16 {
	udp := header.UDP(make([]byte, header.UDPMinimumSize+len(payload)))
	udp.Encode(&header.UDPFields{
		SrcPort: srcPort,
		DstPort: dstPort,
		Length:  uint16(header.UDPMinimumSize + len(payload)),
	})
	copy(udp.Payload(), payload)

	xsum := header.PseudoHeaderChecksum(
		header.UDPProtocolNumber,
		tcpip.AddrFrom16(src),
		tcpip.AddrFrom16(dst),
		udp.Length(),
	)
	xsum = checksum.Checksum(payload, xsum)

	return ^udp.CalculateChecksum(xsum)
}

func TestChecksumUpdate_RecomputeUDPChecksum(t *testing.T) {
	oldSrcIP := [4]byte{172, 28, 0, 100}
	oldDstIP := [4]byte{172, 28, 0, 101}
	oldSrcPort := uint16(45088)
	oldDstPort := uint16(3478)

	stunBody := []byte{
		0x01, 0x01, 0x00, 0x0c, 0x21, 0x12, 0xa4, 0x42,
		0x09, 0x08, 0xaf, 0x7d, 0x45, 0xe8, 0x75, 0x1f,
		0x50, 0x92, 0xd1, 0x67, 0x00, 0x20, 0x00, 0x08,
		0x00, 0x01, 0x44, 0xe0, 0x7a, 0x9f, 0xe4, 0x02,
	}
	channelNumber := uint16(0x4001)
	channelDataLen := uint16(len(stunBody))
	oldPayload := make([]byte, 0, 4+len(stunBody))
	oldPayload = binary.BigEndian.AppendUint16(oldPayload, channelNumber)
	oldPayload = binary.BigEndian.AppendUint16(oldPayload, channelDataLen)
	oldPayload = append(oldPayload, stunBody...)

	oldChecksum := udpChecksum4(oldSrcIP, oldDstIP, oldSrcPort, oldDstPort, oldPayload)

	// The rewritten packet loses the 4-byte framing header and gets new
	// addresses and ports.
	newSrcIP := [4]byte{172, 28, 0, 101}
	newDstIP := [4]byte{172, 28, 0, 105}
	newSrcPort := uint16(4324)
	newDstPort := uint16(59385)

	wantChecksum := udpChecksum4(newSrcIP, newDstIP, newSrcPort, newDstPort, stunBody)

	oldUDPLen := uint16(header.UDPMinimumSize + len(oldPayload))
	newUDPLen := uint16(header.UDPMinimumSize + len(stunBody))

	got := NewChecksumUpdate(oldChecksum).
		RemoveU32(binary.BigEndian.Uint32(oldSrcIP[:])).
		RemoveU32(binary.BigEndian.Uint32(oldDstIP[:])).
		RemoveU16(oldSrcPort).
		RemoveU16(oldDstPort).
		RemoveU16(oldUDPLen).
		RemoveU16(oldUDPLen).
		RemoveU16(channelNumber).
		RemoveU16(channelDataLen).
		AddU32(binary.BigEndian.Uint32(newSrcIP[:])).
		AddU32(binary.BigEndian.Uint32(newDstIP[:])).
		AddU16(newSrcPort).
		AddU16(newDstPort).
		AddU16(newUDPLen).
		AddU16(newUDPLen).
		IntoUDPChecksum()

	assert.Equal(t, wantChecksum, got)
}

func TestChecksumUpdate_MatchesScratchComputation(t *testing.T) {
	rng := rand.New(rand.NewSource(0x7a9f))

	for i := 0; i < 500; i++ {
		payload := make([]byte, 2+rng.Intn(256)*2)
		rng.Read(payload)

		var oldSrc, oldDst, newSrc, newDst [4]byte
		rng.Read(oldSrc[:])
		rng.Read(oldDst[:])
		rng.Read(newSrc[:])
		rng.Read(newDst[:])
		oldSrcPort, oldDstPort := uint16(rng.Uint32()), uint16(rng.Uint32())
		newSrcPort, newDstPort := uint16(rng.Uint32()), uint16(rng.Uint32())

		oldChecksum := udpChecksum4(oldSrc, oldDst, oldSrcPort, oldDstPort, payload)
		want := udpChecksum4(newSrc, newDst, newSrcPort, newDstPort, payload)

		got := NewChecksumUpdate(oldChecksum).
			RemoveU32(binary.BigEndian.Uint32(oldSrc[:])).
			AddU32(binary.BigEndian.Uint32(newSrc[:])).
			RemoveU32(binary.BigEndian.Uint32(oldDst[:])).
			AddU32(binary.BigEndian.Uint32(newDst[:])).
			RemoveU16(oldSrcPort).
			AddU16(newSrcPort).
			RemoveU16(oldDstPort).
			AddU16(newDstPort).
			IntoUDPChecksum()

		assert.Equal(t, want, got, "case %d", i)
	}
}

func TestChecksumUpdate_CrossFamily(t *testing.T) {
	rng := rand.New(rand.NewSource(0x6bd1))

	for i := 0; i < 200; i++ {
		payload := make([]byte, 2+rng.Intn(128)*2)
		rng.Read(payload)

		var oldSrc, oldDst [4]byte
		var newSrc, newDst [16]byte
		rng.Read(oldSrc[:])
		rng.Read(oldDst[:])
		rng.Read(newSrc[:])
		rng.Read(newDst[:])
		srcPort, dstPort := uint16(rng.Uint32()), uint16(rng.Uint32())

		oldChecksum := udpChecksum4(oldSrc, oldDst, srcPort, dstPort, payload)
		want := udpChecksum6(newSrc, newDst, srcPort, dstPort, payload)

		got := NewChecksumUpdate(oldChecksum).
			RemoveU32(binary.BigEndian.Uint32(oldSrc[:])).
			AddU128(newSrc).
			RemoveU32(binary.BigEndian.Uint32(oldDst[:])).
			AddU128(newDst).
			IntoUDPChecksum()

		assert.Equal(t, want, got, "case %d", i)
	}
}

func TestChecksumUpdate_AddUpdateComposes(t *testing.T) {
	var oldSrc, newSrc [4]byte = [4]byte{10, 0, 0, 1}, [4]byte{10, 0, 0, 9}
	payload := []byte{0xde, 0xad, 0xbe, 0xef}

	oldChecksum := udpChecksum4(oldSrc, [4]byte{10, 0, 0, 2}, 1000, 2000, payload)
	want := udpChecksum4(newSrc, [4]byte{10, 0, 0, 2}, 1000, 2000, payload)

	delta := ChecksumUpdate{}.
		RemoveU32(binary.BigEndian.Uint32(oldSrc[:])).
		AddU32(binary.BigEndian.Uint32(newSrc[:]))

	got := NewChecksumUpdate(oldChecksum).AddUpdate(delta).IntoUDPChecksum()

	assert.Equal(t, want, got)
}
