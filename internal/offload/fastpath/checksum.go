// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package fastpath rewrites relay traffic between plain UDP and
// ChannelData framed UDP without a userspace copy of the payload. It
// holds the routing table consulted on every packet, the header
// accessors and the eight direction translators covering the IPv4/IPv6
// combinations in both directions.
package fastpath

import (
	"encoding/binary"
)

// ChecksumUpdate incrementally updates an Internet checksum.
//
// The Internet checksum is the one's complement of the one's complement
// sum of certain 16-bit words. One's complement arithmetic lets us
// patch an existing checksum for the fields we changed instead of
// summing the whole datagram again:
//
//  1. The one's complement of x is ^x.
//  2. Addition is regular addition, except a carry out of the top bit
//     is added back in at the bottom.
//  3. Subtraction is the addition of the one's complement.
type ChecksumUpdate struct {
	inner uint16
}

// NewChecksumUpdate starts an incremental update of checksum.
func NewChecksumUpdate(checksum uint16) ChecksumUpdate {
	return ChecksumUpdate{inner: ^checksum}
}

// RemoveU16 subtracts a 16-bit word that was covered by the checksum.
func (u ChecksumUpdate) RemoveU16(val uint16) ChecksumUpdate {
	return u.onesComplementAdd(^val)
}

// AddU16 adds a 16-bit word that is now covered by the checksum.
func (u ChecksumUpdate) AddU16(val uint16) ChecksumUpdate {
	return u.onesComplementAdd(val)
}

// RemoveU32 subtracts a 32-bit word, for example an IPv4 address.
func (u ChecksumUpdate) RemoveU32(val uint32) ChecksumUpdate {
	return u.RemoveU16(foldU32(val))
}

// AddU32 adds a 32-bit word.
func (u ChecksumUpdate) AddU32(val uint32) ChecksumUpdate {
	return u.AddU16(foldU32(val))
}

// RemoveU128 subtracts a 128-bit word, for example an IPv6 address.
func (u ChecksumUpdate) RemoveU128(val [16]byte) ChecksumUpdate {
	for i := 0; i < 16; i += 4 {
		u = u.RemoveU32(binary.BigEndian.Uint32(val[i : i+4]))
	}
	return u
}

// AddU128 adds a 128-bit word.
func (u ChecksumUpdate) AddU128(val [16]byte) ChecksumUpdate {
	for i := 0; i < 16; i += 4 {
		u = u.AddU32(binary.BigEndian.Uint32(val[i : i+4]))
	}
	return u
}

// AddUpdate folds another in-progress update into this one.
func (u ChecksumUpdate) AddUpdate(other ChecksumUpdate) ChecksumUpdate {
	return u.AddU16(other.inner)
}

func (u ChecksumUpdate) onesComplementAdd(val uint16) ChecksumUpdate {
	sum := uint32(u.inner) + uint32(val)
	return ChecksumUpdate{inner: uint16(sum&0xffff) + uint16(sum>>16)}
}

// IntoIPChecksum finishes the update for an IPv4 header checksum.
func (u ChecksumUpdate) IntoIPChecksum() uint16 {
	return ^u.inner
}

// IntoUDPChecksum finishes the update for a UDP checksum. UDP transmits
// a computed checksum of zero as 0xFFFF because zero on the wire means
// "no checksum".
func (u ChecksumUpdate) IntoUDPChecksum() uint16 {
	c := ^u.inner
	if c == 0 {
		return 0xffff
	}
	return c
}

func foldU32(csum uint32) uint16 {
	csum = (csum & 0xffff) + (csum >> 16)
	csum = (csum & 0xffff) + (csum >> 16)

	return uint16(csum)
}
