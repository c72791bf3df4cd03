// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package fastpath

import "fmt"

type reason int

const (
	reasonNotIP reason = iota
	reasonNotUDP
	reasonIPv4PacketWithOptions
	reasonPacketTooShort
	reasonNotTurn
	reasonBadUDPLength
	reasonNotAChannelDataMessage
	reasonBadChannelDataLength
	reasonNoEntry
	reasonUDPChecksumMissing
	reasonHeadroomExhausted
)

var reasonNames = map[reason]string{
	reasonNotIP:                  "not an IP packet",
	reasonNotUDP:                 "not a UDP packet",
	reasonIPv4PacketWithOptions:  "IPv4 packet with options",
	reasonPacketTooShort:         "packet too short",
	reasonNotTurn:                "not TURN traffic",
	reasonBadUDPLength:           "bad UDP length",
	reasonNotAChannelDataMessage: "not a channel data message",
	reasonBadChannelDataLength:   "bad channel data length",
	reasonNoEntry:                "no routing table entry",
	reasonUDPChecksumMissing:     "UDP checksum missing",
	reasonHeadroomExhausted:      "headroom exhausted",
}

// Error describes why the fast path could not rewrite a packet. Every
// error carries the verdict the router must apply: errors raised before
// any mutation send the packet to the slow path, errors raised once the
// packet can no longer be forwarded safely drop it.
type Error struct {
	reason reason

	// Missed identifies the routing table lookup that failed. Only set
	// when IsNoEntry reports true.
	Missed string
}

func (e *Error) Error() string {
	name, ok := reasonNames[e.reason]
	if !ok {
		name = "unknown"
	}
	if e.Missed != "" {
		return fmt.Sprintf("%s (%s)", name, e.Missed)
	}
	return name
}

// IsNoEntry reports whether the error is a routing table miss. Misses
// are expected for flows that have no channel binding yet.
func (e *Error) IsNoEntry() bool {
	return e.reason == reasonNoEntry
}

// Verdict returns how the router must treat the packet that produced
// this error.
func (e *Error) Verdict() Verdict {
	switch e.reason {
	case reasonBadUDPLength, reasonUDPChecksumMissing, reasonHeadroomExhausted:
		return VerdictDrop
	default:
		return VerdictPass
	}
}

// CounterName returns the stable label the router uses when counting
// this error.
func (e *Error) CounterName() string {
	name, ok := reasonNames[e.reason]
	if !ok {
		return "unknown"
	}
	return name
}
