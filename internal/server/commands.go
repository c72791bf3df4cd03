// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"net/netip"
	"time"
)

// AddressFamily selects the IP family of a relay socket.
type AddressFamily byte

// Address families, using the STUN attribute encoding from RFC 8656.
const (
	FamilyIPv4 AddressFamily = 0x01
	FamilyIPv6 AddressFamily = 0x02
)

func (f AddressFamily) String() string {
	switch f {
	case FamilyIPv4:
		return "IPv4"
	case FamilyIPv6:
		return "IPv6"
	default:
		return "unknown"
	}
}

// Command is a side effect the Server wants its driver to perform. The
// Server itself does no I/O; the event loop pops Commands via
// NextCommand and executes them.
type Command interface {
	isCommand()
}

// SendMessage delivers payload to a client via the listen socket.
type SendMessage struct {
	Recipient netip.AddrPort
	Payload   []byte
}

// ForwardData delivers payload to a peer via the relay socket bound to
// AllocationPort in the peer's address family.
type ForwardData struct {
	AllocationPort uint16
	Peer           netip.AddrPort
	Payload        []byte
}

// CreateAllocation opens a relay socket on Port for Family. Incoming
// data on it must be handed back via HandlePeerTraffic. A dual-stack
// allocation is expressed as two CreateAllocation commands with the
// same port.
type CreateAllocation struct {
	Port   uint16
	Family AddressFamily
}

// FreeAllocation closes the relay socket opened for (Port, Family).
type FreeAllocation struct {
	Port   uint16
	Family AddressFamily
}

// CreateChannelBinding installs a channel binding into the routing
// table so the fast path can relay the flow without the Server.
type CreateChannelBinding struct {
	Client         netip.AddrPort
	Channel        uint16
	Peer           netip.AddrPort
	AllocationPort uint16
}

// DeleteChannelBinding removes a channel binding from the routing
// table. Emitted synchronously with the binding's expiry so the fast
// path never routes a freed flow.
type DeleteChannelBinding struct {
	Client         netip.AddrPort
	Channel        uint16
	Peer           netip.AddrPort
	AllocationPort uint16
}

// Wake asks the driver to call HandleTimeout no later than Deadline.
// A new Wake supersedes any previous one.
type Wake struct {
	Deadline time.Time
}

func (SendMessage) isCommand()          {}
func (ForwardData) isCommand()          {}
func (CreateAllocation) isCommand()     {}
func (FreeAllocation) isCommand()       {}
func (CreateChannelBinding) isCommand() {}
func (DeleteChannelBinding) isCommand() {}
func (Wake) isCommand()                 {}
