// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"net/netip"
	"time"

	"github.com/pion/stun/v3"

	"github.com/turnpike-io/turnpike/internal/proto"
)

func buildMsg(transactionID [stun.TransactionIDSize]byte, msgType stun.MessageType, additional ...stun.Setter) []stun.Setter {
	return append([]stun.Setter{&stun.Message{TransactionID: transactionID}, msgType}, additional...)
}

// sendMessage serializes the attributes and queues the result for the
// driver to put on the wire.
func (s *Server) sendMessage(recipient netip.AddrPort, attrs ...stun.Setter) error {
	msg, err := stun.Build(attrs...)
	if err != nil {
		return err
	}
	s.push(SendMessage{Recipient: recipient, Payload: msg.Raw})

	return nil
}

// respondError sends an error response. TURN errors carry the SOFTWARE
// attribute when one is configured; STUN Binding errors do not.
func (s *Server) respondError(
	m *stun.Message, client netip.AddrPort, code stun.ErrorCode, extra ...stun.Setter,
) error {
	attrs := buildMsg(m.TransactionID,
		stun.NewType(m.Type.Method, stun.ClassErrorResponse),
		&stun.ErrorCodeAttribute{Code: code})
	attrs = append(attrs, extra...)
	if s.software != "" {
		attrs = append(attrs, stun.NewSoftware(s.software))
	}

	return s.sendMessage(client, attrs...)
}

// requestedLifetime clamps the client's LIFETIME wish to the allowed
// maximum, falling back to the default when the attribute is absent.
func requestedLifetime(m *stun.Message) time.Duration {
	var lifetime proto.Lifetime
	if err := lifetime.GetFrom(m); err != nil {
		return proto.DefaultLifetime
	}
	if lifetime.Duration > maximumAllocationLifetime {
		return maximumAllocationLifetime
	}

	return lifetime.Duration
}

func xorAddr(ap netip.AddrPort) *stun.XORMappedAddress {
	return &stun.XORMappedAddress{
		IP:   ap.Addr().Unmap().AsSlice(),
		Port: int(ap.Port()),
	}
}

func addrPortFromAttr(ip []byte, port int) (netip.AddrPort, bool) {
	addr, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.AddrPort{}, false
	}

	return netip.AddrPortFrom(addr.Unmap(), uint16(port)), true
}
