// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
)

// handleBindingRequest answers a plain STUN Binding request. The
// response is deliberately minimal: only XOR-MAPPED-ADDRESS, no
// SOFTWARE, no FINGERPRINT, keeping the hot path cheap for clients
// that use the relay as a STUN server.
func (s *Server) handleBindingRequest(m *stun.Message, client netip.AddrPort, _ time.Time) error {
	s.log.Debugf("received binding request from %s", client)

	return s.sendMessage(client,
		buildMsg(m.TransactionID, stun.BindingSuccess, xorAddr(client))...)
}
