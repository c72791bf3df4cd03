// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package ipnet contains socket helpers around net and IP.
package ipnet

import (
	"net"
	"net/netip"
)

// AddrPort extracts a normalized netip.AddrPort from a net.Addr.
// 4-in-6 mapped addresses come back as plain IPv4 so they compare
// equal across sockets of both families.
func AddrPort(a net.Addr) (netip.AddrPort, error) {
	udpAddr, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}, errNotUDPAddr
	}

	ap := udpAddr.AddrPort()

	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
