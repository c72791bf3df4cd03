// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package ipnet

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// ListenDualStack opens a UDP socket on [::]:port that accepts both
// IPv6 traffic and IPv4 traffic as 4-in-6 mapped addresses, by
// clearing IPV6_V6ONLY before bind. The OS default for that flag
// varies, so it is set explicitly rather than trusted.
func ListenDualStack(ctx context.Context, port uint16) (net.PacketConn, error) {
	lc := net.ListenConfig{
		Control: func(_, _ string, conn syscall.RawConn) error {
			var sockErr error
			if err := conn.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0)
			}); err != nil {
				return err
			}
			if sockErr != nil {
				return fmt.Errorf("%w: %v", errSetV6Only, sockErr) //nolint:errorlint
			}

			return nil
		},
	}

	return lc.ListenPacket(ctx, "udp6", fmt.Sprintf("[::]:%d", port))
}

// ListenIPv4 opens a plain IPv4 UDP listen socket, the fallback for
// hosts without an IPv6 stack.
func ListenIPv4(ctx context.Context, port uint16) (net.PacketConn, error) {
	var lc net.ListenConfig

	return lc.ListenPacket(ctx, "udp4", fmt.Sprintf("0.0.0.0:%d", port))
}
