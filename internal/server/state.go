// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"net/netip"
	"time"

	"github.com/pion/stun/v3"
)

// allocation is the relay state for one client 5-tuple. A dual-stack
// allocation carries both relay addresses; single-family allocations
// leave the other one invalid.
type allocation struct {
	client    netip.AddrPort
	port      uint16
	expiresAt time.Time

	relayIPv4 netip.Addr
	relayIPv6 netip.Addr

	// permissions maps a peer address to the instant its permission
	// expires.
	permissions map[netip.Addr]time.Time

	// Retransmitted Allocate requests with the transaction ID of the
	// original get the cached success response replayed instead of a
	// 437.
	respTransactionID [stun.TransactionIDSize]byte
	respAttrs         []stun.Setter
}

func (a *allocation) families() []AddressFamily {
	var fams []AddressFamily
	if a.relayIPv4.IsValid() {
		fams = append(fams, FamilyIPv4)
	}
	if a.relayIPv6.IsValid() {
		fams = append(fams, FamilyIPv6)
	}

	return fams
}

// canRelayTo reports whether the allocation has a relay address of the
// peer's family.
func (a *allocation) canRelayTo(peer netip.Addr) bool {
	if peer.Is4() {
		return a.relayIPv4.IsValid()
	}

	return a.relayIPv6.IsValid()
}

// channel is one channel binding. An expired binding lingers unbound
// for channelRebindTimeout so the number cannot be immediately rebound
// to a different peer.
type channel struct {
	expiry         time.Time
	peer           netip.AddrPort
	allocationPort uint16
	bound          bool
}

type chanKey struct {
	client netip.AddrPort
	number uint16
}

type clientPeerKey struct {
	client netip.AddrPort
	peer   netip.AddrPort
}

type portPeerKey struct {
	port uint16
	peer netip.AddrPort
}

type chanRef struct {
	client netip.AddrPort
	number uint16
}

type timerKind uint8

const (
	timerAllocation timerKind = iota
	timerChannel
	timerChannelDelete
	timerPermission
	timerReservation
)

// timerID identifies one pending deadline. Only the fields relevant to
// the kind are set; the zero values keep the struct comparable across
// kinds.
type timerID struct {
	kind   timerKind
	client netip.AddrPort
	number uint16
	peer   netip.Addr
	token  string
}

func allocationTimer(client netip.AddrPort) timerID {
	return timerID{kind: timerAllocation, client: client}
}

func channelTimer(client netip.AddrPort, number uint16) timerID {
	return timerID{kind: timerChannel, client: client, number: number}
}

func channelDeleteTimer(client netip.AddrPort, number uint16) timerID {
	return timerID{kind: timerChannelDelete, client: client, number: number}
}

func permissionTimer(client netip.AddrPort, peer netip.Addr) timerID {
	return timerID{kind: timerPermission, client: client, peer: peer}
}

func reservationTimer(token string) timerID {
	return timerID{kind: timerReservation, token: token}
}

// createChannelBinding installs a fresh binding in all three lookup
// maps and tells the driver to mirror it into the fast path.
func (s *Server) createChannelBinding(
	client netip.AddrPort, number uint16, peer netip.AddrPort, port uint16, now time.Time,
) {
	s.channelsByNumber[chanKey{client: client, number: number}] = &channel{
		expiry:         now.Add(channelBindingLifetime),
		peer:           peer,
		allocationPort: port,
		bound:          true,
	}
	s.numbersByPeer[clientPeerKey{client: client, peer: peer}] = number
	s.clientsByPortPeer[portPeerKey{port: port, peer: peer}] = chanRef{client: client, number: number}

	s.schedule(now.Add(channelBindingLifetime), channelTimer(client, number))

	s.push(CreateChannelBinding{
		Client:         client,
		Channel:        number,
		Peer:           peer,
		AllocationPort: port,
	})
}

// unbindChannel turns a binding inert when its lifetime ends. The
// number stays reserved for the same peer until the rebind cooldown
// passes.
func (s *Server) unbindChannel(client netip.AddrPort, number uint16) {
	key := chanKey{client: client, number: number}
	ch, ok := s.channelsByNumber[key]
	if !ok || !ch.bound {
		return
	}

	ch.bound = false
	delete(s.clientsByPortPeer, portPeerKey{port: ch.allocationPort, peer: ch.peer})

	s.push(DeleteChannelBinding{
		Client:         client,
		Channel:        number,
		Peer:           ch.peer,
		AllocationPort: ch.allocationPort,
	})

	s.schedule(ch.expiry.Add(channelRebindTimeout), channelDeleteTimer(client, number))

	s.log.Debugf("channel 0x%04x of %s expired, unbound for %s", number, client, channelRebindTimeout)
}

// deleteChannel forgets an unbound binding once its rebind cooldown has
// passed, freeing both the number and the peer for new bindings.
func (s *Server) deleteChannel(client netip.AddrPort, number uint16) {
	key := chanKey{client: client, number: number}
	ch, ok := s.channelsByNumber[key]
	if !ok || ch.bound {
		return
	}

	delete(s.channelsByNumber, key)
	delete(s.numbersByPeer, clientPeerKey{client: client, peer: ch.peer})
}

// deleteAllocation tears down an allocation and everything hanging off
// it: channel bindings, permissions, timers and the relay sockets.
func (s *Server) deleteAllocation(alloc *allocation) {
	delete(s.allocations, alloc.client)
	delete(s.clientsByPort, alloc.port)

	for key, ch := range s.channelsByNumber {
		if key.client != alloc.client {
			continue
		}
		if ch.bound {
			delete(s.clientsByPortPeer, portPeerKey{port: ch.allocationPort, peer: ch.peer})
			s.push(DeleteChannelBinding{
				Client:         alloc.client,
				Channel:        key.number,
				Peer:           ch.peer,
				AllocationPort: ch.allocationPort,
			})
		}
		delete(s.channelsByNumber, key)
		delete(s.numbersByPeer, clientPeerKey{client: alloc.client, peer: ch.peer})
		s.unschedule(channelTimer(alloc.client, key.number))
		s.unschedule(channelDeleteTimer(alloc.client, key.number))
	}

	for peer := range alloc.permissions {
		s.unschedule(permissionTimer(alloc.client, peer))
	}
	s.unschedule(allocationTimer(alloc.client))

	for _, fam := range alloc.families() {
		s.push(FreeAllocation{Port: alloc.port, Family: fam})
	}
}

// installPermission creates or refreshes a permission for peer.
func (s *Server) installPermission(alloc *allocation, peer netip.Addr, now time.Time) {
	alloc.permissions[peer] = now.Add(permissionLifetime)
	s.schedule(now.Add(permissionLifetime), permissionTimer(alloc.client, peer))
}

// pickPort chooses a free allocation port. With evenOnly set, only even
// ports whose successor is also free qualify, so the pair can be
// reserved together.
func (s *Server) pickPort(evenOnly bool) (uint16, bool) {
	span := int(s.relayHigh) - int(s.relayLow) + 1

	free := func(port uint16) bool {
		if _, taken := s.clientsByPort[port]; taken {
			return false
		}
		for _, reserved := range s.reservations {
			if reserved == port {
				return false
			}
		}

		return true
	}

	candidateOK := func(port uint16) bool {
		if !free(port) {
			return false
		}
		if evenOnly {
			if port%2 != 0 {
				return false
			}
			if port == s.relayHigh || !free(port+1) {
				return false
			}
		}

		return true
	}

	for attempt := 0; attempt < 128; attempt++ {
		port := s.relayLow + uint16(s.rand.Intn(span))
		if candidateOK(port) {
			return port, true
		}
	}

	// The range is nearly full; fall back to a scan.
	for port := s.relayLow; ; port++ {
		if candidateOK(port) {
			return port, true
		}
		if port == s.relayHigh {
			return 0, false
		}
	}
}
