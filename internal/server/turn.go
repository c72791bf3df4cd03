// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package server

import (
	"encoding/binary"
	"errors"
	"net/netip"
	"time"

	"github.com/pion/stun/v3"

	"github.com/turnpike-io/turnpike/internal/proto"
)

// handleAllocateRequest implements RFC 8656 Section 7.2, extended with
// the RFC 6156 address family attributes.
func (s *Server) handleAllocateRequest(m *stun.Message, client netip.AddrPort, now time.Time) error {
	s.log.Debugf("received allocate request from %s", client)

	integrity, ok := s.authenticate(m, client)
	if !ok {
		return nil
	}

	// 1. A 5-tuple can hold at most one allocation. A retransmission
	//    of the original request replays the cached response; anything
	//    else is a mismatch.
	if alloc, ok := s.allocations[client]; ok {
		if alloc.respTransactionID == m.TransactionID {
			return s.sendMessage(client, append(
				buildMsg(m.TransactionID, stun.NewType(stun.MethodAllocate, stun.ClassSuccessResponse),
					alloc.respAttrs...),
				integrity)...)
		}

		return s.respondError(m, client, stun.CodeAllocMismatch, integrity)
	}

	// 2. The request must ask for a UDP relay.
	var transport proto.RequestedTransport
	if err := transport.GetFrom(m); err != nil {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}
	if transport.Protocol != proto.ProtoUDP {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	// 3. DONT-FRAGMENT is not supported on the relay legs.
	if (proto.DontFragment{}).IsSet(m) {
		unknown := &stun.UnknownAttributes{stun.AttrDontFragment}

		return s.respondError(m, client, stun.CodeUnknownAttribute, unknown, integrity)
	}

	// 4. EVEN-PORT and RESERVATION-TOKEN are mutually exclusive.
	var evenPort proto.EvenPort
	hasEvenPort := evenPort.GetFrom(m) == nil
	var reservationToken proto.ReservationToken
	hasToken := reservationToken.GetFrom(m) == nil
	if hasEvenPort && hasToken {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	// 5. Decide which relay address families this allocation gets.
	relayIPv4, relayIPv6, code := s.deriveRelayAddresses(m)
	if code != 0 {
		return s.respondError(m, client, code, integrity)
	}

	// 6. Pick the relay port: redeem a reservation, or draw a fresh
	//    port from the range.
	var port uint16
	switch {
	case hasToken:
		reserved, ok := s.reservations[string(reservationToken)]
		if !ok {
			return s.respondError(m, client, stun.CodeInsufficientCapacity, integrity)
		}
		delete(s.reservations, string(reservationToken))
		s.unschedule(reservationTimer(string(reservationToken)))
		port = reserved
	default:
		var ok bool
		port, ok = s.pickPort(hasEvenPort)
		if !ok {
			return s.respondError(m, client, stun.CodeInsufficientCapacity, integrity)
		}
	}

	var respToken proto.ReservationToken
	if hasEvenPort && evenPort.ReservePort {
		respToken = s.reservePort(port+1, now)
	}

	lifetime := requestedLifetime(m)

	alloc := &allocation{
		client:            client,
		port:              port,
		expiresAt:         now.Add(lifetime),
		relayIPv4:         relayIPv4,
		relayIPv6:         relayIPv6,
		permissions:       make(map[netip.Addr]time.Time),
		respTransactionID: m.TransactionID,
	}
	s.allocations[client] = alloc
	s.clientsByPort[port] = client
	s.schedule(alloc.expiresAt, allocationTimer(client))

	for _, fam := range alloc.families() {
		s.push(CreateAllocation{Port: port, Family: fam})
	}

	attrs := make([]stun.Setter, 0, 5)
	if relayIPv4.IsValid() {
		attrs = append(attrs, proto.XORRelayedAddress{IP: relayIPv4.AsSlice(), Port: int(port)})
	}
	if relayIPv6.IsValid() {
		attrs = append(attrs, proto.XORRelayedAddress{IP: relayIPv6.AsSlice(), Port: int(port)})
	}
	attrs = append(attrs, proto.Lifetime{Duration: lifetime}, xorAddr(client))
	if respToken != nil {
		attrs = append(attrs, respToken)
	}
	if s.software != "" {
		attrs = append(attrs, stun.NewSoftware(s.software))
	}
	alloc.respAttrs = attrs

	s.log.Infof("allocated port %d for %s, lifetime %s", port, client, lifetime)

	return s.sendMessage(client, append(
		buildMsg(m.TransactionID, stun.NewType(stun.MethodAllocate, stun.ClassSuccessResponse), attrs...),
		integrity)...)
}

// deriveRelayAddresses maps the RFC 6156 / RFC 8656 family attributes
// onto the relay addresses this server can offer. A zero error code
// means success; at least one returned address is then valid.
func (s *Server) deriveRelayAddresses(m *stun.Message) (netip.Addr, netip.Addr, stun.ErrorCode) {
	none := netip.Addr{}

	var requested proto.RequestedAddressFamily
	hasRequested := true
	if err := requested.GetFrom(m); err != nil {
		if !errors.Is(err, stun.ErrAttributeNotFound) {
			return none, none, stun.CodeBadRequest
		}
		hasRequested = false
	}

	var additional proto.AdditionalAddressFamily
	hasAdditional := true
	if err := additional.GetFrom(m); err != nil {
		if !errors.Is(err, stun.ErrAttributeNotFound) {
			// Includes an ADDITIONAL-ADDRESS-FAMILY asking for IPv4,
			// which RFC 8656 Section 7.2 forbids.
			return none, none, stun.CodeBadRequest
		}
		hasAdditional = false
	}

	switch {
	case hasRequested && hasAdditional:
		return none, none, stun.CodeBadRequest
	case hasAdditional:
		// IPv4 plus IPv6 where available; partial fulfillment on a
		// single-stack relay is allowed.
		if s.publicIPv4.IsValid() && s.publicIPv6.IsValid() {
			return s.publicIPv4, s.publicIPv6, 0
		}
		if s.publicIPv4.IsValid() {
			return s.publicIPv4, none, 0
		}

		return none, s.publicIPv6, 0
	case hasRequested && requested == proto.RequestedFamilyIPv6:
		if !s.publicIPv6.IsValid() {
			return none, none, stun.CodeAddrFamilyNotSupported
		}

		return none, s.publicIPv6, 0
	default:
		if !s.publicIPv4.IsValid() {
			return none, none, stun.CodeAddrFamilyNotSupported
		}

		return s.publicIPv4, none, 0
	}
}

// reservePort holds port for a follow-up allocation redeemed with the
// returned RESERVATION-TOKEN.
func (s *Server) reservePort(port uint16, now time.Time) proto.ReservationToken {
	token := make([]byte, 8)
	binary.BigEndian.PutUint64(token, s.rand.Uint64())

	s.reservations[string(token)] = port
	s.schedule(now.Add(reservationLifetime), reservationTimer(string(token)))

	return proto.ReservationToken(token)
}

// handleRefreshRequest implements RFC 8656 Section 8.2. A lifetime of
// zero deletes the allocation.
func (s *Server) handleRefreshRequest(m *stun.Message, client netip.AddrPort, now time.Time) error {
	s.log.Debugf("received refresh request from %s", client)

	integrity, ok := s.authenticate(m, client)
	if !ok {
		return nil
	}

	alloc, ok := s.allocations[client]
	if !ok {
		return s.respondError(m, client, stun.CodeAllocMismatch, integrity)
	}

	var requested proto.Lifetime
	lifetime := proto.DefaultLifetime
	if err := requested.GetFrom(m); err == nil {
		lifetime = requested.Duration
		if lifetime > maximumAllocationLifetime {
			lifetime = maximumAllocationLifetime
		}
	}

	if lifetime == 0 {
		s.log.Infof("deleting allocation %d for %s on request", alloc.port, client)
		s.deleteAllocation(alloc)
	} else {
		alloc.expiresAt = now.Add(lifetime)
		s.schedule(alloc.expiresAt, allocationTimer(client))
	}

	attrs := []stun.Setter{proto.Lifetime{Duration: lifetime}}
	if s.software != "" {
		attrs = append(attrs, stun.NewSoftware(s.software))
	}

	return s.sendMessage(client, append(
		buildMsg(m.TransactionID, stun.NewType(stun.MethodRefresh, stun.ClassSuccessResponse), attrs...),
		integrity)...)
}

// handleCreatePermissionRequest implements RFC 8656 Section 9.2.
func (s *Server) handleCreatePermissionRequest(m *stun.Message, client netip.AddrPort, now time.Time) error {
	s.log.Debugf("received create permission request from %s", client)

	integrity, ok := s.authenticate(m, client)
	if !ok {
		return nil
	}

	alloc, ok := s.allocations[client]
	if !ok {
		return s.respondError(m, client, stun.CodeAllocMismatch, integrity)
	}

	var peerAttr proto.PeerAddress
	if err := peerAttr.GetFrom(m); err != nil {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}
	peer, ok := addrPortFromAttr(peerAttr.IP, peerAttr.Port)
	if !ok {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	if !alloc.canRelayTo(peer.Addr()) {
		return s.respondError(m, client, stun.CodePeerAddrFamilyMismatch, integrity)
	}

	s.installPermission(alloc, peer.Addr(), now)

	attrs := []stun.Setter{}
	if s.software != "" {
		attrs = append(attrs, stun.NewSoftware(s.software))
	}

	return s.sendMessage(client, append(
		buildMsg(m.TransactionID, stun.NewType(stun.MethodCreatePermission, stun.ClassSuccessResponse), attrs...),
		integrity)...)
}

// handleChannelBindRequest implements RFC 8656 Section 12.2. The
// channel number / peer relation must stay bijective per client: a
// peer never carries two numbers, a number never points at two peers,
// and an expired number stays reserved for its old peer for the rebind
// cooldown.
func (s *Server) handleChannelBindRequest(m *stun.Message, client netip.AddrPort, now time.Time) error {
	s.log.Debugf("received channel bind request from %s", client)

	integrity, ok := s.authenticate(m, client)
	if !ok {
		return nil
	}

	alloc, ok := s.allocations[client]
	if !ok {
		return s.respondError(m, client, stun.CodeAllocMismatch, integrity)
	}

	var number proto.ChannelNumber
	if err := number.GetFrom(m); err != nil || !number.Valid() {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	var peerAttr proto.PeerAddress
	if err := peerAttr.GetFrom(m); err != nil {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}
	peer, ok := addrPortFromAttr(peerAttr.IP, peerAttr.Port)
	if !ok {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	if !alloc.canRelayTo(peer.Addr()) {
		return s.respondError(m, client, stun.CodePeerAddrFamilyMismatch, integrity)
	}

	if existing, ok := s.numbersByPeer[clientPeerKey{client: client, peer: peer}]; ok && existing != uint16(number) {
		return s.respondError(m, client, stun.CodeBadRequest, integrity)
	}

	if ch, ok := s.channelsByNumber[chanKey{client: client, number: uint16(number)}]; ok {
		if ch.peer != peer {
			return s.respondError(m, client, stun.CodeBadRequest, integrity)
		}

		// Refresh. A binding inside its rebind cooldown comes back to
		// life here.
		ch.expiry = now.Add(channelBindingLifetime)
		ch.bound = true
		s.clientsByPortPeer[portPeerKey{port: ch.allocationPort, peer: peer}] = chanRef{
			client: client, number: uint16(number),
		}
		s.unschedule(channelDeleteTimer(client, uint16(number)))
		s.schedule(ch.expiry, channelTimer(client, uint16(number)))
		s.push(CreateChannelBinding{
			Client:         client,
			Channel:        uint16(number),
			Peer:           peer,
			AllocationPort: ch.allocationPort,
		})
	} else {
		s.createChannelBinding(client, uint16(number), peer, alloc.port, now)
	}

	// A channel binding implies a permission for the peer.
	s.installPermission(alloc, peer.Addr(), now)

	attrs := []stun.Setter{}
	if s.software != "" {
		attrs = append(attrs, stun.NewSoftware(s.software))
	}

	return s.sendMessage(client, append(
		buildMsg(m.TransactionID, stun.NewType(stun.MethodChannelBind, stun.ClassSuccessResponse), attrs...),
		integrity)...)
}

// handleSendIndication implements RFC 8656 Section 10.1. Indications
// are unauthenticated; an indication that cannot be relayed is
// silently discarded.
func (s *Server) handleSendIndication(m *stun.Message, client netip.AddrPort, now time.Time) error {
	alloc, ok := s.allocations[client]
	if !ok {
		return errNoAllocationFound
	}

	var peerAttr proto.PeerAddress
	if err := peerAttr.GetFrom(m); err != nil {
		return err
	}
	peer, ok := addrPortFromAttr(peerAttr.IP, peerAttr.Port)
	if !ok {
		return errMalformedPeerAddress
	}

	var data proto.Data
	if err := data.GetFrom(m); err != nil {
		return err
	}

	expiry, ok := alloc.permissions[peer.Addr()]
	if !ok || !expiry.After(now) {
		return errNoPermission
	}

	// Ongoing traffic keeps the permission alive.
	s.installPermission(alloc, peer.Addr(), now)

	s.relayedBytes += uint64(len(data))
	s.push(ForwardData{AllocationPort: alloc.port, Peer: peer, Payload: data})

	return nil
}

// handleChannelData relays a client-to-peer ChannelData message,
// RFC 8656 Section 11.5.
func (s *Server) handleChannelData(cd *proto.ChannelData, client netip.AddrPort) error {
	ch, ok := s.channelsByNumber[chanKey{client: client, number: uint16(cd.Number)}]
	if !ok {
		return errNoSuchChannelBind
	}
	if !ch.bound {
		return errChannelUnbound
	}

	s.relayedBytes += uint64(len(cd.Data))
	s.push(ForwardData{AllocationPort: ch.allocationPort, Peer: ch.peer, Payload: cd.Data})

	return nil
}
