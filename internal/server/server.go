// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package server implements the TURN protocol state machine. It is
// sans-IO: bytes and the current time go in, state changes happen, and
// side effects come back out as Commands for the event loop to execute.
package server

import (
	"net/netip"
	"time"

	"github.com/pion/logging"
	"github.com/pion/randutil"
	"github.com/pion/stun/v3"

	"github.com/turnpike-io/turnpike/internal/proto"
	"github.com/turnpike-io/turnpike/internal/timeevents"
)

const (
	// RFC 8656 Section 3.2.
	maximumAllocationLifetime = time.Hour

	// RFC 8656 Section 9.
	permissionLifetime = 5 * time.Minute

	// RFC 8656 Section 12.
	channelBindingLifetime = 10 * time.Minute

	// RFC 8656 Section 12 forbids rebinding an expired channel number
	// to a different peer (and vice versa) for another 5 minutes.
	channelRebindTimeout = 5 * time.Minute

	// RFC 8656 Section 7.2: a reserved even/odd port pair is held for
	// 30 seconds.
	reservationLifetime = 30 * time.Second
)

// AuthHandler resolves a long-term credential to its MESSAGE-INTEGRITY
// key (MD5 of username:realm:password, per RFC 5389 Section 15.4).
type AuthHandler func(username, realm string, client netip.AddrPort) (key []byte, ok bool)

// Config configures a Server.
type Config struct {
	// Realm is the authentication realm announced in 401 challenges.
	Realm string

	// Software, when non-empty, is added as a SOFTWARE attribute to
	// TURN responses.
	Software string

	// PublicIPv4 and PublicIPv6 are the relay's public addresses.
	// At least one must be set; allocations are only handed out for
	// the families that are.
	PublicIPv4 netip.Addr
	PublicIPv6 netip.Addr

	// ListenPort is the port the TURN listen socket is bound to. Only
	// used to reject relay port ranges that would collide with it.
	ListenPort uint16

	// RelayPortLow and RelayPortHigh delimit the allocation port
	// range. Zero values default to the RFC 8656 recommendation of
	// 49152-65535.
	RelayPortLow  uint16
	RelayPortHigh uint16

	// AuthHandler authenticates long-term credentials. Required.
	AuthHandler AuthHandler

	// CompactNonces switches challenges to short base36 nonces for
	// clients with tight attribute size limits.
	CompactNonces bool

	LoggerFactory logging.LoggerFactory
}

// Server is the TURN state machine. All methods must be called from a
// single goroutine; the Server owns no locks and performs no I/O.
type Server struct {
	log logging.LeveledLogger

	realm       string
	software    string
	publicIPv4  netip.Addr
	publicIPv6  netip.Addr
	relayLow    uint16
	relayHigh   uint16
	authHandler AuthHandler
	nonces      NonceManager
	rand        randutil.MathRandomGenerator

	allocations       map[netip.AddrPort]*allocation
	clientsByPort     map[uint16]netip.AddrPort
	channelsByNumber  map[chanKey]*channel
	numbersByPeer     map[clientPeerKey]uint16
	clientsByPortPeer map[portPeerKey]chanRef
	reservations      map[string]uint16

	timeouts *timeevents.TimeEvents[timerID]
	nextWake time.Time

	commands []Command

	relayedBytes uint64
}

// New validates cfg and returns a Server.
func New(cfg Config) (*Server, error) {
	if !cfg.PublicIPv4.IsValid() && !cfg.PublicIPv6.IsValid() {
		return nil, errNoPublicAddress
	}

	low, high := cfg.RelayPortLow, cfg.RelayPortHigh
	if low == 0 && high == 0 {
		low, high = 49152, 65535
	}
	if cfg.ListenPort >= low && cfg.ListenPort <= high {
		return nil, errListenPortInsideRelayRange
	}

	var nonces NonceManager
	var err error
	if cfg.CompactNonces {
		nonces, err = NewShortNonceHash(0)
	} else {
		nonces, err = NewNonceHash()
	}
	if err != nil {
		return nil, err
	}

	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Server{
		log:               loggerFactory.NewLogger("turn"),
		realm:             cfg.Realm,
		software:          cfg.Software,
		publicIPv4:        cfg.PublicIPv4,
		publicIPv6:        cfg.PublicIPv6,
		relayLow:          low,
		relayHigh:         high,
		authHandler:       cfg.AuthHandler,
		nonces:            nonces,
		rand:              randutil.NewMathRandomGenerator(),
		allocations:       make(map[netip.AddrPort]*allocation),
		clientsByPort:     make(map[uint16]netip.AddrPort),
		channelsByNumber:  make(map[chanKey]*channel),
		numbersByPeer:     make(map[clientPeerKey]uint16),
		clientsByPortPeer: make(map[portPeerKey]chanRef),
		reservations:      make(map[string]uint16),
		timeouts:          timeevents.New[timerID](),
	}, nil
}

// HandleClientInput processes one datagram received on the listen
// socket. Malformed input is logged and dropped without a response;
// answering unparseable bytes would turn the relay into an
// amplification vector.
func (s *Server) HandleClientInput(buf []byte, client netip.AddrPort, now time.Time) {
	if len(buf) == 0 {
		return
	}

	if proto.IsChannelData(buf) {
		cd := proto.ChannelData{Raw: buf}
		if err := cd.Decode(); err != nil {
			s.log.Debugf("failed to decode channel data from %s: %v", client, err)

			return
		}
		if err := s.handleChannelData(&cd, client); err != nil {
			s.log.Debugf("channel data from %s not relayed: %v", client, err)
		}

		return
	}

	msg := &stun.Message{Raw: append([]byte{}, buf...)}
	if err := msg.Decode(); err != nil {
		s.log.Debugf("failed to decode STUN message from %s: %v", client, err)

		return
	}

	handler, err := s.messageHandler(msg.Type.Class, msg.Type.Method)
	if err != nil {
		s.log.Debugf("unhandled STUN packet %s from %s: %v", msg.Type, client, err)

		return
	}

	if err := handler(msg, client, now); err != nil {
		s.log.Debugf("failed to handle %s from %s: %v", msg.Type, client, err)
	}
}

func (s *Server) messageHandler(class stun.MessageClass, method stun.Method) (
	func(m *stun.Message, client netip.AddrPort, now time.Time) error,
	error,
) {
	switch class {
	case stun.ClassIndication:
		if method == stun.MethodSend {
			return s.handleSendIndication, nil
		}

		return nil, errUnexpectedMethod
	case stun.ClassRequest:
		switch method {
		case stun.MethodBinding:
			return s.handleBindingRequest, nil
		case stun.MethodAllocate:
			return s.handleAllocateRequest, nil
		case stun.MethodRefresh:
			return s.handleRefreshRequest, nil
		case stun.MethodCreatePermission:
			return s.handleCreatePermissionRequest, nil
		case stun.MethodChannelBind:
			return s.handleChannelBindRequest, nil
		default:
			return nil, errUnexpectedMethod
		}
	default:
		return nil, errUnexpectedClass
	}
}

// HandlePeerTraffic processes one datagram received on a relay socket.
// Traffic on a bound channel is framed as ChannelData; traffic covered
// only by a permission is wrapped in a Data indication; anything else
// is dropped.
func (s *Server) HandlePeerTraffic(data []byte, peer netip.AddrPort, port uint16, now time.Time) {
	peer = netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port())

	if ref, ok := s.clientsByPortPeer[portPeerKey{port: port, peer: peer}]; ok {
		cd := proto.ChannelData{
			Number: proto.ChannelNumber(ref.number),
			Data:   data,
		}
		cd.Encode()

		s.relayedBytes += uint64(len(data))
		s.push(SendMessage{Recipient: ref.client, Payload: cd.Raw})

		return
	}

	client, ok := s.clientsByPort[port]
	if !ok {
		s.log.Debugf("peer traffic on unallocated port %d from %s", port, peer)

		return
	}

	alloc := s.allocations[client]
	if expiry, ok := alloc.permissions[peer.Addr()]; !ok || !expiry.After(now) {
		s.log.Debugf("no permission for peer %s on allocation %d", peer, port)

		return
	}

	msg, err := stun.Build(
		stun.TransactionID,
		stun.NewType(stun.MethodData, stun.ClassIndication),
		proto.PeerAddress{IP: peer.Addr().AsSlice(), Port: int(peer.Port())},
		proto.Data(data),
	)
	if err != nil {
		s.log.Errorf("failed to build data indication: %v", err)

		return
	}

	s.relayedBytes += uint64(len(data))
	s.push(SendMessage{Recipient: client, Payload: msg.Raw})
}

// HandleTimeout expires everything due at now. The driver calls it
// when the deadline of the latest Wake command passes.
func (s *Server) HandleTimeout(now time.Time) {
	for _, id := range s.timeouts.PendingActions(now) {
		switch id.kind {
		case timerAllocation:
			if alloc, ok := s.allocations[id.client]; ok && !alloc.expiresAt.After(now) {
				s.log.Infof("allocation %d for %s expired", alloc.port, id.client)
				s.deleteAllocation(alloc)
			}
		case timerChannel:
			s.unbindChannel(id.client, id.number)
		case timerChannelDelete:
			s.deleteChannel(id.client, id.number)
		case timerPermission:
			if alloc, ok := s.allocations[id.client]; ok {
				if expiry, ok := alloc.permissions[id.peer]; ok && !expiry.After(now) {
					delete(alloc.permissions, id.peer)
				}
			}
		case timerReservation:
			delete(s.reservations, id.token)
		}
	}

	if next, ok := s.timeouts.NextTrigger(); ok {
		if !next.Equal(s.nextWake) {
			s.nextWake = next
			s.push(Wake{Deadline: next})
		}
	} else {
		s.nextWake = time.Time{}
	}
}

// NextCommand pops the oldest pending Command.
func (s *Server) NextCommand() (Command, bool) {
	if len(s.commands) == 0 {
		return nil, false
	}
	cmd := s.commands[0]
	s.commands = s.commands[1:]

	return cmd, true
}

// PollTimeout returns the next instant HandleTimeout needs to run.
func (s *Server) PollTimeout() (time.Time, bool) {
	return s.timeouts.NextTrigger()
}

// RelayedBytes returns the number of payload bytes relayed through the
// slow path since start.
func (s *Server) RelayedBytes() uint64 { return s.relayedBytes }

// AllocationCount returns the number of live allocations.
func (s *Server) AllocationCount() int { return len(s.allocations) }

// ActiveChannelCount returns the number of bound channels.
func (s *Server) ActiveChannelCount() int {
	n := 0
	for _, ch := range s.channelsByNumber {
		if ch.bound {
			n++
		}
	}

	return n
}

func (s *Server) push(cmd Command) {
	s.commands = append(s.commands, cmd)
}

// schedule arms a timer, postponing any earlier deadline for the same
// id, and emits a Wake when the earliest pending deadline moves.
func (s *Server) schedule(deadline time.Time, id timerID) {
	earliest := s.timeouts.Add(deadline, id)
	if !earliest.Equal(s.nextWake) {
		s.nextWake = earliest
		s.push(Wake{Deadline: earliest})
	}
}

func (s *Server) unschedule(id timerID) {
	s.timeouts.Remove(id)
}
