// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package turnpike is a TURN relay server (RFC 5766, RFC 8656) with a
// sans-IO protocol engine and an optional kernel fast path for
// established channel flows.
package turnpike

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/pion/logging"
	"github.com/pion/stun/v3"
	"github.com/pion/transport/v3"

	"github.com/turnpike-io/turnpike/internal/allocation"
	"github.com/turnpike-io/turnpike/internal/ipnet"
	"github.com/turnpike-io/turnpike/internal/offload"
	"github.com/turnpike-io/turnpike/internal/server"
)

const (
	inboundMTU       = 1500
	inboundQueueSize = 4096
)

// AuthHandler resolves a long-term credential to its MESSAGE-INTEGRITY
// key. Use GenerateAuthKey to derive keys from passwords.
type AuthHandler = server.AuthHandler

// GenerateAuthKey derives the long-term credential key for a user, per
// RFC 5389 Section 15.4.
func GenerateAuthKey(username, realm, password string) []byte {
	return []byte(stun.NewLongTermIntegrity(username, realm, password))
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Realm is the authentication realm. Required.
	Realm string

	// Software is sent as the SOFTWARE attribute on TURN responses
	// when non-empty.
	Software string

	// PublicIPv4 and PublicIPv6 are the relay addresses handed out in
	// allocations. At least one is required.
	PublicIPv4 netip.Addr
	PublicIPv6 netip.Addr

	// ListenPort is the TURN listen port. Defaults to 3478.
	ListenPort uint16

	// RelayPortLow and RelayPortHigh delimit the allocation port
	// range. Zero values default to 49152-65535.
	RelayPortLow  uint16
	RelayPortHigh uint16

	// AuthHandler authenticates long-term credentials. Required.
	AuthHandler AuthHandler

	// CompactNonces switches authentication challenges to short
	// base36 nonces.
	CompactNonces bool

	// OffloadInterface, when set, attaches a fast-path engine to the
	// named interface. XDPObjectPath points at the compiled XDP
	// program; without it probing falls back to AF_PACKET.
	OffloadInterface string
	XDPObjectPath    string

	// Net overrides the socket factory for relay sockets. Tests use
	// this; production leaves it nil.
	Net transport.Net

	LoggerFactory logging.LoggerFactory
}

type clientPacket struct {
	data []byte
	addr netip.AddrPort
}

// Server is a running TURN relay. A single event-loop goroutine owns
// the protocol engine and executes its Commands, so the engine itself
// never needs a lock.
type Server struct {
	log logging.LeveledLogger

	conn    net.PacketConn
	engine  *server.Server
	workers *allocation.Manager
	offload offload.Engine

	packets chan clientPacket
	inbound chan allocation.PeerData

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewServer binds the listen socket and starts serving.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Realm == "" {
		return nil, errRealmRequired
	}
	if cfg.AuthHandler == nil {
		return nil, errAuthHandlerRequired
	}

	listenPort := cfg.ListenPort
	if listenPort == 0 {
		listenPort = 3478
	}

	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	log := loggerFactory.NewLogger("turnpike")

	engine, err := server.New(server.Config{
		Realm:         cfg.Realm,
		Software:      cfg.Software,
		PublicIPv4:    cfg.PublicIPv4,
		PublicIPv6:    cfg.PublicIPv6,
		ListenPort:    listenPort,
		RelayPortLow:  cfg.RelayPortLow,
		RelayPortHigh: cfg.RelayPortHigh,
		AuthHandler:   cfg.AuthHandler,
		CompactNonces: cfg.CompactNonces,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return nil, err
	}

	conn, err := ipnet.ListenDualStack(context.Background(), listenPort)
	if err != nil {
		log.Warnf("dual-stack bind failed, falling back to IPv4: %v", err)
		conn, err = ipnet.ListenIPv4(context.Background(), listenPort)
		if err != nil {
			return nil, err
		}
	}

	inbound := make(chan allocation.PeerData, inboundQueueSize)
	workers, err := allocation.NewManager(allocation.Config{
		Net:           cfg.Net,
		Inbound:       inbound,
		MTU:           inboundMTU,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		_ = conn.Close()

		return nil, err
	}

	low, high := cfg.RelayPortLow, cfg.RelayPortHigh
	if low == 0 && high == 0 {
		low, high = 49152, 65535
	}
	engineOffload := offload.Probe(offload.Config{
		Interface:          cfg.OffloadInterface,
		ObjectPath:         cfg.XDPObjectPath,
		ListenPort:         listenPort,
		AllocationPortLow:  low,
		AllocationPortHigh: high,
		RelayIPv4:          cfg.PublicIPv4,
		RelayIPv6:          cfg.PublicIPv6,
		LoggerFactory:      loggerFactory,
	})

	srv := &Server{
		log:     log,
		conn:    conn,
		engine:  engine,
		workers: workers,
		offload: engineOffload,
		packets: make(chan clientPacket, inboundQueueSize),
		inbound: inbound,
		done:    make(chan struct{}),
	}

	srv.wg.Add(2)
	go srv.readLoop()
	go srv.run()

	log.Infof("listening on %s", conn.LocalAddr())

	return srv, nil
}

// LocalAddr returns the listen socket address.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Close stops the server and releases all sockets and offload state.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.conn.Close()
		s.wg.Wait()
		s.workers.Close()
		s.offload.Shutdown()
	})

	return err
}

func (s *Server) readLoop() {
	defer s.wg.Done()

	buf := make([]byte, inboundMTU)
	for {
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.done:
			default:
				s.log.Warnf("listen socket read failed: %v", err)
			}

			return
		}

		client, err := ipnet.AddrPort(addr)
		if err != nil {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case s.packets <- clientPacket{data: data, addr: client}:
		case <-s.done:
			return
		}
	}
}

// run is the control-plane event loop: every input is handed to the
// engine, then the engine's pending Commands are executed. It is the
// only goroutine touching the engine and the offload routing table.
func (s *Server) run() {
	defer s.wg.Done()

	wake := time.NewTimer(time.Hour)
	if !wake.Stop() {
		<-wake.C
	}
	defer wake.Stop()

	for {
		select {
		case <-s.done:
			return
		case pkt := <-s.packets:
			s.engine.HandleClientInput(pkt.data, pkt.addr, time.Now())
		case pd := <-s.inbound:
			s.engine.HandlePeerTraffic(pd.Data, pd.Peer, pd.Port, time.Now())
		case <-wake.C:
			s.engine.HandleTimeout(time.Now())
		}

		s.executeCommands(wake)
	}
}

func (s *Server) executeCommands(wake *time.Timer) {
	for {
		cmd, ok := s.engine.NextCommand()
		if !ok {
			return
		}

		switch c := cmd.(type) {
		case server.SendMessage:
			dst := &net.UDPAddr{IP: c.Recipient.Addr().AsSlice(), Port: int(c.Recipient.Port())}
			if _, err := s.conn.WriteTo(c.Payload, dst); err != nil {
				s.log.Warnf("failed to send %d bytes to %s: %v", len(c.Payload), c.Recipient, err)
			}
		case server.ForwardData:
			s.workers.Forward(c.AllocationPort, c.Peer, c.Payload)
		case server.CreateAllocation:
			if err := s.workers.Create(c.Port, c.Family == server.FamilyIPv6); err != nil {
				s.log.Errorf("failed to open relay socket %d/%s: %v", c.Port, c.Family, err)
			}
		case server.FreeAllocation:
			s.workers.Delete(c.Port, c.Family == server.FamilyIPv6)
		case server.CreateChannelBinding:
			if err := s.offload.Upsert(offload.Binding{
				Client:         c.Client,
				Channel:        c.Channel,
				Peer:           c.Peer,
				AllocationPort: c.AllocationPort,
			}); err != nil {
				s.log.Warnf("failed to offload channel 0x%04x of %s: %v", c.Channel, c.Client, err)
			}
		case server.DeleteChannelBinding:
			if err := s.offload.Remove(offload.Binding{
				Client:         c.Client,
				Channel:        c.Channel,
				Peer:           c.Peer,
				AllocationPort: c.AllocationPort,
			}); err != nil {
				s.log.Debugf("failed to remove offloaded channel 0x%04x of %s: %v", c.Channel, c.Client, err)
			}
		case server.Wake:
			if !wake.Stop() {
				select {
				case <-wake.C:
				default:
				}
			}
			wake.Reset(time.Until(c.Deadline))
		}
	}
}
