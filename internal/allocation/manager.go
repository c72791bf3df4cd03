// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

// Package allocation owns the relay sockets of a TURN server: one
// worker per (port, address family) pair, created and destroyed on the
// protocol engine's CreateAllocation and FreeAllocation commands.
package allocation

import (
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/pion/logging"
	"github.com/pion/transport/v3"
	"github.com/pion/transport/v3/stdnet"
)

const (
	// defaultQueueSize absorbs bursts of outbound datagrams per relay
	// socket before the drop-on-full policy kicks in.
	defaultQueueSize = 2048
	defaultMTU       = 1500
)

// Config configures a Manager.
type Config struct {
	// Net is the socket factory. Defaults to the standard library.
	Net transport.Net

	// BindIPv4 and BindIPv6 are the local addresses relay sockets
	// bind. An invalid Addr means the wildcard of that family.
	BindIPv4 netip.Addr
	BindIPv6 netip.Addr

	// Inbound receives every datagram read from a relay socket.
	// Required.
	Inbound chan<- PeerData

	// QueueSize bounds each worker's outbound queue.
	QueueSize int

	// MTU sizes the per-socket read buffer.
	MTU int

	LoggerFactory logging.LoggerFactory
}

type workerKey struct {
	port uint16
	ipv6 bool
}

// Manager opens and closes relay sockets and routes outbound payloads
// to the right worker.
type Manager struct {
	mu      sync.Mutex
	workers map[workerKey]*worker

	net       transport.Net
	bindIPv4  netip.Addr
	bindIPv6  netip.Addr
	inbound   chan<- PeerData
	queueSize int
	mtu       int
	log       logging.LeveledLogger
}

// NewManager validates cfg and returns a Manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Inbound == nil {
		return nil, errNilInboundChannel
	}

	netTransport := cfg.Net
	if netTransport == nil {
		n, err := stdnet.NewNet()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errFailedToCreateNet, err) //nolint:errorlint
		}
		netTransport = n
	}

	queueSize := cfg.QueueSize
	if queueSize == 0 {
		queueSize = defaultQueueSize
	}
	mtu := cfg.MTU
	if mtu == 0 {
		mtu = defaultMTU
	}

	loggerFactory := cfg.LoggerFactory
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}

	return &Manager{
		workers:   make(map[workerKey]*worker),
		net:       netTransport,
		bindIPv4:  cfg.BindIPv4,
		bindIPv6:  cfg.BindIPv6,
		inbound:   cfg.Inbound,
		queueSize: queueSize,
		mtu:       mtu,
		log:       loggerFactory.NewLogger("alloc"),
	}, nil
}

// Create opens the relay socket for (port, family) and starts its
// worker.
func (m *Manager) Create(port uint16, ipv6 bool) error {
	key := workerKey{port: port, ipv6: ipv6}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.workers[key]; exists {
		return errWorkerExists
	}

	network, address := "udp4", netip.IPv4Unspecified()
	bind := m.bindIPv4
	if ipv6 {
		network, address = "udp6", netip.IPv6Unspecified()
		bind = m.bindIPv6
	}
	if bind.IsValid() {
		address = bind
	}

	conn, err := m.net.ListenPacket(network, net.JoinHostPort(address.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return fmt.Errorf("%w %d/%s: %v", errFailedToBindRelayPort, port, network, err) //nolint:errorlint
	}

	w := &worker{
		conn:    conn,
		port:    port,
		queue:   make(chan outbound, m.queueSize),
		done:    make(chan struct{}),
		inbound: m.inbound,
		mtu:     m.mtu,
		log:     m.log,
	}
	m.workers[key] = w
	w.start()

	m.log.Debugf("opened relay socket %d/%s", port, network)

	return nil
}

// Delete stops the worker for (port, family). Unknown workers are
// ignored; FreeAllocation is idempotent.
func (m *Manager) Delete(port uint16, ipv6 bool) {
	key := workerKey{port: port, ipv6: ipv6}

	m.mu.Lock()
	w, ok := m.workers[key]
	delete(m.workers, key)
	m.mu.Unlock()

	if ok {
		w.stop()
	}
}

// Forward sends payload from the allocation's relay socket in the
// peer's address family. Payloads for ports or families without a
// worker are dropped.
func (m *Manager) Forward(port uint16, peer netip.AddrPort, payload []byte) {
	key := workerKey{port: port, ipv6: peer.Addr().Is6() && !peer.Addr().Is4In6()}

	m.mu.Lock()
	w, ok := m.workers[key]
	m.mu.Unlock()

	if !ok {
		m.log.Debugf("no relay socket for port %d, dropping %d bytes to %s",
			port, len(payload), peer)

		return
	}
	w.send(peer, payload)
}

// WorkerCount returns the number of open relay sockets.
func (m *Manager) WorkerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.workers)
}

// Close stops every worker.
func (m *Manager) Close() {
	m.mu.Lock()
	workers := m.workers
	m.workers = make(map[workerKey]*worker)
	m.mu.Unlock()

	for _, w := range workers {
		w.stop()
	}
}
