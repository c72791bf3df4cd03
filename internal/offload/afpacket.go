// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

//go:build linux

package offload

import (
	"errors"
	"fmt"
	"net"

	"github.com/pion/logging"
	"golang.org/x/sys/unix"

	"github.com/turnpike-io/turnpike/internal/offload/fastpath"
)

const afPacketSnapLen = 2048

// AFPacketEngine runs the fastpath router in userspace over an
// AF_PACKET socket: the closest approximation of the XDP data path on
// hosts where loading eBPF is not possible.
//
// AF_PACKET taps frames rather than intercepting them, so the host
// needs a firewall rule dropping inbound UDP on the listen port and
// the allocation range from reaching the kernel stack twice; without
// it the slow path sees (and discards) duplicates of every offloaded
// datagram.
type AFPacketEngine struct {
	cfg     Config
	router  *fastpath.Router
	fd      int
	ifindex int
	done    chan struct{}
	log     logging.LeveledLogger
}

// NewAFPacketEngine creates an uninitialized AF_PACKET engine.
func NewAFPacketEngine(cfg Config, log logging.LeveledLogger) *AFPacketEngine {
	table := fastpath.NewTable()
	router := fastpath.NewRouter(table, fastpath.Config{
		ListenPort:         cfg.ListenPort,
		AllocationPortLow:  cfg.AllocationPortLow,
		AllocationPortHigh: cfg.AllocationPortHigh,
		RelayIPv4:          cfg.RelayIPv4,
		RelayIPv6:          cfg.RelayIPv6,
	}, log)

	return &AFPacketEngine{cfg: cfg, router: router, fd: -1, log: log}
}

// Name implements Engine.
func (o *AFPacketEngine) Name() string { return "afpacket" }

// Init implements Engine.
func (o *AFPacketEngine) Init() error {
	if o.cfg.Interface == "" {
		return ErrNoInterface
	}
	iface, err := net.InterfaceByName(o.cfg.Interface)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoInterface, err) //nolint:errorlint
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_ALL)))
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  iface.Index,
	}); err != nil {
		_ = unix.Close(fd)

		return err
	}

	o.fd = fd
	o.ifindex = iface.Index
	o.done = make(chan struct{})
	go o.readLoop()

	return nil
}

// Shutdown implements Engine.
func (o *AFPacketEngine) Shutdown() {
	if o.fd < 0 {
		return
	}
	close(o.done)
	if err := unix.Close(o.fd); err != nil {
		o.log.Warnf("failed to close AF_PACKET socket: %v", err)
	}
	o.fd = -1
}

// Upsert implements Engine.
func (o *AFPacketEngine) Upsert(b Binding) error {
	return o.router.Table().Insert(
		fastpath.ClientAndChannel{Client: b.Client, Channel: b.Channel},
		fastpath.PortAndPeer{AllocationPort: b.AllocationPort, Peer: b.Peer},
	)
}

// Remove implements Engine.
func (o *AFPacketEngine) Remove(b Binding) error {
	o.router.Table().Remove(
		fastpath.ClientAndChannel{Client: b.Client, Channel: b.Channel},
		fastpath.PortAndPeer{AllocationPort: b.AllocationPort, Peer: b.Peer},
	)

	return nil
}

// Stats implements Engine.
func (o *AFPacketEngine) Stats() map[string]uint64 {
	stats := o.router.DropStats()
	stats["relayed bytes"] = o.router.RelayedBytes()

	return stats
}

func (o *AFPacketEngine) readLoop() {
	buf := make([]byte, afPacketSnapLen)
	for {
		n, _, err := unix.Recvfrom(o.fd, buf, 0)
		if err != nil {
			select {
			case <-o.done:
			default:
				if !errors.Is(err, unix.EINTR) {
					o.log.Warnf("AF_PACKET read failed: %v", err)
				}
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}

			return
		}

		pkt := fastpath.NewPacket(buf[:n])
		verdict, routeErr := o.router.Route(pkt)
		if routeErr != nil || verdict != fastpath.VerdictTransmit {
			continue
		}
		o.transmit(pkt.Frame())
	}
}

// transmit puts a rewritten frame back on the wire, the userspace
// analog of XDP_TX.
func (o *AFPacketEngine) transmit(frame []byte) {
	if len(frame) < 6 {
		return
	}

	sll := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_ALL),
		Ifindex:  o.ifindex,
		Halen:    6,
	}
	copy(sll.Addr[:], frame[:6])

	if err := unix.Sendto(o.fd, frame, 0, sll); err != nil {
		o.log.Warnf("AF_PACKET transmit failed: %v", err)
	}
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
