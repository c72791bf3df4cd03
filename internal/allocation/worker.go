// SPDX-FileCopyrightText: 2026 The Turnpike Authors
// SPDX-License-Identifier: MIT

package allocation

import (
	"net"
	"net/netip"

	"github.com/pion/logging"
)

// PeerData is one datagram received on a relay socket, tagged with the
// allocation port it arrived on.
type PeerData struct {
	Data []byte
	Peer netip.AddrPort
	Port uint16
}

type outbound struct {
	peer    netip.AddrPort
	payload []byte
}

// worker owns one relay socket. Reads are pushed onto the shared
// inbound channel; writes come in through a bounded queue so a slow
// socket never blocks the control plane.
type worker struct {
	conn    net.PacketConn
	port    uint16
	queue   chan outbound
	done    chan struct{}
	inbound chan<- PeerData
	mtu     int
	log     logging.LeveledLogger
}

func (w *worker) start() {
	go w.readLoop()
	go w.writeLoop()
}

func (w *worker) stop() {
	close(w.done)
	if err := w.conn.Close(); err != nil {
		w.log.Warnf("failed to close relay socket %d: %v", w.port, err)
	}
}

// send queues payload for delivery to peer. When the queue is full the
// datagram is dropped; relayed traffic is loss-tolerant by contract.
func (w *worker) send(peer netip.AddrPort, payload []byte) {
	select {
	case w.queue <- outbound{peer: peer, payload: payload}:
	default:
		w.log.Warnf("outbound queue for port %d full, dropping %d bytes to %s",
			w.port, len(payload), peer)
	}
}

func (w *worker) readLoop() {
	buf := make([]byte, w.mtu)
	for {
		n, addr, err := w.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-w.done:
			default:
				w.log.Warnf("relay socket %d read failed: %v", w.port, err)
			}

			return
		}

		udpAddr, ok := addr.(*net.UDPAddr)
		if !ok {
			continue
		}
		peer := udpAddr.AddrPort()
		peer = netip.AddrPortFrom(peer.Addr().Unmap(), peer.Port())

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case w.inbound <- PeerData{Data: data, Peer: peer, Port: w.port}:
		default:
			w.log.Debugf("inbound channel full, dropping %d bytes from %s", n, peer)
		}
	}
}

func (w *worker) writeLoop() {
	for {
		select {
		case <-w.done:
			return
		case out := <-w.queue:
			dst := &net.UDPAddr{IP: out.peer.Addr().AsSlice(), Port: int(out.peer.Port())}
			if _, err := w.conn.WriteTo(out.payload, dst); err != nil {
				w.log.Warnf("relay socket %d write to %s failed: %v", w.port, out.peer, err)
			}
		}
	}
}
