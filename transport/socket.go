/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package transport

import (
	"context"
	"sync"

	"golang.zx2c4.com/wireguard/conn"

	"github.com/Adjoint-uk/cross-control/logger"
)

// Socket is the single shared UDP binding for the whole daemon.
// Individual peer Sessions are demultiplexed by conn.Endpoint, not by
// a per-peer socket.
type Socket struct {
	bind     conn.Bind
	port     uint16
	log      *logger.Logger
	receives []conn.ReceiveFunc

	mu      sync.Mutex
	closing bool
}

// NewSocket opens the default cross-platform UDP bind (§6: "Default
// listen port 24800 (UDP)").
func NewSocket(port uint16, log *logger.Logger) (*Socket, error) {
	bind := conn.NewDefaultBind()
	fns, actualPort, err := bind.Open(port)
	if err != nil {
		return nil, &TransportError{Peer: "(listen)", Err: err}
	}
	return &Socket{bind: bind, port: actualPort, log: log, receives: fns}, nil
}

// Port returns the bound UDP port.
func (s *Socket) Port() uint16 { return s.port }

// ParseEndpoint resolves a configured peer address into a conn.Endpoint.
func (s *Socket) ParseEndpoint(address string) (conn.Endpoint, error) {
	return s.bind.ParseEndpoint(address)
}

// SendTo writes one already-encrypted datagram to ep.
func (s *Socket) SendTo(ep conn.Endpoint, datagram []byte) error {
	return s.bind.Send([][]byte{datagram}, ep)
}

// Handler receives one raw datagram and its source endpoint.
type Handler func(ep conn.Endpoint, datagram []byte)

// Serve runs the receive loop until ctx is cancelled or Close is called.
// ctx is checked only between receives, so a receive that is already
// blocked returns when a datagram arrives or Close is called. Datagrams
// are handed to handle one at a time, over the single default bind.
func (s *Socket) Serve(ctx context.Context, handle Handler) error {
	batch := s.bind.BatchSize()
	packets := make([][]byte, batch)
	sizes := make([]int, batch)
	eps := make([]conn.Endpoint, batch)
	for i := range packets {
		packets[i] = make([]byte, 65535)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := s.receiveOnce(packets, sizes, eps)
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return nil
			}
			return &TransportError{Peer: "(listen)", Err: err}
		}
		for i := 0; i < n; i++ {
			handle(eps[i], packets[i][:sizes[i]])
		}
	}
}

// receiveOnce is split out so tests can stub the bind without standing
// up a real socket. It reuses the ReceiveFuncs obtained once in
// NewSocket rather than reopening the bind per packet.
func (s *Socket) receiveOnce(packets [][]byte, sizes []int, eps []conn.Endpoint) (int, error) {
	if len(s.receives) == 0 {
		return 0, nil
	}
	return s.receives[0](packets, sizes, eps)
}

// Close shuts down the bind, unblocking any in-flight Serve receive.
func (s *Socket) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	return s.bind.Close()
}
