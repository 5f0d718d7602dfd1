/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

// Package supervisor owns every network handle in the daemon (§4.8):
// one task per configured peer that dials or accepts a connection, runs
// the handshake, keeps it alive, and relays control/input traffic
// between the wire and the barrier state machine. It is the only
// package that touches a socket; barrier.Machine only ever calls back
// into the Control interface this package implements.
package supervisor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/conn"
	"golang.zx2c4.com/wireguard/ratelimiter"

	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/transport"
	"github.com/Adjoint-uk/cross-control/trust"
	"github.com/Adjoint-uk/cross-control/wire"
)

const (
	handshakeDeadline = 5 * time.Second
	enterAckDeadline  = 1 * time.Second
	pingInterval      = 2 * time.Second
	pongDeadline      = 5 * time.Second
)

// PeerConfig names one configured remote peer (§3 PeerIdentity). Address
// is empty for a peer this side only ever accepts connections from.
type PeerConfig struct {
	Name    string
	Address string
}

// Inbound receives everything peers send us that the outbound Control
// interface doesn't cover: our role as the passive target of another
// machine's handover, and every control/lifecycle event a peer reports
// about itself (§4.2 steps 5, §4.3, §4.6). The daemon wiring implements
// this to drive emulate and the local topology/device bookkeeping.
type Inbound interface {
	DeviceAnnounced(peer string, info wire.DeviceInfo)
	DeviceGone(peer string, deviceID uint32)
	ScreenUpdated(peer string, screen wire.Screen)

	// EnterRequested reports an incoming Enter: a peer's cursor is
	// crossing into us. The supervisor always acks immediately; no
	// policy hook is given since handover is accepted unconditionally
	// once a peer is sessioned.
	EnterRequested(peer string, edge wire.Position, position int32)
	LeaveReceived(peer string, edge wire.Position, position int32)
	InputReceived(peer string, batch wire.EventBatch)

	// Unreachable reports the peer has disconnected or failed its
	// keepalive deadline; the daemon forwards this to
	// barrier.Machine.OnPeerUnreachable.
	Unreachable(peer string)

	// EnterAcked reports a peer accepted our Enter; the daemon forwards
	// this to barrier.Machine.OnEnterAck.
	EnterAcked(peer string)
}

// Identity is this machine's own handshake material (§3, §4.2).
type Identity struct {
	Certificate trust.Certificate
	StaticPriv  [32]byte
	MachineID   wire.MachineID
	Name        string
}

// Supervisor runs one connection task per configured peer over a single
// shared UDP socket (§4.8, §5: "the supervisor is the only component
// that owns network handles").
type Supervisor struct {
	log      *logger.Logger
	socket   *transport.Socket
	identity Identity
	store    *trust.Store
	allowPairing bool
	localScreen  func() wire.Screen
	devices      func() []wire.DeviceInfo
	sink         Inbound
	rl           *ratelimiter.Ratelimiter

	mu         sync.RWMutex
	peers      map[string]*peerConn
	byEndpoint map[conn.Endpoint]*peerConn
	runCtx     context.Context
}

// New builds a Supervisor bound to an already-open socket. Call AddPeer
// for each configured peer, then Run.
func New(log *logger.Logger, socket *transport.Socket, identity Identity, store *trust.Store, allowPairing bool, localScreen func() wire.Screen, devices func() []wire.DeviceInfo, sink Inbound) *Supervisor {
	rl := new(ratelimiter.Ratelimiter)
	rl.Init()
	return &Supervisor{
		log:          log,
		socket:       socket,
		identity:     identity,
		store:        store,
		allowPairing: allowPairing,
		localScreen:  localScreen,
		devices:      devices,
		sink:         sink,
		rl:           rl,
		peers:        make(map[string]*peerConn),
		byEndpoint:   make(map[conn.Endpoint]*peerConn),
	}
}

// AddPeer registers a configured peer. Peers with a non-empty Address
// are dialed by Run; peers with no address are accepted passively.
func (s *Supervisor) AddPeer(cfg PeerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers[cfg.Name] = newPeerConn(cfg, s)
}

// Run serves the shared socket and dials every configured peer with an
// address, until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	s.mu.RLock()
	dialers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		if p.cfg.Address != "" {
			dialers = append(dialers, p)
		}
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, p := range dialers {
		wg.Add(1)
		go func(p *peerConn) {
			defer wg.Done()
			p.dialLoop(ctx)
		}(p)
	}

	err := s.socket.Serve(ctx, s.handleDatagram)
	wg.Wait()
	return err
}

// Shutdown sends Bye to every connected peer and releases resources
// (§7 FatalSubsystemError teardown order).
func (s *Supervisor) Shutdown() {
	s.mu.RLock()
	peers := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()

	for _, p := range peers {
		p.sendBye()
	}
	s.rl.Close()
}

func (s *Supervisor) handleDatagram(ep conn.Endpoint, raw []byte) {
	s.mu.RLock()
	p, established := s.byEndpoint[ep]
	s.mu.RUnlock()

	if established {
		p.onDatagram(raw)
		return
	}

	s.mu.RLock()
	var dialer *peerConn
	for _, candidate := range s.peers {
		if candidate.isDialingFrom(ep) {
			dialer = candidate
			break
		}
	}
	s.mu.RUnlock()

	if dialer != nil {
		if transport.IsInitiation(raw) {
			// Simultaneous dial: both machines initiated at once.
			// Exactly one side must yield or the two half-open
			// handshakes never converge to a single session; the
			// fingerprint order picks the same winner on both sides
			// without an extra round trip.
			cert, ok := transport.PeekInitiationCert(raw)
			if !ok || !yieldToInbound(s.identity.Certificate.Fingerprint(), cert.Fingerprint()) {
				return
			}
			dialer.abortDial()
			s.acceptInbound(ep, raw)
			return
		}
		dialer.onHandshakeDatagram(raw)
		return
	}

	s.acceptInbound(ep, raw)
}

// yieldToInbound decides which of two simultaneous dials survives: the
// machine whose certificate fingerprint orders lower keeps its outbound
// handshake, the other abandons its dial and accepts the inbound one.
// Both sides evaluate the same comparison with the arguments swapped,
// so exactly one yields.
func yieldToInbound(ours, theirs [32]byte) bool {
	return bytes.Compare(ours[:], theirs[:]) > 0
}

// acceptInbound handles a handshake initiation from a peer we did not
// dial: a configured peer connecting to us (§4.8 "dial/accept").
func (s *Supervisor) acceptInbound(ep conn.Endpoint, raw []byte) {
	if !s.rl.Allow(ep.DstIP()) {
		return
	}

	hs, remoteCert, err := transport.ConsumeInitiation(raw, s.identity.Certificate, s.identity.StaticPriv, s.store, s.allowPairing, nil)
	if err != nil {
		s.log.Errorf("rejecting handshake from %v: %v", ep, err)
		return
	}

	s.mu.RLock()
	p, known := s.peers[remoteCert.Name]
	s.mu.RUnlock()
	if !known {
		s.log.Errorf("handshake from unconfigured peer %q, dropping", remoteCert.Name)
		return
	}

	resp, err := transport.BeginResponse(hs)
	if err != nil {
		s.log.Errorf("handshake response for %s: %v", p.cfg.Name, err)
		return
	}
	if err := s.socket.SendTo(ep, resp); err != nil {
		s.log.Errorf("sending handshake response to %s: %v", p.cfg.Name, err)
		return
	}

	sendKey, recvKey, err := transport.Finalize(hs)
	if err != nil {
		s.log.Errorf("finalizing handshake with %s: %v", p.cfg.Name, err)
		return
	}
	session, err := transport.NewSession(p.cfg.Name, sendKey, recvKey)
	if err != nil {
		s.log.Errorf("building session with %s: %v", p.cfg.Name, err)
		return
	}

	p.attach(ep, session)
	s.mu.Lock()
	s.byEndpoint[ep] = p
	s.mu.Unlock()

	if err := p.sendWelcome(); err != nil {
		s.log.Errorf("sending Welcome to %s: %v", p.cfg.Name, err)
		return
	}
	p.announceDevices()

	s.mu.RLock()
	ctx := s.runCtx
	s.mu.RUnlock()
	go p.serve(ctx)
}

func (s *Supervisor) peer(name string) (*peerConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.peers[name]
	return p, ok
}

// SendEnter implements barrier.Control (§4.7 Local->Pending: "Send
// Enter{edge, position} on control stream").
func (s *Supervisor) SendEnter(peer string, edge wire.Position, position int32) error {
	p, ok := s.peer(peer)
	if !ok {
		return fmt.Errorf("supervisor: unknown peer %q", peer)
	}
	return p.sendEnter(edge, position)
}

// SendLeave implements barrier.Control (§4.7 Releasing: "Send Leave{edge,
// position}").
func (s *Supervisor) SendLeave(peer string, edge wire.Position, position int32) error {
	p, ok := s.peer(peer)
	if !ok {
		return fmt.Errorf("supervisor: unknown peer %q", peer)
	}
	return p.sendLeave(edge, position)
}

// OpenInputStream implements barrier.Control (§4.7 Pending->Remote:
// "open input stream").
func (s *Supervisor) OpenInputStream(peer string) (uint32, error) {
	p, ok := s.peer(peer)
	if !ok {
		return 0, fmt.Errorf("supervisor: unknown peer %q", peer)
	}
	return p.openInputStream()
}

// CloseInputStream implements barrier.Control (§4.7: "close input
// stream" on Releasing and on a chained handover's Leave half).
func (s *Supervisor) CloseInputStream(peer string) {
	if p, ok := s.peer(peer); ok {
		p.closeInputStream()
	}
}

// SendInput implements barrier.Control: forward one EventBatch on the
// peer's currently open input stream (§4.7 Remote: "Send EventBatch on
// input stream").
func (s *Supervisor) SendInput(peer string, batch wire.EventBatch) error {
	p, ok := s.peer(peer)
	if !ok {
		return fmt.Errorf("supervisor: unknown peer %q", peer)
	}
	return p.sendInput(batch)
}

// BroadcastDeviceAnnounce sends DeviceAnnounce to every currently
// connected peer, used when a device hot-plugs after the initial
// handshake exchange (§4.3).
func (s *Supervisor) BroadcastDeviceAnnounce(info wire.DeviceInfo) {
	for _, p := range s.connectedPeers() {
		if err := p.sendDeviceAnnounce(info); err != nil {
			s.log.Errorf("announcing device %d to %s: %v", info.DeviceID, p.cfg.Name, err)
		}
	}
}

// BroadcastDeviceGone sends DeviceGone to every currently connected peer.
func (s *Supervisor) BroadcastDeviceGone(deviceID uint32) {
	for _, p := range s.connectedPeers() {
		if err := p.sendDeviceGone(deviceID); err != nil {
			s.log.Errorf("retracting device %d to %s: %v", deviceID, p.cfg.Name, err)
		}
	}
}

// BroadcastScreenUpdate sends ScreenUpdate to every currently connected
// peer, e.g. on a local resolution change (§4.6 reload, §6).
func (s *Supervisor) BroadcastScreenUpdate(screen wire.Screen) {
	for _, p := range s.connectedPeers() {
		if err := p.sendScreenUpdate(screen); err != nil {
			s.log.Errorf("sending screen update to %s: %v", p.cfg.Name, err)
		}
	}
}

func (s *Supervisor) connectedPeers() []*peerConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*peerConn, 0, len(s.peers))
	for _, p := range s.peers {
		if _, _, ok := p.sessionInfo(); ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Supervisor) forget(p *peerConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ep, candidate := range s.byEndpoint {
		if candidate == p {
			delete(s.byEndpoint, ep)
		}
	}
}

var errNoSession = fmt.Errorf("supervisor: peer has no active session")
