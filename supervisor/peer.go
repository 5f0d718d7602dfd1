/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.zx2c4.com/wireguard/conn"

	"github.com/Adjoint-uk/cross-control/transport"
	"github.com/Adjoint-uk/cross-control/wire"
)

// peerConn is one configured peer's connection task: dial-and-retry if
// Address is set, plus whatever established session is currently live
// (dialed or accepted). One goroutine at a time ever runs serve for a
// given peerConn; dialLoop and acceptInbound hand off to it in turn.
type peerConn struct {
	cfg PeerConfig
	sup *Supervisor

	mu           sync.Mutex
	session      *transport.Session
	endpoint     conn.Endpoint
	connected    bool
	dialEndpoint conn.Endpoint
	dialing      bool
	dialHS       *transport.Handshake
	dialResp     chan []byte

	pingSeq     uint32
	awaitingPong bool
	lastPongAt  time.Time

	inputQ       []wire.EventBatch
	inputDropped uint64
	inputWake    chan struct{}
}

func newPeerConn(cfg PeerConfig, sup *Supervisor) *peerConn {
	return &peerConn{cfg: cfg, sup: sup, inputWake: make(chan struct{}, 1)}
}

// maxQueuedInput bounds the outbound input queue per peer (§5
// "Backpressure", suggested 4096).
const maxQueuedInput = 4096

// carriesKeyEvents reports whether dropping batch would lose a key or
// button transition. Pure motion (relative, absolute, wheel, sync) is
// recoverable from later events; a lost key transition is not.
func carriesKeyEvents(batch wire.EventBatch) bool {
	for _, e := range batch.Events {
		switch e.Kind {
		case wire.EventKeyDown, wire.EventKeyUp, wire.EventButton:
			return true
		}
	}
	return false
}

func oldestDroppable(q []wire.EventBatch) int {
	for i, b := range q {
		if !carriesKeyEvents(b) {
			return i
		}
	}
	return -1
}

// enqueueInput applies the §5 backpressure policy: on a full queue the
// oldest pointer-motion batch is discarded first; batches carrying key
// events are kept unconditionally, letting the queue exceed max rather
// than lose a key transition. Relative order of survivors is preserved.
func enqueueInput(q []wire.EventBatch, batch wire.EventBatch, max int) (out []wire.EventBatch, dropped bool) {
	if len(q) >= max {
		if i := oldestDroppable(q); i >= 0 {
			q = append(q[:i], q[i+1:]...)
			dropped = true
		}
	}
	return append(q, batch), dropped
}

// errDialYielded means this side lost the simultaneous-dial tie-break
// and the inbound handshake is taking over; the dial attempt stops
// without being an error worth retrying immediately.
var errDialYielded = fmt.Errorf("supervisor: yielded to simultaneous inbound handshake")

// dialLoop repeatedly connects to cfg.Address with backoff until ctx is
// cancelled (§4.2 "Reconnection"). While a session accepted from the
// peer's own dial is live, the loop idles instead of racing it with a
// second handshake.
func (p *peerConn) dialLoop(ctx context.Context) {
	b := newBackoff()
	for {
		if ctx.Err() != nil {
			return
		}
		if _, _, ok := p.sessionInfo(); ok {
			select {
			case <-ctx.Done():
				return
			case <-time.After(pingInterval):
			}
			continue
		}
		if err := p.dialOnce(ctx); err != nil {
			p.sup.log.Errorf("connecting to %s: %v", p.cfg.Name, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(b.Next()):
			}
			continue
		}
		b.Reset()
		p.serve(ctx) // blocks until the session drops
		if ctx.Err() != nil {
			return
		}
	}
}

func (p *peerConn) dialOnce(ctx context.Context) error {
	ep, err := p.sup.socket.ParseEndpoint(p.cfg.Address)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", p.cfg.Address, err)
	}

	hs, initiation, err := transport.BeginInitiation(p.sup.identity.Certificate, p.sup.identity.StaticPriv)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.dialEndpoint = ep
	p.dialHS = hs
	p.dialResp = make(chan []byte, 1)
	p.dialing = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.dialing = false
		p.mu.Unlock()
	}()

	if err := p.sup.socket.SendTo(ep, initiation); err != nil {
		return err
	}

	var raw []byte
	select {
	case raw = <-p.dialResp:
	case <-time.After(handshakeDeadline):
		return fmt.Errorf("handshake with %s timed out", p.cfg.Name)
	case <-ctx.Done():
		return ctx.Err()
	}
	if raw == nil {
		return errDialYielded
	}

	remoteCert, err := transport.ConsumeResponse(hs, raw, p.sup.store, p.sup.allowPairing)
	if err != nil {
		return err
	}
	if remoteCert.Name != p.cfg.Name {
		return fmt.Errorf("peer at %s identified as %q, want %q", p.cfg.Address, remoteCert.Name, p.cfg.Name)
	}

	sendKey, recvKey, err := transport.Finalize(hs)
	if err != nil {
		return err
	}
	session, err := transport.NewSession(p.cfg.Name, sendKey, recvKey)
	if err != nil {
		return err
	}

	p.attach(ep, session)
	p.sup.mu.Lock()
	p.sup.byEndpoint[ep] = p
	p.sup.mu.Unlock()

	if err := p.sendHello(); err != nil {
		return err
	}
	p.announceDevices()
	return nil
}

func (p *peerConn) isDialingFrom(ep conn.Endpoint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dialing && p.dialEndpoint == ep
}

func (p *peerConn) onHandshakeDatagram(raw []byte) {
	p.mu.Lock()
	ch := p.dialResp
	p.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- raw:
	default:
	}
}

// abortDial wakes a dialOnce blocked on its response with a nil
// sentinel, abandoning the outbound handshake after a lost tie-break.
func (p *peerConn) abortDial() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if p.dialResp != nil {
		select {
		case p.dialResp <- nil:
		default:
		}
	}
}

func (p *peerConn) attach(ep conn.Endpoint, session *transport.Session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoint = ep
	p.session = session
	p.connected = true
	p.lastPongAt = time.Now()
}

func (p *peerConn) detach() {
	p.mu.Lock()
	p.connected = false
	p.session = nil
	p.inputQ = nil
	p.mu.Unlock()
	p.sup.forget(p)
}

// serve drives keepalive and the inbound message loop for an established
// session until it drops (§4.2 keepalive, §4.8 relay).
func (p *peerConn) serve(ctx context.Context) {
	defer func() {
		p.detach()
		p.sup.sink.Unreachable(p.cfg.Name)
	}()

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.inputWake:
			p.flushInput()
		case <-ticker.C:
			p.mu.Lock()
			connected := p.connected
			deadline := p.lastPongAt.Add(pingInterval + pongDeadline)
			p.mu.Unlock()
			if !connected {
				return
			}
			if time.Now().After(deadline) {
				p.sup.log.Errorf("peer %s missed keepalive deadline", p.cfg.Name)
				return
			}
			p.sendPing()
		}
	}
}

func (p *peerConn) sessionInfo() (*transport.Session, conn.Endpoint, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session, p.endpoint, p.connected
}

func (p *peerConn) send(stream func(*transport.Session) ([]byte, error)) error {
	session, ep, ok := p.sessionInfo()
	if !ok {
		return errNoSession
	}
	datagram, err := stream(session)
	if err != nil {
		return err
	}
	return p.sup.socket.SendTo(ep, datagram)
}

func (p *peerConn) sendHello() error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Hello{
			Version:   wire.CurrentVersion,
			MachineID: p.sup.identity.MachineID,
			Name:      p.sup.identity.Name,
			Screen:    p.sup.localScreen(),
		})
	})
}

func (p *peerConn) sendWelcome() error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Welcome{
			Version:   wire.CurrentVersion,
			MachineID: p.sup.identity.MachineID,
			Name:      p.sup.identity.Name,
			Screen:    p.sup.localScreen(),
		})
	})
}

// announceDevices sends DeviceAnnounce for every device the daemon
// currently knows about, once per newly-established session (§4.2 step
// 5: "exchange DeviceAnnounce for every currently-present device").
func (p *peerConn) announceDevices() {
	if p.sup.devices == nil {
		return
	}
	for _, info := range p.sup.devices() {
		if err := p.send(func(s *transport.Session) ([]byte, error) {
			return s.EncodeControl(&wire.DeviceAnnounce{Device: info})
		}); err != nil {
			p.sup.log.Errorf("announcing device %d to %s: %v", info.DeviceID, p.cfg.Name, err)
		}
	}
}

func (p *peerConn) sendDeviceAnnounce(info wire.DeviceInfo) error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.DeviceAnnounce{Device: info})
	})
}

func (p *peerConn) sendDeviceGone(deviceID uint32) error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.DeviceGone{DeviceID: deviceID})
	})
}

func (p *peerConn) sendScreenUpdate(screen wire.Screen) error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.ScreenUpdate{Screen: screen})
	})
}

// sendEnter and sendLeave implement the handover half of the barrier
// state machine's Control interface (§4.7): the machine decides when to
// cross, the supervisor is the only thing that touches the wire.
func (p *peerConn) sendEnter(edge wire.Position, position int32) error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Enter{Edge: edge, Position: position})
	})
}

func (p *peerConn) sendLeave(edge wire.Position, position int32) error {
	return p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Leave{Edge: edge, Position: position})
	})
}

// openInputStream allocates a fresh input-stream id on this peer's
// session for a new handover (§4.2, §4.7 Pending->Remote).
func (p *peerConn) openInputStream() (uint32, error) {
	session, _, ok := p.sessionInfo()
	if !ok {
		return 0, errNoSession
	}
	return session.OpenInputStream(), nil
}

func (p *peerConn) closeInputStream() {
	session, _, ok := p.sessionInfo()
	if ok {
		session.CloseInputStream()
	}
}

// sendInput queues one EventBatch for the serve loop to flush in order
// (§5: events from one device reach the wire in capture order; the
// queue is bounded and sheds motion before keys when the peer cannot
// keep up).
func (p *peerConn) sendInput(batch wire.EventBatch) error {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return errNoSession
	}
	var dropped bool
	p.inputQ, dropped = enqueueInput(p.inputQ, batch, maxQueuedInput)
	if dropped {
		p.inputDropped++
		n := p.inputDropped
		p.mu.Unlock()
		p.sup.log.Errorf("input queue to %s full, dropped oldest motion batch (%d total)", p.cfg.Name, n)
	} else {
		p.mu.Unlock()
	}

	select {
	case p.inputWake <- struct{}{}:
	default:
	}
	return nil
}

// flushInput drains the queued batches onto the wire in FIFO order.
// Only the serve goroutine calls this, so send order matches queue
// order.
func (p *peerConn) flushInput() {
	for {
		p.mu.Lock()
		if len(p.inputQ) == 0 {
			p.mu.Unlock()
			return
		}
		batch := p.inputQ[0]
		p.inputQ = p.inputQ[1:]
		p.mu.Unlock()

		if err := p.send(func(s *transport.Session) ([]byte, error) {
			return s.EncodeInput(batch)
		}); err != nil {
			p.sup.log.Errorf("forwarding input to %s: %v", p.cfg.Name, err)
			return
		}
	}
}

func (p *peerConn) sendPing() {
	p.mu.Lock()
	p.pingSeq++
	seq := p.pingSeq
	p.mu.Unlock()
	if err := p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Ping{Seq: seq})
	}); err != nil {
		p.sup.log.Errorf("ping %s: %v", p.cfg.Name, err)
	}
}

func (p *peerConn) sendBye() {
	_ = p.send(func(s *transport.Session) ([]byte, error) {
		return s.EncodeControl(&wire.Bye{})
	})
}

// onDatagram decodes and dispatches one post-handshake datagram for an
// established session.
func (p *peerConn) onDatagram(raw []byte) {
	p.mu.Lock()
	session := p.session
	p.mu.Unlock()
	if session == nil {
		return
	}

	decoded, err := session.Decode(raw)
	if err != nil {
		p.sup.log.Errorf("decoding datagram from %s: %v", p.cfg.Name, err)
		return
	}

	if decoded.Stream == wire.InputStream {
		if session.IsStaleInput(decoded.StreamID) {
			return
		}
		if batch, ok := decoded.Message.(*wire.EventBatchMsg); ok {
			p.sup.sink.InputReceived(p.cfg.Name, batch.Batch)
		}
		return
	}

	switch msg := decoded.Message.(type) {
	case *wire.Hello:
		if msg.Version.Major != wire.CurrentVersion.Major {
			p.sup.log.Errorf("rejecting %s: %v", p.cfg.Name, &transport.VersionError{Ours: wire.CurrentVersion.Major, Theirs: msg.Version.Major})
			p.detach()
			return
		}
		p.sup.sink.ScreenUpdated(p.cfg.Name, msg.Screen)
	case *wire.Welcome:
		if msg.Version.Major != wire.CurrentVersion.Major {
			p.sup.log.Errorf("rejecting %s: %v", p.cfg.Name, &transport.VersionError{Ours: wire.CurrentVersion.Major, Theirs: msg.Version.Major})
			p.detach()
			return
		}
		p.sup.sink.ScreenUpdated(p.cfg.Name, msg.Screen)
	case *wire.DeviceAnnounce:
		p.sup.sink.DeviceAnnounced(p.cfg.Name, msg.Device)
	case *wire.DeviceGone:
		p.sup.sink.DeviceGone(p.cfg.Name, msg.DeviceID)
	case *wire.ScreenUpdate:
		p.sup.sink.ScreenUpdated(p.cfg.Name, msg.Screen)
	case *wire.Enter:
		p.sup.sink.EnterRequested(p.cfg.Name, msg.Edge, msg.Position)
		if err := p.send(func(s *transport.Session) ([]byte, error) {
			return s.EncodeControl(&wire.EnterAck{})
		}); err != nil {
			p.sup.log.Errorf("acking Enter from %s: %v", p.cfg.Name, err)
		}
	case *wire.EnterAck:
		p.sup.sink.EnterAcked(p.cfg.Name)
	case *wire.Leave:
		p.sup.sink.LeaveReceived(p.cfg.Name, msg.Edge, msg.Position)
	case *wire.Ping:
		_ = p.send(func(s *transport.Session) ([]byte, error) {
			return s.EncodeControl(&wire.Pong{Seq: msg.Seq})
		})
	case *wire.Pong:
		p.mu.Lock()
		p.lastPongAt = time.Now()
		p.mu.Unlock()
	case *wire.Bye:
		p.mu.Lock()
		p.connected = false
		p.mu.Unlock()
	}
}
