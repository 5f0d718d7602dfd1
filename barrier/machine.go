/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package barrier

import (
	"sync"
	"time"

	"github.com/Adjoint-uk/cross-control/keycode"
	"github.com/Adjoint-uk/cross-control/logger"
	"github.com/Adjoint-uk/cross-control/topology"
	"github.com/Adjoint-uk/cross-control/wire"
)

// enterAckTimeout bounds how long Pending waits for an EnterAck before
// falling back to Local (§4.7, §5).
const enterAckTimeout = 1 * time.Second

// Capture is the subset of the capture-side contract the machine drives
// directly: grab discipline (§4.3, §4.7). Grabs are acquired exactly
// once entering Remote and released exactly once leaving it (§4.7
// "Grab discipline"); re-entering Remote for a different peer during a
// chained handover must not re-grab (§9 "Grab reentry").
type Capture interface {
	Grab() error
	Release() error
}

// Control is how the machine reaches the network without ever touching
// a socket itself (§4.8: "the state machine never touches a socket
// directly"). Implemented by the session supervisor, one instance per
// configured peer set.
type Control interface {
	SendEnter(peer string, edge wire.Position, position int32) error
	SendLeave(peer string, edge wire.Position, position int32) error
	OpenInputStream(peer string) (streamID uint32, err error)
	CloseInputStream(peer string)
	SendInput(peer string, batch wire.EventBatch) error
}

// Machine is the sole owner of BarrierState and the Topology's virtual
// cursor (§5, §9: "single-writer state"). All exported methods are safe
// for concurrent use; callers are expected to be the capture reader (for
// HandleEvent) and the session supervisor (for the On* callbacks) as
// described in §5's task model — the machine itself serialises them
// with a mutex rather than a message-passing channel.
type Machine struct {
	log     *logger.Logger
	topo    *topology.Topology
	capture Capture
	control Control
	hotkey  *chordTracker
	chord   []keycode.Code

	mu        sync.Mutex
	state     State
	target    string
	streamID  uint32
	grabsHeld bool
	epoch     uint64
	buffer    *eventBuffer
	chordBuf  []chordEvent

	// localExitEdge/localExitOffset remember where the cursor left the
	// local screen on the crossing that started the current handover
	// chain, used as the "last-known" position for the release hotkey
	// (§4.7: "edge=centre, position=last-known"), which has no edge
	// crossing of its own to compute a position from.
	localExitEdge   wire.Position
	localExitOffset int32
}

// New constructs a Machine in State Local. topo must already have
// SetLocal called on it.
func New(log *logger.Logger, topo *topology.Topology, capture Capture, control Control) *Machine {
	return &Machine{
		log:     log,
		topo:    topo,
		capture: capture,
		control: control,
		hotkey:  newChordTracker(),
		chord:   keycode.ReleaseHotkey,
		state:   StateLocal,
		buffer:  newEventBuffer(),
	}
}

// Status returns a snapshot of the current state.
func (m *Machine) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{State: m.state, Target: m.target, StreamID: m.streamID, Dropped: m.buffer.Dropped()}
}

// edgeAndOffset turns a topology.StepResult into the (edge, position)
// pair carried on the wire by Enter/Leave (§4.6, §6): edge names the
// side of the screen being EXITED, position is the already-projected
// coordinate on the entered screen — computed once by whichever side
// initiates the crossing, so both peers trivially agree bit-for-bit
// (§4.6 "must match between peers bit-for-bit").
func edgeAndOffset(r topology.StepResult) (wire.Position, int32) {
	return r.EntryPosition.Opposite(), r.EntryOffset
}

// HandleEvent processes one physical event captured locally for
// deviceID (§4.7). The caller does not need to know the current
// ownership state: Local drops the event (the OS already has it),
// Pending buffers it, Remote forwards it (or triggers a further
// crossing/hotkey release), Releasing drops it (a new owner has not yet
// been established). Returns whether the event was forwarded to a peer,
// which is the quantity the event-conservation invariant (§8) is tested
// against.
func (m *Machine) HandleEvent(deviceID uint32, ev wire.InputEvent) (bool, error) {
	m.hotkey.observe(ev)

	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	switch state {
	case StateLocal:
		return false, m.handleLocal(ev)
	case StatePending:
		m.mu.Lock()
		m.buffer.Push(deviceID, ev)
		m.mu.Unlock()
		return false, nil
	case StateRemote:
		return m.handleRemote(deviceID, ev)
	default: // StateReleasing
		return false, nil
	}
}

func (m *Machine) handleLocal(ev wire.InputEvent) error {
	if ev.Kind != wire.EventPointerRel {
		return nil
	}
	result := m.topo.Step(ev.DX, ev.DY)
	if !result.Crossed {
		return nil
	}
	edge, offset := edgeAndOffset(result)
	return m.beginPending(result.To, edge, offset, false)
}

// beginPending starts a handover to target, sending Enter and arming
// the EnterAck timeout (§4.7 Local->Pending). grabsHeld is true only
// for a chained handover, where grabs were already acquired for the
// previous target and must not be re-acquired (§9).
func (m *Machine) beginPending(target string, edge wire.Position, offset int32, grabsHeld bool) error {
	m.mu.Lock()
	m.state = StatePending
	m.target = target
	m.grabsHeld = grabsHeld
	m.epoch++
	epoch := m.epoch
	m.buffer.Reset()
	if !grabsHeld {
		m.localExitEdge = edge
		m.localExitOffset = offset
	}
	m.mu.Unlock()

	if err := m.control.SendEnter(target, edge, offset); err != nil {
		return err
	}
	time.AfterFunc(enterAckTimeout, func() { m.onPendingTimeout(epoch) })
	return nil
}

func (m *Machine) onPendingTimeout(epoch uint64) {
	m.mu.Lock()
	if m.state != StatePending || m.epoch != epoch {
		m.mu.Unlock()
		return
	}
	target := m.target
	m.buffer.Reset()
	m.state = StateLocal
	m.target = ""
	grabsHeld := m.grabsHeld
	m.grabsHeld = false
	m.mu.Unlock()
	m.log.Errorf("handover to %s timed out waiting for EnterAck", target)
	if grabsHeld {
		if err := m.capture.Release(); err != nil {
			m.log.Errorf("release failed after handover to %s timed out: %v", target, err)
		}
	}
}

// OnEnterAck completes a pending handover (§4.7 Pending->Remote): grabs
// local devices (unless already held from a chained handover), opens
// the input stream, and flushes the buffered events onto it.
func (m *Machine) OnEnterAck(peer string) error {
	m.mu.Lock()
	if m.state != StatePending || m.target != peer {
		m.mu.Unlock()
		return nil // stale or unexpected ack, ignore
	}
	grabsHeld := m.grabsHeld
	buffered := m.buffer.Drain()
	m.state = StateRemote
	m.epoch++
	m.chordBuf = nil
	m.mu.Unlock()

	if !grabsHeld {
		if err := m.capture.Grab(); err != nil {
			m.log.Errorf("grab failed entering remote %s: %v", peer, err)
		}
	}
	m.mu.Lock()
	m.grabsHeld = true
	m.mu.Unlock()

	streamID, err := m.control.OpenInputStream(peer)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.streamID = streamID
	m.mu.Unlock()

	for _, batch := range groupByDevice(buffered) {
		if err := m.control.SendInput(peer, batch); err != nil {
			return err
		}
	}
	return nil
}

// chordEvent is one withheld key event, remembered with its device so
// it can be replayed to the peer in original order if the release
// chord it was part of breaks before completing.
type chordEvent struct {
	deviceID uint32
	ev       wire.InputEvent
}

// handleRemote routes one event while Remote: the release hotkey and
// topology crossings are checked first, ordinary events are forwarded
// as a single-event EventBatch on the open input stream.
//
// A KeyDown that belongs to the configured release chord is always
// withheld rather than forwarded, even though holding it alone doesn't
// yet complete the chord (§4.7: "the triggering key events are not
// forwarded", §8 scenario 3: every key of the chord, not just the
// last, must never reach the peer). Withheld events are buffered; once
// every code in the chord is held the buffer is dropped and the
// release fires, otherwise it is flushed to the peer, in the order the
// keys were pressed, the moment the chord attempt breaks (a chord key
// released early, or an unrelated key pressed in the middle of it).
func (m *Machine) handleRemote(deviceID uint32, ev wire.InputEvent) (bool, error) {
	switch {
	case ev.Kind == wire.EventKeyDown && containsCode(m.chord, ev.Code):
		return m.bufferChordDown(deviceID, ev)
	case ev.Kind == wire.EventKeyUp && containsCode(m.chord, ev.Code):
		return m.breakChordAndForward(deviceID, ev)
	case ev.Kind == wire.EventKeyDown:
		if err := m.flushChordBuffer(); err != nil {
			return false, err
		}
	}

	if ev.Kind == wire.EventPointerRel {
		result := m.topo.Step(ev.DX, ev.DY)
		if result.Crossed {
			if result.To == m.topo.LocalScreen() {
				return false, m.beginReleasingCrossing(result)
			}
			return false, m.beginChainedHandover(result)
		}
	}

	return m.forwardOne(deviceID, ev)
}

// bufferChordDown withholds a chord-member KeyDown. If it completes
// the chord the buffer is discarded (those key events are never
// forwarded); otherwise it is appended and nothing is sent yet.
func (m *Machine) bufferChordDown(deviceID uint32, ev wire.InputEvent) (bool, error) {
	m.mu.Lock()
	m.chordBuf = append(m.chordBuf, chordEvent{deviceID, ev})
	complete := m.hotkey.matches(m.chord)
	m.mu.Unlock()

	if !complete {
		return false, nil
	}

	m.mu.Lock()
	m.chordBuf = nil
	m.mu.Unlock()
	return false, m.beginReleasingHotkey()
}

// breakChordAndForward handles a KeyUp of a chord member arriving
// before the chord completed: the attempt is abandoned, any buffered
// chord keys are flushed in original order, and this KeyUp forwards
// normally.
func (m *Machine) breakChordAndForward(deviceID uint32, ev wire.InputEvent) (bool, error) {
	if err := m.flushChordBuffer(); err != nil {
		return false, err
	}
	return m.forwardOne(deviceID, ev)
}

// flushChordBuffer sends any withheld chord-prefix events to the peer,
// in the order they were originally pressed, and clears the buffer.
func (m *Machine) flushChordBuffer() error {
	m.mu.Lock()
	buffered := m.chordBuf
	m.chordBuf = nil
	target := m.target
	m.mu.Unlock()

	for _, b := range buffered {
		if err := m.control.SendInput(target, wire.EventBatch{DeviceID: b.deviceID, Events: []wire.InputEvent{b.ev}}); err != nil {
			return err
		}
	}
	return nil
}

// forwardOne sends a single event to the current Remote target as a
// one-event EventBatch.
func (m *Machine) forwardOne(deviceID uint32, ev wire.InputEvent) (bool, error) {
	m.mu.Lock()
	target := m.target
	m.mu.Unlock()
	err := m.control.SendInput(target, wire.EventBatch{DeviceID: deviceID, Events: []wire.InputEvent{ev}})
	return err == nil, err
}

// beginReleasingCrossing handles Remote->Releasing->Local when the
// owner's own cursor crosses back onto the local screen (§4.7 "Topology
// step on peer returning").
func (m *Machine) beginReleasingCrossing(result topology.StepResult) error {
	edge, offset := edgeAndOffset(result)
	if _, err := m.finishRemote(edge, offset); err != nil {
		return err
	}
	m.topo.ReenterLocal(result.EntryPosition, result.EntryOffset)
	return nil
}

// beginReleasingHotkey handles the release hotkey (§4.7): same effects
// as a crossing return, but the edge/position is the last-known local
// exit point rather than a freshly computed projection, and the cursor
// is snapped to the centre of the local screen rather than a specific
// edge offset — there is no edge being crossed.
func (m *Machine) beginReleasingHotkey() error {
	m.mu.Lock()
	edge, offset := m.localExitEdge, m.localExitOffset
	m.mu.Unlock()

	if _, err := m.finishRemote(edge, offset); err != nil {
		return err
	}
	if local, ok := m.topo.Screen(m.topo.LocalScreen()); ok {
		m.topo.SetCursor(local.Name, local.Width/2, local.Height/2)
	}
	return nil
}

// finishRemote is the shared Releasing->Local tail: send Leave, close
// the input stream, release grabs, and return to Local (§4.7). UDP has
// no stream-flush acknowledgement to wait on, so "Leave flushed" is
// treated as satisfied once the send call returns.
func (m *Machine) finishRemote(edge wire.Position, offset int32) (string, error) {
	m.mu.Lock()
	target := m.target
	m.state = StateReleasing
	m.chordBuf = nil
	m.mu.Unlock()

	sendErr := m.control.SendLeave(target, edge, offset)
	m.control.CloseInputStream(target)
	releaseErr := m.capture.Release()
	if releaseErr != nil {
		m.log.Errorf("release failed leaving %s: %v", target, releaseErr)
	}

	m.mu.Lock()
	m.state = StateLocal
	m.target = ""
	m.grabsHeld = false
	m.streamID = 0
	m.mu.Unlock()

	if sendErr != nil {
		return target, sendErr
	}
	return target, nil
}

// beginChainedHandover implements a direct Remote(A)->Remote(B)
// transition (§4.7: "issues Leave to A and Enter to B atomically...in
// that order"). Grabs are already held and are not released or
// re-acquired; only the routing target changes, via an intermediate
// Pending that waits for B's EnterAck before input actually flows.
func (m *Machine) beginChainedHandover(result topology.StepResult) error {
	edge, offset := edgeAndOffset(result)

	m.mu.Lock()
	from := m.target
	m.chordBuf = nil
	m.mu.Unlock()

	if err := m.control.SendLeave(from, edge, offset); err != nil {
		m.log.Errorf("send leave to %s failed: %v", from, err)
	}
	m.control.CloseInputStream(from)

	return m.beginPending(result.To, edge, offset, true)
}

// OnPeerUnreachable handles a dropped or keepalive-failed peer (§4.7
// Pending->Local and Remote->Local on disconnect). Grabs are released
// immediately if they were held; a buffered handover is simply dropped.
func (m *Machine) OnPeerUnreachable(peer string) {
	m.mu.Lock()
	switch m.state {
	case StatePending:
		if m.target != peer {
			m.mu.Unlock()
			return
		}
		m.buffer.Reset()
		m.state = StateLocal
		m.target = ""
		grabsHeld := m.grabsHeld
		m.grabsHeld = false
		m.mu.Unlock()
		m.log.Errorf("peer %s became unreachable during handover, staying local", peer)
		if grabsHeld {
			if err := m.capture.Release(); err != nil {
				m.log.Errorf("release failed after peer %s disconnect: %v", peer, err)
			}
		}
	case StateRemote:
		if m.target != peer {
			m.mu.Unlock()
			return
		}
		m.state = StateLocal
		m.target = ""
		m.grabsHeld = false
		m.streamID = 0
		m.chordBuf = nil
		m.mu.Unlock()
		m.control.CloseInputStream(peer)
		if err := m.capture.Release(); err != nil {
			m.log.Errorf("release failed after peer %s disconnect: %v", peer, err)
		}
	default:
		m.mu.Unlock()
	}
}
