/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2024-2026 cross-control Contributors. All Rights Reserved.
 */

package daemon

import "github.com/Adjoint-uk/cross-control/wire"

// The methods below satisfy supervisor.Inbound: everything a peer tells
// us about itself, or about our own handover requests, that isn't
// already handled inside the supervisor's own Enter-ack/keepalive
// bookkeeping.

// DeviceAnnounced means a peer announced one of its physical devices to
// us (§4.2 step 5, §4.3): we are the emulation target, so a matching
// virtual device must exist before any EventBatch for it can apply.
func (d *Daemon) DeviceAnnounced(peer string, info wire.DeviceInfo) {
	if err := d.emuSink.EnsureDevice(info); err != nil {
		d.log.Errorf("creating virtual device %d for %s: %v", info.DeviceID, peer, err)
	}
}

// DeviceGone retires the virtual device backing a retracted remote
// device (§4.3).
func (d *Daemon) DeviceGone(peer string, deviceID uint32) {
	if err := d.emuSink.ReleaseDevice(deviceID); err != nil {
		d.log.Errorf("releasing virtual device %d for %s: %v", deviceID, peer, err)
	}
}

// ScreenUpdated records a peer's new geometry so its topology edges
// project correctly on the next crossing (§4.6 hot reload supplement).
func (d *Daemon) ScreenUpdated(peer string, screen wire.Screen) {
	d.mu.Lock()
	d.peerScreens[peer] = screen
	d.mu.Unlock()
	d.topo.UpdateScreen(screen)
}

// EnterRequested reports a peer's cursor crossing into us. The
// supervisor sends EnterAck unconditionally once this returns (§9: "require
// explicit pin presence before any grab is ever performed" — a pinned
// peer reaching this point has already cleared the handshake); nothing
// further is needed on the passive side of a handover, since input
// simply starts arriving on a freshly opened input stream.
func (d *Daemon) EnterRequested(peer string, edge wire.Position, position int32) {
	d.log.Verbosef("%s entered at %s:%d", peer, edge, position)
}

// LeaveReceived reports a peer's cursor leaving us back to itself or a
// further peer. Symmetric to EnterRequested: no local state transition
// is needed, the peer's own input stream simply closes.
func (d *Daemon) LeaveReceived(peer string, edge wire.Position, position int32) {
	d.log.Verbosef("%s left at %s:%d", peer, edge, position)
}

// InputReceived applies one inbound EventBatch through the local
// emulator, clamped to our own screen geometry (§4.4).
func (d *Daemon) InputReceived(peer string, batch wire.EventBatch) {
	if err := d.emuSink.Apply(batch, d.localScreen()); err != nil {
		d.log.Errorf("applying input from %s: %v", peer, err)
	}
}

// Unreachable reports peer disconnected or failed its keepalive
// deadline (§4.2 "Reconnection", §4.7 Pending/Remote->Local on
// disconnect).
func (d *Daemon) Unreachable(peer string) {
	d.machine.OnPeerUnreachable(peer)
}

// EnterAcked reports peer accepted our Enter (§4.7 Pending->Remote).
func (d *Daemon) EnterAcked(peer string) {
	if err := d.machine.OnEnterAck(peer); err != nil {
		d.log.Errorf("completing handover to %s: %v", peer, err)
	}
}
